package engine

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/PipeOpsHQ/campaign-engine/state"
)

// Log steps written to the campaign log ring.
const (
	StepStart    = "START"
	StepQualify  = "QUALIFY"
	StepGenerate = "GENERATE"
	StepSend     = "SEND"
	StepPipeline = "PIPELINE"
	StepComplete = "COMPLETE"
	StepPause    = "PAUSE"
	StepStop     = "STOP"
)

const (
	LogSuccess = "success"
	LogSkipped = "skipped"
	LogFailed  = "failed"
)

// outcome is the result of processing one recipient. Every outcome except an
// abandoned one advances the index exactly once.
type outcome struct {
	step    string
	status  string
	message string
	sent    bool
	record  *state.SentRecord
	// abandoned is set when cancellation was observed before any side effect.
	abandoned bool
}

func (o outcome) logEntry(r state.Recipient, gen uint64) state.LogEntry {
	return state.LogEntry{
		Recipient:  r.Email,
		Step:       o.step,
		Status:     o.status,
		Message:    o.message,
		Generation: gen,
	}
}

// apply advances c past index with the recorded outcome. Status is left
// alone unless that was the last recipient, which completes the campaign
// whatever status a concurrent pause or stop wrote.
func (o outcome) apply(c *state.Campaign, index int, r state.Recipient, gen uint64, now time.Time) {
	c.CurrentIndex = index + 1
	if o.sent {
		c.SentCount++
	}
	entry := o.logEntry(r, gen)
	entry.Timestamp = now
	c.AppendLog(entry)
	Finish(c, gen, now)
}

// finish marks c completed once no recipient is left. It reports whether c
// is exhausted.
func Finish(c *state.Campaign, gen uint64, now time.Time) bool {
	if c.CurrentIndex < len(c.Recipients) {
		return false
	}
	c.CurrentIndex = len(c.Recipients)
	if c.Status == state.StatusCompleted {
		return true
	}
	c.Status = state.StatusCompleted
	c.AppendLog(state.LogEntry{
		Timestamp:  now,
		Step:       StepComplete,
		Status:     LogSuccess,
		Message:    fmt.Sprintf("campaign completed: %d of %d sent", c.SentCount, len(c.Recipients)),
		Generation: gen,
	})
	return true
}

// PanicError wraps a value recovered from a recipient pipeline.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

func newPanicError(v any) *PanicError {
	return &PanicError{Value: v, Stack: debug.Stack()}
}
