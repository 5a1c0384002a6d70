package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PipeOpsHQ/campaign-engine/delivery"
	"github.com/PipeOpsHQ/campaign-engine/dispatch"
	"github.com/PipeOpsHQ/campaign-engine/observe"
	"github.com/PipeOpsHQ/campaign-engine/personalize"
	"github.com/PipeOpsHQ/campaign-engine/qualify"
	"github.com/PipeOpsHQ/campaign-engine/state"
	"go.uber.org/zap"
)

type exitReason string

const (
	exitCancelled  exitReason = "cancelled"
	exitSuperseded exitReason = "superseded"
	exitHalted     exitReason = "halted"
	exitCompleted  exitReason = "completed"
	exitVanished   exitReason = "vanished"
)

func (e *Engine) run(h *Handle) {
	defer e.wg.Done()
	defer close(h.done)
	defer e.registry.Release(h.CampaignID, h.Generation)

	reason := e.loop(h)

	e.logger.Info("campaign loop exited",
		zap.String("campaign_id", h.CampaignID),
		zap.Uint64("generation", h.Generation),
		zap.String("reason", string(reason)))

	status := observe.StatusCancelled
	switch reason {
	case exitCompleted:
		status = observe.StatusCompleted
	case exitSuperseded:
		status = observe.StatusSuperseded
	}
	e.emit(h.Context(), observe.Event{
		CampaignID: h.CampaignID,
		Generation: h.Generation,
		Kind:       observe.KindCampaign,
		Status:     status,
		Name:       "run",
		Message:    string(reason),
	})
}

// loop runs reload, staleness, liveness, bounds, recipient, checkpoint and
// delay until one of the checks ends it. The persisted campaign is the only
// source of truth for position and status.
func (e *Engine) loop(h *Handle) exitReason {
	ctx := h.Context()
	id, gen := h.CampaignID, h.Generation
	failures := 0

	for {
		if ctx.Err() != nil {
			if !e.registry.IsCurrent(id, gen) {
				return exitSuperseded
			}
			return exitCancelled
		}

		c, err := e.store.LoadCampaign(ctx, id)
		if err != nil {
			if errors.Is(err, state.ErrNotFound) {
				return exitVanished
			}
			if ctx.Err() != nil {
				continue
			}
			failures++
			wait := e.policy.Backoff(failures)
			e.logger.Warn("campaign reload failed",
				zap.String("campaign_id", id),
				zap.Int("attempt", failures),
				zap.Duration("backoff", wait),
				zap.Error(err))
			sleepContext(ctx, wait)
			continue
		}
		failures = 0

		if !e.registry.IsCurrent(id, gen) {
			return exitSuperseded
		}
		if c.Status != state.StatusProcessing {
			return exitHalted
		}
		if c.CurrentIndex >= len(c.Recipients) {
			if err := e.complete(ctx, c, gen); err != nil {
				if !errors.Is(err, state.ErrConflict) {
					e.logger.Error("campaign completion failed", zap.String("campaign_id", id), zap.Error(err))
					sleepContext(ctx, e.policy.Backoff(1))
				}
				continue
			}
			return exitCompleted
		}

		index := c.CurrentIndex
		r := c.Recipients[index]
		settings := e.loadSettings(ctx)

		out := e.process(ctx, c, gen, index, settings)
		if out.abandoned {
			continue
		}
		e.emitRecipient(ctx, c.ID, gen, index, r, out)
		saved, ok := e.checkpoint(ctx, c, gen, index, r, out)
		if !ok {
			continue
		}
		if saved.Status == state.StatusCompleted {
			e.logCompleted(saved)
			return exitCompleted
		}
		if saved.Status != state.StatusProcessing {
			return exitHalted
		}
		sleepContext(ctx, e.delay(settings))
	}
}

// complete marks an exhausted campaign completed. It only runs for a
// processing campaign, so a second attempt loses the conditional write.
func (e *Engine) complete(ctx context.Context, c state.Campaign, gen uint64) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.policy.StoreTimeout)
	defer cancel()

	next := c
	next.UpdatedAt = e.now()
	Finish(&next, gen, next.UpdatedAt)
	saved, err := e.store.SaveCampaign(writeCtx, next)
	if err != nil {
		return err
	}
	e.logCompleted(saved)
	return nil
}

func (e *Engine) logCompleted(c state.Campaign) {
	e.logger.Info("campaign completed",
		zap.String("campaign_id", c.ID),
		zap.Int("sent", c.SentCount),
		zap.Int("recipients", len(c.Recipients)))
}

// checkpoint persists the outcome for index. The outcome is never recomputed:
// a lost write is re-applied to a fresh copy while this loop is current and
// the index has not moved, and any other store failure retries the same write
// with backoff. It gives up only when the outcome is stale or ctx ends.
func (e *Engine) checkpoint(ctx context.Context, c state.Campaign, gen uint64, index int, r state.Recipient, out outcome) (state.Campaign, bool) {
	next := c
	next.UpdatedAt = e.now()
	out.apply(&next, index, r, gen, next.UpdatedAt)

	conflicts, failures := 0, 0
	for {
		saved, err := e.save(ctx, next)
		if err == nil {
			e.emit(ctx, observe.Event{
				CampaignID: c.ID,
				Generation: gen,
				Kind:       observe.KindCheckpoint,
				Status:     observe.StatusCompleted,
				Recipient:  r.Email,
				Index:      saved.CurrentIndex,
				Attributes: map[string]any{"sent_count": saved.SentCount, "version": saved.Version},
			})
			return saved, true
		}

		if errors.Is(err, state.ErrConflict) {
			conflicts++
			fresh, lerr := e.reload(ctx, c.ID)
			switch {
			case errors.Is(lerr, state.ErrNotFound):
				return state.Campaign{}, false
			case lerr != nil:
				err = lerr
			case !e.registry.IsCurrent(c.ID, gen) || fresh.CurrentIndex != index:
				e.logger.Debug("checkpoint discarded",
					zap.String("campaign_id", c.ID),
					zap.Uint64("generation", gen),
					zap.Int("index", index),
					zap.Int("current_index", fresh.CurrentIndex))
				return state.Campaign{}, false
			default:
				next = fresh
				next.UpdatedAt = e.now()
				out.apply(&next, index, r, gen, next.UpdatedAt)
				if conflicts <= e.policy.MaxConflictRetries {
					continue
				}
			}
		}

		failures++
		wait := e.policy.Backoff(failures)
		e.logger.Warn("checkpoint write failed, retrying",
			zap.String("campaign_id", c.ID),
			zap.Uint64("generation", gen),
			zap.Int("index", index),
			zap.Int("attempt", failures),
			zap.Duration("backoff", wait),
			zap.Error(err))
		if !sleepContext(ctx, wait) {
			e.logger.Error("checkpoint abandoned",
				zap.String("campaign_id", c.ID),
				zap.Uint64("generation", gen),
				zap.Int("index", index),
				zap.Error(err))
			return state.Campaign{}, false
		}
	}
}

func (e *Engine) save(ctx context.Context, c state.Campaign) (state.Campaign, error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.policy.StoreTimeout)
	defer cancel()
	return e.store.SaveCampaign(writeCtx, c)
}

func (e *Engine) reload(ctx context.Context, id string) (state.Campaign, error) {
	readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.policy.StoreTimeout)
	defer cancel()
	return e.store.LoadCampaign(readCtx, id)
}

// process runs qualify, personalize and dispatch for one recipient. Panics
// become a failed outcome so the loop moves on. Stage work is detached from
// loop cancellation; cancellation is only honoured between stages, before
// any side effect.
func (e *Engine) process(ctx context.Context, c state.Campaign, gen uint64, index int, settings state.Settings) (out outcome) {
	r := c.Recipients[index]
	ref := delivery.CampaignRef{CampaignID: c.ID, Generation: gen, Index: index}

	defer func() {
		if v := recover(); v != nil {
			perr := newPanicError(v)
			e.logger.Error("recipient pipeline panicked",
				zap.String("campaign_id", c.ID),
				zap.String("recipient", r.Email),
				zap.Int("index", index),
				zap.ByteString("stack", perr.Stack))
			out = outcome{step: StepPipeline, status: LogFailed, message: perr.Error()}
		}
	}()

	work := context.WithoutCancel(ctx)

	err := e.stage(ctx, ref, r, StepQualify, func() error {
		return e.qualifier.Qualify(work, r)
	})
	if err != nil {
		if rej, ok := qualify.AsRejection(err); ok {
			return outcome{step: StepQualify, status: LogSkipped, message: rej.Error()}
		}
		return outcome{step: StepQualify, status: LogFailed, message: err.Error()}
	}
	if ctx.Err() != nil {
		return outcome{abandoned: true}
	}

	var draft *personalize.Draft
	if c.AgentID != "" {
		var result personalize.Result
		err := e.stage(ctx, ref, r, StepGenerate, func() error {
			var err error
			result, err = e.generate(work, c.AgentID, r)
			return err
		})
		if err != nil {
			return outcome{step: StepGenerate, status: LogFailed, message: err.Error()}
		}
		draft = &result.Draft
		if ctx.Err() != nil {
			return outcome{abandoned: true}
		}
	}

	email, err := dispatch.Compose(settings, c.Template, r, draft)
	if err != nil {
		return outcome{step: StepSend, status: LogFailed, message: "compose: " + err.Error()}
	}
	if ctx.Err() != nil {
		return outcome{abandoned: true}
	}

	var record state.SentRecord
	err = e.stage(ctx, ref, r, StepSend, func() error {
		var err error
		record, err = e.sender.Send(work, ref, email)
		return err
	})
	if err != nil {
		msg := err.Error()
		var derr *dispatch.DeliveryError
		if errors.As(err, &derr) && derr.Retryable() {
			msg += " (retryable)"
		}
		return outcome{step: StepSend, status: LogFailed, message: msg, record: &record}
	}
	msg := "sent: " + email.Subject
	if record.Status == state.SentStatusDuplicate {
		msg = "already delivered: " + email.Subject
	}
	if record.DeliveryID != "" {
		msg += " (" + record.DeliveryID + ")"
	}
	return outcome{step: StepSend, status: LogSuccess, message: msg, sent: true, record: &record}
}

func (e *Engine) generate(ctx context.Context, agentID string, r state.Recipient) (personalize.Result, error) {
	if e.personalizer == nil {
		return personalize.Result{}, fmt.Errorf("no generation provider configured")
	}
	agent, err := e.store.LoadAgent(ctx, agentID)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return personalize.Result{}, fmt.Errorf("agent %s not found", agentID)
		}
		return personalize.Result{}, fmt.Errorf("load agent: %w", err)
	}
	return e.personalizer.Personalize(ctx, agent, r)
}

func (e *Engine) stage(ctx context.Context, ref delivery.CampaignRef, r state.Recipient, step string, fn func() error) error {
	start := time.Now()
	e.emit(ctx, observe.Event{
		CampaignID: ref.CampaignID,
		Generation: ref.Generation,
		Kind:       observe.KindStage,
		Status:     observe.StatusStarted,
		Step:       step,
		Recipient:  r.Email,
		Index:      ref.Index,
	})
	err := fn()
	event := observe.Event{
		CampaignID: ref.CampaignID,
		Generation: ref.Generation,
		Kind:       observe.KindStage,
		Status:     observe.StatusCompleted,
		Step:       step,
		Recipient:  r.Email,
		Index:      ref.Index,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		event.Status = observe.StatusFailed
		if errors.Is(err, qualify.ErrRejected) {
			event.Status = observe.StatusSkipped
		}
		event.Error = err.Error()
	}
	e.emit(ctx, event)
	return err
}

func (e *Engine) emitRecipient(ctx context.Context, id string, gen uint64, index int, r state.Recipient, out outcome) {
	status := observe.StatusCompleted
	switch out.status {
	case LogSkipped:
		status = observe.StatusSkipped
	case LogFailed:
		status = observe.StatusFailed
	}
	e.logger.Info("recipient processed",
		zap.String("campaign_id", id),
		zap.Uint64("generation", gen),
		zap.Int("index", index),
		zap.String("recipient", r.Email),
		zap.String("step", out.step),
		zap.String("status", out.status),
		zap.String("message", out.message))
	e.emit(ctx, observe.Event{
		CampaignID: id,
		Generation: gen,
		Kind:       observe.KindRecipient,
		Status:     status,
		Step:       out.step,
		Recipient:  r.Email,
		Index:      index,
		Message:    out.message,
	})
}

func (e *Engine) loadSettings(ctx context.Context) state.Settings {
	settings, err := e.store.LoadSettings(ctx)
	if err != nil {
		e.logger.Warn("settings unavailable, using defaults", zap.Error(err))
		return state.Settings{}.Normalize()
	}
	return settings.Normalize()
}

func (e *Engine) delay(settings state.Settings) time.Duration {
	if e.policy.DelayOverride > 0 {
		return e.policy.DelayOverride
	}
	return settings.Delay()
}

// sleepContext waits for d and reports false if ctx ended first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
