package qualify

import (
	"errors"
	"fmt"
)

var ErrRejected = errors.New("qualify: recipient rejected")

type Stage string

const (
	StageLexical Stage = "lexical"
	StageDomain  Stage = "domain"
	StageMailbox Stage = "mailbox"
)

// Rejection is returned when a recipient fails a qualification stage.
type Rejection struct {
	Stage  Stage
	Reason string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s check: %s", r.Stage, r.Reason)
}

func (r *Rejection) Unwrap() error { return ErrRejected }

func reject(stage Stage, reason string) error {
	return &Rejection{Stage: stage, Reason: reason}
}
