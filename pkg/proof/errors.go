package proof

import (
	"errors"
	"fmt"
)

// ErrValidation marks input rejected at the boundary. Never retried,
// always a client-facing failure.
var ErrValidation = errors.New("proof: validation failed")

// Stage names the pipeline stage a failure came from, so callers can
// distinguish "your summary never got generated" from "it was generated
// but never got committed".
type Stage string

const (
	StageValidate  Stage = "validate"
	StageFetch     Stage = "fetch"
	StageSummarize Stage = "summarize"
	StageCommit    Stage = "commit"
	StageSubmit    Stage = "submit"
	StageLookup    Stage = "lookup"
)

// StageError annotates a failure with the stage that produced it. The
// underlying error keeps its kind for errors.Is/As dispatch.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}
