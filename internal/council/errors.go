package council

import (
	"errors"
	"fmt"
)

var (
	ErrStageExhausted = errors.New("no council member produced a usable result")
	ErrChairmanFailed = errors.New("chairman synthesis failed")
	ErrEmptyQuery     = errors.New("query is required")
	ErrEmptyRoster    = errors.New("council roster is empty")
)

// StageError marks a run-fatal failure of one pipeline stage.
type StageError struct {
	Stage int
	Err   error
}

var stageNames = map[int]string{
	1: "collecting responses",
	2: "collecting rankings",
	3: "chairman synthesis",
}

func (e *StageError) Error() string {
	if name, ok := stageNames[e.Stage]; ok {
		return fmt.Sprintf("stage %d (%s): %v", e.Stage, name, e.Err)
	}
	return fmt.Sprintf("stage %d: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
