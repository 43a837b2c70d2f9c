package runner

import (
	"fmt"
	"time"
)

// TimeoutError reports that a target never became ready within the
// configured window. No steps have executed when this is returned.
type TimeoutError struct {
	Host    string
	Port    int
	Elapsed time.Duration
	LastErr error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("target %s:%d did not become ready after %s", e.Host, e.Port, e.Elapsed.Round(time.Second))
	if e.LastErr != nil {
		msg += fmt.Sprintf(": last probe error: %v", e.LastErr)
	}
	return msg
}

func (e *TimeoutError) Unwrap() error { return e.LastErr }

// StepError reports a step that exited non-zero or failed to execute.
// Index is the zero-based position of the step in the playbook; steps
// after it were not attempted.
type StepError struct {
	Step     string
	Index    int
	ExitCode int
	Output   string
	Err      error
}

func (e *StepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("step %d (%s) failed: %v", e.Index, e.Step, e.Err)
	}
	return fmt.Sprintf("step %d (%s) exited with code %d", e.Index, e.Step, e.ExitCode)
}

func (e *StepError) Unwrap() error { return e.Err }
