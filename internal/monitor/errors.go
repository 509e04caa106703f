package monitor

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when an operation needs the monitor to be idle or terminal
	ErrBusy = errors.New("monitor: a task is still being submitted or polled")
	// ErrCancelled is reported for a task stopped by Cancel
	ErrCancelled = errors.New("monitor: task cancelled")
)

// ValidationError rejects a job spec before anything is sent
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid job spec: %s %s", e.Field, e.Reason)
}

// SubmissionError means the job could not be started. It is terminal for
// that attempt and never retried.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("failed to submit job: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// TransientPollError is a failed status check. The poll loop logs it and
// tries again on the next tick.
type TransientPollError struct {
	TaskID string
	Err    error
}

func (e *TransientPollError) Error() string {
	return fmt.Sprintf("status check for task %s failed: %v", e.TaskID, e.Err)
}

func (e *TransientPollError) Unwrap() error { return e.Err }

// RemoteFailure is a task the service reported as failed
type RemoteFailure struct {
	TaskID  string
	Message string
}

func (e *RemoteFailure) Error() string {
	return fmt.Sprintf("task %s failed: %s", e.TaskID, e.Message)
}
