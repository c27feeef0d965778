package pipeline

import (
	"errors"
	"time"
)

// Status constants
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusComplete  = "complete"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusSkipped   = "skipped"
)

// TaskResult is the outcome of one task execution.
// Tasks report failures here instead of panicking.
type TaskResult struct {
	TaskID    string
	Status    string
	Output    string
	Rows      int64
	Error     error
	Attempts  int
	StartedAt time.Time
	EndedAt   time.Time
	Duration  time.Duration
}

// Success reports whether the task completed
func (r TaskResult) Success() bool {
	return r.Status == StatusComplete
}

// Complete marks the result complete
func (r TaskResult) Complete() TaskResult {
	r.Status = StatusComplete
	r.Error = nil
	return r
}

// Fail marks the result failed with err
func (r TaskResult) Fail(err error) TaskResult {
	r.Status = StatusFailed
	r.Error = err
	return r
}

// normalize derives a status when the task function left it empty
func (r TaskResult) normalize() TaskResult {
	switch {
	case r.Error != nil && r.Status != StatusCancelled:
		r.Status = StatusFailed
	case r.Status == "":
		r.Status = StatusComplete
	}
	return r
}

// RunResult is the outcome of one graph execution
type RunResult struct {
	Status    string
	Tasks     []TaskResult // topological order
	StartedAt time.Time
	EndedAt   time.Time
}

// Task returns the result of one task
func (r *RunResult) Task(id string) (TaskResult, bool) {
	for _, t := range r.Tasks {
		if t.TaskID == id {
			return t, true
		}
	}
	return TaskResult{}, false
}

// Failed returns the failed task results
func (r *RunResult) Failed() []TaskResult {
	var out []TaskResult
	for _, t := range r.Tasks {
		if t.Status == StatusFailed {
			out = append(out, t)
		}
	}
	return out
}

// Err joins the errors of every failed or cancelled task
func (r *RunResult) Err() error {
	var errs []error
	for _, t := range r.Tasks {
		if (t.Status == StatusFailed || t.Status == StatusCancelled) && t.Error != nil {
			errs = append(errs, t.Error)
		}
	}
	return errors.Join(errs...)
}
