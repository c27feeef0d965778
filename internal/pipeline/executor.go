package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// StartCallback is called right before a task starts
type StartCallback func(taskID string)

// ExecutionCallback is called when a task reaches a final status.
// With parallel execution it may be called from several goroutines.
type ExecutionCallback func(result TaskResult)

// RetryPolicy decides how often a failed task is attempted again
type RetryPolicy struct {
	Retries int
	Delay   time.Duration
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	if p.Retries <= 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}

	b := backoff.NewExponentialBackOff()
	if p.Delay > 0 {
		b.InitialInterval = p.Delay
	}
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.Retries)), ctx)
}

// Executor runs a graph level by level
type Executor struct {
	graph      *Graph
	log        *zap.Logger
	out        io.Writer
	dryRun     bool
	verbose    bool
	parallel   bool
	retry      RetryPolicy
	onStart    StartCallback
	onComplete ExecutionCallback

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewExecutor creates a new graph executor. Tasks run sequentially by default.
func NewExecutor(graph *Graph, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		graph: graph,
		log:   log,
		out:   os.Stdout,
	}
}

// SetDryRun enables dry run mode (no task function is called)
func (e *Executor) SetDryRun(dryRun bool) *Executor {
	e.dryRun = dryRun
	return e
}

// SetVerbose enables progress output
func (e *Executor) SetVerbose(verbose bool) *Executor {
	e.verbose = verbose
	return e
}

// SetOutput sets the progress output writer
func (e *Executor) SetOutput(w io.Writer) *Executor {
	e.out = w
	return e
}

// SetParallel enables/disables parallel execution within levels
func (e *Executor) SetParallel(parallel bool) *Executor {
	e.parallel = parallel
	return e
}

// SetRetry sets the retry policy applied to every task
func (e *Executor) SetRetry(p RetryPolicy) *Executor {
	e.retry = p
	return e
}

// SetStartCallback sets the start callback
func (e *Executor) SetStartCallback(cb StartCallback) *Executor {
	e.onStart = cb
	return e
}

// SetCallback sets the completion callback
func (e *Executor) SetCallback(cb ExecutionCallback) *Executor {
	e.onComplete = cb
	return e
}

// Cancel cancels a running Execute
func (e *Executor) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Executor) printf(format string, args ...any) {
	if e.verbose {
		fmt.Fprintf(e.out, format, args...)
	}
}

// Execute runs every task once its upstream tasks completed.
// A task whose upstream failed, was skipped or cancelled is skipped.
func (e *Executor) Execute(ctx context.Context) *RunResult {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	defer cancel()

	run := &RunResult{StartedAt: time.Now()}
	levels := e.graph.Levels()
	results := make(map[string]TaskResult, e.graph.Len())

	e.printf("🚀 Pipeline: %d tasks in %d groups\n", e.graph.Len(), len(levels))

	for i, level := range levels {
		e.printf("\n═══ Group %d (%d tasks) ═══\n", i, len(level))

		var ready []Task
		for _, id := range level {
			if err := ctx.Err(); err != nil {
				results[id] = e.finish(TaskResult{TaskID: id, Status: StatusCancelled, Error: err})
				continue
			}
			if up, status, blocked := e.blockedBy(id, results); blocked {
				results[id] = e.finish(TaskResult{
					TaskID: id,
					Status: StatusSkipped,
					Output: fmt.Sprintf("upstream %s %s", up, status),
				})
				continue
			}
			task, _ := e.graph.Task(id)
			ready = append(ready, task)
		}

		var rs []TaskResult
		if e.parallel && len(ready) > 1 {
			rs = e.executeParallel(ctx, ready)
		} else {
			rs = e.executeSequential(ctx, ready)
		}
		for _, r := range rs {
			results[r.TaskID] = r
		}
	}

	for _, id := range e.graph.Order() {
		run.Tasks = append(run.Tasks, results[id])
	}
	run.Status = runStatus(run.Tasks)
	run.EndedAt = time.Now()

	switch run.Status {
	case StatusComplete:
		e.printf("\n🎉 Pipeline complete (%.2fs)\n", run.EndedAt.Sub(run.StartedAt).Seconds())
	default:
		e.printf("\n💥 Pipeline %s\n", run.Status)
	}

	return run
}

func runStatus(tasks []TaskResult) string {
	status := StatusComplete
	for _, t := range tasks {
		switch t.Status {
		case StatusFailed:
			return StatusFailed
		case StatusCancelled:
			status = StatusCancelled
		}
	}
	return status
}

func (e *Executor) blockedBy(id string, results map[string]TaskResult) (string, string, bool) {
	for _, up := range e.graph.Upstream(id) {
		if r := results[up]; r.Status != StatusComplete {
			return up, r.Status, true
		}
	}
	return "", "", false
}

func (e *Executor) executeSequential(ctx context.Context, tasks []Task) []TaskResult {
	var results []TaskResult
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			results = append(results, e.finish(TaskResult{TaskID: task.ID, Status: StatusCancelled, Error: err}))
			continue
		}
		results = append(results, e.executeTask(ctx, task))
	}
	return results
}

func (e *Executor) executeParallel(ctx context.Context, tasks []Task) []TaskResult {
	var wg sync.WaitGroup
	results := make([]TaskResult, len(tasks))

	for i, task := range tasks {
		wg.Add(1)
		go func(idx int, t Task) {
			defer wg.Done()
			results[idx] = e.executeTask(ctx, t)
		}(i, task)
	}

	wg.Wait()
	return results
}

func (e *Executor) executeTask(ctx context.Context, task Task) TaskResult {
	startedAt := time.Now()
	e.printf("▶️  %s: starting\n", task.ID)
	if e.onStart != nil {
		e.onStart(task.ID)
	}

	var result TaskResult
	if e.dryRun {
		// Dry run: 태스크 함수를 호출하지 않음
		result = TaskResult{Status: StatusComplete, Output: "[dry-run] not executed"}
	} else {
		result = e.runWithRetry(ctx, task)
	}

	result.TaskID = task.ID
	result.StartedAt = startedAt
	return e.finish(result)
}

// finish stamps timing, reports the result and logs failures
func (e *Executor) finish(result TaskResult) TaskResult {
	if result.StartedAt.IsZero() {
		result.StartedAt = time.Now()
	}
	result.EndedAt = time.Now()
	result.Duration = result.EndedAt.Sub(result.StartedAt)

	switch result.Status {
	case StatusComplete:
		e.printf("✅ %s: complete (%.2fs)\n", result.TaskID, result.Duration.Seconds())
	case StatusSkipped:
		e.printf("⏭️  %s: skipped (%s)\n", result.TaskID, result.Output)
	case StatusCancelled:
		e.printf("🛑 %s: cancelled\n", result.TaskID)
	default:
		e.printf("❌ %s: failed - %v\n", result.TaskID, result.Error)
	}

	if e.onComplete != nil {
		e.onComplete(result)
	}
	return result
}

func (e *Executor) runWithRetry(ctx context.Context, task Task) TaskResult {
	var result TaskResult
	attempts := 0

	op := func() error {
		attempts++
		result = safeRun(ctx, task).normalize()
		if result.Error == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(result.Error)
		}
		return result.Error
	}
	notify := func(err error, wait time.Duration) {
		e.log.Warn("task failed, retrying",
			zap.String("task", task.ID),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err))
		e.printf("🔁 %s: retry in %s\n", task.ID, wait.Round(time.Millisecond))
	}

	_ = backoff.RetryNotify(op, e.retry.backOff(ctx), notify)

	result.Attempts = attempts
	if result.Error != nil && ctx.Err() != nil {
		result.Status = StatusCancelled
	}
	return result
}

// safeRun turns a panicking task into a failed result
func safeRun(ctx context.Context, task Task) (result TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			result = TaskResult{Status: StatusFailed, Error: fmt.Errorf("태스크 패닉: %v", r)}
		}
	}()
	return task.Run(ctx)
}
