package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/n0roo/session-etl/internal/lock"
)

// ExecutionPlan represents the level-by-level plan of a graph
type ExecutionPlan struct {
	Groups     []ExecutionGroup
	TotalTasks int
}

// ExecutionGroup represents a group of tasks that can run in parallel
type ExecutionGroup struct {
	Order int
	Tasks []TaskExecution
}

// TaskExecution represents a task to be executed
type TaskExecution struct {
	TaskID       string
	Dependencies []string
}

// BuildExecutionPlan creates an execution plan for a graph
func BuildExecutionPlan(g *Graph) *ExecutionPlan {
	plan := &ExecutionPlan{}
	for order, level := range g.Levels() {
		group := ExecutionGroup{Order: order}
		for _, id := range level {
			group.Tasks = append(group.Tasks, TaskExecution{
				TaskID:       id,
				Dependencies: g.Upstream(id),
			})
			plan.TotalTasks++
		}
		plan.Groups = append(plan.Groups, group)
	}
	return plan
}

// RunSpec describes one slot execution of a DAG
type RunSpec struct {
	DAGID string
	Slot  time.Time
	Graph *Graph
	Retry RetryPolicy
}

// Runner executes a DAG slot under a slot lock and records it
type Runner struct {
	history    *Service
	locks      *lock.Service
	log        *zap.Logger
	dryRun     bool
	verbose    bool
	parallel   bool
	onStart    StartCallback
	onComplete ExecutionCallback
	onExecutor func(*Executor)
}

// NewRunner creates a new runner
func NewRunner(history *Service, locks *lock.Service, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{history: history, locks: locks, log: log}
}

// SetDryRun enables dry run mode
func (r *Runner) SetDryRun(dryRun bool) *Runner {
	r.dryRun = dryRun
	return r
}

// SetVerbose enables executor progress output
func (r *Runner) SetVerbose(verbose bool) *Runner {
	r.verbose = verbose
	return r
}

// SetParallel enables parallel execution within levels
func (r *Runner) SetParallel(parallel bool) *Runner {
	r.parallel = parallel
	return r
}

// SetStartCallback sets a callback invoked after history records a task start
func (r *Runner) SetStartCallback(cb StartCallback) *Runner {
	r.onStart = cb
	return r
}

// SetCallback sets a callback invoked after history records a task result
func (r *Runner) SetCallback(cb ExecutionCallback) *Runner {
	r.onComplete = cb
	return r
}

// OnExecutor registers a hook receiving each executor before it starts,
// e.g. to wire cancellation from a UI.
func (r *Runner) OnExecutor(fn func(*Executor)) *Runner {
	r.onExecutor = fn
	return r
}

// Run executes spec once. The returned error covers lock and history
// failures and a failed or cancelled run; the RunResult is returned
// whenever the graph was executed.
func (r *Runner) Run(ctx context.Context, spec RunSpec) (*Run, *RunResult, error) {
	runID := uuid.NewString()
	slot := spec.Slot.UTC()
	resource := lock.SlotResource(spec.DAGID, slot)
	log := r.log.With(
		zap.String("dag", spec.DAGID),
		zap.String("run_id", runID),
		zap.Time("slot", slot))

	// 같은 슬롯의 동시 실행 방지
	if err := r.locks.Acquire(resource, runID); err != nil {
		return nil, nil, fmt.Errorf("슬롯 Lock 획득 실패: %w", err)
	}
	defer func() {
		if err := r.locks.Release(resource); err != nil {
			log.Warn("slot lock release failed", zap.Error(err))
		}
	}()

	if err := r.history.CreateRun(runID, spec.DAGID, slot, r.dryRun, spec.Graph.Order()); err != nil {
		return nil, nil, err
	}
	if err := r.history.UpdateRunStatus(runID, StatusRunning, nil); err != nil {
		return nil, nil, fmt.Errorf("실행 상태 업데이트 실패: %w", err)
	}
	log.Info("dag run started", zap.Bool("dry_run", r.dryRun))

	exec := NewExecutor(spec.Graph, log).
		SetDryRun(r.dryRun).
		SetVerbose(r.verbose).
		SetParallel(r.parallel).
		SetRetry(spec.Retry).
		SetStartCallback(func(taskID string) {
			if err := r.history.StartTask(runID, taskID); err != nil {
				log.Warn("task start not recorded", zap.String("task", taskID), zap.Error(err))
			}
			if r.onStart != nil {
				r.onStart(taskID)
			}
		}).
		SetCallback(func(res TaskResult) {
			if err := r.history.FinishTask(runID, res); err != nil {
				log.Warn("task result not recorded", zap.String("task", res.TaskID), zap.Error(err))
			}
			if r.onComplete != nil {
				r.onComplete(res)
			}
		})
	if r.onExecutor != nil {
		r.onExecutor(exec)
	}

	result := exec.Execute(ctx)
	runErr := result.Err()

	if err := r.history.UpdateRunStatus(runID, result.Status, runErr); err != nil {
		return nil, result, fmt.Errorf("완료 상태 업데이트 실패: %w", err)
	}

	run, err := r.history.GetRun(runID)
	if err != nil {
		return nil, result, err
	}

	switch result.Status {
	case StatusComplete:
		log.Info("dag run complete", zap.Duration("duration", result.EndedAt.Sub(result.StartedAt)))
		return run, result, nil
	default:
		log.Error("dag run "+result.Status, zap.Error(runErr))
		if runErr == nil {
			runErr = errors.New(result.Status)
		}
		return run, result, fmt.Errorf("DAG '%s' 실행 실패: %w", spec.DAGID, runErr)
	}
}
