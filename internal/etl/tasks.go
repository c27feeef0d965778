// Package etl holds the four warehouse tasks of the ingest and summarize
// pipelines. Each task acquires one session for its whole duration and
// reports a typed result instead of panicking or re-raising.
package etl

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/n0roo/session-etl/internal/config"
	"github.com/n0roo/session-etl/internal/pipeline"
	"github.com/n0roo/session-etl/internal/warehouse"
)

// Task ids as recorded in run history
const (
	TaskProvisionStageAndTables = "create_stage_and_tables"
	TaskLoadRawData             = "load_data"
	TaskCreateSummaryTable      = "create_session_summary_table"
	TaskPopulateSummaryTable    = "populate_session_summary"
)

// Tasks binds the task functions to a connection provider and DAG config
type Tasks struct {
	provider warehouse.Provider
	cfg      config.DAGsConfig
	log      *zap.Logger
}

// New creates the task set
func New(provider warehouse.Provider, cfg config.DAGsConfig, log *zap.Logger) *Tasks {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tasks{provider: provider, cfg: cfg, log: log}
}

// Stage returns the staging reference of the ingest pipeline
func (t *Tasks) Stage() warehouse.Stage {
	ing := t.cfg.Ingest
	return warehouse.Stage{
		Namespace: ing.Namespace,
		Name:      ing.Stage.Name,
		URL:       ing.Stage.URL,
		Format:    warehouse.CSVFormat,
	}
}

func (t *Tasks) copySpec(table warehouse.Table) warehouse.CopySpec {
	file := t.cfg.Ingest.Files[table.Name]
	if file == "" {
		file = table.Name + ".csv"
	}
	return warehouse.CopySpec{
		Namespace: t.cfg.Ingest.Namespace,
		Table:     table,
		Stage:     t.Stage(),
		File:      file,
	}
}

// run acquires a session for connID, runs fn and turns its error into a failed result.
// The failure is logged once here with the task id.
func (t *Tasks) run(ctx context.Context, taskID, connID string, fn func(*warehouse.Session, *pipeline.TaskResult) error) pipeline.TaskResult {
	res := pipeline.TaskResult{TaskID: taskID}

	err := warehouse.WithSession(ctx, t.provider, connID, func(s *warehouse.Session) error {
		return fn(s, &res)
	})
	if err != nil {
		t.log.Error("task failed",
			zap.String("task", taskID),
			zap.String("conn", connID),
			zap.Error(err))
		return res.Fail(fmt.Errorf("%s: %w", taskID, err))
	}

	t.log.Info("task complete",
		zap.String("task", taskID),
		zap.String("output", res.Output),
		zap.Int64("rows", res.Rows))
	return res.Complete()
}

func execAll(ctx context.Context, s *warehouse.Session, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := s.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// ProvisionStageAndTables creates or replaces the stage and creates both raw
// tables if absent. Existing tables are never altered.
func (t *Tasks) ProvisionStageAndTables(ctx context.Context) pipeline.TaskResult {
	ing := t.cfg.Ingest
	return t.run(ctx, TaskProvisionStageAndTables, ing.Connection, func(s *warehouse.Session, res *pipeline.TaskResult) error {
		d := s.Dialect()

		if err := execAll(ctx, s, d.EnsureNamespace(ing.Namespace)); err != nil {
			return err
		}
		if err := d.CreateStage(ctx, s, t.Stage()); err != nil {
			return err
		}
		for _, table := range rawTables {
			if _, err := s.Exec(ctx, warehouse.CreateTableSQL(ing.Namespace, table)); err != nil {
				return err
			}
		}

		res.Output = "stage and tables created"
		return nil
	})
}

// LoadRawData bulk loads the staged CSV files, user_session_channel first.
// Files already loaded are skipped by the warehouse's load tracking.
func (t *Tasks) LoadRawData(ctx context.Context) pipeline.TaskResult {
	return t.run(ctx, TaskLoadRawData, t.cfg.Ingest.Connection, func(s *warehouse.Session, res *pipeline.TaskResult) error {
		var parts []string
		for _, table := range rawTables {
			cr, err := s.Dialect().CopyInto(ctx, s, t.copySpec(table))
			if err != nil {
				return err
			}

			res.Rows += cr.Rows
			if cr.Skipped {
				parts = append(parts, fmt.Sprintf("%s: skipped", cr.Table))
			} else {
				parts = append(parts, fmt.Sprintf("%s: %d rows", cr.Table, cr.Rows))
			}
		}

		res.Output = strings.Join(parts, ", ")
		return nil
	})
}

// CreateSummaryTable creates the analytics schema and summary table if absent
func (t *Tasks) CreateSummaryTable(ctx context.Context) pipeline.TaskResult {
	sum := t.cfg.Summarize
	return t.run(ctx, TaskCreateSummaryTable, sum.Connection, func(s *warehouse.Session, res *pipeline.TaskResult) error {
		if err := execAll(ctx, s, t.summaryDDL()); err != nil {
			return err
		}
		res.Output = fmt.Sprintf("schema %s and table %s created", sum.Namespace, SessionSummary.Qualified(sum.Namespace))
		return nil
	})
}

func (t *Tasks) summaryDDL() []string {
	ns := t.cfg.Summarize.Namespace
	return []string{
		warehouse.CreateSchemaSQL(ns),
		warehouse.CreateTableSQL(ns, SessionSummary),
	}
}

// PopulateSummarySQL renders the join insert. Sessions already summarized
// are excluded by the NOT IN filter. The filter and the insert are not
// serialized against a concurrent run of the same statement; such a race
// ends in a primary key violation, never in a duplicate row.
func PopulateSummarySQL(rawNS, ns string) string {
	return fmt.Sprintf("INSERT INTO %[1]s (userId, sessionId, channel, ts) "+
		"SELECT DISTINCT usc.userId, usc.sessionId, usc.channel, st.ts "+
		"FROM %[2]s usc JOIN %[3]s st ON usc.sessionId = st.sessionId "+
		"WHERE usc.sessionId NOT IN (SELECT sessionId FROM %[1]s)",
		SessionSummary.Qualified(ns),
		UserSessionChannel.Qualified(rawNS),
		SessionTimestamp.Qualified(rawNS))
}

// PopulateSummaryTable inserts one summary row per joined session not yet summarized
func (t *Tasks) PopulateSummaryTable(ctx context.Context) pipeline.TaskResult {
	sum := t.cfg.Summarize
	return t.run(ctx, TaskPopulateSummaryTable, sum.Connection, func(s *warehouse.Session, res *pipeline.TaskResult) error {
		r, err := s.Exec(ctx, PopulateSummarySQL(sum.RawNamespace, sum.Namespace))
		if err != nil {
			return err
		}
		if n, err := r.RowsAffected(); err == nil {
			res.Rows = n
		}
		res.Output = fmt.Sprintf("%d rows inserted into %s", res.Rows, SessionSummary.Qualified(sum.Namespace))
		return nil
	})
}

// SQL returns the statements taskID issues for dialect d, in order
func (t *Tasks) SQL(taskID string, d warehouse.Dialect) ([]string, error) {
	switch taskID {
	case TaskProvisionStageAndTables:
		ns := t.cfg.Ingest.Namespace
		stmts := append(d.EnsureNamespace(ns), d.StageSQL(t.Stage())...)
		for _, table := range rawTables {
			stmts = append(stmts, warehouse.CreateTableSQL(ns, table))
		}
		return stmts, nil
	case TaskLoadRawData:
		var stmts []string
		for _, table := range rawTables {
			stmts = append(stmts, d.CopySQL(t.copySpec(table)))
		}
		return stmts, nil
	case TaskCreateSummaryTable:
		return t.summaryDDL(), nil
	case TaskPopulateSummaryTable:
		return []string{PopulateSummarySQL(t.cfg.Summarize.RawNamespace, t.cfg.Summarize.Namespace)}, nil
	default:
		return nil, fmt.Errorf("알 수 없는 태스크: %s", taskID)
	}
}
