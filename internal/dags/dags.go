// Package dags declares the ingest and summarize pipelines as explicit
// task graphs with their trigger settings.
package dags

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/n0roo/session-etl/internal/config"
	"github.com/n0roo/session-etl/internal/etl"
	"github.com/n0roo/session-etl/internal/pipeline"
)

// DAG ids
const (
	IngestID    = "ingest"
	SummarizeID = "summarize"
)

// DAG is a task graph plus its trigger settings
type DAG struct {
	ID          string
	Name        string
	Description string
	Schedule    *Schedule
	StartDate   time.Time
	Catchup     bool
	Tags        []string
	Connection  string
	Retry       pipeline.RetryPolicy
	Graph       *pipeline.Graph
}

// Ingest declares SimpleSnowflakeETL: provision stage and tables, then load
func Ingest(cfg config.IngestConfig, t *etl.Tasks) (*DAG, error) {
	return build(IngestID, "SimpleSnowflakeETL",
		"Provision the blob stage and raw tables, then bulk load the staged CSV files",
		cfg.ScheduleConfig, cfg.Connection,
		[]pipeline.Task{
			{ID: etl.TaskProvisionStageAndTables, Run: t.ProvisionStageAndTables},
			{ID: etl.TaskLoadRawData, Run: t.LoadRawData},
		},
		[]pipeline.Edge{
			{From: etl.TaskProvisionStageAndTables, To: etl.TaskLoadRawData},
		})
}

// Summarize declares ELT_SessionSummary: create the summary table, then populate it
func Summarize(cfg config.SummarizeConfig, t *etl.Tasks) (*DAG, error) {
	return build(SummarizeID, "ELT_SessionSummary",
		"Join raw session tables into analytics.session_summary",
		cfg.ScheduleConfig, cfg.Connection,
		[]pipeline.Task{
			{ID: etl.TaskCreateSummaryTable, Run: t.CreateSummaryTable},
			{ID: etl.TaskPopulateSummaryTable, Run: t.PopulateSummaryTable},
		},
		[]pipeline.Edge{
			{From: etl.TaskCreateSummaryTable, To: etl.TaskPopulateSummaryTable},
		})
}

func build(id, name, desc string, sc config.ScheduleConfig, conn string, tasks []pipeline.Task, edges []pipeline.Edge) (*DAG, error) {
	sched, err := ParseSchedule(sc.Schedule)
	if err != nil {
		return nil, fmt.Errorf("DAG '%s': %w", id, err)
	}
	start, err := sc.Start()
	if err != nil {
		return nil, fmt.Errorf("DAG '%s': start_date 파싱 실패: %w", id, err)
	}
	graph, err := pipeline.NewGraph(tasks, edges)
	if err != nil {
		return nil, fmt.Errorf("DAG '%s': %w", id, err)
	}

	return &DAG{
		ID:          id,
		Name:        name,
		Description: desc,
		Schedule:    sched,
		StartDate:   start,
		Catchup:     sc.Catchup,
		Tags:        sc.Tags,
		Connection:  conn,
		Retry:       pipeline.RetryPolicy{Retries: sc.Retries, Delay: sc.RetryDelay},
		Graph:       graph,
	}, nil
}

// All declares both DAGs in a stable order
func All(cfg config.DAGsConfig, t *etl.Tasks) ([]*DAG, error) {
	ingest, err := Ingest(cfg.Ingest, t)
	if err != nil {
		return nil, err
	}
	summarize, err := Summarize(cfg.Summarize, t)
	if err != nil {
		return nil, err
	}
	return []*DAG{ingest, summarize}, nil
}

// Find looks a DAG up by id or name, case-insensitively
func Find(all []*DAG, key string) (*DAG, error) {
	d, ok := lo.Find(all, func(d *DAG) bool {
		return strings.EqualFold(d.ID, key) || strings.EqualFold(d.Name, key)
	})
	if !ok {
		ids := lo.Map(all, func(d *DAG, _ int) string { return d.ID })
		return nil, fmt.Errorf("DAG '%s'을(를) 찾을 수 없습니다 (사용 가능: %s)", key, strings.Join(ids, ", "))
	}
	return d, nil
}

// RunSpec returns the execution spec of one slot
func (d *DAG) RunSpec(slot time.Time) pipeline.RunSpec {
	return pipeline.RunSpec{DAGID: d.ID, Slot: slot, Graph: d.Graph, Retry: d.Retry}
}

// NextRuns returns the next n fire times after now, not before the start date
func (d *DAG) NextRuns(now time.Time, n int) []time.Time {
	from := now
	if from.Before(d.StartDate) {
		from = d.StartDate.Add(-time.Second)
	}

	out := make([]time.Time, 0, n)
	for t := d.Schedule.Next(from); !t.IsZero() && len(out) < n; t = d.Schedule.Next(t) {
		out = append(out, t)
	}
	return out
}

// DueSlots returns the slots that should run at now given the last
// complete slot. Without catch-up only the latest slot is due, and
// only if it is newer than the last complete one.
func (d *DAG) DueSlots(now, last time.Time, hasLast bool) []time.Time {
	if !d.Catchup {
		latest, ok := d.Schedule.Latest(d.StartDate, now)
		if !ok || (hasLast && !latest.After(last)) {
			return nil
		}
		return []time.Time{latest}
	}

	var after time.Time
	if hasLast {
		after = last
	}
	return d.Schedule.Slots(d.StartDate, after, now)
}
