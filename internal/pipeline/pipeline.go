package pipeline

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/n0roo/session-etl/internal/db"
)

// Run represents one execution of a DAG for a schedule slot
type Run struct {
	ID          string
	DAGID       string
	Slot        time.Time
	Status      string
	DryRun      bool
	Error       sql.NullString
	CreatedAt   time.Time
	StartedAt   sql.NullTime
	CompletedAt sql.NullTime
}

// TaskInstance represents one task of a run
type TaskInstance struct {
	RunID       string
	TaskID      string
	Status      string
	Attempts    int
	Rows        int64
	Output      sql.NullString
	Error       sql.NullString
	StartedAt   sql.NullTime
	CompletedAt sql.NullTime
}

// Service records DAG runs and task instances
type Service struct {
	db *db.DB
}

// NewService creates a new run history service
func NewService(database *db.DB) *Service {
	return &Service{db: database}
}

const runColumns = `id, dag_id, slot, status, dry_run, error, created_at, started_at, completed_at`

func scanRun(sc interface{ Scan(...any) error }) (Run, error) {
	var r Run
	err := sc.Scan(&r.ID, &r.DAGID, &r.Slot, &r.Status, &r.DryRun, &r.Error, &r.CreatedAt, &r.StartedAt, &r.CompletedAt)
	return r, err
}

// CreateRun registers a pending run with one pending instance per task
func (s *Service) CreateRun(id, dagID string, slot time.Time, dryRun bool, taskIDs []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("트랜잭션 시작 실패: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO dag_runs (id, dag_id, slot, status, dry_run)
		VALUES (?, ?, ?, 'pending', ?)
	`, id, dagID, slot.UTC(), dryRun)
	if err != nil {
		return fmt.Errorf("실행 생성 실패: %w", err)
	}

	for _, taskID := range taskIDs {
		_, err := tx.Exec(`
			INSERT INTO task_instances (run_id, task_id, status)
			VALUES (?, ?, 'pending')
		`, id, taskID)
		if err != nil {
			return fmt.Errorf("태스크 인스턴스 생성 실패: %w", err)
		}
	}

	return tx.Commit()
}

// GetRun retrieves a run by ID
func (s *Service) GetRun(id string) (*Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM dag_runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("실행 '%s'을(를) 찾을 수 없습니다", id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRuns returns runs, newest first. Empty filters match everything.
func (s *Service) ListRuns(dagID, status string, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM dag_runs WHERE 1=1`

	var args []interface{}
	if dagID != "" {
		query += ` AND dag_id = ?`
		args = append(args, dagID)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}

	query += ` ORDER BY created_at DESC, slot DESC`

	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LastCompleteSlot returns the latest slot with a complete, non dry-run run
func (s *Service) LastCompleteSlot(dagID string) (time.Time, bool, error) {
	r, err := scanRun(s.db.QueryRow(`
		SELECT `+runColumns+` FROM dag_runs
		WHERE dag_id = ? AND status = 'complete' AND dry_run = 0
		ORDER BY slot DESC LIMIT 1
	`, dagID))
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return r.Slot.UTC(), true, nil
}

// UpdateRunStatus updates run status
func (s *Service) UpdateRunStatus(id, status string, runErr error) error {
	var errMsg sql.NullString
	if runErr != nil {
		errMsg = sql.NullString{String: runErr.Error(), Valid: true}
	}

	var query string
	switch status {
	case StatusRunning:
		query = `UPDATE dag_runs SET status = ?, error = ?, started_at = CURRENT_TIMESTAMP WHERE id = ?`
	case StatusComplete, StatusFailed, StatusCancelled:
		query = `UPDATE dag_runs SET status = ?, error = ?, completed_at = CURRENT_TIMESTAMP WHERE id = ?`
	default:
		query = `UPDATE dag_runs SET status = ?, error = ? WHERE id = ?`
	}

	_, err := s.db.Exec(query, status, errMsg, id)
	return err
}

// StartTask marks a task instance running
func (s *Service) StartTask(runID, taskID string) error {
	_, err := s.db.Exec(`
		UPDATE task_instances SET status = 'running', started_at = CURRENT_TIMESTAMP
		WHERE run_id = ? AND task_id = ?
	`, runID, taskID)
	return err
}

// FinishTask stores the final result of a task instance
func (s *Service) FinishTask(runID string, r TaskResult) error {
	var errMsg sql.NullString
	if r.Error != nil {
		errMsg = sql.NullString{String: r.Error.Error(), Valid: true}
	}

	_, err := s.db.Exec(`
		UPDATE task_instances
		SET status = ?, attempts = ?, rows_affected = ?, output = ?, error = ?, completed_at = CURRENT_TIMESTAMP
		WHERE run_id = ? AND task_id = ?
	`, r.Status, r.Attempts, r.Rows, r.Output, errMsg, runID, r.TaskID)
	return err
}

// GetTasks returns the task instances of a run
func (s *Service) GetTasks(runID string) ([]TaskInstance, error) {
	rows, err := s.db.Query(`
		SELECT run_id, task_id, status, attempts, rows_affected, output, error, started_at, completed_at
		FROM task_instances
		WHERE run_id = ?
		ORDER BY rowid
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []TaskInstance
	for rows.Next() {
		var ti TaskInstance
		if err := rows.Scan(&ti.RunID, &ti.TaskID, &ti.Status, &ti.Attempts, &ti.Rows,
			&ti.Output, &ti.Error, &ti.StartedAt, &ti.CompletedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, ti)
	}
	return tasks, rows.Err()
}

// GetProgress returns run progress
func (s *Service) GetProgress(runID string) (completed, total int, err error) {
	err = s.db.QueryRow(`
		SELECT
			COUNT(CASE WHEN status = 'complete' THEN 1 END),
			COUNT(*)
		FROM task_instances WHERE run_id = ?
	`, runID).Scan(&completed, &total)
	return
}

// DeleteRun removes a run and its task instances
func (s *Service) DeleteRun(id string) error {
	_, err := s.db.Exec(`DELETE FROM dag_runs WHERE id = ?`, id)
	return err
}
