package etl

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n0roo/session-etl/internal/config"
	"github.com/n0roo/session-etl/internal/warehouse"
)

type duckEnv struct {
	reg      *warehouse.Registry
	tasks    *Tasks
	stageDir string
}

func setupDuckEnv(t *testing.T) *duckEnv {
	t.Helper()

	dir := t.TempDir()
	db, err := warehouse.OpenDuckDB(filepath.Join(dir, "warehouse.duckdb"))
	require.NoError(t, err)

	reg := warehouse.NewRegistry(nil, dir, nil)
	reg.Register("local", db, warehouse.NewDuckDB(nil))
	t.Cleanup(func() { reg.Close() })

	stageDir := filepath.Join(dir, "stage")
	require.NoError(t, os.MkdirAll(stageDir, 0755))

	cfg := config.DefaultConfig().DAGs
	cfg.Ingest.Connection = "local"
	cfg.Ingest.Namespace = "raw_data"
	cfg.Ingest.Stage.URL = stageDir
	cfg.Summarize.Connection = "local"
	cfg.Summarize.RawNamespace = "raw_data"
	cfg.Summarize.Namespace = "analytics"

	return &duckEnv{reg: reg, tasks: New(reg, cfg, nil), stageDir: stageDir}
}

func (e *duckEnv) exec(t *testing.T, stmts ...string) {
	t.Helper()
	err := warehouse.WithSession(context.Background(), e.reg, "local", func(s *warehouse.Session) error {
		for _, stmt := range stmts {
			if _, err := s.Exec(context.Background(), stmt); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func (e *duckEnv) count(t *testing.T, table string) int64 {
	t.Helper()
	var n int64
	err := warehouse.WithSession(context.Background(), e.reg, "local", func(s *warehouse.Session) error {
		var err error
		n, err = s.Count(context.Background(), table)
		return err
	})
	require.NoError(t, err)
	return n
}

func (e *duckEnv) writeStage(t *testing.T, name string, lines ...string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(e.stageDir, name), []byte(strings.Join(lines, "\n")+"\n"), 0644))
}

// provisionAll creates raw tables and the summary table without loading data
func (e *duckEnv) provisionAll(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.tasks.ProvisionStageAndTables(ctx).Error)
	require.NoError(t, e.tasks.CreateSummaryTable(ctx).Error)
}

func TestScenario_EmptyRawTables(t *testing.T) {
	env := setupDuckEnv(t)
	env.provisionAll(t)

	res := env.tasks.PopulateSummaryTable(context.Background())
	require.NoError(t, res.Error)
	assert.Equal(t, int64(0), res.Rows)
	assert.Equal(t, int64(0), env.count(t, "analytics.session_summary"))
}

func TestScenario_SingleSession(t *testing.T) {
	env := setupDuckEnv(t)
	env.provisionAll(t)
	env.exec(t,
		`INSERT INTO raw_data.user_session_channel VALUES (1, 's1', 'google')`,
		`INSERT INTO raw_data.session_timestamp VALUES ('s1', TIMESTAMP '2024-01-01 00:00:00')`,
	)

	ctx := context.Background()
	res := env.tasks.PopulateSummaryTable(ctx)
	require.NoError(t, res.Error)
	assert.Equal(t, int64(1), res.Rows)

	var (
		userID    int
		sessionID string
		channel   string
		ts        time.Time
	)
	err := warehouse.WithSession(ctx, env.reg, "local", func(s *warehouse.Session) error {
		return s.QueryRow(ctx, `SELECT userId, sessionId, channel, ts FROM analytics.session_summary`).
			Scan(&userID, &sessionID, &channel, &ts)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, userID)
	assert.Equal(t, "s1", sessionID)
	assert.Equal(t, "google", channel)
	assert.True(t, ts.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)), "ts = %v", ts)

	// 새 원천 데이터 없이 재실행해도 행 수 유지, 제약 위반 없음
	res = env.tasks.PopulateSummaryTable(ctx)
	require.NoError(t, res.Error)
	assert.Equal(t, int64(0), res.Rows)
	assert.Equal(t, int64(1), env.count(t, "analytics.session_summary"))
}

func TestScenario_OrphanSession(t *testing.T) {
	env := setupDuckEnv(t)
	env.provisionAll(t)
	env.exec(t,
		`INSERT INTO raw_data.user_session_channel VALUES (1, 's1', 'google'), (2, 'orphan', 'naver')`,
		`INSERT INTO raw_data.session_timestamp VALUES ('s1', TIMESTAMP '2024-01-01 00:00:00'), ('ts-only', TIMESTAMP '2024-01-02 00:00:00')`,
	)

	ctx := context.Background()
	require.NoError(t, env.tasks.PopulateSummaryTable(ctx).Error)

	var orphans int
	err := warehouse.WithSession(ctx, env.reg, "local", func(s *warehouse.Session) error {
		return s.QueryRow(ctx, `SELECT COUNT(*) FROM analytics.session_summary WHERE sessionId IN ('orphan', 'ts-only')`).Scan(&orphans)
	})
	require.NoError(t, err)
	assert.Zero(t, orphans)
	assert.Equal(t, int64(1), env.count(t, "analytics.session_summary"))
}

func TestScenario_IncrementalSessions(t *testing.T) {
	env := setupDuckEnv(t)
	env.provisionAll(t)
	ctx := context.Background()

	env.exec(t,
		`INSERT INTO raw_data.user_session_channel VALUES (1, 's1', 'google')`,
		`INSERT INTO raw_data.session_timestamp VALUES ('s1', TIMESTAMP '2024-01-01 00:00:00')`,
	)
	require.NoError(t, env.tasks.PopulateSummaryTable(ctx).Error)

	env.exec(t,
		`INSERT INTO raw_data.user_session_channel VALUES (2, 's2', 'youtube')`,
		`INSERT INTO raw_data.session_timestamp VALUES ('s2', TIMESTAMP '2024-01-03 00:00:00')`,
	)
	res := env.tasks.PopulateSummaryTable(ctx)
	require.NoError(t, res.Error)
	assert.Equal(t, int64(1), res.Rows, "이미 요약된 세션은 제외")
	assert.Equal(t, int64(2), env.count(t, "analytics.session_summary"))
}

func TestProvision_Idempotent(t *testing.T) {
	env := setupDuckEnv(t)
	ctx := context.Background()

	require.NoError(t, env.tasks.ProvisionStageAndTables(ctx).Error)
	env.exec(t, `INSERT INTO raw_data.user_session_channel (userId, sessionId) VALUES (7, 's7')`)

	// 재실행은 테이블을 변경하지 않고 stage 위치를 유지
	require.NoError(t, env.tasks.ProvisionStageAndTables(ctx).Error)
	assert.Equal(t, int64(1), env.count(t, "raw_data.user_session_channel"))

	var channel, url string
	err := warehouse.WithSession(ctx, env.reg, "local", func(s *warehouse.Session) error {
		if err := s.QueryRow(ctx, `SELECT channel FROM raw_data.user_session_channel`).Scan(&channel); err != nil {
			return err
		}
		return s.QueryRow(ctx, `SELECT url FROM setl_stages WHERE name = 'raw_data.blob_stage'`).Scan(&url)
	})
	require.NoError(t, err)
	assert.Equal(t, "direct", channel, "기본 channel 값")
	assert.Equal(t, env.stageDir, url)
}

func TestIngestEndToEnd(t *testing.T) {
	env := setupDuckEnv(t)
	ctx := context.Background()

	env.writeStage(t, "user_session_channel.csv",
		"userId,sessionId,channel",
		`1,s1,"google"`,
		`2,s2,"facebook"`,
		`3,s3,"instagram"`,
	)
	env.writeStage(t, "session_timestamp.csv",
		"sessionId,ts",
		"s1,2024-01-01 00:00:00",
		"s2,2024-01-02 10:30:00",
	)

	require.NoError(t, env.tasks.ProvisionStageAndTables(ctx).Error)

	res := env.tasks.LoadRawData(ctx)
	require.NoError(t, res.Error)
	assert.Equal(t, int64(5), res.Rows)

	// 같은 파일 재적재는 건너뜀
	res = env.tasks.LoadRawData(ctx)
	require.NoError(t, res.Error)
	assert.Equal(t, int64(0), res.Rows)
	assert.Contains(t, res.Output, "skipped")
	assert.Equal(t, int64(3), env.count(t, "raw_data.user_session_channel"))

	require.NoError(t, env.tasks.CreateSummaryTable(ctx).Error)
	res = env.tasks.PopulateSummaryTable(ctx)
	require.NoError(t, res.Error)
	assert.Equal(t, int64(2), res.Rows, "s3는 timestamp가 없어 제외")
}
