package etl

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/n0roo/session-etl/internal/config"
	"github.com/n0roo/session-etl/internal/pipeline"
	"github.com/n0roo/session-etl/internal/warehouse"
)

const (
	alterSession = "ALTER SESSION SET ABORT_DETACHED_QUERY=TRUE"
	createStage  = `CREATE OR REPLACE STAGE dev.raw_data.blob_stage URL='s3://s3-geospatial/readonly/' FILE_FORMAT=(TYPE=CSV, SKIP_HEADER=1, FIELD_OPTIONALLY_ENCLOSED_BY='"')`
	createUSC    = `CREATE TABLE IF NOT EXISTS dev.raw_data.user_session_channel(userId INT NOT NULL, sessionId VARCHAR(32) PRIMARY KEY, channel VARCHAR(32) DEFAULT 'direct')`
	createST     = `CREATE TABLE IF NOT EXISTS dev.raw_data.session_timestamp(sessionId VARCHAR(32) PRIMARY KEY, ts TIMESTAMP)`
	copyUSC      = `COPY INTO dev.raw_data.user_session_channel FROM @dev.raw_data.blob_stage/user_session_channel.csv FILE_FORMAT=(TYPE=CSV, SKIP_HEADER=1, FIELD_OPTIONALLY_ENCLOSED_BY='"')`
	copyST       = `COPY INTO dev.raw_data.session_timestamp FROM @dev.raw_data.blob_stage/session_timestamp.csv FILE_FORMAT=(TYPE=CSV, SKIP_HEADER=1, FIELD_OPTIONALLY_ENCLOSED_BY='"')`
	createSchema = `CREATE SCHEMA IF NOT EXISTS analytics`
	createSum    = `CREATE TABLE IF NOT EXISTS analytics.session_summary(userId INT NOT NULL, sessionId VARCHAR(32) PRIMARY KEY, channel VARCHAR(32), ts TIMESTAMP)`
	populateSum  = `INSERT INTO analytics.session_summary (userId, sessionId, channel, ts) SELECT DISTINCT usc.userId, usc.sessionId, usc.channel, st.ts FROM dev.raw_data.user_session_channel usc JOIN dev.raw_data.session_timestamp st ON usc.sessionId = st.sessionId WHERE usc.sessionId NOT IN (SELECT sessionId FROM analytics.session_summary)`
)

func newSnowflakeTasks(t *testing.T, log *zap.Logger) (*Tasks, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)

	reg := warehouse.NewRegistry(nil, "", nil)
	reg.Register("snowflake_conn", db, warehouse.Snowflake{})
	t.Cleanup(func() { reg.Close() })

	return New(reg, config.DefaultConfig().DAGs, log), mock
}

func TestProvisionStageAndTables_Snowflake(t *testing.T) {
	tasks, mock := newSnowflakeTasks(t, nil)

	mock.ExpectExec(alterSession).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(createStage).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(createUSC).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(createST).WillReturnResult(sqlmock.NewResult(0, 0))

	res := tasks.ProvisionStageAndTables(context.Background())
	require.NoError(t, res.Error)
	assert.Equal(t, pipeline.StatusComplete, res.Status)
	assert.Equal(t, TaskProvisionStageAndTables, res.TaskID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadRawData_Snowflake(t *testing.T) {
	tasks, mock := newSnowflakeTasks(t, nil)

	mock.ExpectExec(alterSession).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(copyUSC).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(copyST).WillReturnResult(sqlmock.NewResult(0, 2))

	res := tasks.LoadRawData(context.Background())
	require.NoError(t, res.Error)
	assert.Equal(t, int64(5), res.Rows)
	assert.Equal(t, "dev.raw_data.user_session_channel: 3 rows, dev.raw_data.session_timestamp: 2 rows", res.Output)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSummaryTasks_Snowflake(t *testing.T) {
	tasks, mock := newSnowflakeTasks(t, nil)

	mock.ExpectExec(alterSession).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(createSchema).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(createSum).WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectExec(alterSession).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(populateSum).WillReturnResult(sqlmock.NewResult(0, 4))

	ctx := context.Background()
	res := tasks.CreateSummaryTable(ctx)
	require.NoError(t, res.Error)

	res = tasks.PopulateSummaryTable(ctx)
	require.NoError(t, res.Error)
	assert.Equal(t, int64(4), res.Rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskFailure_LoggedAndTyped(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	tasks, mock := newSnowflakeTasks(t, zap.New(core))

	boom := errors.New("002003 (42S02): SQL compilation error: Stage does not exist")
	mock.ExpectExec(alterSession).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(copyUSC).WillReturnError(boom)

	res := tasks.LoadRawData(context.Background())
	assert.Equal(t, pipeline.StatusFailed, res.Status)
	assert.False(t, res.Success())
	require.ErrorIs(t, res.Error, boom, "원본 에러가 보존되어야 함")
	assert.Contains(t, res.Error.Error(), TaskLoadRawData)

	entries := logs.FilterMessage("task failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, TaskLoadRawData, fields["task"])
	assert.Equal(t, "snowflake_conn", fields["conn"])
	assert.Contains(t, fields["error"], "Stage does not exist")

	// 두 번째 파일은 시도하지 않음
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskFailure_ConnectionReleased(t *testing.T) {
	tasks, mock := newSnowflakeTasks(t, nil)

	mock.ExpectExec(alterSession).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(createStage).WillReturnError(errors.New("insufficient privileges"))
	mock.ExpectExec(alterSession).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(createStage).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(createUSC).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(createST).WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	res := tasks.ProvisionStageAndTables(ctx)
	require.Error(t, res.Error)

	// 실패한 세션이 해제되었으므로 재시도가 새 세션을 얻음
	res = tasks.ProvisionStageAndTables(ctx)
	require.NoError(t, res.Error)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireFailure(t *testing.T) {
	reg := warehouse.NewRegistry(nil, "", nil)
	res := New(reg, config.DefaultConfig().DAGs, nil).CreateSummaryTable(context.Background())

	assert.Equal(t, pipeline.StatusFailed, res.Status)
	assert.ErrorContains(t, res.Error, "snowflake_conn")
}

func TestSQL(t *testing.T) {
	tasks := New(nil, config.DefaultConfig().DAGs, nil)
	d := warehouse.Snowflake{}

	stmts, err := tasks.SQL(TaskProvisionStageAndTables, d)
	require.NoError(t, err)
	assert.Equal(t, []string{createStage, createUSC, createST}, stmts)

	stmts, err = tasks.SQL(TaskLoadRawData, d)
	require.NoError(t, err)
	assert.Equal(t, []string{copyUSC, copyST}, stmts)

	stmts, err = tasks.SQL(TaskCreateSummaryTable, d)
	require.NoError(t, err)
	assert.Equal(t, []string{createSchema, createSum}, stmts)

	stmts, err = tasks.SQL(TaskPopulateSummaryTable, d)
	require.NoError(t, err)
	assert.Equal(t, []string{populateSum}, stmts)

	_, err = tasks.SQL("nope", d)
	assert.Error(t, err)
}

func TestCustomFiles(t *testing.T) {
	cfg := config.DefaultConfig().DAGs
	cfg.Ingest.Files = map[string]string{"session_timestamp": "ts/2024-10-02.csv"}
	tasks := New(nil, cfg, nil)

	stmts, err := tasks.SQL(TaskLoadRawData, warehouse.Snowflake{})
	require.NoError(t, err)
	assert.Contains(t, stmts[0], "@dev.raw_data.blob_stage/user_session_channel.csv")
	assert.Contains(t, stmts[1], "@dev.raw_data.blob_stage/ts/2024-10-02.csv")
}
