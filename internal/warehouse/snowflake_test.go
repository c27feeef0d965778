package warehouse

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/n0roo/session-etl/internal/config"
)

func newMockRegistry(t *testing.T) (*Registry, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := NewRegistry(nil, "", nil)
	reg.Register("snowflake_conn", db, Snowflake{})
	return reg, mock
}

var testStage = Stage{
	Namespace: "dev.raw_data",
	Name:      "blob_stage",
	URL:       "s3://s3-geospatial/readonly/",
	Format:    CSVFormat,
}

func TestSnowflake_StageSQL(t *testing.T) {
	require.Equal(t,
		[]string{`CREATE OR REPLACE STAGE dev.raw_data.blob_stage URL='s3://s3-geospatial/readonly/' FILE_FORMAT=(TYPE=CSV, SKIP_HEADER=1, FIELD_OPTIONALLY_ENCLOSED_BY='"')`},
		Snowflake{}.StageSQL(testStage))
	require.Empty(t, Snowflake{}.EnsureNamespace("dev.raw_data"))
}

func TestSnowflake_CopySQL(t *testing.T) {
	spec := CopySpec{Namespace: "dev.raw_data", Table: testTable, Stage: testStage, File: "user_session_channel.csv"}
	require.Equal(t,
		`COPY INTO dev.raw_data.user_session_channel FROM @dev.raw_data.blob_stage/user_session_channel.csv FILE_FORMAT=(TYPE=CSV, SKIP_HEADER=1, FIELD_OPTIONALLY_ENCLOSED_BY='"')`,
		Snowflake{}.CopySQL(spec))
}

func TestSnowflake_Session(t *testing.T) {
	reg, mock := newMockRegistry(t)
	ctx := context.Background()

	mock.ExpectExec("ALTER SESSION SET ABORT_DETACHED_QUERY=TRUE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(Snowflake{}.StageSQL(testStage)[0]).WillReturnResult(sqlmock.NewResult(0, 0))

	spec := CopySpec{Namespace: "dev.raw_data", Table: testTable, Stage: testStage, File: "user_session_channel.csv"}
	mock.ExpectExec(Snowflake{}.CopySQL(spec)).WillReturnResult(sqlmock.NewResult(0, 42))

	s, err := reg.Acquire(ctx, "snowflake_conn")
	require.NoError(t, err)
	require.Equal(t, "snowflake_conn", s.ConnID())
	require.Equal(t, "snowflake", s.Dialect().Name())

	require.NoError(t, s.Dialect().CreateStage(ctx, s, testStage))

	res, err := s.Dialect().CopyInto(ctx, s, spec)
	require.NoError(t, err)
	require.Equal(t, CopyResult{Table: "dev.raw_data.user_session_channel", File: "user_session_channel.csv", Rows: 42}, res)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "두 번째 Close는 no-op")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSnowflake_InitSessionFailure(t *testing.T) {
	reg, mock := newMockRegistry(t)

	mock.ExpectExec("ALTER SESSION SET ABORT_DETACHED_QUERY=TRUE").WillReturnError(errors.New("390100: incorrect username or password"))

	_, err := reg.Acquire(context.Background(), "snowflake_conn")
	require.ErrorContains(t, err, "390100")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistry_UnknownConnection(t *testing.T) {
	reg := NewRegistry(nil, "", nil)
	_, err := reg.Acquire(context.Background(), "nope")
	require.ErrorContains(t, err, "nope")
}

func TestWithSession_ReleasesOnError(t *testing.T) {
	reg, mock := newMockRegistry(t)
	mock.ExpectExec("ALTER SESSION SET ABORT_DETACHED_QUERY=TRUE").WillReturnResult(sqlmock.NewResult(0, 0))

	var got *Session
	boom := errors.New("boom")
	err := WithSession(context.Background(), reg, "snowflake_conn", func(s *Session) error {
		got = s
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.True(t, got.closed, "세션이 해제되어야 함")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistry_Dialect(t *testing.T) {
	reg := NewRegistry(map[string]config.Connection{
		"sf":    {Type: config.ConnectionSnowflake, Account: "x"},
		"local": {Type: config.ConnectionDuckDB, Path: ":memory:"},
		"bad":   {Type: "oracle"},
	}, "", nil)

	d, err := reg.Dialect("sf")
	require.NoError(t, err)
	require.Equal(t, "snowflake", d.Name())

	d, err = reg.Dialect("local")
	require.NoError(t, err)
	require.Equal(t, "duckdb", d.Name())

	_, err = reg.Dialect("bad")
	require.ErrorContains(t, err, "oracle")
	_, err = reg.Dialect("missing")
	require.ErrorContains(t, err, "missing")
}
