package warehouse

import (
	"context"
	"database/sql"
	"fmt"

	sf "github.com/snowflakedb/gosnowflake"

	"github.com/n0roo/session-etl/internal/config"
)

const snowflakeApplication = "session-etl"

// Snowflake issues native stage and COPY statements; load tracking is the
// warehouse's own file load metadata.
type Snowflake struct{}

var _ Dialect = Snowflake{}

// OpenSnowflake opens a pool for a snowflake connection
func OpenSnowflake(conn config.Connection) (*sql.DB, error) {
	cfg := sf.Config{
		Account:     conn.Account,
		User:        conn.User,
		Password:    conn.Password,
		Database:    conn.Database,
		Schema:      conn.Schema,
		Warehouse:   conn.Warehouse,
		Role:        conn.Role,
		Application: snowflakeApplication,
	}
	if conn.LoginTimeout > 0 {
		cfg.LoginTimeout = conn.LoginTimeout
	}

	dsn, err := sf.DSN(&cfg)
	if err != nil {
		return nil, fmt.Errorf("snowflake DSN 생성 실패: %w", err)
	}

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("snowflake 열기 실패: %w", err)
	}
	return db, nil
}

// Name returns "snowflake"
func (Snowflake) Name() string { return "snowflake" }

// InitSession makes the server abort queries once the client goes away,
// so a killed task does not leave its statement running.
func (Snowflake) InitSession(ctx context.Context, s *Session) error {
	_, err := s.Exec(ctx, "ALTER SESSION SET ABORT_DETACHED_QUERY=TRUE")
	return err
}

// EnsureNamespace returns nothing; raw namespaces are provisioned outside the pipeline
func (Snowflake) EnsureNamespace(string) []string { return nil }

// StageSQL renders CREATE OR REPLACE STAGE
func (Snowflake) StageSQL(st Stage) []string {
	return []string{fmt.Sprintf("CREATE OR REPLACE STAGE %s URL=%s FILE_FORMAT=%s",
		st.Ref(), QuoteLiteral(st.URL), st.Format)}
}

// CopySQL renders COPY INTO from the stage
func (Snowflake) CopySQL(spec CopySpec) string {
	return fmt.Sprintf("COPY INTO %s FROM @%s/%s FILE_FORMAT=%s",
		spec.Target(), spec.Stage.Ref(), spec.File, spec.Stage.Format)
}

// CreateStage executes StageSQL
func (d Snowflake) CreateStage(ctx context.Context, s *Session, st Stage) error {
	for _, stmt := range d.StageSQL(st) {
		if _, err := s.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// CopyInto executes COPY INTO. Files already recorded in the table's load
// metadata are skipped by Snowflake itself.
func (d Snowflake) CopyInto(ctx context.Context, s *Session, spec CopySpec) (CopyResult, error) {
	res, err := s.Exec(ctx, d.CopySQL(spec))
	if err != nil {
		return CopyResult{}, err
	}

	out := CopyResult{Table: spec.Target(), File: spec.File}
	if n, err := res.RowsAffected(); err == nil {
		out.Rows = n
	}
	return out, nil
}
