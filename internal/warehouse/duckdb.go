package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"
	"go.uber.org/zap"

	"github.com/n0roo/session-etl/internal/stage"
)

// DuckDB 메타 스키마 버전
const duckDBSchemaVersion = 1

// DuckDB에는 STAGE 객체와 파일 적재 이력이 없으므로 테이블로 대체
const duckDBSchema = `
-- 메타데이터
CREATE TABLE IF NOT EXISTS setl_metadata (
    key VARCHAR PRIMARY KEY,
    value VARCHAR,
    updated_at TIMESTAMP DEFAULT now()
);

-- stage 정의 (CREATE OR REPLACE STAGE 대체)
CREATE TABLE IF NOT EXISTS setl_stages (
    name VARCHAR PRIMARY KEY,
    url VARCHAR NOT NULL,
    file_format VARCHAR,
    updated_at TIMESTAMP DEFAULT now()
);

-- 파일 적재 이력 (COPY INTO 중복 적재 방지)
CREATE TABLE IF NOT EXISTS setl_load_history (
    table_name VARCHAR NOT NULL,
    file_name VARCHAR NOT NULL,
    etag VARCHAR NOT NULL,
    file_size BIGINT DEFAULT 0,
    row_count BIGINT DEFAULT 0,
    loaded_at TIMESTAMP DEFAULT now(),
    PRIMARY KEY (table_name, file_name, etag)
);
`

// StoreOpener opens the stage store behind a stage URL
type StoreOpener func(ctx context.Context, url string) (stage.Store, error)

// DuckDB emulates stages and file load tracking with metadata tables
type DuckDB struct {
	openStore StoreOpener
}

var _ Dialect = (*DuckDB)(nil)

// NewDuckDB creates the dialect; a nil opener uses stage.Open
func NewDuckDB(open StoreOpener) *DuckDB {
	if open == nil {
		open = stage.Open
	}
	return &DuckDB{openStore: open}
}

// OpenDuckDB opens or creates a DuckDB database and applies the meta schema
func OpenDuckDB(path string) (*sql.DB, error) {
	// 디렉토리 생성 (in-memory 제외)
	if path != "" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("디렉토리 생성 실패: %w", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("DuckDB 열기 실패: %w", err)
	}

	// 연결 테스트
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("DuckDB 연결 실패: %w", err)
	}

	if err := initDuckDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("스키마 초기화 실패: %w", err)
	}
	return db, nil
}

func initDuckDB(db *sql.DB) error {
	if _, err := db.Exec(duckDBSchema); err != nil {
		return fmt.Errorf("스키마 적용 실패: %w", err)
	}

	_, err := db.Exec(`
		INSERT INTO setl_metadata (key, value, updated_at)
		VALUES ('schema_version', ?, now())
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = now()
	`, fmt.Sprint(duckDBSchemaVersion))
	if err != nil {
		return fmt.Errorf("버전 저장 실패: %w", err)
	}
	return nil
}

// Name returns "duckdb"
func (*DuckDB) Name() string { return "duckdb" }

// InitSession is a no-op; the meta schema is applied when the pool opens
func (*DuckDB) InitSession(context.Context, *Session) error { return nil }

// EnsureNamespace creates the schema; DuckDB has no externally provisioned namespaces
func (*DuckDB) EnsureNamespace(ns string) []string {
	return []string{CreateSchemaSQL(ns)}
}

// StageSQL renders the stage upsert
func (*DuckDB) StageSQL(st Stage) []string {
	return []string{fmt.Sprintf(
		"INSERT INTO setl_stages (name, url, file_format, updated_at) VALUES (%s, %s, %s, now()) "+
			"ON CONFLICT (name) DO UPDATE SET url = excluded.url, file_format = excluded.file_format, updated_at = now()",
		QuoteLiteral(st.Ref()), QuoteLiteral(st.URL), QuoteLiteral(st.Format.String()))}
}

// CopySQL renders the read_csv insert against the stage URL
func (d *DuckDB) CopySQL(spec CopySpec) string {
	return d.insertSQL(spec, strings.TrimSuffix(spec.Stage.URL, "/")+"/"+spec.File)
}

func (*DuckDB) insertSQL(spec CopySpec, path string) string {
	types := make([]string, len(spec.Table.Columns))
	for i, c := range spec.Table.Columns {
		types[i] = fmt.Sprintf("%s: %s", QuoteLiteral(c.Name), QuoteLiteral(c.Type))
	}

	opts := []string{
		QuoteLiteral(path),
		fmt.Sprintf("header = %t", spec.Stage.Format.SkipHeader > 0),
		"delim = ','",
		"quote = " + QuoteLiteral(spec.Stage.Format.FieldOptionallyEnclosedBy),
		"columns = {" + strings.Join(types, ", ") + "}",
	}
	if spec.Stage.Format.SkipHeader > 1 {
		opts = append(opts, fmt.Sprintf("skip = %d", spec.Stage.Format.SkipHeader-1))
	}

	cols := strings.Join(spec.Table.ColumnNames(), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM read_csv(%s)",
		spec.Target(), cols, cols, strings.Join(opts, ", "))
}

// CreateStage upserts the stage row
func (d *DuckDB) CreateStage(ctx context.Context, s *Session, st Stage) error {
	for _, stmt := range d.StageSQL(st) {
		if _, err := s.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// CopyInto loads spec.File unless the same (table, file, etag) was loaded before.
// The load-history lookup, the insert and the history row commit in one
// transaction. A file changed in place gets a new etag and is loaded again
// in full; rows already present then violate the table's primary key, so the
// load fails and the table is left as it was. Stage new data as a new file.
func (d *DuckDB) CopyInto(ctx context.Context, s *Session, spec CopySpec) (CopyResult, error) {
	out := CopyResult{Table: spec.Target(), File: spec.File}

	var url string
	err := s.QueryRow(ctx, `SELECT url FROM setl_stages WHERE name = ?`, spec.Stage.Ref()).Scan(&url)
	if errors.Is(err, sql.ErrNoRows) {
		return out, fmt.Errorf("stage '%s'이(가) 없습니다", spec.Stage.Ref())
	}
	if err != nil {
		return out, fmt.Errorf("stage 조회 실패: %w", err)
	}

	store, err := d.openStore(ctx, url)
	if err != nil {
		return out, err
	}

	meta, err := store.Stat(ctx, spec.File)
	if err != nil {
		return out, err
	}

	err = s.Tx(ctx, func(tx *sql.Tx) error {
		var loaded int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM setl_load_history
			WHERE table_name = ? AND file_name = ? AND etag = ?
		`, out.Table, spec.File, meta.ETag).Scan(&loaded)
		if err != nil {
			return fmt.Errorf("적재 이력 조회 실패: %w", err)
		}
		if loaded > 0 {
			out.Skipped = true
			return nil
		}

		path, cleanup, err := store.Fetch(ctx, spec.File)
		if err != nil {
			return err
		}
		defer cleanup()

		res, err := tx.ExecContext(ctx, d.insertSQL(spec, path))
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil {
			out.Rows = n
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO setl_load_history (table_name, file_name, etag, file_size, row_count)
			VALUES (?, ?, ?, ?, ?)
		`, out.Table, spec.File, meta.ETag, meta.Size, out.Rows)
		if err != nil {
			return fmt.Errorf("적재 이력 기록 실패: %w", err)
		}
		return nil
	})
	if err != nil {
		return CopyResult{Table: out.Table, File: out.File}, err
	}

	if out.Skipped {
		s.log.Info("이미 적재된 파일 건너뜀",
			zap.String("table", out.Table), zap.String("file", spec.File), zap.String("etag", meta.ETag))
	}
	return out, nil
}
