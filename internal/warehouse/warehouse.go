// Package warehouse turns a connection id into a scoped warehouse session.
// Every task acquires one Session, issues its statements through it and
// closes it on all exit paths.
package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/n0roo/session-etl/internal/config"
)

// Provider resolves a connection id into a session
type Provider interface {
	Acquire(ctx context.Context, connID string) (*Session, error)
}

// Session is one dedicated warehouse connection (the "cursor")
type Session struct {
	connID  string
	conn    *sql.Conn
	dialect Dialect
	log     *zap.Logger

	mu     sync.Mutex
	closed bool
}

// ConnID returns the connection id the session was acquired for
func (s *Session) ConnID() string {
	return s.connID
}

// Dialect returns the session's SQL dialect
func (s *Session) Dialect() Dialect {
	return s.dialect
}

// Exec runs one statement
func (s *Session) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	s.log.Debug("sql", zap.String("conn", s.connID), zap.String("statement", query))
	return s.conn.ExecContext(ctx, query, args...)
}

// QueryRow runs a query expected to return at most one row
func (s *Session) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	s.log.Debug("sql", zap.String("conn", s.connID), zap.String("statement", query))
	return s.conn.QueryRowContext(ctx, query, args...)
}

// Tx runs fn in a transaction, committing when fn returns nil
func (s *Session) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("트랜잭션 시작 실패: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Warn("rollback 실패", zap.String("conn", s.connID), zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("트랜잭션 커밋 실패: %w", err)
	}
	return nil
}

// Count returns the number of rows in table
func (s *Session) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s 행 수 조회 실패: %w", table, err)
	}
	return n, nil
}

// Close releases the connection back to the pool. Safe to call twice.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

type pool struct {
	db      *sql.DB
	dialect Dialect
}

// Registry implements Provider over configured connections
type Registry struct {
	mu          sync.Mutex
	conns       map[string]config.Connection
	projectRoot string
	pools       map[string]*pool
	log         *zap.Logger
}

// NewRegistry creates a registry; pools open lazily on first Acquire
func NewRegistry(conns map[string]config.Connection, projectRoot string, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		conns:       conns,
		projectRoot: projectRoot,
		pools:       make(map[string]*pool),
		log:         log,
	}
}

// Register binds connID to an already opened database
func (r *Registry) Register(connID string, db *sql.DB, dialect Dialect) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools[connID] = &pool{db: db, dialect: dialect}
}

// Acquire opens a dedicated connection for connID
func (r *Registry) Acquire(ctx context.Context, connID string) (*Session, error) {
	p, err := r.pool(connID)
	if err != nil {
		return nil, err
	}

	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("연결 '%s' 획득 실패: %w", connID, err)
	}

	s := &Session{
		connID:  connID,
		conn:    conn,
		dialect: p.dialect,
		log:     r.log,
	}

	if err := p.dialect.InitSession(ctx, s); err != nil {
		s.Close()
		return nil, fmt.Errorf("연결 '%s' 세션 초기화 실패: %w", connID, err)
	}
	return s, nil
}

// Dialect returns the dialect of connID without opening a connection
func (r *Registry) Dialect(connID string) (Dialect, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.pools[connID]; ok {
		return p.dialect, nil
	}

	conn, ok := r.conns[connID]
	if !ok {
		return nil, fmt.Errorf("연결 '%s'이(가) 설정에 없습니다", connID)
	}
	switch conn.Type {
	case config.ConnectionSnowflake:
		return Snowflake{}, nil
	case config.ConnectionDuckDB:
		return NewDuckDB(nil), nil
	default:
		return nil, fmt.Errorf("지원하지 않는 연결 타입: %s", conn.Type)
	}
}

func (r *Registry) pool(connID string) (*pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.pools[connID]; ok {
		return p, nil
	}

	conn, ok := r.conns[connID]
	if !ok {
		return nil, fmt.Errorf("연결 '%s'이(가) 설정에 없습니다", connID)
	}

	var (
		db      *sql.DB
		dialect Dialect
		err     error
	)
	switch conn.Type {
	case config.ConnectionSnowflake:
		db, err = OpenSnowflake(conn)
		dialect = Snowflake{}
	case config.ConnectionDuckDB:
		db, err = OpenDuckDB(config.ResolvePath(r.projectRoot, conn.Path))
		dialect = NewDuckDB(nil)
	default:
		err = fmt.Errorf("지원하지 않는 연결 타입: %s", conn.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("연결 '%s' 열기 실패: %w", connID, err)
	}

	p := &pool{db: db, dialect: dialect}
	r.pools[connID] = p
	return p, nil
}

// Close closes every opened pool
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for id, p := range r.pools {
		if err := p.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
		delete(r.pools, id)
	}
	return errors.Join(errs...)
}

// WithSession acquires a session, runs fn and always releases the session
func WithSession(ctx context.Context, p Provider, connID string, fn func(*Session) error) error {
	s, err := p.Acquire(ctx, connID)
	if err != nil {
		return err
	}
	defer s.Close()

	return fn(s)
}
