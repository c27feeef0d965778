package lock

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/n0roo/session-etl/internal/db"
)

// ErrLocked is returned when a resource is already held by another owner
var ErrLocked = errors.New("이미 잠긴 리소스")

// ErrNotLocked is returned when releasing a resource nobody holds
var ErrNotLocked = errors.New("잠기지 않은 리소스")

// Lock represents a resource lock
type Lock struct {
	Resource   string
	Owner      string
	AcquiredAt time.Time
}

// Service handles lock operations
type Service struct {
	db *db.DB
}

// NewService creates a new lock service
func NewService(database *db.DB) *Service {
	return &Service{db: database}
}

// SlotResource names the lock guarding one schedule slot of a DAG
func SlotResource(dagID string, slot time.Time) string {
	return fmt.Sprintf("%s@%s", dagID, slot.UTC().Format(time.RFC3339))
}

// Acquire attempts to acquire a lock on a resource.
// Returns an error wrapping ErrLocked if another owner holds it.
func (s *Service) Acquire(resource, owner string) error {
	// 이미 잠겨있는지 확인
	var existing string
	err := s.db.QueryRow(`SELECT owner FROM locks WHERE resource = ?`, resource).Scan(&existing)
	if err == nil {
		return fmt.Errorf("리소스 '%s'는 '%s'에 의해 잠겨있습니다: %w", resource, existing, ErrLocked)
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("Lock 확인 실패: %w", err)
	}

	// Lock 획득 (확인과 삽입 사이의 경합은 PK 위반으로 드러남)
	_, err = s.db.Exec(`INSERT INTO locks (resource, owner) VALUES (?, ?)`, resource, owner)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("리소스 '%s'는 이미 잠겨있습니다: %w", resource, ErrLocked)
		}
		return fmt.Errorf("Lock 획득 실패: %w", err)
	}

	return nil
}

// Release releases a lock on a resource
func (s *Service) Release(resource string) error {
	result, err := s.db.Exec(`DELETE FROM locks WHERE resource = ?`, resource)
	if err != nil {
		return fmt.Errorf("Lock 해제 실패: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("리소스 '%s': %w", resource, ErrNotLocked)
	}

	return nil
}

// List returns all active locks
func (s *Service) List() ([]Lock, error) {
	rows, err := s.db.Query(`SELECT resource, owner, acquired_at FROM locks ORDER BY acquired_at, resource`)
	if err != nil {
		return nil, fmt.Errorf("Lock 목록 조회 실패: %w", err)
	}
	defer rows.Close()

	var locks []Lock
	for rows.Next() {
		var l Lock
		if err := rows.Scan(&l.Resource, &l.Owner, &l.AcquiredAt); err != nil {
			return nil, err
		}
		locks = append(locks, l)
	}

	return locks, rows.Err()
}

// Clear removes all locks (force cleanup after a crashed run)
func (s *Service) Clear() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM locks`)
	if err != nil {
		return 0, fmt.Errorf("Lock 정리 실패: %w", err)
	}
	return result.RowsAffected()
}

// IsLocked checks if a resource is locked and returns its owner
func (s *Service) IsLocked(resource string) (bool, string, error) {
	var owner string
	err := s.db.QueryRow(`SELECT owner FROM locks WHERE resource = ?`, resource).Scan(&owner)
	if err == sql.ErrNoRows {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}

	return true, owner, nil
}
