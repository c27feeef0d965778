package db

import (
	"os"
	"path/filepath"
	"testing"
)

// TestDB를 위한 임시 DB 생성 헬퍼
func setupTestDB(t *testing.T) (*DB, func()) {
	t.Helper()

	// 임시 디렉토리 생성
	tmpDir, err := os.MkdirTemp("", "setl-test-*")
	if err != nil {
		t.Fatalf("임시 디렉토리 생성 실패: %v", err)
	}

	db, err := Open(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("DB 열기 실패: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.RemoveAll(tmpDir)
	}

	return db, cleanup
}

func TestOpen(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "history.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("DB 열기 실패: %v", err)
	}
	defer db.Close()

	// 파일이 생성되었는지 확인
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("DB 파일이 생성되지 않음")
	}
	if db.Path() != dbPath {
		t.Errorf("Path() = %s, want %s", db.Path(), dbPath)
	}
}

func TestInit(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	tables := []string{"metadata", "locks", "dag_runs", "task_instances"}
	for _, table := range tables {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("테이블 %s가 존재하지 않음: %v", table, err)
		}
	}

	// 재초기화는 무해해야 함
	if err := db.Init(); err != nil {
		t.Fatalf("재초기화 실패: %v", err)
	}
}

func TestGetVersion(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	version, err := db.GetVersion()
	if err != nil {
		t.Fatalf("버전 조회 실패: %v", err)
	}
	if version != schemaVersion {
		t.Errorf("version = %d, want %d", version, schemaVersion)
	}
}

func TestTaskInstanceCascade(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if _, err := db.Exec(`INSERT INTO dag_runs (id, dag_id, slot) VALUES ('r1', 'ingest', '2024-10-02 02:30:00')`); err != nil {
		t.Fatalf("dag_runs INSERT 실패: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO task_instances (run_id, task_id) VALUES ('r1', 'load_data')`); err != nil {
		t.Fatalf("task_instances INSERT 실패: %v", err)
	}

	// 존재하지 않는 run 참조는 거부
	if _, err := db.Exec(`INSERT INTO task_instances (run_id, task_id) VALUES ('missing', 'load_data')`); err == nil {
		t.Error("외래 키 위반이 허용됨")
	}

	if _, err := db.Exec(`DELETE FROM dag_runs WHERE id = 'r1'`); err != nil {
		t.Fatalf("DELETE 실패: %v", err)
	}

	var count int
	db.QueryRow(`SELECT COUNT(*) FROM task_instances`).Scan(&count)
	if count != 0 {
		t.Errorf("task_instances = %d, want 0 (cascade)", count)
	}
}

func TestClose(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("DB 열기 실패: %v", err)
	}

	// Close 후 쿼리 실행 시 에러 확인
	db.Close()

	if _, err := db.Exec(`SELECT 1`); err == nil {
		t.Error("Close 후에도 쿼리가 실행됨")
	}
}
