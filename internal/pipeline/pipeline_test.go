package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/n0roo/session-etl/internal/db"
)

func setupTestDB(t *testing.T) (*db.DB, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "setl-test-*")
	if err != nil {
		t.Fatalf("임시 디렉토리 생성 실패: %v", err)
	}

	database, err := db.Open(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("DB 열기 실패: %v", err)
	}

	cleanup := func() {
		database.Close()
		os.RemoveAll(tmpDir)
	}

	return database, cleanup
}

var testSlot = time.Date(2024, 10, 2, 2, 30, 0, 0, time.UTC)

func TestService_CreateAndGetRun(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(database)
	if err := svc.CreateRun("run-1", "ingest", testSlot, false, []string{"provision", "load"}); err != nil {
		t.Fatalf("실행 생성 실패: %v", err)
	}

	run, err := svc.GetRun("run-1")
	if err != nil {
		t.Fatalf("실행 조회 실패: %v", err)
	}
	if run.DAGID != "ingest" || run.Status != StatusPending || run.DryRun {
		t.Errorf("run = %+v", run)
	}
	if !run.Slot.Equal(testSlot) {
		t.Errorf("slot = %v, want %v", run.Slot, testSlot)
	}

	tasks, err := svc.GetTasks("run-1")
	if err != nil {
		t.Fatalf("태스크 조회 실패: %v", err)
	}
	if len(tasks) != 2 || tasks[0].TaskID != "provision" || tasks[1].TaskID != "load" {
		t.Errorf("tasks = %+v", tasks)
	}

	if _, err := svc.GetRun("missing"); err == nil {
		t.Error("존재하지 않는 실행 조회가 성공함")
	}
}

func TestService_TaskLifecycle(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(database)
	svc.CreateRun("run-1", "ingest", testSlot, false, []string{"provision", "load"})

	if err := svc.StartTask("run-1", "provision"); err != nil {
		t.Fatalf("StartTask 실패: %v", err)
	}
	svc.FinishTask("run-1", TaskResult{TaskID: "provision", Status: StatusComplete, Attempts: 1, Output: "ok"})
	svc.FinishTask("run-1", TaskResult{TaskID: "load", Status: StatusFailed, Attempts: 2, Rows: 3, Error: errors.New("boom")})

	completed, total, err := svc.GetProgress("run-1")
	if err != nil {
		t.Fatalf("진행률 조회 실패: %v", err)
	}
	if completed != 1 || total != 2 {
		t.Errorf("progress = %d/%d, want 1/2", completed, total)
	}

	tasks, _ := svc.GetTasks("run-1")
	load := tasks[1]
	if load.Status != StatusFailed || load.Attempts != 2 || load.Rows != 3 {
		t.Errorf("load = %+v", load)
	}
	if !load.Error.Valid || load.Error.String != "boom" {
		t.Errorf("load error = %+v", load.Error)
	}
	if !tasks[0].StartedAt.Valid || !tasks[0].CompletedAt.Valid {
		t.Error("시작/완료 시각이 기록되지 않음")
	}
}

func TestService_UpdateRunStatus(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(database)
	svc.CreateRun("run-1", "summarize", testSlot, false, nil)

	svc.UpdateRunStatus("run-1", StatusRunning, nil)
	run, _ := svc.GetRun("run-1")
	if run.Status != StatusRunning || !run.StartedAt.Valid {
		t.Errorf("running run = %+v", run)
	}

	svc.UpdateRunStatus("run-1", StatusFailed, errors.New("boom"))
	run, _ = svc.GetRun("run-1")
	if run.Status != StatusFailed || !run.CompletedAt.Valid || run.Error.String != "boom" {
		t.Errorf("failed run = %+v", run)
	}
}

func TestService_ListRuns(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(database)
	svc.CreateRun("r1", "ingest", testSlot, false, nil)
	svc.CreateRun("r2", "ingest", testSlot.Add(24*time.Hour), false, nil)
	svc.CreateRun("r3", "summarize", testSlot, false, nil)
	svc.UpdateRunStatus("r2", StatusComplete, nil)

	all, _ := svc.ListRuns("", "", 0)
	if len(all) != 3 {
		t.Errorf("전체 = %d, want 3", len(all))
	}

	ingest, _ := svc.ListRuns("ingest", "", 0)
	if len(ingest) != 2 || ingest[0].ID != "r2" {
		t.Errorf("ingest runs = %+v", ingest)
	}

	complete, _ := svc.ListRuns("", StatusComplete, 0)
	if len(complete) != 1 {
		t.Errorf("complete = %d, want 1", len(complete))
	}

	limited, _ := svc.ListRuns("", "", 1)
	if len(limited) != 1 {
		t.Errorf("limit = %d, want 1", len(limited))
	}
}

func TestService_LastCompleteSlot(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(database)

	if _, ok, err := svc.LastCompleteSlot("ingest"); err != nil || ok {
		t.Fatalf("빈 이력: ok = %v, err = %v", ok, err)
	}

	day2 := testSlot.Add(24 * time.Hour)
	svc.CreateRun("r1", "ingest", testSlot, false, nil)
	svc.CreateRun("r2", "ingest", day2, false, nil)
	svc.CreateRun("r3", "ingest", day2.Add(24*time.Hour), true, nil)
	svc.UpdateRunStatus("r1", StatusComplete, nil)
	svc.UpdateRunStatus("r2", StatusComplete, nil)
	svc.UpdateRunStatus("r3", StatusComplete, nil)

	slot, ok, err := svc.LastCompleteSlot("ingest")
	if err != nil || !ok {
		t.Fatalf("ok = %v, err = %v", ok, err)
	}
	if !slot.Equal(day2) {
		t.Errorf("slot = %v, want %v (dry-run 제외)", slot, day2)
	}
}

func TestService_DeleteRun(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	svc := NewService(database)
	svc.CreateRun("r1", "ingest", testSlot, false, []string{"a"})

	if err := svc.DeleteRun("r1"); err != nil {
		t.Fatalf("삭제 실패: %v", err)
	}
	tasks, _ := svc.GetTasks("r1")
	if len(tasks) != 0 {
		t.Errorf("태스크 인스턴스가 남아있음: %d", len(tasks))
	}
}
