package journal_test

import (
	"testing"
	"time"

	"filesafe/internal/journal"
	"filesafe/internal/model"
	"filesafe/internal/testutil"
)

func newSQLiteJournal(t *testing.T) (*journal.SQLite, *testutil.StubClock) {
	t.Helper()
	fsmgr := testutil.NewMockFilesystemManager()
	clock := testutil.FixedClock()
	j, err := journal.NewSQLite(t.TempDir(), fsmgr, testutil.NewStubBackup(fsmgr), clock, testutil.NewStubIDGenerator())
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j, clock
}

func TestSQLiteRoundTripsRecords(t *testing.T) {
	j, clock := newSQLiteJournal(t)

	rec := &model.OperationRecord{
		ID:            "rec-1",
		TransactionID: "tx-1",
		Operation: &model.FileOperation{
			ID:         "op-1",
			Type:       model.OpMove,
			SourcePath: "/data/a.txt",
			TargetPath: "/archive/a.txt",
		},
		BeforeState: &model.FileStateInfo{Path: "/data/a.txt", Exists: true, IsFile: true, Size: 12},
		RollbackOps: []model.RollbackOperation{{
			Kind:       model.RollbackMoveFile,
			SourcePath: "/archive/a.txt",
			TargetPath: "/data/a.txt",
		}},
		Timestamp: clock.Now(),
		Success:   true,
	}
	if err := j.LogOperation(rec); err != nil {
		t.Fatalf("LogOperation() error = %v", err)
	}

	records, err := j.Operations("tx-1")
	if err != nil {
		t.Fatalf("Operations() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	got := records[0]
	if got.Operation == nil || got.Operation.SourcePath != "/data/a.txt" || got.Operation.Type != model.OpMove {
		t.Errorf("operation = %+v", got.Operation)
	}
	if got.BeforeState == nil || got.BeforeState.Size != 12 {
		t.Errorf("before state = %+v", got.BeforeState)
	}
	if len(got.RollbackOps) != 1 || got.RollbackOps[0].Kind != model.RollbackMoveFile {
		t.Errorf("rollback ops = %+v", got.RollbackOps)
	}
	if !got.Timestamp.Equal(rec.Timestamp) {
		t.Errorf("timestamp = %s, want %s", got.Timestamp, rec.Timestamp)
	}
}

func TestSQLiteCompletionMarkerStaysNil(t *testing.T) {
	j, clock := newSQLiteJournal(t)

	if err := j.LogOperation(&model.OperationRecord{
		ID:            "rec-1",
		TransactionID: "tx-1",
		Timestamp:     clock.Now(),
		Success:       true,
	}); err != nil {
		t.Fatalf("LogOperation() error = %v", err)
	}

	records, err := j.Operations("tx-1")
	if err != nil {
		t.Fatalf("Operations() error = %v", err)
	}
	if len(records) != 1 || records[0].Operation != nil {
		t.Fatalf("records = %+v, want one record with nil operation", records)
	}
	if records[0].BeforeState != nil || len(records[0].RollbackOps) != 0 {
		t.Errorf("marker record carries state: %+v", records[0])
	}
}

func TestSQLiteHistoryAndCleanup(t *testing.T) {
	j, clock := newSQLiteJournal(t)

	for _, id := range []string{"rec-1", "rec-2", "rec-3"} {
		if err := j.LogOperation(&model.OperationRecord{
			ID:            id,
			TransactionID: "tx-1",
			Timestamp:     clock.Now(),
			Success:       true,
		}); err != nil {
			t.Fatalf("LogOperation(%s) error = %v", id, err)
		}
		clock.Advance(time.Minute)
	}

	history, err := j.History(2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 || history[0].ID != "rec-3" || history[1].ID != "rec-2" {
		t.Errorf("history = %+v, want rec-3 then rec-2", history)
	}

	// Drop everything before rec-3.
	cutoff := clock.Now().Add(-time.Minute)
	if err := j.CleanupOldRecords(cutoff); err != nil {
		t.Fatalf("CleanupOldRecords() error = %v", err)
	}
	remaining, _ := j.History(0)
	if len(remaining) != 1 || remaining[0].ID != "rec-3" {
		t.Errorf("remaining = %+v, want only rec-3", remaining)
	}
}

func TestSQLiteTimestampTiesKeepInsertionOrder(t *testing.T) {
	j, clock := newSQLiteJournal(t)

	// Same nanosecond, IDs chosen to sort backwards alphabetically. The
	// journal must return them in the order they were logged.
	for _, id := range []string{"rec-z", "rec-a"} {
		if err := j.LogOperation(&model.OperationRecord{
			ID:            id,
			TransactionID: "tx-1",
			Timestamp:     clock.Now(),
			Success:       true,
		}); err != nil {
			t.Fatalf("LogOperation(%s) error = %v", id, err)
		}
	}

	records, err := j.Operations("tx-1")
	if err != nil {
		t.Fatalf("Operations() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].ID != "rec-z" || records[1].ID != "rec-a" {
		t.Errorf("order = %s, %s; want rec-z then rec-a", records[0].ID, records[1].ID)
	}

	history, err := j.History(0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d, want 2", len(history))
	}
	if history[0].ID != "rec-a" || history[1].ID != "rec-z" {
		t.Errorf("history order = %s, %s; want rec-a then rec-z", history[0].ID, history[1].ID)
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	fsmgr := testutil.NewMockFilesystemManager()
	clock := testutil.FixedClock()

	j, err := journal.NewSQLite(dir, fsmgr, testutil.NewStubBackup(fsmgr), clock, testutil.NewStubIDGenerator())
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	if err := j.LogOperation(&model.OperationRecord{
		ID:            "rec-1",
		TransactionID: "tx-1",
		Operation:     &model.FileOperation{Type: model.OpCreate, TargetPath: "/data/a.txt"},
		Timestamp:     clock.Now(),
		Success:       true,
	}); err != nil {
		t.Fatalf("LogOperation() error = %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := journal.NewSQLite(dir, fsmgr, testutil.NewStubBackup(fsmgr), clock, testutil.NewStubIDGenerator())
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer reopened.Close()

	// Rollback derivation works across a process restart.
	script, err := reopened.CreateRollbackScript("tx-1")
	if err != nil {
		t.Fatalf("CreateRollbackScript() error = %v", err)
	}
	if len(script.Operations) != 1 || script.Operations[0].Kind != model.RollbackDeleteFile {
		t.Errorf("script = %+v, want one delete_file step", script.Operations)
	}
}
