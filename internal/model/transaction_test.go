package model_test

import (
	"testing"
	"time"

	"filesafe/internal/model"
)

func TestTransactionTransitions(t *testing.T) {
	statuses := []model.TransactionStatus{
		model.TxPending, model.TxActive, model.TxCommitted, model.TxRolledBack, model.TxFailed,
	}
	allowed := map[model.TransactionStatus][]model.TransactionStatus{
		model.TxPending: {model.TxActive, model.TxFailed, model.TxRolledBack},
		model.TxActive:  {model.TxCommitted, model.TxFailed, model.TxRolledBack},
		model.TxFailed:  {model.TxRolledBack},
		// committed and rolled_back are terminal.
		model.TxCommitted:  {},
		model.TxRolledBack: {},
	}

	for from, nexts := range allowed {
		ok := make(map[model.TransactionStatus]bool)
		for _, next := range nexts {
			ok[next] = true
		}
		for _, next := range statuses {
			tx := &model.Transaction{Status: from}
			if got := tx.CanTransition(next); got != ok[next] {
				t.Errorf("CanTransition(%s -> %s) = %v, want %v", from, next, got, ok[next])
			}
		}
	}
}

func TestTransitionStampsTimes(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	tx := &model.Transaction{Status: model.TxPending}

	if err := tx.Transition(model.TxActive, now); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if !tx.StartedAt.Equal(now) {
		t.Errorf("StartedAt = %s, want %s", tx.StartedAt, now)
	}

	later := now.Add(time.Minute)
	if err := tx.Transition(model.TxCommitted, later); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if !tx.CompletedAt.Equal(later) {
		t.Errorf("CompletedAt = %s, want %s", tx.CompletedAt, later)
	}

	if err := tx.Transition(model.TxRolledBack, later); err == nil {
		t.Error("Transition() allowed leaving a committed transaction")
	}
}

func TestTerminal(t *testing.T) {
	if !model.TxCommitted.Terminal() || !model.TxRolledBack.Terminal() {
		t.Error("committed and rolled_back must be terminal")
	}
	if model.TxPending.Terminal() || model.TxActive.Terminal() || model.TxFailed.Terminal() {
		t.Error("pending, active and failed must not be terminal")
	}
}

func TestBackupPathFor(t *testing.T) {
	var nilHandle *model.BackupHandle
	if _, ok := nilHandle.BackupPathFor("/a"); ok {
		t.Error("nil handle returned a path")
	}

	handle := &model.BackupHandle{Paths: map[string]string{"/a": "/backups/1/0_a"}}
	path, ok := handle.BackupPathFor("/a")
	if !ok || path != "/backups/1/0_a" {
		t.Errorf("BackupPathFor(/a) = %q, %v", path, ok)
	}
	if _, ok := handle.BackupPathFor("/b"); ok {
		t.Error("unknown original returned a path")
	}
}

func TestRollbackScriptExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	unbounded := &model.RollbackScript{}
	if unbounded.Expired(now) {
		t.Error("script without ValidUntil reported expired")
	}

	future := now.Add(time.Hour)
	valid := &model.RollbackScript{ValidUntil: &future}
	if valid.Expired(now) {
		t.Error("script valid until the future reported expired")
	}

	past := now.Add(-time.Hour)
	stale := &model.RollbackScript{ValidUntil: &past}
	if !stale.Expired(now) {
		t.Error("script valid until the past reported fresh")
	}
}

func TestWorstSeverity(t *testing.T) {
	if got := model.WorstSeverity(nil); got != model.SeverityLow {
		t.Errorf("WorstSeverity(nil) = %v, want low", got)
	}
	conflicts := []*model.FileConflict{
		{Severity: model.SeverityMedium},
		{Severity: model.SeverityCritical},
		{Severity: model.SeverityHigh},
	}
	if got := model.WorstSeverity(conflicts); got != model.SeverityCritical {
		t.Errorf("WorstSeverity() = %v, want critical", got)
	}
}
