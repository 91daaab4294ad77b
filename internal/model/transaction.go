package model

import (
	"fmt"
	"time"
)

// TransactionStatus is the lifecycle state of a Transaction.
//
// Valid moves: pending -> active -> committed or failed;
// pending -> rolled_back when a transaction is abandoned before activation;
// active or failed -> rolled_back via an explicit rollback.
// committed and rolled_back are terminal and mutually exclusive.
type TransactionStatus string

const (
	TxPending    TransactionStatus = "pending"
	TxActive     TransactionStatus = "active"
	TxCommitted  TransactionStatus = "committed"
	TxRolledBack TransactionStatus = "rolled_back"
	TxFailed     TransactionStatus = "failed"
)

// Terminal reports whether no further status change is allowed from s.
func (s TransactionStatus) Terminal() bool {
	return s == TxCommitted || s == TxRolledBack
}

// RollbackStrategy selects how a transaction's effects are undone.
type RollbackStrategy string

const (
	// RollbackReverseOrder undoes operations newest-first. This is the only
	// strategy the journal currently derives scripts for.
	RollbackReverseOrder RollbackStrategy = "reverse_order"
)

// ConflictPolicy selects how detected conflicts are treated when adding
// operations to a transaction.
type ConflictPolicy string

const (
	// ConflictReject refuses the operation when any conflict is detected.
	ConflictReject ConflictPolicy = "reject"
	// ConflictWarn records conflicts but lets the operation through.
	ConflictWarn ConflictPolicy = "warn"
)

// TransactionConfig holds the per-transaction knobs, merged with defaults at
// BeginTransaction time. The zero value means "use the default".
type TransactionConfig struct {
	Timeout      time.Duration
	MaxBatchSize int

	// ConflictDetection and DeadlockDetection are on by default. nil means
	// "use the default"; only an explicit false disables the check.
	ConflictDetection *bool
	DeadlockDetection *bool

	RollbackStrategy RollbackStrategy
	ConflictPolicy   ConflictPolicy
}

// ConflictDetectionEnabled resolves the toggle, treating unset as on.
func (c TransactionConfig) ConflictDetectionEnabled() bool {
	return c.ConflictDetection == nil || *c.ConflictDetection
}

// DeadlockDetectionEnabled resolves the toggle, treating unset as on.
func (c TransactionConfig) DeadlockDetectionEnabled() bool {
	return c.DeadlockDetection == nil || *c.DeadlockDetection
}

// BackupHandle identifies a backup created for a transaction's critical
// operations. Paths maps each original path to its backup location.
type BackupHandle struct {
	ID        string
	Paths     map[string]string
	CreatedAt time.Time
}

// BackupPathFor returns the backup location recorded for an original path.
func (h *BackupHandle) BackupPathFor(original string) (string, bool) {
	if h == nil {
		return "", false
	}
	p, ok := h.Paths[original]
	return p, ok
}

// DeadlockHint records that another live transaction already held a resource
// lock on one of this transaction's paths when the operation was added.
// Hints do not block: they are arbitrated at commit time, first committer wins.
type DeadlockHint struct {
	HolderTransactionID string
	Path                string
	DetectedAt          time.Time
}

// Transaction is an ordered batch of file operations with transaction-like
// lifecycle guarantees. A Transaction is owned exclusively by the manager
// that created it; after completion it is retained read-only for audit.
type Transaction struct {
	ID          string
	Status      TransactionStatus
	Operations  []*FileOperation
	SafetyLevel SafetyLevel

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	Config TransactionConfig

	// Backup is set during commit when the transaction contained critical
	// operations (maximum safety or delete).
	Backup *BackupHandle

	// DeadlockHint is set by addOperation when lock contention is observed.
	DeadlockHint *DeadlockHint

	// TimeoutErr holds the error stored when the transaction timer expired;
	// later lifecycle calls must surface it instead of proceeding.
	TimeoutErr error
}

// CanTransition reports whether moving the transaction to next is legal.
func (t *Transaction) CanTransition(next TransactionStatus) bool {
	switch next {
	case TxActive:
		return t.Status == TxPending
	case TxCommitted:
		return t.Status == TxActive
	case TxFailed:
		return t.Status == TxPending || t.Status == TxActive
	case TxRolledBack:
		return t.Status == TxPending || t.Status == TxActive || t.Status == TxFailed
	}
	return false
}

// Transition moves the transaction to next, or errors if the move is illegal.
func (t *Transaction) Transition(next TransactionStatus, now time.Time) error {
	if !t.CanTransition(next) {
		return fmt.Errorf("illegal transaction transition: %s -> %s", t.Status, next)
	}
	t.Status = next
	switch next {
	case TxActive:
		t.StartedAt = now
	case TxCommitted, TxRolledBack, TxFailed:
		t.CompletedAt = now
	}
	return nil
}
