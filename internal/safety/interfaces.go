package safety

import (
	"time"

	"filesafe/internal/model"
)

// Validator checks a single proposed operation before it joins a transaction.
type Validator interface {
	Validate(op *model.FileOperation) model.ValidationResult
}

// ConflictDetector checks a proposed operation against the live filesystem.
// Implemented by the monitor; a nil detector disables conflict checks.
type ConflictDetector interface {
	DetectConflicts(op *model.FileOperation) ([]*model.FileConflict, error)
}

// Journal is the durable, time-ordered record of executed operations.
type Journal interface {
	// LogOperation appends a record. The record must carry its own id and a
	// transaction id.
	LogOperation(rec *model.OperationRecord) error

	// Operations returns the records of one transaction in execution order.
	Operations(transactionID string) ([]*model.OperationRecord, error)

	// History returns the most recent records across all transactions,
	// newest first. limit <= 0 means no limit.
	History(limit int) ([]*model.OperationRecord, error)

	// CreateRollbackScript derives the inverse script for a transaction from
	// its successful records, newest first. Errors when the transaction has
	// no records.
	CreateRollbackScript(transactionID string) (*model.RollbackScript, error)

	// ExecuteRollback runs a derived script. Expired scripts and structurally
	// invalid operations are rejected before any step executes; a failure
	// mid-script aborts and leaves partial rollback applied.
	ExecuteRollback(script *model.RollbackScript) error

	// CleanupOldRecords drops all records strictly older than cutoff.
	CleanupOldRecords(cutoff time.Time) error

	Close() error
}

// BackupProvider is the narrow contract consumed from the backup subsystem.
// The safety core calls CreateBackup once per commit for critical operations
// and Restore when executing restore_file rollback steps.
type BackupProvider interface {
	CreateBackup(paths []string) (*model.BackupHandle, error)
	Restore(backupPath, targetPath string) error
}

// FilesystemManager abstracts filesystem access so the safety core can be
// tested without touching the real filesystem.
type FilesystemManager interface {
	// CaptureState probes a path. A missing path yields a well-formed
	// snapshot with Exists=false, not an error.
	CaptureState(path string) (*model.FileStateInfo, error)

	// Checksum returns the SHA-256 hex digest of the file's content.
	Checksum(path string) (string, error)

	// Writable reports whether the current process may write the path.
	// Probes degrade to a boolean; they never error.
	Writable(path string) bool

	// Readable reports whether the current process may read the path.
	Readable(path string) bool

	// Apply executes a single file operation against the filesystem.
	Apply(op *model.FileOperation) error

	// DeleteFile, MoveFile and RestoreMetadata are the rollback primitives
	// used when executing rollback scripts.
	DeleteFile(path string) error
	MoveFile(source, target string) error
	RestoreMetadata(path string, mode uint32, modTime time.Time) error
}

// Logger provides structured logging for the safety core.
// The args follow slog conventions: alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger is a Logger that discards all output. Use in tests.
type NopLogger struct{}

func NewNopLogger() *NopLogger { return &NopLogger{} }

func (*NopLogger) Debug(string, ...any) {}
func (*NopLogger) Info(string, ...any)  {}
func (*NopLogger) Warn(string, ...any)  {}
func (*NopLogger) Error(string, ...any) {}
