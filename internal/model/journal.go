package model

import "time"

// RollbackKind tags the variant of a RollbackOperation.
type RollbackKind string

const (
	// RollbackRestoreFile copies a backed-up file back to TargetPath.
	RollbackRestoreFile RollbackKind = "restore_file"
	// RollbackDeleteFile removes the file at TargetPath.
	RollbackDeleteFile RollbackKind = "delete_file"
	// RollbackMoveFile moves SourcePath back to TargetPath.
	RollbackMoveFile RollbackKind = "move_file"
	// RollbackRestoreMetadata re-applies mode and mtime to TargetPath.
	RollbackRestoreMetadata RollbackKind = "restore_metadata"
)

// RollbackOperation is one inverse step in a RollbackScript. Which fields are
// meaningful depends on Kind: restore_file needs BackupPath and TargetPath,
// delete_file needs TargetPath, move_file needs SourcePath and TargetPath,
// restore_metadata needs TargetPath plus Mode/ModTime.
type RollbackOperation struct {
	Kind       RollbackKind
	BackupPath string
	SourcePath string
	TargetPath string
	Mode       uint32
	ModTime    time.Time
}

// RollbackScript is an ordered list of inverse operations capable of undoing
// a transaction's filesystem effects. Scripts are derived from journal
// records, never hand-authored, and are consumed once.
type RollbackScript struct {
	ID            string
	TransactionID string
	Operations    []RollbackOperation
	Strategy      RollbackStrategy
	CreatedAt     time.Time

	// ValidUntil, when set, is the moment after which the script must not be
	// executed (backing content may have been pruned).
	ValidUntil *time.Time
}

// Expired reports whether the script may no longer be executed at now.
func (s *RollbackScript) Expired(now time.Time) bool {
	return s.ValidUntil != nil && now.After(*s.ValidUntil)
}

// OperationRecord is one journal entry: an executed operation together with
// the filesystem state observed immediately before and after execution, and
// the rollback steps captured while executing it. Records are append-only and
// ordered by timestamp, both within a transaction and globally.
type OperationRecord struct {
	ID            string
	TransactionID string
	Operation     *FileOperation
	BeforeState   *FileStateInfo
	AfterState    *FileStateInfo
	RollbackOps   []RollbackOperation
	Timestamp     time.Time
	Success       bool
	Error         string
}

// FileStateInfo is a point-in-time snapshot of a path, produced by the
// monitor's state probe. A missing file yields a well-formed snapshot with
// Exists=false rather than an error.
type FileStateInfo struct {
	Path        string
	Exists      bool
	IsFile      bool
	IsDirectory bool
	Size        int64
	ModTime     time.Time

	// Checksum is the SHA-256 of the content, empty when the path does not
	// exist, is a directory, or could not be read.
	Checksum string

	Readable   bool
	Writable   bool
	Executable bool
}
