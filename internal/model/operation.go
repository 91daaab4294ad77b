package model

import (
	"fmt"
	"time"
)

// OperationType identifies what a FileOperation does to the filesystem.
type OperationType string

const (
	OpCreate OperationType = "create"
	OpRead   OperationType = "read"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
	OpMove   OperationType = "move"
	OpCopy   OperationType = "copy"
)

// ParseOperationType converts a string to an OperationType, rejecting unknown values.
func ParseOperationType(s string) (OperationType, error) {
	switch t := OperationType(s); t {
	case OpCreate, OpRead, OpUpdate, OpDelete, OpMove, OpCopy:
		return t, nil
	}
	return "", fmt.Errorf("unknown operation type: %q", s)
}

// Known reports whether t is one of the defined operation types.
func (t OperationType) Known() bool {
	_, err := ParseOperationType(string(t))
	return err == nil
}

// Mutates reports whether the operation changes the filesystem.
func (t OperationType) Mutates() bool {
	return t != OpRead
}

// NeedsSource reports whether the operation requires an existing source path.
func (t OperationType) NeedsSource() bool {
	switch t {
	case OpRead, OpUpdate, OpDelete, OpMove, OpCopy:
		return true
	}
	return false
}

// NeedsTarget reports whether the operation requires a target path.
// create writes to its target; move and copy need a destination.
func (t OperationType) NeedsTarget() bool {
	switch t {
	case OpCreate, OpMove, OpCopy:
		return true
	}
	return false
}

// SafetyLevel is the policy tier controlling how strictly an operation is
// validated and conflict-checked. Levels are ordered by increasing strictness.
type SafetyLevel int

const (
	SafetyNone SafetyLevel = iota
	SafetyBasic
	SafetyEnhanced
	SafetyMaximum
)

var safetyNames = map[SafetyLevel]string{
	SafetyNone:     "none",
	SafetyBasic:    "basic",
	SafetyEnhanced: "enhanced",
	SafetyMaximum:  "maximum",
}

func (l SafetyLevel) String() string {
	if name, ok := safetyNames[l]; ok {
		return name
	}
	return fmt.Sprintf("safety(%d)", int(l))
}

// Known reports whether l is one of the defined safety levels.
func (l SafetyLevel) Known() bool {
	_, ok := safetyNames[l]
	return ok
}

// ParseSafetyLevel converts a string to a SafetyLevel, rejecting unknown values.
func ParseSafetyLevel(s string) (SafetyLevel, error) {
	for l, name := range safetyNames {
		if name == s {
			return l, nil
		}
	}
	return SafetyNone, fmt.Errorf("unknown safety level: %q", s)
}

// MaxSafetyLevel returns the strictest level among the given operations.
func MaxSafetyLevel(ops []*FileOperation) SafetyLevel {
	max := SafetyNone
	for _, op := range ops {
		if op.SafetyLevel > max {
			max = op.SafetyLevel
		}
	}
	return max
}

// FileOperation is a single proposed filesystem mutation (or read probe).
// Operations are value objects: once built they are never modified, so they
// can be shared between the validator, monitor and journal without copying.
type FileOperation struct {
	ID          string
	Type        OperationType
	SourcePath  string
	TargetPath  string
	SafetyLevel SafetyLevel
	Timestamp   time.Time

	// Checksum is the expected SHA-256 of the source content, if known.
	Checksum string

	// Overwrite, when set, states explicitly whether an existing target may
	// be replaced. nil means the caller expressed no preference.
	Overwrite *bool

	// CreateParents makes create/move/copy create missing parent directories
	// of the target before executing.
	CreateParents bool

	// Content is the payload written by create and update operations.
	Content []byte

	// Metadata carries caller-defined annotations; the safety core never
	// interprets it.
	Metadata map[string]string
}

// EffectivePath returns the path the operation ultimately writes to:
// the target when one is required, otherwise the source.
func (op *FileOperation) EffectivePath() string {
	if op.Type.NeedsTarget() && op.TargetPath != "" {
		return op.TargetPath
	}
	return op.SourcePath
}

// Paths returns the non-empty paths the operation touches.
func (op *FileOperation) Paths() []string {
	paths := make([]string, 0, 2)
	if op.SourcePath != "" {
		paths = append(paths, op.SourcePath)
	}
	if op.TargetPath != "" && op.TargetPath != op.SourcePath {
		paths = append(paths, op.TargetPath)
	}
	return paths
}
