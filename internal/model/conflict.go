package model

import "time"

// ConflictType classifies why a proposed operation is unsafe.
type ConflictType string

const (
	ConflictFileExists             ConflictType = "file_exists"
	ConflictConcurrentModification ConflictType = "concurrent_modification"
	ConflictPermissionDenied       ConflictType = "permission_denied"
	ConflictPathTooLong            ConflictType = "path_too_long"
	ConflictInsufficientSpace      ConflictType = "insufficient_space"
)

// ConflictSeverity orders conflicts by how dangerous proceeding would be.
type ConflictSeverity int

const (
	SeverityLow ConflictSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s ConflictSeverity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	}
	return "unknown"
}

// FileConflict is a detected condition making a proposed operation unsafe.
type FileConflict struct {
	ID              string
	Type            ConflictType
	Operation       *FileOperation
	ConflictingPath string
	Severity        ConflictSeverity
	Description     string
	DetectedAt      time.Time
}

// WorstSeverity returns the highest severity present among conflicts.
func WorstSeverity(conflicts []*FileConflict) ConflictSeverity {
	worst := SeverityLow
	for _, c := range conflicts {
		if c.Severity > worst {
			worst = c.Severity
		}
	}
	return worst
}

// ResolutionKind is a way a conflict can be resolved.
type ResolutionKind string

const (
	ResolutionRename    ResolutionKind = "rename"
	ResolutionOverwrite ResolutionKind = "overwrite"
	ResolutionMerge     ResolutionKind = "merge"
	ResolutionManual    ResolutionKind = "manual"
)

// ConflictResolution is a proposed (or chosen) way out of a conflict.
// Confidence is in [0,1]; RequiresInput marks resolutions that cannot be
// applied without a user decision.
type ConflictResolution struct {
	Kind          ResolutionKind
	SuggestedPath string
	Confidence    float64
	RequiresInput bool
}
