package monitor

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"filesafe/internal/model"
	"filesafe/internal/safety"
)

const (
	// largeCopyThreshold is the source size at which a copy is assumed to
	// risk exhausting disk space.
	largeCopyThreshold = 10 << 30 // 10 GiB

	// maxPathLength mirrors the Windows MAX_PATH limit; longer paths are
	// flagged on every platform for portability of organized trees.
	maxPathLength = 260
)

// systemPathPrefixes are locations whose files are never safe to update or
// delete, regardless of modification times.
var systemPathPrefixes = []string{
	"/etc/", "/usr/", "/bin/", "/sbin/", "/boot/",
	"/System/", "/Windows/",
}

// DetectConflicts checks a proposed operation against the live filesystem.
//
// The disk-space check is first-match-wins: a triggered space conflict is
// returned alone, skipping all remaining checks. Every other check is
// cumulative. Any detected conflicts additionally fan out as one aggregated
// safety event carrying the worst severity present.
func (m *Monitor) DetectConflicts(op *model.FileOperation) ([]*model.FileConflict, error) {
	var conflicts []*model.FileConflict

	// a. Disk space, copies only.
	if op.Type == model.OpCopy {
		state, err := m.CaptureState(op.SourcePath)
		if err != nil {
			return nil, safety.WrapError(safety.CodeOperationFailed, err, "probing %s", op.SourcePath)
		}
		if state.Exists && state.Size >= largeCopyThreshold {
			conflicts = append(conflicts, m.newConflict(op, model.ConflictInsufficientSpace, op.TargetPath,
				model.SeverityCritical,
				fmt.Sprintf("source is %d bytes; copy may exhaust disk space", state.Size)))
			m.emitSafetyEvent(conflicts)
			return conflicts, nil
		}
	}

	// b. Existence on the target.
	if op.Type == model.OpMove || op.Type == model.OpCreate || op.Type == model.OpCopy {
		target := op.EffectivePath()
		if state, err := m.CaptureState(target); err == nil && state.Exists {
			conflicts = append(conflicts, m.newConflict(op, model.ConflictFileExists, target,
				model.SeverityMedium,
				fmt.Sprintf("target already exists: %s", target)))
		}
	}

	// c. Concurrent modification, only at maximum safety for destructive
	// in-place operations.
	if op.SafetyLevel == model.SafetyMaximum && (op.Type == model.OpUpdate || op.Type == model.OpDelete) {
		if isSystemPath(op.SourcePath) {
			conflicts = append(conflicts, m.newConflict(op, model.ConflictConcurrentModification, op.SourcePath,
				model.SeverityCritical,
				fmt.Sprintf("system file: %s", op.SourcePath)))
		} else if state, err := m.CaptureState(op.SourcePath); err == nil && state.Exists && state.ModTime.After(op.Timestamp) {
			conflicts = append(conflicts, m.newConflict(op, model.ConflictConcurrentModification, op.SourcePath,
				model.SeverityHigh,
				fmt.Sprintf("%s modified after the operation was proposed", op.SourcePath)))
		}
	}

	// d. Permissions.
	if op.Type == model.OpDelete || op.Type == model.OpMove {
		if state, err := m.CaptureState(op.SourcePath); err == nil && state.Exists && !state.Writable {
			conflicts = append(conflicts, m.newConflict(op, model.ConflictPermissionDenied, op.SourcePath,
				model.SeverityHigh,
				fmt.Sprintf("no write permission on %s", op.SourcePath)))
		}
	}
	if op.Type == model.OpMove {
		parent := filepath.Dir(op.TargetPath)
		if state, err := m.CaptureState(parent); err == nil && state.Exists && !state.Writable {
			conflicts = append(conflicts, m.newConflict(op, model.ConflictPermissionDenied, parent,
				model.SeverityHigh,
				fmt.Sprintf("target directory is not writable: %s", parent)))
		}
	}

	// e. Path length.
	for _, path := range op.Paths() {
		if len(path) > maxPathLength {
			conflicts = append(conflicts, m.newConflict(op, model.ConflictPathTooLong, path,
				model.SeverityMedium,
				fmt.Sprintf("path is %d characters, limit is %d", len(path), maxPathLength)))
		}
	}

	if len(conflicts) > 0 {
		m.emitSafetyEvent(conflicts)
	}
	return conflicts, nil
}

// SuggestResolution proposes a deterministic way out of a conflict. Only
// file_exists conflicts have an automatic suggestion: rename the target with
// a timestamp before the extension. Everything else requires user input.
func (m *Monitor) SuggestResolution(conflict *model.FileConflict) model.ConflictResolution {
	if conflict.Type == model.ConflictFileExists {
		return model.ConflictResolution{
			Kind:          model.ResolutionRename,
			SuggestedPath: timestampedPath(conflict.ConflictingPath, m.clock.Now()),
			Confidence:    0.8,
		}
	}
	return model.ConflictResolution{
		Kind:          model.ResolutionManual,
		Confidence:    0,
		RequiresInput: true,
	}
}

// ValidateResolution reports whether a resolution is acceptable for a
// conflict: rename needs a suggested path; overwrite is only allowed for
// file_exists below maximum safety; merge only for concurrent modification
// of plain-text files; manual is always valid.
func (m *Monitor) ValidateResolution(conflict *model.FileConflict, resolution model.ConflictResolution) bool {
	switch resolution.Kind {
	case model.ResolutionRename:
		return resolution.SuggestedPath != ""
	case model.ResolutionOverwrite:
		return conflict.Type == model.ConflictFileExists &&
			conflict.Operation != nil &&
			conflict.Operation.SafetyLevel < model.SafetyMaximum
	case model.ResolutionMerge:
		return conflict.Type == model.ConflictConcurrentModification &&
			isPlainText(conflict.ConflictingPath)
	case model.ResolutionManual:
		return true
	}
	return false
}

func (m *Monitor) newConflict(op *model.FileOperation, typ model.ConflictType, path string, severity model.ConflictSeverity, description string) *model.FileConflict {
	return &model.FileConflict{
		ID:              m.idgen.New(),
		Type:            typ,
		Operation:       op,
		ConflictingPath: path,
		Severity:        severity,
		Description:     description,
		DetectedAt:      m.clock.Now(),
	}
}

// timestampedPath inserts a timestamp before the extension:
// /a/report.txt -> /a/report_20240115T103000.txt
func timestampedPath(path string, now time.Time) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	return base + "_" + now.Format("20060102T150405") + ext
}

func isSystemPath(path string) bool {
	for _, prefix := range systemPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

var plainTextExtensions = map[string]bool{
	".txt": true, ".md": true, ".log": true, ".csv": true,
	".json": true, ".yaml": true, ".yml": true, ".toml": true,
}

func isPlainText(path string) bool {
	return plainTextExtensions[strings.ToLower(filepath.Ext(path))]
}
