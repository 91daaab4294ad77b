// Package validate implements the operation validation pipeline: every
// proposed file operation passes structural, path-security, existence,
// permission and custom-rule checks before it may join a transaction.
package validate

import (
	"fmt"
	"path/filepath"
	"strings"

	"filesafe/internal/model"
	"filesafe/internal/safety"
)

// Validation error codes, used in ValidationError.Code.
const (
	CodeUnknownType       = "unknown_operation_type"
	CodeUnknownSafety     = "unknown_safety_level"
	CodeMissingSource     = "missing_source_path"
	CodeMissingTarget     = "missing_target_path"
	CodeUnsafePath        = "unsafe_path"
	CodeSourceMissing     = "source_not_found"
	CodeTargetExists      = "target_exists"
	CodeSourceNotWritable = "source_not_writable"
	CodeParentNotWritable = "target_parent_not_writable"
	CodeRuleFailed        = "custom_rule_failed"
)

// Warning codes.
const (
	WarnTargetExists = "target_exists"
)

// Rule is a pluggable validation predicate. Rules run after the built-in
// stages, in registration order.
type Rule struct {
	Name  string
	Check func(op *model.FileOperation) ([]model.ValidationError, []model.ValidationWarning)
}

type registeredRule struct {
	rule    Rule
	enabled bool
}

// Validator runs the ordered validation pipeline over single operations.
// Errors from every stage are concatenated; a stage is only skipped when it
// structurally cannot run. The result is valid iff the merged error list is
// empty; warnings never block validity.
type Validator struct {
	fsmgr safety.FilesystemManager
	rules []*registeredRule
}

var _ safety.Validator = (*Validator)(nil)

// New creates a Validator probing existence and permissions through fsmgr.
func New(fsmgr safety.FilesystemManager) *Validator {
	return &Validator{fsmgr: fsmgr}
}

// AddRule registers a custom rule, enabled by default.
func (v *Validator) AddRule(rule Rule) {
	v.rules = append(v.rules, &registeredRule{rule: rule, enabled: true})
}

// SetRuleEnabled toggles a rule by name. Unknown names are ignored.
func (v *Validator) SetRuleEnabled(name string, enabled bool) {
	for _, r := range v.rules {
		if r.rule.Name == name {
			r.enabled = enabled
		}
	}
}

// Validate runs the full pipeline over op.
func (v *Validator) Validate(op *model.FileOperation) model.ValidationResult {
	result := model.ValidationResult{Valid: true}

	v.checkStructure(op, &result)
	v.checkPathSecurity(op, &result)

	// Existence and permission checks only make sense for a structurally
	// sound operation; running them on garbage would just duplicate errors.
	if structurallySound(&result) {
		v.checkExistence(op, &result)
		v.checkPermissions(op, &result)
	}

	v.runCustomRules(op, &result)

	result.Valid = len(result.Errors) == 0
	return result
}

// checkStructure verifies enum values and type-dependent required fields.
func (v *Validator) checkStructure(op *model.FileOperation, result *model.ValidationResult) {
	if !op.Type.Known() {
		result.AddError("type", CodeUnknownType, fmt.Sprintf("unknown operation type %q", op.Type), model.SevError)
		return
	}
	if !op.SafetyLevel.Known() {
		result.AddError("safetyLevel", CodeUnknownSafety, fmt.Sprintf("unknown safety level %d", op.SafetyLevel), model.SevError)
	}

	if op.Type.NeedsSource() && op.SourcePath == "" {
		result.AddError("sourcePath", CodeMissingSource,
			fmt.Sprintf("%s requires a source path", op.Type), model.SevError)
	}
	switch op.Type {
	case model.OpMove, model.OpCopy:
		if op.TargetPath == "" {
			result.AddError("targetPath", CodeMissingTarget,
				fmt.Sprintf("%s requires a target path", op.Type), model.SevError)
		}
	case model.OpCreate:
		if op.EffectivePath() == "" {
			result.AddError("targetPath", CodeMissingTarget, "create requires a path", model.SevError)
		}
	}
}

// checkPathSecurity rejects traversal sequences, home shortcuts and NUL
// bytes in either path, as critical errors.
func (v *Validator) checkPathSecurity(op *model.FileOperation, result *model.ValidationResult) {
	check := func(field, path string) {
		if path == "" {
			return
		}
		switch {
		case containsTraversal(path):
			result.AddError(field, CodeUnsafePath, "path contains traversal sequence", model.SevCritical)
		case strings.Contains(path, "~"):
			result.AddError(field, CodeUnsafePath, "path contains home shortcut", model.SevCritical)
		case strings.ContainsRune(path, 0):
			result.AddError(field, CodeUnsafePath, "path contains null byte", model.SevCritical)
		}
	}
	check("sourcePath", op.SourcePath)
	check("targetPath", op.TargetPath)
}

// checkExistence verifies the source exists for operations that read it, and
// applies the safety-level policy to an existing target.
func (v *Validator) checkExistence(op *model.FileOperation, result *model.ValidationResult) {
	if op.Type.NeedsSource() {
		state, err := v.fsmgr.CaptureState(op.SourcePath)
		if err != nil || !state.Exists {
			result.AddError("sourcePath", CodeSourceMissing,
				fmt.Sprintf("source does not exist: %s", op.SourcePath), model.SevError)
			return
		}
	}

	if !op.Type.NeedsTarget() {
		return
	}
	target := op.EffectivePath()
	state, err := v.fsmgr.CaptureState(target)
	if err != nil || !state.Exists {
		return
	}

	switch {
	case op.SafetyLevel >= model.SafetyMaximum:
		result.AddError("targetPath", CodeTargetExists,
			fmt.Sprintf("target already exists: %s", target), model.SevError)
	case op.SafetyLevel == model.SafetyEnhanced:
		result.AddWarning(WarnTargetExists,
			fmt.Sprintf("target %s exists and will be overwritten", target), true)
	default:
		// Weaker levels ignore an existing target unless a create stated
		// explicitly that it must not overwrite.
		if op.Type == model.OpCreate && op.Overwrite != nil && !*op.Overwrite {
			result.AddError("targetPath", CodeTargetExists,
				fmt.Sprintf("target already exists and overwrite is disabled: %s", target), model.SevError)
		}
	}
}

// checkPermissions requires the write bit on the source for delete/move, and
// a writable target parent for move.
func (v *Validator) checkPermissions(op *model.FileOperation, result *model.ValidationResult) {
	if op.Type != model.OpDelete && op.Type != model.OpMove {
		return
	}

	if state, err := v.fsmgr.CaptureState(op.SourcePath); err == nil && state.Exists {
		if !v.fsmgr.Writable(op.SourcePath) {
			result.AddError("sourcePath", CodeSourceNotWritable,
				fmt.Sprintf("no write permission on %s", op.SourcePath), model.SevError)
		}
	}

	if op.Type == model.OpMove && op.TargetPath != "" {
		parent := filepath.Dir(op.TargetPath)
		if state, err := v.fsmgr.CaptureState(parent); err == nil && state.Exists && !v.fsmgr.Writable(parent) {
			result.AddError("targetPath", CodeParentNotWritable,
				fmt.Sprintf("target directory is not writable: %s", parent), model.SevError)
		}
	}
}

// runCustomRules executes every enabled rule in order. A rule that panics is
// converted into a single error so one misbehaving rule cannot abort the
// pipeline.
func (v *Validator) runCustomRules(op *model.FileOperation, result *model.ValidationResult) {
	for _, r := range v.rules {
		if !r.enabled {
			continue
		}
		errs, warns := v.runRule(r.rule, op)
		result.Errors = append(result.Errors, errs...)
		result.Warnings = append(result.Warnings, warns...)
	}
}

func (v *Validator) runRule(rule Rule, op *model.FileOperation) (errs []model.ValidationError, warns []model.ValidationWarning) {
	defer func() {
		if r := recover(); r != nil {
			errs = []model.ValidationError{{
				Field:    "rule:" + rule.Name,
				Code:     CodeRuleFailed,
				Message:  fmt.Sprintf("rule %q panicked: %v", rule.Name, r),
				Severity: model.SevError,
			}}
			warns = nil
		}
	}()
	return rule.Check(op)
}

// structurallySound reports whether no structural or path-security error has
// been recorded yet, so the IO-backed stages can run meaningfully.
func structurallySound(result *model.ValidationResult) bool {
	return len(result.Errors) == 0
}

// containsTraversal reports whether any path element is "..".
func containsTraversal(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return true
		}
	}
	return false
}
