package journal

import (
	"fmt"

	"filesafe/internal/model"
	"filesafe/internal/safety"
)

// scriptEngine derives and executes rollback scripts. Both journal
// implementations embed one so derivation and execution semantics cannot
// drift between the sqlite and memory stores.
type scriptEngine struct {
	fsmgr  safety.FilesystemManager
	backup safety.BackupProvider
	clock  safety.Clock
	idgen  safety.IDGenerator
}

// deriveScript builds the inverse script for a transaction from its records.
// Only successful records contribute; they are replayed newest-first so the
// last effect is undone first.
func (e *scriptEngine) deriveScript(transactionID string, records []*model.OperationRecord) (*model.RollbackScript, error) {
	if len(records) == 0 {
		return nil, safety.NewError(safety.CodeRollbackFailed, "no records for transaction").WithTransaction(transactionID)
	}

	script := &model.RollbackScript{
		ID:            e.idgen.New(),
		TransactionID: transactionID,
		Strategy:      model.RollbackReverseOrder,
		CreatedAt:     e.clock.Now(),
	}

	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if !rec.Success || rec.Operation == nil {
			// Failed operations changed nothing; completion markers carry
			// no operation.
			continue
		}
		script.Operations = append(script.Operations, inverseOf(rec)...)
	}

	return script, nil
}

// inverseOf maps one executed operation to its rollback steps.
func inverseOf(rec *model.OperationRecord) []model.RollbackOperation {
	op := rec.Operation
	switch op.Type {
	case model.OpCreate:
		return []model.RollbackOperation{{
			Kind:       model.RollbackDeleteFile,
			TargetPath: op.EffectivePath(),
		}}
	case model.OpMove:
		// The file now lives at the target; move it back.
		return []model.RollbackOperation{{
			Kind:       model.RollbackMoveFile,
			SourcePath: op.TargetPath,
			TargetPath: op.SourcePath,
		}}
	case model.OpCopy:
		return []model.RollbackOperation{{
			Kind:       model.RollbackDeleteFile,
			TargetPath: op.TargetPath,
		}}
	case model.OpDelete, model.OpUpdate:
		// Whatever was captured at execution time, typically a restore_file
		// from the pre-commit backup.
		return rec.RollbackOps
	default:
		return rec.RollbackOps
	}
}

// executeScript validates the whole script up front, then runs each step in
// order. Execution is not atomic: a mid-script failure aborts and leaves the
// already-executed steps applied.
func (e *scriptEngine) executeScript(script *model.RollbackScript) error {
	if script.Expired(e.clock.Now()) {
		return safety.NewError(safety.CodeRollbackFailed, "script expired at %s", script.ValidUntil).
			WithTransaction(script.TransactionID)
	}

	for i, op := range script.Operations {
		if err := validateRollbackOp(op); err != nil {
			return safety.WrapError(safety.CodeRollbackFailed, err, "invalid step %d", i).
				WithTransaction(script.TransactionID)
		}
	}

	for i, op := range script.Operations {
		if err := e.executeRollbackOp(op); err != nil {
			return safety.WrapError(safety.CodeRollbackFailed, err, "step %d (%s) failed, partial rollback applied", i, op.Kind).
				WithTransaction(script.TransactionID)
		}
	}
	return nil
}

func validateRollbackOp(op model.RollbackOperation) error {
	switch op.Kind {
	case model.RollbackRestoreFile:
		if op.BackupPath == "" {
			return fmt.Errorf("restore_file without a backup path")
		}
		if op.TargetPath == "" {
			return fmt.Errorf("restore_file without a target path")
		}
	case model.RollbackDeleteFile:
		if op.TargetPath == "" {
			return fmt.Errorf("delete_file without a target path")
		}
	case model.RollbackMoveFile:
		if op.SourcePath == "" || op.TargetPath == "" {
			return fmt.Errorf("move_file without source and target paths")
		}
	case model.RollbackRestoreMetadata:
		if op.TargetPath == "" {
			return fmt.Errorf("restore_metadata without a target path")
		}
	default:
		return fmt.Errorf("unknown rollback kind %q", op.Kind)
	}
	return nil
}

func (e *scriptEngine) executeRollbackOp(op model.RollbackOperation) error {
	switch op.Kind {
	case model.RollbackRestoreFile:
		return e.backup.Restore(op.BackupPath, op.TargetPath)
	case model.RollbackDeleteFile:
		return e.fsmgr.DeleteFile(op.TargetPath)
	case model.RollbackMoveFile:
		return e.fsmgr.MoveFile(op.SourcePath, op.TargetPath)
	case model.RollbackRestoreMetadata:
		return e.fsmgr.RestoreMetadata(op.TargetPath, op.Mode, op.ModTime)
	}
	return fmt.Errorf("unknown rollback kind %q", op.Kind)
}
