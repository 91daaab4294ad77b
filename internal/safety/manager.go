package safety

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"filesafe/internal/model"
)

// Transaction defaults applied by Begin when the caller leaves fields unset.
const (
	DefaultTimeout      = 300 * time.Second
	DefaultMaxBatchSize = 100
)

// Manager coordinates the validator, monitor, journal and the external backup
// contract into a begin/add/commit/rollback transaction lifecycle.
//
// Isolation is intentionally optimistic: the resource-lock table only hints
// at contention while operations are added, and real arbitration happens at
// commit time — the first committer wins and the loser fails. All shared
// state (transaction table, lock table, timers) is owned by one Manager
// instance and guarded by its mutex.
type Manager struct {
	validator Validator
	detector  ConflictDetector
	journal   Journal
	backup    BackupProvider
	fsmgr     FilesystemManager
	logger    Logger
	clock     Clock
	idgen     IDGenerator

	mu           sync.Mutex
	transactions map[string]*model.Transaction
	locks        map[string]string // path -> owning transaction id
	timers       map[string]*time.Timer
}

// NewManager creates a Manager with the provided dependencies.
// detector may be nil, which disables live conflict checks even for
// transactions that request them.
func NewManager(validator Validator, detector ConflictDetector, journal Journal, backup BackupProvider, fsmgr FilesystemManager, logger Logger, clock Clock, idgen IDGenerator) *Manager {
	return &Manager{
		validator:    validator,
		detector:     detector,
		journal:      journal,
		backup:       backup,
		fsmgr:        fsmgr,
		logger:       logger,
		clock:        clock,
		idgen:        idgen,
		transactions: make(map[string]*model.Transaction),
		locks:        make(map[string]string),
		timers:       make(map[string]*time.Timer),
	}
}

// mergeConfig fills unset fields of cfg with defaults. The detection toggles
// stay nil unless the caller set them; nil resolves to on.
func mergeConfig(cfg *model.TransactionConfig) model.TransactionConfig {
	merged := model.TransactionConfig{
		Timeout:          DefaultTimeout,
		MaxBatchSize:     DefaultMaxBatchSize,
		RollbackStrategy: model.RollbackReverseOrder,
		ConflictPolicy:   model.ConflictReject,
	}
	if cfg == nil {
		return merged
	}
	if cfg.Timeout > 0 {
		merged.Timeout = cfg.Timeout
	}
	if cfg.MaxBatchSize > 0 {
		merged.MaxBatchSize = cfg.MaxBatchSize
	}
	merged.ConflictDetection = cfg.ConflictDetection
	merged.DeadlockDetection = cfg.DeadlockDetection
	if cfg.RollbackStrategy != "" {
		merged.RollbackStrategy = cfg.RollbackStrategy
	}
	if cfg.ConflictPolicy != "" {
		merged.ConflictPolicy = cfg.ConflictPolicy
	}
	return merged
}

// Begin registers a new pending transaction and arms its timeout timer.
// A nil cfg uses the defaults. Note that detection toggles default to on:
// pass an explicit config to disable them.
func (m *Manager) Begin(cfg *model.TransactionConfig) (*model.Transaction, error) {
	tx := &model.Transaction{
		ID:        m.idgen.New(),
		Status:    model.TxPending,
		CreatedAt: m.clock.Now(),
		Config:    mergeConfig(cfg),
	}

	m.mu.Lock()
	m.transactions[tx.ID] = tx
	m.timers[tx.ID] = time.AfterFunc(tx.Config.Timeout, func() { m.expire(tx.ID) })
	m.mu.Unlock()

	m.logger.Debug("transaction started", "transaction", tx.ID, "timeout", tx.Config.Timeout)
	return tx, nil
}

// expire force-fails a transaction that is still pending when its timer
// fires, and stores the timeout error for later lifecycle calls to surface.
func (m *Manager) expire(txID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// The timer has fired; its entry is spent either way.
	delete(m.timers, txID)

	tx, ok := m.transactions[txID]
	if !ok || tx.Status != model.TxPending {
		return
	}
	tx.TimeoutErr = NewError(CodeTransactionFailed, "transaction timed out after %s", tx.Config.Timeout).WithTransaction(txID)
	tx.Transition(model.TxFailed, m.clock.Now())
	m.releaseLocksLocked(txID)
	m.logger.Warn("transaction timed out", "transaction", txID)
}

// AddOperation validates and conflict-checks op, then appends it to a
// pending transaction. An invalid or conflicting operation leaves the
// transaction completely unchanged.
func (m *Manager) AddOperation(txID string, op *model.FileOperation) error {
	m.mu.Lock()
	tx, ok := m.transactions[txID]
	if !ok {
		m.mu.Unlock()
		return NewError(CodeTransactionFailed, "unknown transaction").WithTransaction(txID)
	}
	if tx.TimeoutErr != nil {
		err := tx.TimeoutErr
		m.mu.Unlock()
		return err
	}
	if tx.Status != model.TxPending {
		m.mu.Unlock()
		return NewError(CodeTransactionFailed, "cannot add operations in status %s", tx.Status).WithTransaction(txID)
	}
	if len(tx.Operations) >= tx.Config.MaxBatchSize {
		m.mu.Unlock()
		return NewError(CodeTransactionFailed, "batch size limit of %d reached", tx.Config.MaxBatchSize).WithTransaction(txID)
	}
	cfg := tx.Config
	m.mu.Unlock()

	// Validation and conflict detection do filesystem IO, so they run
	// outside the manager lock.
	result := m.validator.Validate(op)
	if !result.Valid {
		return NewError(CodeValidationFailed, "%s", joinValidationErrors(result.Errors)).
			WithOperation(op).WithTransaction(txID)
	}

	if cfg.ConflictDetectionEnabled() && m.detector != nil {
		conflicts, err := m.detector.DetectConflicts(op)
		if err != nil {
			return WrapError(CodeOperationFailed, err, "conflict detection").WithOperation(op).WithTransaction(txID)
		}
		if len(conflicts) > 0 {
			if cfg.ConflictPolicy == model.ConflictWarn {
				m.logger.Warn("conflicts detected, policy allows proceeding",
					"transaction", txID, "path", op.EffectivePath(), "conflicts", len(conflicts))
			} else {
				worst := model.WorstSeverity(conflicts)
				return NewError(CodeConflictDetected, "%d conflict(s), worst severity %s: %s",
					len(conflicts), worst, conflicts[0].Description).WithOperation(op).WithTransaction(txID)
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-check under the lock: the transaction may have timed out or been
	// completed while IO was in flight.
	if tx.TimeoutErr != nil {
		return tx.TimeoutErr
	}
	if tx.Status != model.TxPending {
		return NewError(CodeTransactionFailed, "cannot add operations in status %s", tx.Status).WithTransaction(txID)
	}
	if len(tx.Operations) >= cfg.MaxBatchSize {
		return NewError(CodeTransactionFailed, "batch size limit of %d reached", cfg.MaxBatchSize).WithTransaction(txID)
	}

	if cfg.DeadlockDetectionEnabled() {
		for _, path := range op.Paths() {
			owner, held := m.locks[path]
			if held && owner != txID && m.isLiveLocked(owner) {
				tx.DeadlockHint = &model.DeadlockHint{
					HolderTransactionID: owner,
					Path:                path,
					DetectedAt:          m.clock.Now(),
				}
				m.logger.Warn("potential deadlock", "transaction", txID, "holder", owner, "path", path)
			}
			// Claim (or overwrite) the lock; arbitration happens at commit.
			m.locks[path] = txID
		}
	}

	tx.Operations = append(tx.Operations, op)
	tx.SafetyLevel = model.MaxSafetyLevel(tx.Operations)
	return nil
}

// Commit executes a pending transaction's operations sequentially against
// the filesystem, journaling one record per operation plus a completion
// record. Critical operations (maximum safety or delete) are backed up first
// through the external backup contract.
func (m *Manager) Commit(txID string) error {
	m.mu.Lock()
	tx, ok := m.transactions[txID]
	if !ok {
		m.mu.Unlock()
		return NewError(CodeTransactionFailed, "unknown transaction").WithTransaction(txID)
	}
	if tx.TimeoutErr != nil {
		err := tx.TimeoutErr
		m.mu.Unlock()
		return err
	}
	if tx.Status == model.TxCommitted {
		m.mu.Unlock()
		return NewError(CodeTransactionFailed, "transaction already committed").WithTransaction(txID)
	}
	if tx.Status != model.TxPending {
		m.mu.Unlock()
		return NewError(CodeTransactionFailed, "cannot commit in status %s", tx.Status).WithTransaction(txID)
	}
	if err := tx.Transition(model.TxActive, m.clock.Now()); err != nil {
		m.mu.Unlock()
		return NewError(CodeTransactionFailed, "%s", err.Error()).WithTransaction(txID)
	}
	hint := tx.DeadlockHint
	m.mu.Unlock()

	// Back up critical operations before touching anything.
	if critical := criticalPaths(tx.Operations); len(critical) > 0 {
		handle, err := m.backup.CreateBackup(critical)
		if err != nil {
			m.fail(tx)
			return WrapError(CodeBackupFailed, err, "backing up %d path(s)", len(critical)).WithTransaction(txID)
		}
		m.mu.Lock()
		tx.Backup = handle
		m.mu.Unlock()
		m.logger.Info("backup created", "transaction", txID, "backup", handle.ID, "paths", len(critical))
	}

	// Deadlock arbitration: if the conflicting transaction is still live,
	// this commit loses. First committer wins; the caller must retry.
	if hint != nil {
		m.mu.Lock()
		holderLive := m.isLiveLocked(hint.HolderTransactionID)
		m.mu.Unlock()
		if holderLive {
			m.fail(tx)
			return NewError(CodeTransactionFailed, "deadlock hint on %s: transaction %s is still live",
				hint.Path, hint.HolderTransactionID).WithTransaction(txID)
		}
	}

	for _, op := range tx.Operations {
		if err := m.executeOne(tx, op); err != nil {
			m.fail(tx)
			if IsOSError(err) || CodeOf(err) != "" {
				return err
			}
			return WrapError(CodeTransactionFailed, err, "executing %s", op.Type).WithTransaction(txID)
		}
	}

	// Completion marker: a record with no operation, tagged with the
	// transaction id.
	completion := &model.OperationRecord{
		ID:            m.idgen.New(),
		TransactionID: txID,
		Timestamp:     m.clock.Now(),
		Success:       true,
	}
	if err := m.journal.LogOperation(completion); err != nil {
		m.fail(tx)
		return WrapError(CodeTransactionFailed, err, "journaling completion record").WithTransaction(txID)
	}

	m.mu.Lock()
	tx.Transition(model.TxCommitted, m.clock.Now())
	m.releaseLocksLocked(txID)
	m.stopTimerLocked(txID)
	m.mu.Unlock()

	m.logger.Info("transaction committed", "transaction", txID, "operations", len(tx.Operations))
	return nil
}

// executeOne applies a single operation, capturing before/after state and the
// rollback steps needed to undo it, and journals the outcome.
func (m *Manager) executeOne(tx *model.Transaction, op *model.FileOperation) error {
	beforePath := op.SourcePath
	if beforePath == "" {
		beforePath = op.EffectivePath()
	}
	before, err := m.fsmgr.CaptureState(beforePath)
	if err != nil {
		return WrapError(CodeOperationFailed, err, "capturing state of %s", beforePath).WithOperation(op)
	}

	rollbackOps := m.captureRollbackOps(tx, op)

	applyErr := m.fsmgr.Apply(op)

	after, stateErr := m.fsmgr.CaptureState(op.EffectivePath())
	if stateErr != nil {
		after = nil
	}

	rec := &model.OperationRecord{
		ID:            m.idgen.New(),
		TransactionID: tx.ID,
		Operation:     op,
		BeforeState:   before,
		AfterState:    after,
		RollbackOps:   rollbackOps,
		Timestamp:     m.clock.Now(),
		Success:       applyErr == nil,
	}
	if applyErr != nil {
		rec.Error = applyErr.Error()
	}

	if err := m.journal.LogOperation(rec); err != nil {
		return WrapError(CodeTransactionFailed, err, "journaling operation").WithOperation(op)
	}

	if applyErr != nil {
		if IsOSError(applyErr) {
			return applyErr
		}
		return WrapError(CodeOperationFailed, applyErr, "applying %s", op.Type).WithOperation(op)
	}
	return nil
}

// captureRollbackOps records the inverse steps that only the execution moment
// can know: delete and update need the pre-image restored from backup. The
// journal derives everything else from the operation itself.
func (m *Manager) captureRollbackOps(tx *model.Transaction, op *model.FileOperation) []model.RollbackOperation {
	switch op.Type {
	case model.OpDelete, model.OpUpdate:
		if backupPath, ok := tx.Backup.BackupPathFor(op.SourcePath); ok {
			return []model.RollbackOperation{{
				Kind:       model.RollbackRestoreFile,
				BackupPath: backupPath,
				TargetPath: op.SourcePath,
			}}
		}
	}
	return nil
}

// Rollback undoes a transaction that has not committed. Allowed from
// pending, active and failed; a pending transaction with no executed
// operations simply transitions without touching the filesystem.
func (m *Manager) Rollback(txID string) error {
	m.mu.Lock()
	tx, ok := m.transactions[txID]
	if !ok {
		m.mu.Unlock()
		return NewError(CodeTransactionFailed, "unknown transaction").WithTransaction(txID)
	}
	if tx.Status == model.TxCommitted || tx.Status == model.TxRolledBack {
		m.mu.Unlock()
		return NewError(CodeTransactionFailed, "cannot roll back in status %s", tx.Status).WithTransaction(txID)
	}
	m.mu.Unlock()

	records, err := m.journal.Operations(txID)
	if err != nil {
		return WrapError(CodeRollbackFailed, err, "loading journal records").WithTransaction(txID)
	}

	if len(records) > 0 {
		script, err := m.journal.CreateRollbackScript(txID)
		if err != nil {
			return WrapError(CodeRollbackFailed, err, "deriving rollback script").WithTransaction(txID)
		}
		if err := m.journal.ExecuteRollback(script); err != nil {
			return err
		}
	}

	m.mu.Lock()
	if err := tx.Transition(model.TxRolledBack, m.clock.Now()); err != nil {
		m.mu.Unlock()
		return NewError(CodeTransactionFailed, "%s", err.Error()).WithTransaction(txID)
	}
	m.releaseLocksLocked(txID)
	m.stopTimerLocked(txID)
	m.mu.Unlock()

	m.logger.Info("transaction rolled back", "transaction", txID, "records", len(records))
	return nil
}

// Get returns a transaction by id, or nil when unknown. Completed
// transactions remain queryable for audit.
func (m *Manager) Get(txID string) *model.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transactions[txID]
}

// IsActive reports whether the transaction exists and is pending or active.
func (m *Manager) IsActive(txID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isLiveLocked(txID)
}

// ListActive returns all pending and active transactions.
func (m *Manager) ListActive() []*model.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var live []*model.Transaction
	for _, tx := range m.transactions {
		if tx.Status == model.TxPending || tx.Status == model.TxActive {
			live = append(live, tx)
		}
	}
	return live
}

// fail marks a transaction failed and releases its resources.
func (m *Manager) fail(tx *model.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.Status.Terminal() || tx.Status == model.TxFailed {
		return
	}
	tx.Transition(model.TxFailed, m.clock.Now())
	m.releaseLocksLocked(tx.ID)
	m.stopTimerLocked(tx.ID)
}

// isLiveLocked reports whether txID is pending or active. Callers hold m.mu.
func (m *Manager) isLiveLocked(txID string) bool {
	tx, ok := m.transactions[txID]
	return ok && (tx.Status == model.TxPending || tx.Status == model.TxActive)
}

// releaseLocksLocked drops every lock owned by txID. Callers hold m.mu.
func (m *Manager) releaseLocksLocked(txID string) {
	for path, owner := range m.locks {
		if owner == txID {
			delete(m.locks, path)
		}
	}
}

// stopTimerLocked cancels the timeout timer for txID. Callers hold m.mu.
func (m *Manager) stopTimerLocked(txID string) {
	if timer, ok := m.timers[txID]; ok {
		timer.Stop()
		delete(m.timers, txID)
	}
}

// criticalPaths collects the source paths of operations that must be backed
// up before commit: anything at maximum safety, and every delete.
func criticalPaths(ops []*model.FileOperation) []string {
	seen := make(map[string]bool)
	var paths []string
	for _, op := range ops {
		if op.SafetyLevel != model.SafetyMaximum && op.Type != model.OpDelete {
			continue
		}
		if op.SourcePath == "" || seen[op.SourcePath] {
			continue
		}
		seen[op.SourcePath] = true
		paths = append(paths, op.SourcePath)
	}
	return paths
}

func joinValidationErrors(errs []model.ValidationError) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return strings.Join(parts, "; ")
}
