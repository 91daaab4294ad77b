// Package app wires the configured components into a runnable application.
// It sits between the CLI and the safety core.
package app

import (
	"fmt"
	"os"
	"time"

	"filesafe/internal/backup"
	"filesafe/internal/config"
	"filesafe/internal/fsops"
	"filesafe/internal/journal"
	"filesafe/internal/model"
	"filesafe/internal/monitor"
	"filesafe/internal/safety"
	"filesafe/internal/validate"
)

// App is the application layer between the CLI and the safety core.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw string paths, and manages resource lifecycle on Close.
type App struct {
	cfg     *config.Config
	fsmgr   *fsops.OSFilesystemManager
	journal safety.Journal
	backup  safety.BackupProvider
	monitor *monitor.Monitor
	manager *safety.Manager
	scanner *fsops.Scanner
	logFile *os.File
}

// NewApp creates a fully wired App from the given config.
// The caller must call Close when done.
func NewApp(cfg *config.Config) (*App, error) {
	sessionID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, sessionID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: logger}

	clock := safety.RealClock{}
	idgen := safety.UUIDGenerator{}
	fsmgr := fsops.NewOSFilesystemManager()

	bak, err := backup.NewBackupFromConfig(cfg.Backup, clock, idgen)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating backup provider: %w", err)
	}

	jrnl, err := journal.NewJournalFromConfig(cfg.Journal, fsmgr, bak, clock, idgen)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating journal: %w", err)
	}

	mon := monitor.New(fsmgr, log, clock, idgen, monitor.Options{
		DebounceWindow: time.Duration(cfg.Monitor.DebounceMs) * time.Millisecond,
		CacheTTL:       time.Duration(cfg.Monitor.CacheTTLSecs) * time.Second,
		CacheCapacity:  cfg.Monitor.CacheCapacity,
		RestartDelay:   time.Duration(cfg.Monitor.RestartDelayMs) * time.Millisecond,
	})

	mgr := safety.NewManager(validate.New(fsmgr), mon, jrnl, bak, fsmgr, log, clock, idgen)

	return &App{
		cfg:     cfg,
		fsmgr:   fsmgr,
		journal: jrnl,
		backup:  bak,
		monitor: mon,
		manager: mgr,
		scanner: fsops.NewScanner(fsmgr, log),
		logFile: logFile,
	}, nil
}

// Manager exposes the transaction manager for library-style use.
func (a *App) Manager() *safety.Manager { return a.manager }

// Monitor exposes the filesystem monitor so callers can start watches and
// subscribe to change and safety events.
func (a *App) Monitor() *monitor.Monitor { return a.monitor }

// defaultTxConfig translates the config file's transaction section into
// per-transaction defaults. Detection toggles absent from the file stay nil
// and resolve to on.
func (a *App) defaultTxConfig() *model.TransactionConfig {
	return &model.TransactionConfig{
		Timeout:           time.Duration(a.cfg.Transactions.TimeoutMs) * time.Millisecond,
		MaxBatchSize:      a.cfg.Transactions.MaxBatchSize,
		ConflictDetection: a.cfg.Transactions.ConflictDetection,
		DeadlockDetection: a.cfg.Transactions.DeadlockDetection,
	}
}

// Execute runs a batch of operations as a single transaction: begin, add,
// commit. On any add failure the transaction is rolled back and the first
// error returned.
func (a *App) Execute(ops []*model.FileOperation) (string, error) {
	tx, err := a.manager.Begin(a.defaultTxConfig())
	if err != nil {
		return "", err
	}

	for _, op := range ops {
		if err := a.manager.AddOperation(tx.ID, op); err != nil {
			a.manager.Rollback(tx.ID)
			return tx.ID, fmt.Errorf("adding operation: %w", err)
		}
	}

	if err := a.manager.Commit(tx.ID); err != nil {
		return tx.ID, err
	}
	return tx.ID, nil
}

// History returns the most recent journal records, newest first.
// limit <= 0 means no limit.
func (a *App) History(limit int) ([]*model.OperationRecord, error) {
	return a.journal.History(limit)
}

// RollbackTransaction derives and executes the rollback script for a
// committed transaction recorded in the journal. Unlike Manager.Rollback this
// works across process restarts.
func (a *App) RollbackTransaction(transactionID string) error {
	script, err := a.journal.CreateRollbackScript(transactionID)
	if err != nil {
		return fmt.Errorf("deriving rollback script: %w", err)
	}
	if err := a.journal.ExecuteRollback(script); err != nil {
		return fmt.Errorf("executing rollback: %w", err)
	}
	return nil
}

// CleanupJournal drops journal records older than the given age.
func (a *App) CleanupJournal(olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan)
	return a.journal.CleanupOldRecords(cutoff)
}

// Watch starts monitoring the given directories.
func (a *App) Watch(paths []string) error {
	return a.monitor.Start(paths)
}

// Scan walks a directory tree and returns metadata for every file found.
func (a *App) Scan(path string) (*fsops.ScanResult, error) {
	return a.scanner.ScanDirectory(path)
}

// Close stops the monitor and releases the journal and log file.
func (a *App) Close() error {
	var firstErr error

	a.monitor.Stop()

	if err := a.journal.Close(); err != nil {
		firstErr = fmt.Errorf("closing journal: %w", err)
	}

	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing log file: %w", err)
		}
	}

	return firstErr
}
