package journal

import (
	"fmt"

	"filesafe/internal/config"
	"filesafe/internal/safety"
)

// NewJournalFromConfig creates a Journal implementation based on the journal
// config type.
func NewJournalFromConfig(cfg config.JournalConfig, fsmgr safety.FilesystemManager, backup safety.BackupProvider, clock safety.Clock, idgen safety.IDGenerator) (safety.Journal, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite journal")
		}
		return NewSQLite(cfg.DataDir, fsmgr, backup, clock, idgen)
	case "memory":
		return NewMemory(fsmgr, backup, clock, idgen), nil
	default:
		return nil, fmt.Errorf("unknown journal type: %s", cfg.Type)
	}
}
