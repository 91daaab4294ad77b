package backup

import (
	"fmt"

	"filesafe/internal/config"
	"filesafe/internal/safety"
)

// NewBackupFromConfig creates a BackupProvider implementation based on the
// backup config type.
func NewBackupFromConfig(cfg config.BackupConfig, clock safety.Clock, idgen safety.IDGenerator) (safety.BackupProvider, error) {
	switch cfg.Type {
	case "filesystem":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("filesystem backup requires dir to be set")
		}
		var codec *AgeCodec
		if cfg.Encryption.Type == "age" {
			var err error
			codec, err = NewAgeCodec(cfg.Encryption)
			if err != nil {
				return nil, fmt.Errorf("configuring encryption: %w", err)
			}
		}
		return NewFileBackup(cfg.Dir, codec, clock, idgen)
	case "memory":
		return NewMemoryBackup(clock, idgen), nil
	default:
		return nil, fmt.Errorf("unknown backup type: %s", cfg.Type)
	}
}
