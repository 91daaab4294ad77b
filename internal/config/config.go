// Package config reads and writes the filesafe configuration file.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the main configuration for filesafe.
type Config struct {
	LogDir       string            `toml:"log_dir" validate:"required"`
	Journal      JournalConfig     `toml:"journal"`
	Monitor      MonitorConfig     `toml:"monitor"`
	Transactions TransactionConfig `toml:"transactions"`
	Backup       BackupConfig      `toml:"backup"`
}

// JournalConfig selects the journal store. This uses a tagged union pattern:
// the Type field determines which other fields are relevant.
type JournalConfig struct {
	Type    string `toml:"type" validate:"required,oneof=sqlite memory"`
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// MonitorConfig holds the filesystem monitor knobs. Zero values fall back to
// the monitor package defaults.
type MonitorConfig struct {
	DebounceMs     int `toml:"debounce_ms" validate:"min=0"`
	CacheTTLSecs   int `toml:"cache_ttl_seconds" validate:"min=0"`
	CacheCapacity  int `toml:"cache_capacity" validate:"min=0"`
	RestartDelayMs int `toml:"restart_delay_ms" validate:"min=0"`
}

// TransactionConfig holds the transaction manager defaults applied to every
// transaction begun without an explicit config. The detection toggles are
// pointers so a config file that omits them keeps both checks on; only an
// explicit false in the file disables one.
type TransactionConfig struct {
	TimeoutMs         int   `toml:"timeout_ms" validate:"min=0"`
	MaxBatchSize      int   `toml:"max_batch_size" validate:"min=0"`
	ConflictDetection *bool `toml:"conflict_detection,omitempty"`
	DeadlockDetection *bool `toml:"deadlock_detection,omitempty"`
}

// BackupConfig selects the backup collaborator. Tagged union on Type.
type BackupConfig struct {
	Type       string           `toml:"type" validate:"required,oneof=filesystem memory"`
	Dir        string           `toml:"dir,omitempty"` // only used for type=filesystem
	Encryption EncryptionConfig `toml:"encryption"`
}

// EncryptionConfig enables at-rest encryption of filesystem backups.
// Recipient is an age X25519 recipient string; IdentityPath points to the
// identity file used when restoring.
type EncryptionConfig struct {
	Type         string `toml:"type" validate:"omitempty,oneof=age none"`
	Recipient    string `toml:"recipient,omitempty"`
	IdentityPath string `toml:"identity_path,omitempty"`
}

// NewConfig creates a Config with defaults rooted at baseDir. The detection
// toggles are written out explicitly so a generated file documents them.
func NewConfig(baseDir string) *Config {
	on := true
	return &Config{
		LogDir: filepath.Join(baseDir, "log"),
		Journal: JournalConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "journal"),
		},
		Transactions: TransactionConfig{
			ConflictDetection: &on,
			DeadlockDetection: &on,
		},
		Backup: BackupConfig{
			Type: "filesystem",
			Dir:  filepath.Join(baseDir, "backups"),
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader and validates it.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided
// Config. Refuses to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
