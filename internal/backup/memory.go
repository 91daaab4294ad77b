package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"filesafe/internal/model"
	"filesafe/internal/safety"
)

// MemoryBackup is an in-memory implementation of the BackupProvider
// interface, useful for testing. Backup paths are synthetic keys into an
// internal map, so Restore works only through this instance.
// Safe for concurrent use.
type MemoryBackup struct {
	content map[string][]byte // backup path -> content
	clock   safety.Clock
	idgen   safety.IDGenerator
	mu      sync.RWMutex
}

// NewMemoryBackup creates a new in-memory backup provider.
func NewMemoryBackup(clock safety.Clock, idgen safety.IDGenerator) *MemoryBackup {
	return &MemoryBackup{
		content: make(map[string][]byte),
		clock:   clock,
		idgen:   idgen,
	}
}

// CreateBackup snapshots the content of each existing path. Missing paths and
// directories are skipped.
func (m *MemoryBackup) CreateBackup(paths []string) (*model.BackupHandle, error) {
	handle := &model.BackupHandle{
		ID:        m.idgen.New(),
		Paths:     make(map[string]string),
		CreatedAt: m.clock.Now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("backing up %s: %w", path, err)
		}

		key := fmt.Sprintf("mem://%s/%d_%s", handle.ID, i, filepath.Base(path))
		m.content[key] = data
		handle.Paths[path] = key
	}

	return handle, nil
}

// Restore writes the stored content for backupPath to targetPath.
func (m *MemoryBackup) Restore(backupPath, targetPath string) error {
	m.mu.RLock()
	data, ok := m.content[backupPath]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("backup not found: %s", backupPath)
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}
	if err := os.WriteFile(targetPath, data, 0644); err != nil {
		return fmt.Errorf("restoring %s: %w", targetPath, err)
	}
	return nil
}

// Len returns the number of stored backup entries.
func (m *MemoryBackup) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.content)
}

var _ safety.BackupProvider = (*MemoryBackup)(nil)
