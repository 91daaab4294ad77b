package testutil

import (
	"fmt"
	"sync"

	"filesafe/internal/model"
	"filesafe/internal/safety"
)

// StubBackup is an in-memory BackupProvider that snapshots content from a
// MockFilesystemManager. It records call counts so tests can assert how many
// backups a commit created.
type StubBackup struct {
	mu    sync.Mutex
	fsmgr *MockFilesystemManager
	idgen *StubIDGenerator

	content map[string][]byte // backup path -> content

	CreateCalls  int
	RestoreCalls int
	CreateErr    error // returned by CreateBackup when set
	RestoreErr   error // returned by Restore when set
}

// NewStubBackup creates a StubBackup reading content from fsmgr.
func NewStubBackup(fsmgr *MockFilesystemManager) *StubBackup {
	return &StubBackup{
		fsmgr:   fsmgr,
		idgen:   NewStubIDGenerator(),
		content: make(map[string][]byte),
	}
}

func (b *StubBackup) CreateBackup(paths []string) (*model.BackupHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CreateCalls++
	if b.CreateErr != nil {
		return nil, b.CreateErr
	}

	handle := &model.BackupHandle{
		ID:    "backup-" + b.idgen.New(),
		Paths: make(map[string]string),
	}
	for i, path := range paths {
		if !b.fsmgr.Exists(path) {
			continue
		}
		key := fmt.Sprintf("stub://%s/%d", handle.ID, i)
		b.content[key] = append([]byte(nil), b.fsmgr.ContentOf(path)...)
		handle.Paths[path] = key
	}
	return handle, nil
}

func (b *StubBackup) Restore(backupPath, targetPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.RestoreCalls++
	if b.RestoreErr != nil {
		return b.RestoreErr
	}

	data, ok := b.content[backupPath]
	if !ok {
		return fmt.Errorf("backup not found: %s", backupPath)
	}
	b.fsmgr.AddFile(targetPath, data)
	return nil
}

var _ safety.BackupProvider = (*StubBackup)(nil)
