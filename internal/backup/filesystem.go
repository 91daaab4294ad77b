// Package backup provides BackupProvider implementations used by the safety
// core to preserve file content before destructive operations.
package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filesafe/internal/model"
	"filesafe/internal/safety"
)

// FileBackup is a filesystem-based implementation of the BackupProvider
// interface. Each backup gets its own directory keyed by handle ID:
//
//	<root>/
//	  <handleID>/
//	    0_<basename>      (copied content, optionally age-encrypted)
//	    1_<basename>
type FileBackup struct {
	root  string
	codec *AgeCodec // nil means backups are stored in plaintext
	clock safety.Clock
	idgen safety.IDGenerator
}

// NewFileBackup creates a filesystem backup provider rooted at the given path.
// A nil codec disables encryption.
func NewFileBackup(root string, codec *AgeCodec, clock safety.Clock, idgen safety.IDGenerator) (*FileBackup, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("failed to create backup root: %w", err)
	}
	return &FileBackup{
		root:  root,
		codec: codec,
		clock: clock,
		idgen: idgen,
	}, nil
}

// CreateBackup copies each existing path into a fresh backup directory and
// returns a handle mapping originals to their backup locations. Paths that do
// not exist are skipped; there is nothing to preserve for them.
func (b *FileBackup) CreateBackup(paths []string) (*model.BackupHandle, error) {
	handle := &model.BackupHandle{
		ID:        b.idgen.New(),
		Paths:     make(map[string]string),
		CreatedAt: b.clock.Now(),
	}

	dir := filepath.Join(b.root, handle.ID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

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

		dest := filepath.Join(dir, fmt.Sprintf("%d_%s", i, filepath.Base(path)))
		if err := b.copyIn(path, dest); err != nil {
			return nil, fmt.Errorf("backing up %s: %w", path, err)
		}
		handle.Paths[path] = dest
	}

	return handle, nil
}

// Restore copies backed-up content from backupPath to targetPath, decrypting
// when a codec is configured.
func (b *FileBackup) Restore(backupPath, targetPath string) error {
	src, err := os.Open(backupPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("backup not found: %s", backupPath)
		}
		return fmt.Errorf("failed to open backup: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	return b.writeAtomic(targetPath, func(w io.Writer) error {
		if b.codec != nil {
			return b.codec.Decrypt(src, w)
		}
		_, err := io.Copy(w, src)
		return err
	})
}

// copyIn copies the file at path to dest, encrypting when a codec is
// configured. Backups keep the source file's permission bits so Restore
// followed by restore_metadata reproduces the original state.
func (b *FileBackup) copyIn(path, dest string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer src.Close()

	return b.writeAtomic(dest, func(w io.Writer) error {
		if b.codec != nil {
			return b.codec.Encrypt(src, w)
		}
		_, err := io.Copy(w, src)
		return err
	})
}

// writeAtomic writes to destPath via a temp file and rename so a crash mid
// write never leaves a truncated backup behind.
func (b *FileBackup) writeAtomic(destPath string, fill func(io.Writer) error) error {
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := fill(tmpFile); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// ValidateSetup verifies that the backup root is an accessible directory.
func (b *FileBackup) ValidateSetup() error {
	info, err := os.Stat(b.root)
	if err != nil {
		return fmt.Errorf("backup root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("backup root is not a directory: %s", b.root)
	}
	return nil
}

var _ safety.BackupProvider = (*FileBackup)(nil)
