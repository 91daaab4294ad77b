package fsops

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"filesafe/internal/model"
	"filesafe/internal/safety"
)

// OSFilesystemManager is the real filesystem implementation of
// safety.FilesystemManager. It performs actual filesystem operations using
// the os package.
type OSFilesystemManager struct{}

// NewOSFilesystemManager creates a filesystem manager operating on the real
// filesystem.
func NewOSFilesystemManager() *OSFilesystemManager {
	return &OSFilesystemManager{}
}

var _ safety.FilesystemManager = (*OSFilesystemManager)(nil)

// CaptureState probes a path and returns its snapshot. A missing path yields
// a well-formed snapshot with Exists=false rather than an error.
func (m *OSFilesystemManager) CaptureState(path string) (*model.FileStateInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) || path == "" {
			return &model.FileStateInfo{Path: path, Exists: false}, nil
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	state := &model.FileStateInfo{
		Path:        path,
		Exists:      true,
		IsFile:      info.Mode().IsRegular(),
		IsDirectory: info.IsDir(),
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		Readable:    m.Readable(path),
		Writable:    m.Writable(path),
		Executable:  m.Executable(path),
	}

	// Checksums are only meaningful for readable regular files; anything
	// else leaves the field empty.
	if state.IsFile && state.Readable {
		if sum, err := m.Checksum(path); err == nil {
			state.Checksum = sum
		}
	}

	return state, nil
}

// Checksum returns the SHA-256 hex digest of the file's content.
func (m *OSFilesystemManager) Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Apply executes a single file operation against the filesystem.
func (m *OSFilesystemManager) Apply(op *model.FileOperation) error {
	switch op.Type {
	case model.OpRead:
		// Read is a probe; execution is a no-op beyond state capture.
		return nil

	case model.OpCreate:
		target := op.EffectivePath()
		if op.CreateParents {
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("creating parent directories: %w", err)
			}
		}
		if op.Metadata["dir"] == "true" {
			return os.MkdirAll(target, 0755)
		}
		if op.Overwrite != nil && !*op.Overwrite {
			if _, err := os.Stat(target); err == nil {
				return fmt.Errorf("target already exists: %s", target)
			}
		}
		return os.WriteFile(target, op.Content, 0644)

	case model.OpUpdate:
		// Updates only replace content of an existing file.
		if _, err := os.Stat(op.SourcePath); err != nil {
			return fmt.Errorf("stat %s: %w", op.SourcePath, err)
		}
		return os.WriteFile(op.SourcePath, op.Content, 0644)

	case model.OpDelete:
		if _, err := os.Stat(op.SourcePath); err != nil {
			return fmt.Errorf("stat %s: %w", op.SourcePath, err)
		}
		if op.Metadata["recursive"] == "true" {
			return os.RemoveAll(op.SourcePath)
		}
		return os.Remove(op.SourcePath)

	case model.OpMove:
		if op.CreateParents {
			if err := os.MkdirAll(filepath.Dir(op.TargetPath), 0755); err != nil {
				return fmt.Errorf("creating parent directories: %w", err)
			}
		}
		return os.Rename(op.SourcePath, op.TargetPath)

	case model.OpCopy:
		if op.CreateParents {
			if err := os.MkdirAll(filepath.Dir(op.TargetPath), 0755); err != nil {
				return fmt.Errorf("creating parent directories: %w", err)
			}
		}
		return copyFile(op.SourcePath, op.TargetPath)
	}

	return fmt.Errorf("unknown operation type: %s", op.Type)
}

// DeleteFile removes a single file. Used by rollback scripts.
func (m *OSFilesystemManager) DeleteFile(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

// MoveFile renames source to target. Used by rollback scripts.
func (m *OSFilesystemManager) MoveFile(source, target string) error {
	if err := os.Rename(source, target); err != nil {
		return fmt.Errorf("moving %s to %s: %w", source, target, err)
	}
	return nil
}

// RestoreMetadata re-applies mode and mtime to a path.
func (m *OSFilesystemManager) RestoreMetadata(path string, mode uint32, modTime time.Time) error {
	if err := os.Chmod(path, os.FileMode(mode)); err != nil {
		return fmt.Errorf("restoring mode of %s: %w", path, err)
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		return fmt.Errorf("restoring mtime of %s: %w", path, err)
	}
	return nil
}

// copyFile copies source to target, preserving the source's permission bits.
func copyFile(source, target string) error {
	src, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("opening %s: %w", source, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", source, err)
	}

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("copying to %s: %w", target, err)
	}
	return dst.Close()
}
