package testutil

import (
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"filesafe/internal/model"
	"filesafe/internal/safety"
)

// MockFile represents a file in the mock filesystem.
type MockFile struct {
	Content     []byte
	Mode        fs.FileMode
	ModTime     time.Time
	IsDirectory bool

	// Size overrides len(Content) when non-zero, letting tests fake large
	// files without allocating them.
	Size int64
}

// MockFilesystemManager is an in-memory filesystem for testing the safety
// core without touching the real filesystem. Safe for concurrent use.
type MockFilesystemManager struct {
	mu        sync.Mutex
	files     map[string]*MockFile
	denyRead  map[string]bool
	denyWrite map[string]bool
	applyErr  map[string]error

	// CaptureCalls counts CaptureState invocations, including cache-miss
	// probes routed through the monitor.
	CaptureCalls int
}

// NewMockFilesystemManager creates a new mock filesystem.
func NewMockFilesystemManager() *MockFilesystemManager {
	return &MockFilesystemManager{
		files:     make(map[string]*MockFile),
		denyRead:  make(map[string]bool),
		denyWrite: make(map[string]bool),
		applyErr:  make(map[string]error),
	}
}

// AddFile adds a regular file with the given content.
func (m *MockFilesystemManager) AddFile(path string, content []byte) {
	m.AddFileAt(path, content, time.Now())
}

// AddFileAt adds a regular file with an explicit modification time.
func (m *MockFilesystemManager) AddFileAt(path string, content []byte, modTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = &MockFile{Content: content, Mode: 0644, ModTime: modTime}
}

// AddFileWithSize adds a regular file reporting the given size without
// holding that much content.
func (m *MockFilesystemManager) AddFileWithSize(path string, size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = &MockFile{Mode: 0644, ModTime: time.Now(), Size: size}
}

// AddDirectory adds a directory.
func (m *MockFilesystemManager) AddDirectory(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = &MockFile{Mode: 0755, ModTime: time.Now(), IsDirectory: true}
}

// DenyRead marks a path as unreadable.
func (m *MockFilesystemManager) DenyRead(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.denyRead[path] = true
}

// DenyWrite marks a path as unwritable.
func (m *MockFilesystemManager) DenyWrite(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.denyWrite[path] = true
}

// FailApply injects an error for Apply calls whose effective path matches.
func (m *MockFilesystemManager) FailApply(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyErr[path] = err
}

// Exists reports whether a path is present in the mock filesystem.
func (m *MockFilesystemManager) Exists(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok
}

// ContentOf returns the content of a file, or nil if it does not exist.
func (m *MockFilesystemManager) ContentOf(path string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[path]; ok {
		return f.Content
	}
	return nil
}

func (m *MockFilesystemManager) CaptureState(path string) (*model.FileStateInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CaptureCalls++

	f, ok := m.files[path]
	if !ok {
		return &model.FileStateInfo{Path: path}, nil
	}

	size := int64(len(f.Content))
	if f.Size > 0 {
		size = f.Size
	}
	state := &model.FileStateInfo{
		Path:        path,
		Exists:      true,
		IsFile:      !f.IsDirectory,
		IsDirectory: f.IsDirectory,
		Size:        size,
		ModTime:     f.ModTime,
		Readable:    !m.denyRead[path],
		Writable:    !m.denyWrite[path],
		Executable:  f.IsDirectory,
	}
	if state.IsFile && state.Readable {
		state.Checksum = SHA256Hex(f.Content)
	}
	return state, nil
}

func (m *MockFilesystemManager) Checksum(path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[path]
	if !ok {
		return "", fmt.Errorf("file not found: %s", path)
	}
	if f.IsDirectory {
		return "", fmt.Errorf("cannot checksum directory: %s", path)
	}
	return SHA256Hex(f.Content), nil
}

func (m *MockFilesystemManager) Readable(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.denyRead[path]
}

func (m *MockFilesystemManager) Writable(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.denyWrite[path]
}

func (m *MockFilesystemManager) Apply(op *model.FileOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.applyErr[op.EffectivePath()]; err != nil {
		return err
	}

	switch op.Type {
	case model.OpRead:
		if _, ok := m.files[op.SourcePath]; !ok {
			return fmt.Errorf("file not found: %s", op.SourcePath)
		}
		return nil
	case model.OpCreate:
		target := op.EffectivePath()
		if _, ok := m.files[target]; ok && op.Overwrite != nil && !*op.Overwrite {
			return fmt.Errorf("target already exists: %s", target)
		}
		isDir := op.Metadata["dir"] == "true"
		m.files[target] = &MockFile{Content: op.Content, Mode: 0644, ModTime: time.Now(), IsDirectory: isDir}
		return nil
	case model.OpUpdate:
		f, ok := m.files[op.SourcePath]
		if !ok {
			return fmt.Errorf("file not found: %s", op.SourcePath)
		}
		f.Content = op.Content
		f.ModTime = time.Now()
		return nil
	case model.OpDelete:
		if _, ok := m.files[op.SourcePath]; !ok {
			return fmt.Errorf("file not found: %s", op.SourcePath)
		}
		delete(m.files, op.SourcePath)
		if op.Metadata["recursive"] == "true" {
			prefix := op.SourcePath + "/"
			for p := range m.files {
				if strings.HasPrefix(p, prefix) {
					delete(m.files, p)
				}
			}
		}
		return nil
	case model.OpMove:
		f, ok := m.files[op.SourcePath]
		if !ok {
			return fmt.Errorf("file not found: %s", op.SourcePath)
		}
		delete(m.files, op.SourcePath)
		m.files[op.TargetPath] = f
		return nil
	case model.OpCopy:
		f, ok := m.files[op.SourcePath]
		if !ok {
			return fmt.Errorf("file not found: %s", op.SourcePath)
		}
		cp := *f
		cp.Content = append([]byte(nil), f.Content...)
		m.files[op.TargetPath] = &cp
		return nil
	default:
		return fmt.Errorf("unknown operation type: %s", op.Type)
	}
}

func (m *MockFilesystemManager) DeleteFile(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[path]; !ok {
		return fmt.Errorf("file not found: %s", path)
	}
	delete(m.files, path)
	return nil
}

func (m *MockFilesystemManager) MoveFile(source, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[source]
	if !ok {
		return fmt.Errorf("file not found: %s", source)
	}
	delete(m.files, source)
	m.files[target] = f
	return nil
}

func (m *MockFilesystemManager) RestoreMetadata(path string, mode uint32, modTime time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[path]
	if !ok {
		return fmt.Errorf("file not found: %s", path)
	}
	f.Mode = fs.FileMode(mode)
	f.ModTime = modTime
	return nil
}

var _ safety.FilesystemManager = (*MockFilesystemManager)(nil)
