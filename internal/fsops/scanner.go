package fsops

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"filesafe/internal/safety"
)

// FileMetadata describes a scanned file.
type FileMetadata struct {
	Name      string
	Path      string
	Size      int64
	Modified  time.Time
	Extension string
	MIMEType  string
	Checksum  string

	Readable   bool
	Writable   bool
	Executable bool
}

// ScanResult is the outcome of scanning a directory tree.
type ScanResult struct {
	Files          []FileMetadata
	Directories    []string
	TotalSize      int64
	FileCount      int
	DirectoryCount int
	Duration       time.Duration
}

// DefaultScanDepth bounds recursion when the caller does not set a depth.
const DefaultScanDepth = 10

// Scanner walks directory trees collecting per-file metadata. Unreadable
// entries are logged and skipped rather than aborting the scan.
type Scanner struct {
	fsmgr    *OSFilesystemManager
	logger   safety.Logger
	maxDepth int

	// WithChecksums makes the scanner hash every file it visits. Off by
	// default: hashing large trees is expensive and most callers only need
	// shape and size.
	WithChecksums bool
}

// NewScanner creates a Scanner with the default depth bound.
func NewScanner(fsmgr *OSFilesystemManager, logger safety.Logger) *Scanner {
	return &Scanner{fsmgr: fsmgr, logger: logger, maxDepth: DefaultScanDepth}
}

// ScanDirectory walks the tree rooted at path, to the configured depth.
func (s *Scanner) ScanDirectory(path string) (*ScanResult, error) {
	start := time.Now()

	root, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", root)
	}

	result := &ScanResult{}

	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			s.logger.Warn("scan: skipping entry", "path", p, "error", walkErr)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if depth(root, p) > s.maxDepth {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if p != root {
				result.Directories = append(result.Directories, p)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		meta, err := s.fileMetadata(p, d)
		if err != nil {
			s.logger.Warn("scan: skipping file", "path", p, "error", err)
			return nil
		}
		result.TotalSize += meta.Size
		result.Files = append(result.Files, *meta)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	result.FileCount = len(result.Files)
	result.DirectoryCount = len(result.Directories)
	result.Duration = time.Since(start)
	return result, nil
}

func (s *Scanner) fileMetadata(path string, d fs.DirEntry) (*FileMetadata, error) {
	info, err := d.Info()
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}

	meta := &FileMetadata{
		Name:       d.Name(),
		Path:       path,
		Size:       info.Size(),
		Modified:   info.ModTime(),
		Extension:  strings.TrimPrefix(filepath.Ext(path), "."),
		Readable:   s.fsmgr.Readable(path),
		Writable:   s.fsmgr.Writable(path),
		Executable: s.fsmgr.Executable(path),
	}

	if meta.Readable {
		if mt, err := mimetype.DetectFile(path); err == nil {
			meta.MIMEType = mt.String()
		}
		if s.WithChecksums {
			sum, err := s.fsmgr.Checksum(path)
			if err != nil {
				return nil, fmt.Errorf("checksum: %w", err)
			}
			meta.Checksum = sum
		}
	}

	return meta, nil
}

// depth counts path separators between root and p.
func depth(root, p string) int {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}
