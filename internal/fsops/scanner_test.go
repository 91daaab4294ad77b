package fsops_test

import (
	"os"
	"path/filepath"
	"testing"

	"filesafe/internal/fsops"
	"filesafe/internal/safety"
)

func buildTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("readme.md", "# notes\n")
	write("photos/cat.jpg", "\xff\xd8\xff\xe0 not really a jpeg")
	write("docs/work/report.txt", "quarterly numbers")
	return root
}

func TestScanDirectory(t *testing.T) {
	scanner := fsops.NewScanner(fsops.NewOSFilesystemManager(), safety.NewNopLogger())
	root := buildTree(t)

	result, err := scanner.ScanDirectory(root)
	if err != nil {
		t.Fatalf("ScanDirectory() error = %v", err)
	}

	if result.FileCount != 3 {
		t.Errorf("FileCount = %d, want 3", result.FileCount)
	}
	if result.DirectoryCount != 3 { // photos, docs, docs/work
		t.Errorf("DirectoryCount = %d, want 3", result.DirectoryCount)
	}
	if result.TotalSize == 0 {
		t.Error("TotalSize = 0")
	}

	byName := make(map[string]fsops.FileMetadata)
	for _, f := range result.Files {
		byName[f.Name] = f
	}
	readme, ok := byName["readme.md"]
	if !ok {
		t.Fatal("readme.md not scanned")
	}
	if readme.Extension != "md" {
		t.Errorf("Extension = %q, want md", readme.Extension)
	}
	if readme.MIMEType == "" {
		t.Error("MIMEType empty for a readable file")
	}
	if readme.Checksum != "" {
		t.Error("Checksum set without WithChecksums")
	}
}

func TestScanDirectoryWithChecksums(t *testing.T) {
	scanner := fsops.NewScanner(fsops.NewOSFilesystemManager(), safety.NewNopLogger())
	scanner.WithChecksums = true
	root := buildTree(t)

	result, err := scanner.ScanDirectory(root)
	if err != nil {
		t.Fatalf("ScanDirectory() error = %v", err)
	}
	for _, f := range result.Files {
		if f.Checksum == "" {
			t.Errorf("no checksum for %s", f.Path)
		}
	}
}

func TestScanDirectoryRejectsFiles(t *testing.T) {
	scanner := fsops.NewScanner(fsops.NewOSFilesystemManager(), safety.NewNopLogger())

	file := filepath.Join(t.TempDir(), "plain.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := scanner.ScanDirectory(file); err == nil {
		t.Error("ScanDirectory() accepted a regular file")
	}
	if _, err := scanner.ScanDirectory(filepath.Join(file, "nope")); err == nil {
		t.Error("ScanDirectory() accepted a missing path")
	}
}
