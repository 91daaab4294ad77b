package monitor_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"filesafe/internal/model"
	"filesafe/internal/monitor"
	"filesafe/internal/testutil"
)

func TestCaptureStateUsesCache(t *testing.T) {
	fsmgr := testutil.NewMockFilesystemManager()
	fsmgr.AddFile("/data/a.txt", []byte("hello"))
	m, clock := newTestMonitor(t, fsmgr, monitor.Options{CacheTTL: 30 * time.Second})

	first, err := m.CaptureState("/data/a.txt")
	if err != nil {
		t.Fatalf("CaptureState() error = %v", err)
	}
	second, err := m.CaptureState("/data/a.txt")
	if err != nil {
		t.Fatalf("CaptureState() error = %v", err)
	}
	if fsmgr.CaptureCalls != 1 {
		t.Errorf("filesystem probes = %d, want 1", fsmgr.CaptureCalls)
	}
	if first.Checksum != second.Checksum || second.Size != 5 {
		t.Errorf("cached state mismatch: first=%+v second=%+v", first, second)
	}

	// Past the TTL the entry is stale and the filesystem is probed again.
	clock.Advance(31 * time.Second)
	if _, err := m.CaptureState("/data/a.txt"); err != nil {
		t.Fatalf("CaptureState() error = %v", err)
	}
	if fsmgr.CaptureCalls != 2 {
		t.Errorf("filesystem probes after TTL = %d, want 2", fsmgr.CaptureCalls)
	}
}

func TestCaptureStateEvictsOldestAtCapacity(t *testing.T) {
	fsmgr := testutil.NewMockFilesystemManager()
	fsmgr.AddFile("/data/a.txt", []byte("a"))
	fsmgr.AddFile("/data/b.txt", []byte("b"))
	fsmgr.AddFile("/data/c.txt", []byte("c"))
	m, clock := newTestMonitor(t, fsmgr, monitor.Options{CacheCapacity: 2})

	m.CaptureState("/data/a.txt")
	clock.Advance(time.Second)
	m.CaptureState("/data/b.txt")
	clock.Advance(time.Second)
	m.CaptureState("/data/c.txt")

	if got := m.CacheSize(); got != 2 {
		t.Errorf("CacheSize() = %d, want 2", got)
	}

	// a was the oldest entry, so reading it again probes the filesystem.
	probes := fsmgr.CaptureCalls
	m.CaptureState("/data/a.txt")
	if fsmgr.CaptureCalls != probes+1 {
		t.Errorf("filesystem probes = %d, want %d", fsmgr.CaptureCalls, probes+1)
	}
}

func TestStartRejectsBadPaths(t *testing.T) {
	fsmgr := testutil.NewMockFilesystemManager()

	t.Run("missing path", func(t *testing.T) {
		m, _ := newTestMonitor(t, fsmgr, monitor.Options{})
		if err := m.Start([]string{filepath.Join(t.TempDir(), "nope")}); err == nil {
			t.Fatal("Start() accepted a missing path")
		}
	})

	t.Run("regular file", func(t *testing.T) {
		m, _ := newTestMonitor(t, fsmgr, monitor.Options{})
		file := filepath.Join(t.TempDir(), "plain.txt")
		if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := m.Start([]string{file}); err == nil {
			t.Fatal("Start() accepted a regular file")
		}
	})
}

func TestStartTwiceKeepsSingleWatcher(t *testing.T) {
	dir := t.TempDir()
	fsmgr := testutil.NewMockFilesystemManager()
	m, _ := newTestMonitor(t, fsmgr, monitor.Options{DebounceWindow: 20 * time.Millisecond})

	notify := make(chan string, 16)
	unsub := m.OnFileChanged(func(path string) { notify <- path })
	defer unsub()

	if err := m.Start([]string{dir}); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	// The second Start must not replace the live watcher for the same root.
	if err := m.Start([]string{dir}); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	target := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case got := <-notify:
			if got == target {
				return
			}
		case <-deadline:
			t.Fatal("no change notification within 3s")
		}
	}
}

func TestWatchDebouncesChangeBursts(t *testing.T) {
	dir := t.TempDir()
	fsmgr := testutil.NewMockFilesystemManager()
	m, _ := newTestMonitor(t, fsmgr, monitor.Options{DebounceWindow: 50 * time.Millisecond})

	var mu sync.Mutex
	changed := make(map[string]int)
	notify := make(chan string, 16)
	unsub := m.OnFileChanged(func(path string) {
		mu.Lock()
		changed[path]++
		mu.Unlock()
		notify <- path
	})
	defer unsub()

	if err := m.Start([]string{dir}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	target := filepath.Join(dir, "burst.txt")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(target, []byte("rev"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case got := <-notify:
		if got != target {
			t.Fatalf("notified path = %s, want %s", got, target)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no change notification within 3s")
	}

	// Let any straggling timers fire, then confirm the burst collapsed into
	// few notifications rather than one per write.
	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	count := changed[target]
	mu.Unlock()
	if count >= 5 {
		t.Errorf("notifications = %d, want fewer than the 5 raw writes", count)
	}
}

func TestChangeNotificationInvalidatesCache(t *testing.T) {
	dir := t.TempDir()
	fsmgr := testutil.NewMockFilesystemManager()
	m, _ := newTestMonitor(t, fsmgr, monitor.Options{DebounceWindow: 20 * time.Millisecond})

	notify := make(chan string, 16)
	unsub := m.OnFileChanged(func(path string) { notify <- path })
	defer unsub()

	if err := m.Start([]string{dir}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	target := filepath.Join(dir, "a.txt")
	if _, err := m.CaptureState(target); err != nil {
		t.Fatalf("CaptureState() error = %v", err)
	}
	probes := fsmgr.CaptureCalls

	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(3 * time.Second)
	for {
		select {
		case got := <-notify:
			if got != target {
				continue
			}
		case <-deadline:
			t.Fatal("no change notification within 3s")
		}
		break
	}

	// The change dropped the cached entry, so the next probe hits the
	// filesystem manager again.
	if _, err := m.CaptureState(target); err != nil {
		t.Fatalf("CaptureState() error = %v", err)
	}
	if fsmgr.CaptureCalls != probes+1 {
		t.Errorf("filesystem probes = %d, want %d", fsmgr.CaptureCalls, probes+1)
	}
}

func TestWatchPicksUpNewSubdirectories(t *testing.T) {
	dir := t.TempDir()
	fsmgr := testutil.NewMockFilesystemManager()
	m, _ := newTestMonitor(t, fsmgr, monitor.Options{DebounceWindow: 20 * time.Millisecond})

	notify := make(chan string, 16)
	unsub := m.OnFileChanged(func(path string) { notify <- path })
	defer unsub()

	if err := m.Start([]string{dir}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	// Give the watcher a beat to pick up the new directory.
	time.Sleep(200 * time.Millisecond)

	inner := filepath.Join(sub, "inner.txt")
	if err := os.WriteFile(inner, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case got := <-notify:
			if got == inner {
				return
			}
		case <-deadline:
			t.Fatalf("no notification for %s within 3s", inner)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	fsmgr := testutil.NewMockFilesystemManager()
	fsmgr.AddFile("/data/b.txt", []byte("y"))
	m, _ := newTestMonitor(t, fsmgr, monitor.Options{})

	calls := 0
	unsub := m.OnSafetyEvent(func(monitor.SafetyEvent) { calls++ })
	unsub()

	m.DetectConflicts(&model.FileOperation{Type: model.OpCreate, TargetPath: "/data/b.txt"})
	if calls != 0 {
		t.Errorf("callbacks after unsubscribe = %d, want 0", calls)
	}
}
