// Package monitor watches directories for filesystem changes, caches file
// state snapshots, and detects conflicts between proposed operations and the
// live filesystem.
package monitor

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"filesafe/internal/model"
	"filesafe/internal/safety"
)

// Defaults for Options fields left unset.
const (
	DefaultDebounceWindow = 100 * time.Millisecond
	DefaultCacheTTL       = 30 * time.Second
	DefaultCacheCapacity  = 500
	DefaultRestartDelay   = time.Second
)

// Options configures a Monitor. Zero fields use the defaults above.
type Options struct {
	// DebounceWindow coalesces change bursts on one path into a single
	// notification.
	DebounceWindow time.Duration

	// CacheTTL and CacheCapacity bound the file-state cache.
	CacheTTL      time.Duration
	CacheCapacity int

	// RestartDelay is how long to wait before reattaching a failed watcher.
	RestartDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = DefaultDebounceWindow
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = DefaultCacheTTL
	}
	if o.CacheCapacity <= 0 {
		o.CacheCapacity = DefaultCacheCapacity
	}
	if o.RestartDelay <= 0 {
		o.RestartDelay = DefaultRestartDelay
	}
	return o
}

// SafetyEvent aggregates the conflicts of one detection pass, carrying the
// worst severity present.
type SafetyEvent struct {
	Conflicts  []*model.FileConflict
	Severity   model.ConflictSeverity
	DetectedAt time.Time
}

// Monitor owns the watchers, the state cache and the subscription
// registries. Monitoring degrades but never silently dies: watcher failures
// are emitted as typed errors and the watcher is restarted after a delay.
type Monitor struct {
	fsmgr  safety.FilesystemManager
	logger safety.Logger
	clock  safety.Clock
	idgen  safety.IDGenerator
	opts   Options
	cache  *stateCache

	mu         sync.Mutex
	watchers   map[string]*fsnotify.Watcher // root -> watcher
	debounce   map[string]*time.Timer
	restarts   map[string]*time.Timer
	changeSubs map[int]func(path string)
	errorSubs  map[int]func(err error)
	safetySubs map[int]func(ev SafetyEvent)
	nextSubID  int
	running    bool
}

var _ safety.ConflictDetector = (*Monitor)(nil)

// New creates a Monitor. Watching starts only after Start is called;
// CaptureState and DetectConflicts work without any watcher attached.
func New(fsmgr safety.FilesystemManager, logger safety.Logger, clock safety.Clock, idgen safety.IDGenerator, opts Options) *Monitor {
	opts = opts.withDefaults()
	return &Monitor{
		fsmgr:      fsmgr,
		logger:     logger,
		clock:      clock,
		idgen:      idgen,
		opts:       opts,
		cache:      newStateCache(opts.CacheTTL, opts.CacheCapacity, clock),
		watchers:   make(map[string]*fsnotify.Watcher),
		debounce:   make(map[string]*time.Timer),
		restarts:   make(map[string]*time.Timer),
		changeSubs: make(map[int]func(string)),
		errorSubs:  make(map[int]func(error)),
		safetySubs: make(map[int]func(SafetyEvent)),
	}
}

// Start attaches one recursive watcher per path. Every path is resolved to
// absolute form and must exist.
func (m *Monitor) Start(paths []string) error {
	m.mu.Lock()
	m.running = true
	m.mu.Unlock()

	for _, path := range paths {
		root, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", path, err)
		}
		info, err := os.Stat(root)
		if err != nil {
			return fmt.Errorf("stat %s: %w", root, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("not a directory: %s", root)
		}
		if err := m.attachWatcher(root); err != nil {
			return err
		}
	}
	return nil
}

// Stop closes every watcher and cancels pending debounce and restart timers.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.running = false
	for root, w := range m.watchers {
		w.Close()
		delete(m.watchers, root)
	}
	for path, t := range m.debounce {
		t.Stop()
		delete(m.debounce, path)
	}
	for root, t := range m.restarts {
		t.Stop()
		delete(m.restarts, root)
	}
}

// CacheSize returns the number of cached file states.
func (m *Monitor) CacheSize() int { return m.cache.size() }

// CaptureState returns the state of a path, cache-first. Missing files
// produce a well-formed "does not exist" state rather than an error.
func (m *Monitor) CaptureState(path string) (*model.FileStateInfo, error) {
	if state, ok := m.cache.get(path); ok {
		return state, nil
	}
	state, err := m.fsmgr.CaptureState(path)
	if err != nil {
		return nil, err
	}
	m.cache.put(path, state)
	return state, nil
}

// OnFileChanged registers a callback for debounced per-path change
// notifications. The returned func unsubscribes.
func (m *Monitor) OnFileChanged(cb func(path string)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.changeSubs[id] = cb
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.changeSubs, id)
	}
}

// OnError registers a callback for watcher errors.
func (m *Monitor) OnError(cb func(err error)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.errorSubs[id] = cb
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.errorSubs, id)
	}
}

// OnSafetyEvent registers a callback for aggregated conflict notifications.
func (m *Monitor) OnSafetyEvent(cb func(ev SafetyEvent)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.safetySubs[id] = cb
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.safetySubs, id)
	}
}

// attachWatcher creates an fsnotify watcher for root and all directories
// below it, and starts the event loop. fsnotify watches are not recursive,
// so the tree is walked and new directories are attached as they appear.
// A root that is already watched is left alone.
func (m *Monitor) attachWatcher(root string) error {
	m.mu.Lock()
	_, attached := m.watchers[root]
	m.mu.Unlock()
	if attached {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher for %s: %w", root, err)
	}

	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil // transient entries disappear mid-walk; skip
		}
		if d.IsDir() {
			if err := w.Add(p); err != nil {
				m.logger.Warn("watch add failed", "path", p, "error", err)
			}
		}
		return nil
	})
	if err != nil {
		w.Close()
		return fmt.Errorf("walking %s: %w", root, err)
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		w.Close()
		return nil
	}
	// Another Start or a restart may have attached root while the walk ran.
	if _, ok := m.watchers[root]; ok {
		m.mu.Unlock()
		w.Close()
		return nil
	}
	m.watchers[root] = w
	m.mu.Unlock()

	go m.watchLoop(root, w)
	m.logger.Debug("watcher attached", "root", root)
	return nil
}

// watchLoop consumes watcher events until the watcher closes. A watcher
// error is converted into a typed error, emitted, and triggers an automatic
// restart after the configured delay.
func (m *Monitor) watchLoop(root string, w *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			m.handleEvent(root, ev)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			m.emitError(safety.WrapError(safety.CodeOperationFailed, err, "watcher on %s", root))
			m.scheduleRestart(root, w)
			return
		}
	}
}

func (m *Monitor) handleEvent(root string, ev fsnotify.Event) {
	// New directories under a watched root join the watch set.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			m.mu.Lock()
			w, ok := m.watchers[root]
			m.mu.Unlock()
			if ok {
				if err := w.Add(ev.Name); err != nil {
					m.logger.Warn("watch add failed", "path", ev.Name, "error", err)
				}
			}
		}
	}
	m.debouncePath(ev.Name)
}

// debouncePath coalesces change bursts within the debounce window: each new
// event on a path resets its timer, and only the final event fans out.
func (m *Monitor) debouncePath(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if timer, ok := m.debounce[path]; ok {
		timer.Reset(m.opts.DebounceWindow)
		return
	}
	m.debounce[path] = time.AfterFunc(m.opts.DebounceWindow, func() {
		m.mu.Lock()
		delete(m.debounce, path)
		subs := make([]func(string), 0, len(m.changeSubs))
		for _, cb := range m.changeSubs {
			subs = append(subs, cb)
		}
		m.mu.Unlock()

		m.cache.invalidate(path)
		for _, cb := range subs {
			cb(path)
		}
	})
}

// scheduleRestart re-attaches a watcher after the restart delay, unless the
// monitor has been stopped meanwhile.
func (m *Monitor) scheduleRestart(root string, failed *fsnotify.Watcher) {
	failed.Close()

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watchers, root)
	if !m.running {
		return
	}
	m.restarts[root] = time.AfterFunc(m.opts.RestartDelay, func() {
		m.mu.Lock()
		delete(m.restarts, root)
		running := m.running
		m.mu.Unlock()
		if !running {
			return
		}
		if err := m.attachWatcher(root); err != nil {
			m.emitError(safety.WrapError(safety.CodeOperationFailed, err, "restarting watcher on %s", root))
		} else {
			m.logger.Info("watcher restarted", "root", root)
		}
	})
}

func (m *Monitor) emitError(err error) {
	m.mu.Lock()
	subs := make([]func(error), 0, len(m.errorSubs))
	for _, cb := range m.errorSubs {
		subs = append(subs, cb)
	}
	m.mu.Unlock()

	m.logger.Error("monitor error", "error", err)
	for _, cb := range subs {
		cb(err)
	}
}

func (m *Monitor) emitSafetyEvent(conflicts []*model.FileConflict) {
	ev := SafetyEvent{
		Conflicts:  conflicts,
		Severity:   model.WorstSeverity(conflicts),
		DetectedAt: m.clock.Now(),
	}

	m.mu.Lock()
	subs := make([]func(SafetyEvent), 0, len(m.safetySubs))
	for _, cb := range m.safetySubs {
		subs = append(subs, cb)
	}
	m.mu.Unlock()

	for _, cb := range subs {
		cb(ev)
	}
}
