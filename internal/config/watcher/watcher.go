// Package watcher provides file watching for configuration live reload.
//
// Settings files are watched through their parent directory so that files
// which do not exist yet are picked up when they are created. When a parent
// directory is missing too, the nearest existing ancestor is watched and the
// chain is re-armed as directories appear.
package watcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrWatcherClosed is returned when operating on a closed watcher.
var ErrWatcherClosed = errors.New("watcher is closed")

// Event represents a file change event.
type Event struct {
	// Path is the absolute path to the changed file.
	Path string

	// Op is the combined set of operations seen during the debounce window.
	Op Operation

	// Time is when the last operation was observed.
	Time time.Time
}

// Operation is a bit set of file operations.
type Operation uint8

const (
	// OpWrite indicates the file was modified.
	OpWrite Operation = 1 << iota

	// OpCreate indicates a new file was created.
	OpCreate

	// OpRemove indicates the file was deleted.
	OpRemove

	// OpRename indicates the file was renamed.
	OpRename
)

// Has reports whether op contains other.
func (op Operation) Has(other Operation) bool {
	return op&other != 0
}

// String returns the operation names joined by '|'.
func (op Operation) String() string {
	var names []string
	if op.Has(OpWrite) {
		names = append(names, "write")
	}
	if op.Has(OpCreate) {
		names = append(names, "create")
	}
	if op.Has(OpRemove) {
		names = append(names, "remove")
	}
	if op.Has(OpRename) {
		names = append(names, "rename")
	}
	if len(names) == 0 {
		return "unknown"
	}
	return strings.Join(names, "|")
}

// Handler is called when a watched file changes.
type Handler func(event Event)

// Watcher monitors settings files for changes.
type Watcher struct {
	mu sync.Mutex

	fsw *fsnotify.Watcher

	// Watched files with reference counts.
	files map[string]int

	// Directories registered with fsnotify.
	dirs map[string]bool

	handlers []Handler
	debounce time.Duration
	pending  map[string]*pendingEvent

	errorHandler func(error)

	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

type pendingEvent struct {
	event Event
	timer *time.Timer
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the debounce duration for rapid changes.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d >= 0 {
			w.debounce = d
		}
	}
}

// WithErrorHandler sets a callback for errors reported by the OS watcher.
func WithErrorHandler(fn func(error)) Option {
	return func(w *Watcher) {
		w.errorHandler = fn
	}
}

// New creates a file watcher and starts its event loop.
func New(opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	w := &Watcher{
		fsw:      fsw,
		files:    make(map[string]int),
		dirs:     make(map[string]bool),
		debounce: 100 * time.Millisecond,
		pending:  make(map[string]*pendingEvent),
		closeCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	w.wg.Add(1)
	go w.loop()

	return w, nil
}

// Watch adds a file to the watch list. The file does not need to exist.
// Watching the same path twice requires two calls to Unwatch.
func (w *Watcher) Watch(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}

	w.files[absPath]++
	if w.files[absPath] > 1 {
		return nil
	}
	if err := w.armLocked(filepath.Dir(absPath)); err != nil {
		w.files[absPath]--
		if w.files[absPath] == 0 {
			delete(w.files, absPath)
		}
		return err
	}
	return nil
}

// Unwatch removes one reference to a file.
func (w *Watcher) Unwatch(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}

	n, ok := w.files[absPath]
	if !ok {
		return nil
	}
	if n > 1 {
		w.files[absPath] = n - 1
		return nil
	}
	delete(w.files, absPath)
	if p, ok := w.pending[absPath]; ok {
		p.timer.Stop()
		delete(w.pending, absPath)
	}
	w.pruneLocked()
	return nil
}

// OnChange registers a handler for file changes.
func (w *Watcher) OnChange(handler Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// WatchedFiles returns the watched file paths, sorted.
func (w *Watcher) WatchedFiles() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	files := make([]string, 0, len(w.files))
	for f := range w.files {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// Flush fires all pending events immediately.
func (w *Watcher) Flush() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for path, p := range w.pending {
		p.timer.Stop()
		paths = append(paths, path)
	}
	w.mu.Unlock()

	sort.Strings(paths)
	for _, path := range paths {
		w.fire(path)
	}
}

// Close stops the watcher. Pending events are discarded.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

// armLocked registers the nearest existing ancestor of dir.
func (w *Watcher) armLocked(dir string) error {
	target := dir
	for {
		info, err := os.Stat(target)
		if err == nil && info.IsDir() {
			break
		}
		parent := filepath.Dir(target)
		if parent == target {
			return fmt.Errorf("no existing ancestor for %s", dir)
		}
		target = parent
	}

	if w.dirs[target] {
		return nil
	}
	if err := w.fsw.Add(target); err != nil {
		return fmt.Errorf("watching %s: %w", target, err)
	}
	w.dirs[target] = true
	return nil
}

// pruneLocked drops directory watches no watched file depends on.
func (w *Watcher) pruneLocked() {
	for dir := range w.dirs {
		if w.neededLocked(dir) {
			continue
		}
		_ = w.fsw.Remove(dir)
		delete(w.dirs, dir)
	}
}

func (w *Watcher) neededLocked(dir string) bool {
	for f := range w.files {
		if isAncestor(dir, filepath.Dir(f)) {
			return true
		}
	}
	return false
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.mu.Lock()
			fn := w.errorHandler
			w.mu.Unlock()
			if fn != nil {
				fn(err)
			}
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	op := convertOp(ev.Op)
	if op == 0 {
		return
	}
	path := filepath.Clean(ev.Name)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}

	// A directory on the way to a watched file appeared or vanished.
	if op.Has(OpCreate) || op.Has(OpRemove) || op.Has(OpRename) {
		w.rearmLocked()
	}

	if _, ok := w.files[path]; ok {
		w.queueLocked(Event{Path: path, Op: op, Time: time.Now()})
		return
	}

	// A whole directory was created at once, e.g. by an atomic rename or
	// mkdir -p followed by a write before the new watch was armed.
	if op.Has(OpCreate) {
		for f := range w.files {
			if isAncestor(path, f) && path != f {
				if _, err := os.Stat(f); err == nil {
					w.queueLocked(Event{Path: f, Op: OpCreate, Time: time.Now()})
				}
			}
		}
	}
}

func (w *Watcher) rearmLocked() {
	for f := range w.files {
		_ = w.armLocked(filepath.Dir(f))
	}
	for dir := range w.dirs {
		if _, err := os.Stat(dir); err != nil {
			_ = w.fsw.Remove(dir)
			delete(w.dirs, dir)
		}
	}
	w.pruneLocked()
}

func (w *Watcher) queueLocked(event Event) {
	if p, ok := w.pending[event.Path]; ok {
		p.event.Op |= event.Op
		p.event.Time = event.Time
		p.timer.Reset(w.debounce)
		return
	}

	path := event.Path
	w.pending[path] = &pendingEvent{
		event: event,
		timer: time.AfterFunc(w.debounce, func() { w.fire(path) }),
	}
}

func (w *Watcher) fire(path string) {
	w.mu.Lock()
	p, ok := w.pending[path]
	if !ok || w.closed {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	handlers := make([]Handler, len(w.handlers))
	copy(handlers, w.handlers)
	w.mu.Unlock()

	for _, h := range handlers {
		safeCall(h, p.event)
	}
}

func safeCall(h Handler, event Event) {
	defer func() {
		_ = recover()
	}()
	h(event)
}

func convertOp(fsOp fsnotify.Op) Operation {
	var op Operation
	if fsOp.Has(fsnotify.Create) {
		op |= OpCreate
	}
	if fsOp.Has(fsnotify.Write) {
		op |= OpWrite
	}
	if fsOp.Has(fsnotify.Remove) {
		op |= OpRemove
	}
	if fsOp.Has(fsnotify.Rename) {
		op |= OpRename
	}
	return op
}

func isAncestor(parent, child string) bool {
	if parent == child {
		return true
	}
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
