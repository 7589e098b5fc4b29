// Package service implements WorkspaceService, the orchestrator that owns
// the configuration sources, the workspace, and the aggregate built from
// them.
//
// Mutations are serialized by one lock. Events raised during a mutation are
// queued and fire after the lock is released, so listeners always observe
// the state the event describes and may call back into the service.
package service

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dshills/layerconf/internal/config/aggregate"
	"github.com/dshills/layerconf/internal/config/cache"
	"github.com/dshills/layerconf/internal/config/editing"
	"github.com/dshills/layerconf/internal/config/model"
	"github.com/dshills/layerconf/internal/config/notify"
	"github.com/dshills/layerconf/internal/config/registry"
	"github.com/dshills/layerconf/internal/config/source"
	"github.com/dshills/layerconf/internal/config/watcher"
	"github.com/dshills/layerconf/internal/logging"
	"github.com/dshills/layerconf/internal/project/vfs"
	"github.com/dshills/layerconf/internal/project/workspace"
)

// State is the lifecycle state of the service.
type State int32

// Lifecycle states.
const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// FolderPolicy decides what happens to a folder to add that is not a
// directory.
type FolderPolicy int

// Folder policies.
const (
	// DropInvalidFolders skips such folders silently.
	DropInvalidFolders FolderPolicy = iota

	// StrictFolders fails the update with ErrNotADirectory.
	StrictFolders
)

// WriteBackend persists configuration writes and workspace folder lists.
// *editing.ConfigurationEditor satisfies it.
type WriteBackend interface {
	WriteConfiguration(ctx context.Context, target editing.Target, key string, value any, overrides model.Overrides) error
	SetFolders(ctx context.Context, workspaceFile string, folders []workspace.StoredFolder) error
}

// Options configures a WorkspaceService.
type Options struct {
	FS       vfs.VFS
	Registry *registry.Registry
	Logger   logging.Logger

	// UserSettingsPath is the local user settings file.
	UserSettingsPath string

	// RemoteAuthority enables the remote user layer, read from
	// RemoteSettingsPath.
	RemoteAuthority    string
	RemoteSettingsPath string

	// Cache backs the remote user and workspace layers. It may be nil.
	Cache cache.Cache

	// Watcher, when set, reloads sources whose files change.
	Watcher *watcher.Watcher

	// Trusted is the initial workspace trust.
	Trusted bool

	FolderPolicy FolderPolicy

	// StrictOverrides drops unregistered keys inside override sections.
	StrictOverrides bool
}

type folderEntry struct {
	source *source.Folder
	sub    *notify.Subscription
}

// WorkspaceService resolves configuration for a workspace and keeps it in
// sync with the files it was read from.
type WorkspaceService struct {
	fs       vfs.VFS
	registry *registry.Registry
	logger   logging.Logger
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	state  atomic.Int32

	// mu serializes mutations of everything below.
	mu              sync.Mutex
	workspace       *workspace.Workspace
	hasWorkspace    bool
	config          *aggregate.Configuration
	defaults        *source.Default
	localUser       *source.User
	remoteUser      *source.RemoteUser
	workspaceSource *source.Workspace
	workspaceSub    *notify.Subscription
	folders         map[string]*folderEntry
	trusted         bool
	initialized     bool
	subs            []*notify.Subscription

	restricted atomic.Pointer[RestrictedSettings]

	remoteLoaded *notify.Barrier
	complete     *notify.Barrier
	writeReady   *notify.Barrier
	backend      WriteBackend

	folderQueue *semaphore.Weighted

	onDidChangeConfiguration      *notify.Emitter[ChangeEvent]
	onWillChangeWorkspaceFolders  *notify.Emitter[WillChangeFoldersEvent]
	onDidChangeWorkspaceFolders   *notify.Emitter[workspace.FoldersChange]
	onDidChangeWorkbenchState     *notify.Emitter[workspace.WorkbenchState]
	onDidChangeWorkspaceName      *notify.Emitter[struct{}]
	onDidChangeRestrictedSettings *notify.Emitter[RestrictedSettings]
}

// New creates a service. It reads nothing until Initialize.
func New(opts Options) *WorkspaceService {
	if opts.FS == nil {
		opts.FS = vfs.NewOSFS()
	}
	if opts.Registry == nil {
		opts.Registry = registry.NewWithDefaults()
	}
	logger := logging.Component(opts.Logger, "service")

	ctx, cancel := context.WithCancel(context.Background())
	ws := workspace.New("", nil, "")

	s := &WorkspaceService{
		fs:       opts.FS,
		registry: opts.Registry,
		logger:   logger,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,

		workspace: ws,
		folders:   make(map[string]*folderEntry),
		trusted:   opts.Trusted,

		remoteLoaded: notify.NewBarrier(),
		complete:     notify.NewBarrier(),
		writeReady:   notify.NewBarrier(),
		folderQueue:  semaphore.NewWeighted(1),

		onDidChangeConfiguration:      notify.NewEmitter[ChangeEvent](),
		onWillChangeWorkspaceFolders:  notify.NewEmitter[WillChangeFoldersEvent](),
		onDidChangeWorkspaceFolders:   notify.NewEmitter[workspace.FoldersChange](),
		onDidChangeWorkbenchState:     notify.NewEmitter[workspace.WorkbenchState](),
		onDidChangeWorkspaceName:      notify.NewEmitter[struct{}](),
		onDidChangeRestrictedSettings: notify.NewEmitter[RestrictedSettings](),
	}

	srcOpts := s.sourceOptions()
	s.defaults = source.NewDefault(srcOpts)
	defaults, _ := s.defaults.Initialize(ctx)
	s.config = aggregate.New(defaults, ws)
	s.subs = append(s.subs, s.defaults.OnDidChange().Subscribe(func(u source.Update) {
		s.onDefaultChanged(u.Keys)
	}))

	var userScopes []registry.Scope
	if opts.RemoteAuthority != "" {
		userScopes = registry.LocalMachineScopes
	}
	s.localUser = source.NewUser(srcOpts, opts.UserSettingsPath, userScopes)
	s.subs = append(s.subs, s.localUser.OnDidChange().Subscribe(func(u source.Update) {
		s.onLocalUserChanged(u.Model)
	}))
	s.watch(s.localUser.FilePaths()...)

	if opts.RemoteAuthority != "" {
		s.remoteUser = source.NewRemoteUser(srcOpts, opts.RemoteSettingsPath, opts.RemoteAuthority, opts.Cache)
		s.subs = append(s.subs, s.remoteUser.OnDidChange().Subscribe(func(u source.Update) {
			s.onRemoteUserChanged(u.Model)
		}))
		s.watch(s.remoteUser.FilePaths()...)
	} else {
		s.remoteLoaded.Open()
	}

	if opts.Watcher != nil {
		opts.Watcher.OnChange(s.handleFileEvent)
	}
	return s
}

// AttachWriteBackend completes construction. Writes and folder updates
// wait until a backend is attached; reads never do. Only the first call
// has an effect.
func (s *WorkspaceService) AttachWriteBackend(backend WriteBackend) {
	s.mu.Lock()
	if s.backend == nil {
		s.backend = backend
	}
	s.mu.Unlock()
	s.writeReady.Open()
}

func (s *WorkspaceService) writeBackend(ctx context.Context) (WriteBackend, error) {
	if err := s.writeReady.Wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend, nil
}

// State returns the lifecycle state.
func (s *WorkspaceService) State() State {
	return State(s.state.Load())
}

// Initialize opens the workspace named by id and loads every layer. It may
// be called again to switch workspaces.
func (s *WorkspaceService) Initialize(ctx context.Context, id workspace.Identifier) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing))

	err := s.locked(func(q *eventQueue) error {
		return s.initializeLocked(ctx, id, q)
	})
	if err != nil {
		return err
	}
	s.state.Store(int32(StateReady))
	return nil
}

func (s *WorkspaceService) initializeLocked(ctx context.Context, id workspace.Identifier, q *eventQueue) error {
	ws, err := s.createWorkspace(ctx, id)
	if err != nil {
		return err
	}
	if err := s.updateWorkspaceAndInitializeConfiguration(ctx, ws, q); err != nil {
		return err
	}
	s.checkAndMarkWorkspaceComplete(ctx, false, q)
	return nil
}

func (s *WorkspaceService) createWorkspace(ctx context.Context, id workspace.Identifier) (*workspace.Workspace, error) {
	switch id := id.(type) {
	case workspace.MultiRootIdentifier:
		src := source.NewWorkspace(s.sourceOptions(), id.ConfigPath, id.ID, s.trusted, s.opts.Cache)
		if _, err := src.Initialize(ctx); err != nil {
			s.logger.Warn("workspace file not loaded", "path", id.ConfigPath, "error", err)
		}
		s.setWorkspaceSource(src)

		folders := workspace.ToFolders(src.Folders(), filepath.Dir(id.ConfigPath))
		ws := workspace.New(id.ID, folders, id.ConfigPath)
		ws.SetInitialized(src.Initialized())
		return ws, nil

	case workspace.SingleFolderIdentifier:
		s.setWorkspaceSource(nil)
		ws := workspace.New(id.ID, []workspace.Folder{workspace.NewFolder(id.Path, "", 0)}, "")
		ws.SetInitialized(true)
		return ws, nil

	case workspace.EmptyIdentifier:
		s.setWorkspaceSource(nil)
		ws := workspace.New(id.ID, nil, "")
		ws.SetInitialized(true)
		return ws, nil
	}
	return nil, ErrNoWorkspace
}

func (s *WorkspaceService) setWorkspaceSource(src *source.Workspace) {
	if s.workspaceSource != nil {
		s.workspaceSub.Unsubscribe()
		s.unwatch(s.workspaceSource.FilePaths()...)
		s.workspaceSource.Close()
		s.workspaceSource, s.workspaceSub = nil, nil
	}
	if src == nil {
		return
	}
	s.workspaceSource = src
	s.workspaceSub = src.OnDidChange().Subscribe(func(source.Update) {
		s.onWorkspaceFileChanged(src)
	})
	s.watch(src.FilePaths()...)
}

func (s *WorkspaceService) updateWorkspaceAndInitializeConfiguration(ctx context.Context, ws *workspace.Workspace, q *eventQueue) error {
	hadWorkspace := s.hasWorkspace
	previousState := s.workspace.State()
	previousPath := s.workspace.Configuration()
	previousFolders := s.workspace.Folders()

	s.workspace.Update(ws)
	s.hasWorkspace = true

	if err := s.initializeConfiguration(ctx, q); err != nil {
		return err
	}

	if !hadWorkspace {
		return nil
	}
	newState := s.workspace.State()
	if newState != previousState {
		q.add(func() { s.onDidChangeWorkbenchState.Fire(newState) })
	}
	if (previousPath != "" && s.workspace.Configuration() != previousPath) || newState != previousState {
		q.add(func() { s.onDidChangeWorkspaceName.Fire(struct{}{}) })
	}
	if changes := workspace.CompareFolders(previousFolders, s.workspace.Folders()); !changes.IsEmpty() {
		s.queueWillChangeFolders(q, changes, false)
		q.add(func() { s.onDidChangeWorkspaceFolders.Fire(changes) })
	}
	return nil
}

func (s *WorkspaceService) initializeConfiguration(ctx context.Context, q *eventQueue) error {
	var local, remote *model.Model
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := s.localUser.Initialize(gctx)
		local = m
		return ctxErr(gctx, err)
	})
	if s.remoteUser != nil {
		g.Go(func() error {
			m, err := s.remoteUser.Initialize(gctx)
			remote = m
			return ctxErr(gctx, err)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := s.loadConfiguration(ctx, local, remote, q); err != nil {
		return err
	}
	if s.remoteUser != nil {
		s.remoteLoaded.Open()
	}
	return nil
}

// ctxErr reports only cancellation. Sources log and absorb every other
// failure.
func ctxErr(ctx context.Context, _ error) error {
	return ctx.Err()
}

func (s *WorkspaceService) checkAndMarkWorkspaceComplete(ctx context.Context, fromCache bool, q *eventQueue) {
	if s.complete.IsOpen() || !s.workspace.Initialized() {
		return
	}
	s.complete.Open()
	s.validateWorkspaceFoldersAndReload(ctx, fromCache, q)
}

// WhenRemoteConfigurationLoaded blocks until the remote user layer has
// been loaded. It returns at once when no remote is configured.
func (s *WorkspaceService) WhenRemoteConfigurationLoaded(ctx context.Context) error {
	return s.remoteLoaded.Wait(ctx)
}

// GetCompleteWorkspace blocks until the workspace has been read and its
// folders validated, then returns it.
func (s *WorkspaceService) GetCompleteWorkspace(ctx context.Context) (*workspace.Workspace, error) {
	if err := s.complete.Wait(ctx); err != nil {
		return nil, err
	}
	return s.workspace, nil
}

// GetWorkspace returns the current workspace. The value is updated in
// place as folders change.
func (s *WorkspaceService) GetWorkspace() *workspace.Workspace {
	return s.workspace
}

// GetWorkbenchState returns the workbench state.
func (s *WorkspaceService) GetWorkbenchState() workspace.WorkbenchState {
	return s.workspace.State()
}

// GetWorkspaceFolder returns the folder that contains resource.
func (s *WorkspaceService) GetWorkspaceFolder(resource string) (workspace.Folder, bool) {
	return s.workspace.GetFolder(resource)
}

// IsInsideWorkspace reports whether resource lies inside a folder.
func (s *WorkspaceService) IsInsideWorkspace(resource string) bool {
	_, ok := s.workspace.GetFolder(resource)
	return ok
}

// IsCurrentWorkspace reports whether id names the open workspace or, in
// the single-folder state, the open folder.
func (s *WorkspaceService) IsCurrentWorkspace(id workspace.Identifier) bool {
	switch s.workspace.State() {
	case workspace.StateFolder:
		single, ok := id.(workspace.SingleFolderIdentifier)
		if !ok {
			return false
		}
		folders := s.workspace.Folders()
		return workspace.NewFolder(single.Path, "", 0).URI == folders[0].URI
	case workspace.StateWorkspace:
		multi, ok := id.(workspace.MultiRootIdentifier)
		return ok && multi.ID == s.workspace.ID()
	}
	return false
}

// GetValue resolves section. An empty section returns the whole tree.
func (s *WorkspaceService) GetValue(section string, overrides model.Overrides) any {
	return s.config.GetValue(section, overrides)
}

// Inspect returns the value of key in every layer.
func (s *WorkspaceService) Inspect(key string, overrides model.Overrides) aggregate.Inspection {
	return s.config.Inspect(key, overrides)
}

// Keys returns the keys each layer defines.
func (s *WorkspaceService) Keys() aggregate.LayerKeys {
	return s.config.Keys()
}

// ConfigurationData snapshots every layer.
func (s *WorkspaceService) ConfigurationData() aggregate.Data {
	return s.config.ToData()
}

// RestrictedSettings returns the restricted settings per layer.
func (s *WorkspaceService) RestrictedSettings() RestrictedSettings {
	if r := s.restricted.Load(); r != nil {
		return r.clone()
	}
	return RestrictedSettings{Default: sortedOrNil(s.registry.RestrictedKeys())}
}

// IsWorkspaceTrusted reports the current trust.
func (s *WorkspaceService) IsWorkspaceTrusted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trusted
}

// OnDidChangeConfiguration fires after resolved values changed.
func (s *WorkspaceService) OnDidChangeConfiguration() notify.Event[ChangeEvent] {
	return s.onDidChangeConfiguration
}

// OnWillChangeWorkspaceFolders fires before a folder change completes.
func (s *WorkspaceService) OnWillChangeWorkspaceFolders() notify.Event[WillChangeFoldersEvent] {
	return s.onWillChangeWorkspaceFolders
}

// OnDidChangeWorkspaceFolders fires after folders were added, removed,
// moved or renamed.
func (s *WorkspaceService) OnDidChangeWorkspaceFolders() notify.Event[workspace.FoldersChange] {
	return s.onDidChangeWorkspaceFolders
}

// OnDidChangeWorkbenchState fires with the new state.
func (s *WorkspaceService) OnDidChangeWorkbenchState() notify.Event[workspace.WorkbenchState] {
	return s.onDidChangeWorkbenchState
}

// OnDidChangeWorkspaceName fires when the workspace file or state changed.
func (s *WorkspaceService) OnDidChangeWorkspaceName() notify.Event[struct{}] {
	return s.onDidChangeWorkspaceName
}

// OnDidChangeRestrictedSettings fires when any layer's restricted set
// changed.
func (s *WorkspaceService) OnDidChangeRestrictedSettings() notify.Event[RestrictedSettings] {
	return s.onDidChangeRestrictedSettings
}

// Close releases sources and listeners. The watcher is not closed.
func (s *WorkspaceService) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()

	s.mu.Lock()
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
	for uri := range s.folders {
		s.disposeFolder(uri)
	}
	s.setWorkspaceSource(nil)
	s.unwatch(s.localUser.FilePaths()...)
	s.localUser.Close()
	if s.remoteUser != nil {
		s.unwatch(s.remoteUser.FilePaths()...)
		s.remoteUser.Close()
	}
	s.defaults.Close()
	s.mu.Unlock()

	s.onDidChangeConfiguration.Close()
	s.onWillChangeWorkspaceFolders.Close()
	s.onDidChangeWorkspaceFolders.Close()
	s.onDidChangeWorkbenchState.Close()
	s.onDidChangeWorkspaceName.Close()
	s.onDidChangeRestrictedSettings.Close()
	return nil
}

// locked runs fn under the mutation lock and fires the events it queued
// once the lock is released.
func (s *WorkspaceService) locked(fn func(q *eventQueue) error) error {
	var q eventQueue
	s.mu.Lock()
	err := fn(&q)
	s.mu.Unlock()
	q.flush()
	return err
}

// previous captures the state before a mutation. Callers hold s.mu.
func (s *WorkspaceService) previous() Previous {
	ws := workspace.New(s.workspace.ID(), s.workspace.Folders(), s.workspace.Configuration())
	ws.SetInitialized(s.workspace.Initialized())
	config := s.config.Snapshot()
	config.SetResolver(ws)
	return Previous{Workspace: ws, config: config}
}

// trigger queues OnDidChangeConfiguration when change has keys. Callers
// hold s.mu.
func (s *WorkspaceService) trigger(q *eventQueue, change model.Change, previous Previous, target Target) {
	if len(change.Keys) == 0 {
		return
	}
	s.queueChange(q, change, previous, target)
}

func (s *WorkspaceService) queueChange(q *eventQueue, change model.Change, previous Previous, target Target) {
	s.logger.Debug("configuration changed", "target", target, "keys", len(change.Keys))
	event := ChangeEvent{
		Change:       change,
		Source:       target,
		SourceConfig: s.targetConfiguration(target),
		Previous:     previous,
		current:      s.config.Snapshot(),
	}
	q.add(func() { s.onDidChangeConfiguration.Fire(event) })
}

func (s *WorkspaceService) targetConfiguration(target Target) map[string]any {
	switch target {
	case TargetDefault:
		return s.config.Defaults().Contents()
	case TargetUser:
		return s.config.User().Contents()
	case TargetWorkspace:
		return s.config.Workspace().Contents()
	}
	return map[string]any{}
}

func (s *WorkspaceService) queueWillChangeFolders(q *eventQueue, changes workspace.FoldersChange, fromCache bool) {
	q.add(func() {
		var joiners []func(context.Context) error
		s.onWillChangeWorkspaceFolders.Fire(WillChangeFoldersEvent{
			FoldersChange: changes,
			FromCache:     fromCache,
			join:          func(fn func(context.Context) error) { joiners = append(joiners, fn) },
		})
		if len(joiners) == 0 {
			return
		}
		var g errgroup.Group
		for _, fn := range joiners {
			g.Go(func() error { return fn(s.ctx) })
		}
		if err := g.Wait(); err != nil {
			s.logger.Warn("folder change participant failed", "error", err)
		}
	})
}

func (s *WorkspaceService) sourceOptions() source.Options {
	return source.Options{
		FS:              s.fs,
		Registry:        s.registry,
		Logger:          s.opts.Logger,
		StrictOverrides: s.opts.StrictOverrides,
	}
}
