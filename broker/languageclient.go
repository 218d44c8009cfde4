package broker

import (
	"context"
	"sync"

	"go.lsp.dev/protocol"
	"go.uber.org/zap"

	"github.com/rlch/lspmux/internal/brokererr"
	"github.com/rlch/lspmux/internal/cache"
	"github.com/rlch/lspmux/internal/capabilities"
	"github.com/rlch/lspmux/internal/config"
	"github.com/rlch/lspmux/internal/dispatch"
	"github.com/rlch/lspmux/internal/doctracker"
	"github.com/rlch/lspmux/internal/event"
	"github.com/rlch/lspmux/internal/lifecycle"
	"github.com/rlch/lspmux/internal/transport"
)

// State is a LanguageClient's lifecycle state.
type State int

const (
	Idle State = iota
	Starting
	Ready
	Disposed
)

func (s State) String() string {
	switch s {
	case Starting:
		return "Starting"
	case Ready:
		return "Ready"
	case Disposed:
		return "Disposed"
	default:
		return "Idle"
	}
}

// LanguageClient is C5: the single authoritative connection to the
// upstream language server, shared by every attached Binding.
type LanguageClient struct {
	opts   config.Options
	logger *zap.Logger
	conn   *transport.Conn
	server protocol.Server

	mu               sync.Mutex
	state            State
	initializeParams *protocol.InitializeParams
	rawCapabilities  protocol.ServerCapabilities
	startErr         error
	readyCh          chan struct{}

	docs        map[string]*Document
	docRefs     map[string]map[*doctracker.Tracker]struct{}
	diagnostics map[string]DiagnosticsEvent

	registry *capabilities.Registry
	cache    config.Cache
	disposed lifecycle.DisposableCollection

	OnDispose               event.Emitter[DisposeReason]
	OnDiagnostics           event.Emitter[DiagnosticsEvent]
	OnDocumentOpen          event.Emitter[Document]
	OnDocumentChanged       event.Emitter[Document]
	OnDocumentClosed        event.Emitter[Document]
	OnDidWatchedFileChanged event.Emitter[struct{}]

	codeLensRefresh       dispatch.Multi[struct{}, struct{}]
	semanticTokensRefresh dispatch.Multi[struct{}, struct{}]
	diagnosticRefresh     dispatch.Multi[struct{}, struct{}]
	inlayHintRefresh      dispatch.Multi[struct{}, struct{}]
	inlineValueRefresh    dispatch.Multi[struct{}, struct{}]
	applyWorkspaceEdit    dispatch.Multi[*protocol.ApplyWorkspaceEditParams, *bool]
	showDocument          dispatch.Multi[*protocol.ShowDocumentParams, *protocol.ShowDocumentResult]
}

// CodeLensRefreshDispatch exposes the C4 dispatch point Bindings subscribe
// to in order to receive code-lens refresh requests.
func (lc *LanguageClient) CodeLensRefreshDispatch() *dispatch.Multi[struct{}, struct{}] {
	return &lc.codeLensRefresh
}

// SemanticTokensRefreshDispatch exposes the C4 dispatch point for
// semantic-tokens refresh requests.
func (lc *LanguageClient) SemanticTokensRefreshDispatch() *dispatch.Multi[struct{}, struct{}] {
	return &lc.semanticTokensRefresh
}

// DiagnosticRefreshDispatch exposes the C4 dispatch point for diagnostic
// refresh requests.
func (lc *LanguageClient) DiagnosticRefreshDispatch() *dispatch.Multi[struct{}, struct{}] {
	return &lc.diagnosticRefresh
}

// InlayHintRefreshDispatch exposes the C4 dispatch point for inlay-hint
// refresh requests.
func (lc *LanguageClient) InlayHintRefreshDispatch() *dispatch.Multi[struct{}, struct{}] {
	return &lc.inlayHintRefresh
}

// InlineValueRefreshDispatch exposes the C4 dispatch point for
// inline-value refresh requests.
func (lc *LanguageClient) InlineValueRefreshDispatch() *dispatch.Multi[struct{}, struct{}] {
	return &lc.inlineValueRefresh
}

// ApplyWorkspaceEditDispatch exposes the C4 dispatch point Bindings
// subscribe to in order to claim ownership of a forwarded applyEdit. A
// subscriber returns nil to decline (the edit touches none of its open
// documents) or a non-nil *bool carrying its applied/not-applied answer.
func (lc *LanguageClient) ApplyWorkspaceEditDispatch() *dispatch.Multi[*protocol.ApplyWorkspaceEditParams, *bool] {
	return &lc.applyWorkspaceEdit
}

// ShowDocumentDispatch exposes the C4 dispatch point for forwarded
// window/showDocument requests.
func (lc *LanguageClient) ShowDocumentDispatch() *dispatch.Multi[*protocol.ShowDocumentParams, *protocol.ShowDocumentResult] {
	return &lc.showDocument
}

// New builds a LanguageClient bound to conn, not yet started.
func New(conn *transport.Conn, opts config.Options) *LanguageClient {
	opts = opts.WithDefaults()
	c := opts.CreateCache
	var ch config.Cache
	if c != nil {
		ch = c()
	} else {
		ch = cache.New()
	}
	return &LanguageClient{
		opts:        opts,
		logger:      opts.Logger.Named("languageclient"),
		conn:        conn,
		server:      conn.ServerDispatcher(opts.Logger),
		docs:        make(map[string]*Document),
		docRefs:     make(map[string]map[*doctracker.Tracker]struct{}),
		diagnostics: make(map[string]DiagnosticsEvent),
		cache:       ch,
		readyCh:     make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (lc *LanguageClient) State() State {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.state
}

// Start is idempotent: the first caller drives the initialize handshake,
// every other concurrent caller awaits its outcome (spec.md §4.5 "start is
// idempotent").
func (lc *LanguageClient) Start(ctx context.Context, params *protocol.InitializeParams) error {
	lc.mu.Lock()
	if lc.state != Idle {
		lc.mu.Unlock()
		<-lc.readyCh
		return lc.startErr
	}
	lc.state = Starting
	lc.initializeParams = params
	lc.mu.Unlock()

	err := lc.doStart(ctx, params)

	lc.mu.Lock()
	lc.startErr = err
	failed := false
	// A Dispose that ran while Starting has already moved the state to
	// Disposed; leave it there.
	if lc.state == Starting {
		if err != nil {
			lc.state = Disposed
			failed = true
		} else {
			lc.state = Ready
		}
	}
	lc.mu.Unlock()
	close(lc.readyCh)

	if failed {
		lc.OnDispose.Fire(DisposeLocal)
	}
	return err
}

func (lc *LanguageClient) doStart(ctx context.Context, params *protocol.InitializeParams) error {
	lc.installHandlers(ctx)

	result, err := lc.server.Initialize(ctx, params)
	if err != nil {
		return brokererr.Wrap(brokererr.Transport, "initialize failed", err)
	}

	lc.mu.Lock()
	lc.rawCapabilities = result.Capabilities
	lc.mu.Unlock()
	lc.registry = capabilities.New(staticCapabilitiesOf(result.Capabilities))
	lc.disposed.Add(lc.registry.OnDidChangeWatchedFiles.On(func(struct{}) {
		lc.OnDidWatchedFileChanged.Fire(struct{}{})
	}))

	if err := lc.server.Initialized(ctx, &protocol.InitializedParams{}); err != nil {
		return brokererr.Wrap(brokererr.Transport, "initialized notification failed", err)
	}

	if len(lc.opts.SynchronizeConfigurationSections) > 0 {
		settings := make(map[string]any, len(lc.opts.SynchronizeConfigurationSections))
		for _, section := range lc.opts.SynchronizeConfigurationSections {
			if lc.opts.GetConfiguration != nil {
				if v, ok := lc.opts.GetConfiguration(section); ok {
					settings[section] = v
				}
			}
		}
		_ = lc.server.DidChangeConfiguration(ctx, &protocol.DidChangeConfigurationParams{
			Settings: settings,
		})
	}

	go func() {
		<-lc.conn.Done()
		lc.handleRemoteClose()
	}()

	return nil
}

func (lc *LanguageClient) handleRemoteClose() {
	lc.mu.Lock()
	if lc.state == Disposed {
		lc.mu.Unlock()
		return
	}
	lc.state = Disposed
	lc.mu.Unlock()

	lc.disposed.Dispose()
	lc.OnDispose.Fire(DisposeRemote)
}

// Dispose tears the LanguageClient down: sends shutdown to the server and
// closes the transport. Safe to call during Starting; safe to call more
// than once.
func (lc *LanguageClient) Dispose(ctx context.Context) {
	lc.mu.Lock()
	if lc.state == Disposed {
		lc.mu.Unlock()
		return
	}
	wasIdleOrStarting := lc.state != Ready
	lc.state = Disposed
	lc.mu.Unlock()

	if wasIdleOrStarting {
		<-lc.readyCh
	}

	_ = lc.server.Shutdown(ctx)
	_ = lc.conn.Close()

	lc.disposed.Dispose()
	lc.OnDispose.Fire(DisposeLocal)
}

// InitializeParams returns the params passed to Start, once available.
func (lc *LanguageClient) InitializeParams() *protocol.InitializeParams {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.initializeParams
}

// Registry exposes the capability registry (C2) for Bindings to resolve
// transformed capabilities and replay registrations.
func (lc *LanguageClient) Registry() *capabilities.Registry {
	return lc.registry
}

// RawCapabilities returns the upstream server's capabilities exactly as
// advertised at initialize time, for Bindings to pass through every
// field other than text-document-sync to their own clients (spec.md
// §4.2 "Transformed view to clients").
func (lc *LanguageClient) RawCapabilities() protocol.ServerCapabilities {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.rawCapabilities
}

// CallCached resolves (method, args) through C3, the shared request cache,
// collapsing identical concurrent forwarded requests from different
// Bindings into one upstream call (spec.md §4.3). Non-cacheable methods
// always invoke fn directly.
func (lc *LanguageClient) CallCached(ctx context.Context, method string, args any, fn func(context.Context) (any, error)) (any, error) {
	return lc.cache.Call(ctx, method, args, fn)
}

// Server exposes the upstream server dispatcher for Bindings to issue
// forwarded requests against.
func (lc *LanguageClient) Server() protocol.Server {
	return lc.server
}

// CachedDiagnostics returns the last diagnostics published for uri, if the
// URI is currently open in C5 (spec.md §3 "Diagnostics").
func (lc *LanguageClient) CachedDiagnostics(uri string) (DiagnosticsEvent, bool) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	ev, ok := lc.diagnostics[uri]
	return ev, ok
}

// NotifyFileChanges sends a workspace/didChangeWatchedFiles notification
// straight to the upstream server, bypassing any attached Binding. A host
// embedding lspmux drives this directly when it wants to own file-watch
// delivery itself rather than relying on a particular client's watcher
// registrations (spec.md §6 "interceptDidChangeWatchedFile").
func (lc *LanguageClient) NotifyFileChanges(ctx context.Context, changes []protocol.FileEvent) error {
	return lc.server.DidChangeWatchedFiles(ctx, &protocol.DidChangeWatchedFilesParams{Changes: changes})
}

func staticCapabilitiesOf(caps protocol.ServerCapabilities) capabilities.StaticCapabilities {
	static := capabilities.StaticCapabilities{}

	switch sync := caps.TextDocumentSync.(type) {
	case *protocol.TextDocumentSyncOptions:
		static.TextDocumentSync = syncKindOf(sync.Change)
		static.HasWillSave = sync.WillSave
		static.HasWillSaveWait = sync.WillSaveWaitUntil
		if sync.Save != nil {
			static.HasSave = true
			static.SaveIncludeText = sync.Save.IncludeText
		}
	case protocol.TextDocumentSyncKind:
		static.TextDocumentSync = syncKindOf(sync)
		if sync != protocol.TextDocumentSyncKindNone {
			// A bare sync-kind enum still implies the save notification:
			// spec.md §4.2 expands it to {openClose, change, save:{includeText:false}}.
			static.HasSave = true
		}
	}
	return static
}

func syncKindOf(k protocol.TextDocumentSyncKind) capabilities.SyncKind {
	switch k {
	case protocol.TextDocumentSyncKindFull:
		return capabilities.SyncFull
	case protocol.TextDocumentSyncKindIncremental:
		return capabilities.SyncIncremental
	default:
		return capabilities.SyncNone
	}
}
