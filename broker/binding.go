package broker

import (
	"context"
	"sync"
	"time"

	"go.lsp.dev/protocol"
	"go.uber.org/zap"

	"github.com/rlch/lspmux/internal/brokererr"
	"github.com/rlch/lspmux/internal/capabilities"
	"github.com/rlch/lspmux/internal/config"
	"github.com/rlch/lspmux/internal/doctracker"
	"github.com/rlch/lspmux/internal/event"
	"github.com/rlch/lspmux/internal/lifecycle"
	"github.com/rlch/lspmux/internal/transport"
)

// Binding is C6: one attached client's runtime object. It performs the
// initialize handshake against its own client, forwards a curated subset
// of traffic to and from the shared LanguageClient (C5), and owns that
// client's document mirror.
type Binding struct {
	id     string
	opts   config.Options
	logger *zap.Logger
	conn   *transport.Conn
	client protocol.Client
	lc     *LanguageClient

	tracker *doctracker.Tracker
	flush   event.Emitter[struct{}]

	mu                 sync.Mutex
	clientCapabilities protocol.ClientCapabilities
	initializeParams   *protocol.InitializeParams

	initializeDone  chan struct{}
	initializeErr   error
	initializedDone chan struct{}

	disposed lifecycle.DisposableCollection
}

// NewBinding wires a Binding to conn, a freshly-dialed connection to one
// attached client, sharing lc's upstream server connection.
func NewBinding(id string, conn *transport.Conn, lc *LanguageClient, opts config.Options) *Binding {
	opts = opts.WithDefaults()
	return &Binding{
		id:              id,
		opts:            opts,
		logger:          opts.Logger.Named("binding").With(zap.String("binding", id)),
		conn:            conn,
		client:          conn.ClientDispatcher(opts.Logger),
		lc:              lc,
		tracker:         doctracker.New(),
		initializeDone:  make(chan struct{}),
		initializedDone: make(chan struct{}),
	}
}

// Attach drives the per-client attach protocol (spec.md §4.6 steps 1-8)
// and blocks until the binding's lifetime ends, returning why.
func (b *Binding) Attach(ctx context.Context) (EndCause, error) {
	ctx = b.opts.BindContext(ctx, b.id)
	timeout := b.opts.ClientInitializationTimeout

	b.conn.ServeServer(ctx, b)

	if err := b.awaitGate(ctx, timeout, b.initializeDone, "initialize"); err != nil {
		return EndCauseClient, err
	}
	if b.initializeErr != nil {
		return EndCauseClient, b.initializeErr
	}

	if err := b.awaitGate(ctx, timeout, b.initializedDone, "initialized"); err != nil {
		return EndCauseClient, err
	}

	b.replayRegistrations()

	if b.opts.RegisterLogClient != nil {
		b.disposed.AddFunc(b.opts.RegisterLogClient(b.id, b.client))
	}

	syncSub := b.lc.Synchronize(b.tracker, &b.flush)
	b.disposed.Add(syncSub)
	b.wireFanout()

	serverDone := make(chan struct{})
	var closeOnce sync.Once
	b.disposed.Add(b.lc.OnDispose.On(func(DisposeReason) {
		closeOnce.Do(func() { close(serverDone) })
	}))

	var cause EndCause
	select {
	case <-b.conn.Done():
		cause = EndCauseClient
	case <-serverDone:
		cause = EndCauseServer
	}

	b.disposed.Dispose()
	if cause == EndCauseClient {
		return cause, b.conn.Err()
	}
	_ = b.conn.Close()
	return cause, nil
}

// awaitGate blocks until gate closes, the client transport closes, or
// timeout elapses, whichever comes first (spec.md §4.6 steps 2, 6).
func (b *Binding) awaitGate(ctx context.Context, timeout time.Duration, gate chan struct{}, name string) error {
	_, err := lifecycle.WithTimeout(ctx, timeout, func(ctx context.Context) (struct{}, error) {
		select {
		case <-gate:
			return struct{}{}, nil
		case <-b.conn.Done():
			return struct{}{}, brokererr.New(brokererr.ConnectionClosed, "client transport closed before "+name)
		}
	})
	return err
}

// Initialize is the server-role handler for this client's initialize
// request (spec.md §4.6 steps 3, 5). The first call to lc.Start is the one
// that actually drives the upstream handshake; later concurrent Bindings
// just await its outcome.
func (b *Binding) Initialize(ctx context.Context, params *protocol.InitializeParams) (*protocol.InitializeResult, error) {
	b.mu.Lock()
	b.initializeParams = params
	b.clientCapabilities = params.Capabilities
	b.mu.Unlock()

	err := b.lc.Start(ctx, params)
	b.initializeErr = err
	close(b.initializeDone)
	if err != nil {
		return nil, err
	}

	sync := capabilities.TransformForClient(b.opts.DisableSaveNotifications)
	result := &protocol.InitializeResult{
		Capabilities: transformedCapabilities(b.lc.RawCapabilities(), sync),
		ServerInfo:   &protocol.ServerInfo{Name: b.opts.ServerName},
	}
	return result, nil
}

// Initialized completes step 6: the client has finished processing its
// initialize response and the attach protocol may proceed to registration
// replay.
func (b *Binding) Initialized(ctx context.Context, params *protocol.InitializedParams) error {
	close(b.initializedDone)
	return nil
}

// Shutdown accepts the client's shutdown request; actual teardown happens
// when the transport closes or C5 disposes.
func (b *Binding) Shutdown(ctx context.Context) error {
	return nil
}

// Exit closes this Binding's client transport, which unblocks Attach's
// final select with EndCauseClient.
func (b *Binding) Exit(ctx context.Context) error {
	return b.conn.Close()
}

// replayRegistrations sends this client every dynamic registration C5
// currently holds, excluding the text-sync methods the broker owns itself
// (spec.md §4.6 step 7).
func (b *Binding) replayRegistrations() {
	regs := b.lc.Registry().Registrations()
	wire := make([]protocol.Registration, 0, len(regs))
	for _, reg := range regs {
		switch reg.Method {
		case capabilities.MethodDidOpen, capabilities.MethodDidClose,
			capabilities.MethodDidChange, "workspace/didChangeWorkspaceFolders":
			continue
		}
		wire = append(wire, protocol.Registration{
			ID:              reg.ID,
			Method:          reg.Method,
			RegisterOptions: reg.Raw,
		})
	}
	if len(wire) == 0 {
		return
	}
	_ = b.client.RegisterCapability(context.Background(), &protocol.RegistrationParams{Registrations: wire})
}

// transformedCapabilities passes raw through verbatim except for the
// text-document-sync block, which the broker always overrides (spec.md
// §4.2), and workspace.workspaceFolders.supported, which is cleared since a
// Binding cannot meaningfully forward workspace-folder semantics against
// C5's single global view.
func transformedCapabilities(raw protocol.ServerCapabilities, sync capabilities.TextDocumentSyncOptions) protocol.ServerCapabilities {
	out := raw
	out.TextDocumentSync = wireSyncOptions(sync)
	if out.Workspace != nil && out.Workspace.WorkspaceFolders != nil {
		folders := *out.Workspace.WorkspaceFolders
		folders.Supported = false
		ws := *out.Workspace
		ws.WorkspaceFolders = &folders
		out.Workspace = &ws
	}
	return out
}

func wireSyncOptions(sync capabilities.TextDocumentSyncOptions) *protocol.TextDocumentSyncOptions {
	opts := &protocol.TextDocumentSyncOptions{
		OpenClose: sync.OpenClose,
		Change:    wireSyncKind(sync.Change),
		WillSave:  sync.WillSave,
	}
	if sync.Save != nil {
		opts.Save = &protocol.SaveOptions{IncludeText: sync.Save.IncludeText}
	}
	return opts
}

func wireSyncKind(k capabilities.SyncKind) protocol.TextDocumentSyncKind {
	switch k {
	case capabilities.SyncFull:
		return protocol.TextDocumentSyncKindFull
	case capabilities.SyncIncremental:
		return protocol.TextDocumentSyncKindIncremental
	default:
		return protocol.TextDocumentSyncKindNone
	}
}
