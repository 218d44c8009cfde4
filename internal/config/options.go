// Package config defines the broker's construction-time options, the
// generalization of the flags cmd/scaf-lsp's main.go wires by hand
// (-dialect, -debug, -logfile, -trace) into a struct a host program can
// also build programmatically when embedding lspmux as a library.
package config

import (
	"context"
	"time"

	"go.lsp.dev/protocol"
	"go.uber.org/zap"
)

// DefaultClientInitializationTimeout bounds each of a Binding's two
// handshake waits (for the client's initialize, which includes the
// upstream start it triggers, and for the client's initialized) before
// giving up.
const DefaultClientInitializationTimeout = 10 * time.Second

// Options configures one broker instance (one upstream LanguageClient
// shared by every attached Binding).
type Options struct {
	// ServerName is reported to each attached client as serverInfo.name in
	// the broker's initialize response.
	ServerName string

	// Logger is the base logger every broker component derives from via
	// .Named(...). Defaults to zap.NewNop() when nil.
	Logger *zap.Logger

	// ClientInitializationTimeout bounds each of Binding.Attach's waits for
	// the client's initialize request (including the upstream start it
	// triggers) and for its initialized notification. Zero means
	// DefaultClientInitializationTimeout.
	ClientInitializationTimeout time.Duration

	// SynchronizeConfigurationSections lists the configuration section
	// names whose values (from GetConfiguration) are pushed to the upstream
	// server in one workspace/didChangeConfiguration right after
	// initialization. Clients' own didChangeConfiguration notifications
	// are dropped, not re-pushed.
	SynchronizeConfigurationSections []string

	// GetConfiguration resolves a configuration section, both for the
	// startup push above and for each item of a server-initiated
	// workspace/configuration request. Returning ok=false answers that item
	// with null and leaves the section out of the startup push.
	GetConfiguration func(section string) (value any, ok bool)

	// DisableSaveNotifications suppresses textDocument/didSave forwarding
	// to the upstream server entirely, and strips Save from the
	// capabilities advertised to clients.
	DisableSaveNotifications bool

	// InterceptDidChangeWatchedFile, when non-nil, is given every
	// workspace/didChangeWatchedFiles change before it reaches the
	// upstream server. Returning false drops the change.
	InterceptDidChangeWatchedFile func(uri string, kind int) bool

	// CreateCache overrides cache construction for the C3 request cache;
	// nil selects the built-in singleflight+xxhash cache.
	CreateCache func() Cache

	// UnknownClientRequestHandler answers any client request a Binding has
	// no method of its own for (Binding.Request), after flushing that
	// client's pending document changes. The upstream server is not asked
	// whether it handles the method. Nil yields MethodNotFound.
	UnknownClientRequestHandler func(ctx context.Context, method string, params any) (any, error)

	// UnhandledNotificationHandler is carried in Options, but nothing in
	// the broker calls it: server-to-client notifications LanguageClient
	// has no method for never reach it.
	UnhandledNotificationHandler func(method string, params any)

	// RegisterLogClient, when set, is called once per attached Binding so
	// its client can receive window/logMessage fan-out (internal/logging's
	// FanoutCore.Register). The returned func deregisters it; a Binding
	// calls this on detach. Nil disables log fan-out entirely.
	RegisterLogClient func(bindingID string, client protocol.Client) func()

	// BindContext derives the context used for a given Binding's
	// lifetime from the background context, letting a host thread
	// request-scoped values (trace IDs, auth) through to handlers.
	BindContext func(ctx context.Context, bindingID string) context.Context
}

// Cache is the subset of internal/cache.Cache's surface Options exposes,
// letting a host substitute its own cache implementation without this
// package importing internal/cache (which would be a cycle: cache has no
// need of config, but config must stay leaf-level).
type Cache interface {
	Call(ctx context.Context, method string, args any, fn func(context.Context) (any, error)) (any, error)
	Reset()
}

// WithDefaults returns a copy of o with zero-valued fields replaced by
// their defaults.
func (o Options) WithDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.ClientInitializationTimeout <= 0 {
		o.ClientInitializationTimeout = DefaultClientInitializationTimeout
	}
	if o.BindContext == nil {
		o.BindContext = func(ctx context.Context, _ string) context.Context { return ctx }
	}
	return o
}
