// Package logging adapts the teacher's single-client LSP logger
// (lsp.NewLSPLogger) into a broker-appropriate fan-out: the broker serves
// many clients, so window/logMessage notifications go to every currently
// attached Binding rather than to one fixed protocol.Client.
package logging

import (
	"context"
	"sync"

	"go.lsp.dev/protocol"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// FanoutCore is a zapcore.Core that forwards log entries as
// window/logMessage notifications to every currently-registered client.
// Entries are delivered best-effort and asynchronously so a slow or
// wedged client connection can never block the logging call site, the
// same non-blocking guarantee the teacher's lspLogCore gives a single
// client.
type FanoutCore struct {
	level zapcore.LevelEnabler

	mu      sync.Mutex
	clients map[string]protocol.Client

	queue chan logEntry
}

type logEntry struct {
	level   protocol.MessageType
	message string
}

// NewFanoutCore builds a FanoutCore at the given minimum level.
func NewFanoutCore(level zapcore.Level) *FanoutCore {
	c := &FanoutCore{
		level:   level,
		clients: make(map[string]protocol.Client),
		queue:   make(chan logEntry, 256),
	}
	go c.drain()
	return c
}

// Register adds client (keyed by bindingID) as a recipient of future log
// entries. The returned func removes it; Bindings call it from their
// DisposableCollection.
func (c *FanoutCore) Register(bindingID string, client protocol.Client) func() {
	c.mu.Lock()
	c.clients[bindingID] = client
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.clients, bindingID)
		c.mu.Unlock()
	}
}

func (c *FanoutCore) drain() {
	for entry := range c.queue {
		c.mu.Lock()
		clients := make([]protocol.Client, 0, len(c.clients))
		for _, cl := range c.clients {
			clients = append(clients, cl)
		}
		c.mu.Unlock()

		for _, cl := range clients {
			_ = cl.LogMessage(context.Background(), &protocol.LogMessageParams{
				Type:    entry.level,
				Message: entry.message,
			})
		}
	}
}

// Enabled implements zapcore.LevelEnabler.
func (c *FanoutCore) Enabled(lvl zapcore.Level) bool { return c.level.Enabled(lvl) }

// With implements zapcore.Core; FanoutCore is stateless with respect to
// structured fields, it only forwards the rendered message.
func (c *FanoutCore) With([]zapcore.Field) zapcore.Core { return c }

// Check implements zapcore.Core.
func (c *FanoutCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

// Write implements zapcore.Core.
func (c *FanoutCore) Write(ent zapcore.Entry, _ []zapcore.Field) error {
	select {
	case c.queue <- logEntry{level: toMessageType(ent.Level), message: ent.Message}:
	default:
		// Queue full: drop rather than block the broker's event loop.
	}
	return nil
}

// Sync implements zapcore.Core.
func (c *FanoutCore) Sync() error { return nil }

func toMessageType(lvl zapcore.Level) protocol.MessageType {
	switch {
	case lvl >= zapcore.ErrorLevel:
		return protocol.MessageTypeError
	case lvl >= zapcore.WarnLevel:
		return protocol.MessageTypeWarning
	case lvl >= zapcore.InfoLevel:
		return protocol.MessageTypeInfo
	default:
		return protocol.MessageTypeLog
	}
}

// New builds a *zap.Logger that tees every entry to both a local
// (stderr/file) core and the shared FanoutCore, mirroring the teacher's
// NewLSPLogger dual-sink construction.
func New(localCore zapcore.Core, fanout *FanoutCore) *zap.Logger {
	return zap.New(zapcore.NewTee(localCore, fanout))
}
