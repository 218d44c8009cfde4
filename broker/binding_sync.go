package broker

import (
	"context"

	"go.lsp.dev/protocol"
)

// DidOpen feeds this client's tracker (spec.md §4.6.1: text-sync
// notifications are consumed by C5's Synchronize, never forwarded
// directly). If C5 already has diagnostics cached for the URI, they are
// replayed to this client immediately.
func (b *Binding) DidOpen(ctx context.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := string(params.TextDocument.URI)
	b.tracker.Open(uri, string(params.TextDocument.LanguageID), params.TextDocument.Text, params.TextDocument.Version)

	if ev, ok := b.lc.CachedDiagnostics(uri); ok {
		_ = b.client.PublishDiagnostics(ctx, &protocol.PublishDiagnosticsParams{
			URI:         ev.URI,
			Version:     ev.Version,
			Diagnostics: ev.Diagnostics,
		})
	}
	return nil
}

// DidChange applies the client's incremental content changes to this
// client's tracker. The broker always advertises Incremental sync to
// clients (capabilities.TransformForClient), so ranges are always present.
func (b *Binding) DidChange(ctx context.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := string(params.TextDocument.URI)
	d, ok := b.tracker.Get(uri)
	if !ok {
		return nil
	}
	text := applyContentChanges(d.Text, params.ContentChanges)
	b.tracker.Change(uri, text, params.TextDocument.Version)
	return nil
}

// DidClose drops the URI from this client's tracker.
func (b *Binding) DidClose(ctx context.Context, params *protocol.DidCloseTextDocumentParams) error {
	b.tracker.Close(string(params.TextDocument.URI))
	return nil
}

// DidSave forwards the save event (with its optional text) into the
// tracker, which the shared Synchronize subscription turns into an
// upstream didSave if the server wants it.
func (b *Binding) DidSave(ctx context.Context, params *protocol.DidSaveTextDocumentParams) error {
	b.tracker.Save(string(params.TextDocument.URI), params.Text)
	return nil
}

// WillSave forwards the pre-save notification into the tracker.
func (b *Binding) WillSave(ctx context.Context, params *protocol.WillSaveTextDocumentParams) error {
	b.tracker.WillSave(string(params.TextDocument.URI))
	return nil
}

// DidChangeConfiguration notifications from a client cannot be reconciled
// across N clients sharing one upstream server; swallow and log at debug
// (spec.md §4.6.1).
func (b *Binding) DidChangeConfiguration(ctx context.Context, params *protocol.DidChangeConfigurationParams) error {
	b.logger.Debug("dropped client configuration notification")
	return nil
}
