package broker

import (
	"context"
	"encoding/json"

	"go.lsp.dev/protocol"

	"github.com/rlch/lspmux/internal/brokererr"
	"github.com/rlch/lspmux/internal/doctracker"
)

// forward implements the common shape of every forwarded-set request
// (spec.md §4.6.1): flush this client's debounced document changes
// synchronously, then resolve the call through C5's shared request cache.
// cacheArgs should have any cancellation/progress token already stripped
// (spec.md §4.3) so one client's token never pollutes another's
// fingerprint.
func forward[Resp any](ctx context.Context, b *Binding, method string, cacheArgs any, call func(context.Context) (Resp, error)) (Resp, error) {
	b.flush.Fire(struct{}{})

	v, err := b.lc.CallCached(ctx, method, stripTokens(cacheArgs), func(ctx context.Context) (any, error) {
		return call(ctx)
	})
	if err != nil {
		var zero Resp
		return zero, err
	}
	return v.(Resp), nil
}

// stripTokens removes workDoneToken/partialResultToken from a forwarded
// request's params before it is used as a cache fingerprint, so
// per-request progress/cancellation tokens never fracture what would
// otherwise be an identical cache key (spec.md §4.3, §5 "Cancellation").
func stripTokens(params any) any {
	b, err := json.Marshal(params)
	if err != nil {
		return params
	}
	var generic map[string]any
	if err := json.Unmarshal(b, &generic); err != nil {
		return params
	}
	delete(generic, "workDoneToken")
	delete(generic, "partialResultToken")
	return generic
}

func (b *Binding) Hover(ctx context.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	return forward(ctx, b, "textDocument/hover", params, func(ctx context.Context) (*protocol.Hover, error) {
		return b.lc.Server().Hover(ctx, params)
	})
}

func (b *Binding) References(ctx context.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	return forward(ctx, b, "textDocument/references", params, func(ctx context.Context) ([]protocol.Location, error) {
		return b.lc.Server().References(ctx, params)
	})
}

func (b *Binding) SignatureHelp(ctx context.Context, params *protocol.SignatureHelpParams) (*protocol.SignatureHelp, error) {
	return forward(ctx, b, "textDocument/signatureHelp", params, func(ctx context.Context) (*protocol.SignatureHelp, error) {
		return b.lc.Server().SignatureHelp(ctx, params)
	})
}

func (b *Binding) SemanticTokensFull(ctx context.Context, params *protocol.SemanticTokensParams) (*protocol.SemanticTokens, error) {
	return forward(ctx, b, "textDocument/semanticTokens/full", params, func(ctx context.Context) (*protocol.SemanticTokens, error) {
		return b.lc.Server().SemanticTokensFull(ctx, params)
	})
}

func (b *Binding) SemanticTokensFullDelta(ctx context.Context, params *protocol.SemanticTokensDeltaParams) (interface{}, error) {
	return forward(ctx, b, "textDocument/semanticTokens/full/delta", params, func(ctx context.Context) (interface{}, error) {
		return b.lc.Server().SemanticTokensFullDelta(ctx, params)
	})
}

func (b *Binding) SemanticTokensRange(ctx context.Context, params *protocol.SemanticTokensRangeParams) (*protocol.SemanticTokens, error) {
	return forward(ctx, b, "textDocument/semanticTokens/range", params, func(ctx context.Context) (*protocol.SemanticTokens, error) {
		return b.lc.Server().SemanticTokensRange(ctx, params)
	})
}

func (b *Binding) Definition(ctx context.Context, params *protocol.DefinitionParams) ([]protocol.Location, error) {
	return forward(ctx, b, "textDocument/definition", params, func(ctx context.Context) ([]protocol.Location, error) {
		return b.lc.Server().Definition(ctx, params)
	})
}

func (b *Binding) DocumentHighlight(ctx context.Context, params *protocol.DocumentHighlightParams) ([]protocol.DocumentHighlight, error) {
	return forward(ctx, b, "textDocument/documentHighlight", params, func(ctx context.Context) ([]protocol.DocumentHighlight, error) {
		return b.lc.Server().DocumentHighlight(ctx, params)
	})
}

func (b *Binding) DocumentSymbol(ctx context.Context, params *protocol.DocumentSymbolParams) ([]interface{}, error) {
	return forward(ctx, b, "textDocument/documentSymbol", params, func(ctx context.Context) ([]interface{}, error) {
		return b.lc.Server().DocumentSymbol(ctx, params)
	})
}

func (b *Binding) Symbol(ctx context.Context, params *protocol.WorkspaceSymbolParams) ([]protocol.SymbolInformation, error) {
	return forward(ctx, b, "workspace/symbol", params, func(ctx context.Context) ([]protocol.SymbolInformation, error) {
		return b.lc.Server().Symbol(ctx, params)
	})
}

func (b *Binding) Formatting(ctx context.Context, params *protocol.DocumentFormattingParams) ([]protocol.TextEdit, error) {
	return forward(ctx, b, "textDocument/formatting", params, func(ctx context.Context) ([]protocol.TextEdit, error) {
		return b.lc.Server().Formatting(ctx, params)
	})
}

func (b *Binding) RangeFormatting(ctx context.Context, params *protocol.DocumentRangeFormattingParams) ([]protocol.TextEdit, error) {
	return forward(ctx, b, "textDocument/rangeFormatting", params, func(ctx context.Context) ([]protocol.TextEdit, error) {
		return b.lc.Server().RangeFormatting(ctx, params)
	})
}

func (b *Binding) OnTypeFormatting(ctx context.Context, params *protocol.DocumentOnTypeFormattingParams) ([]protocol.TextEdit, error) {
	return forward(ctx, b, "textDocument/onTypeFormatting", params, func(ctx context.Context) ([]protocol.TextEdit, error) {
		return b.lc.Server().OnTypeFormatting(ctx, params)
	})
}

func (b *Binding) Rename(ctx context.Context, params *protocol.RenameParams) (*protocol.WorkspaceEdit, error) {
	return forward(ctx, b, "textDocument/rename", params, func(ctx context.Context) (*protocol.WorkspaceEdit, error) {
		return b.lc.Server().Rename(ctx, params)
	})
}

func (b *Binding) PrepareRename(ctx context.Context, params *protocol.PrepareRenameParams) (*protocol.Range, error) {
	return forward(ctx, b, "textDocument/prepareRename", params, func(ctx context.Context) (*protocol.Range, error) {
		return b.lc.Server().PrepareRename(ctx, params)
	})
}

// ExecuteCommand is the one forwarded-set request that is never cached
// (spec.md glossary: "cacheable = forwarded minus execute-command"): it
// still flushes first, since a command may act on the document's current
// text, but always issues a fresh upstream call.
func (b *Binding) ExecuteCommand(ctx context.Context, params *protocol.ExecuteCommandParams) (interface{}, error) {
	b.flush.Fire(struct{}{})
	return b.lc.Server().ExecuteCommand(ctx, params)
}

func (b *Binding) Completion(ctx context.Context, params *protocol.CompletionParams) (*protocol.CompletionList, error) {
	return forward(ctx, b, "textDocument/completion", params, func(ctx context.Context) (*protocol.CompletionList, error) {
		return b.lc.Server().Completion(ctx, params)
	})
}

func (b *Binding) CompletionResolve(ctx context.Context, params *protocol.CompletionItem) (*protocol.CompletionItem, error) {
	return forward(ctx, b, "completionItem/resolve", params, func(ctx context.Context) (*protocol.CompletionItem, error) {
		return b.lc.Server().CompletionResolve(ctx, params)
	})
}

func (b *Binding) CodeAction(ctx context.Context, params *protocol.CodeActionParams) ([]protocol.CodeAction, error) {
	return forward(ctx, b, "textDocument/codeAction", params, func(ctx context.Context) ([]protocol.CodeAction, error) {
		return b.lc.Server().CodeAction(ctx, params)
	})
}

func (b *Binding) CodeLens(ctx context.Context, params *protocol.CodeLensParams) ([]protocol.CodeLens, error) {
	return forward(ctx, b, "textDocument/codeLens", params, func(ctx context.Context) ([]protocol.CodeLens, error) {
		return b.lc.Server().CodeLens(ctx, params)
	})
}

func (b *Binding) CodeLensResolve(ctx context.Context, params *protocol.CodeLens) (*protocol.CodeLens, error) {
	return forward(ctx, b, "codeLens/resolve", params, func(ctx context.Context) (*protocol.CodeLens, error) {
		return b.lc.Server().CodeLensResolve(ctx, params)
	})
}

func (b *Binding) DocumentLink(ctx context.Context, params *protocol.DocumentLinkParams) ([]protocol.DocumentLink, error) {
	return forward(ctx, b, "textDocument/documentLink", params, func(ctx context.Context) ([]protocol.DocumentLink, error) {
		return b.lc.Server().DocumentLink(ctx, params)
	})
}

func (b *Binding) DocumentLinkResolve(ctx context.Context, params *protocol.DocumentLink) (*protocol.DocumentLink, error) {
	return forward(ctx, b, "documentLink/resolve", params, func(ctx context.Context) (*protocol.DocumentLink, error) {
		return b.lc.Server().DocumentLinkResolve(ctx, params)
	})
}

func (b *Binding) FoldingRanges(ctx context.Context, params *protocol.FoldingRangeParams) ([]protocol.FoldingRange, error) {
	return forward(ctx, b, "textDocument/foldingRange", params, func(ctx context.Context) ([]protocol.FoldingRange, error) {
		return b.lc.Server().FoldingRanges(ctx, params)
	})
}

func (b *Binding) DocumentColor(ctx context.Context, params *protocol.DocumentColorParams) ([]protocol.ColorInformation, error) {
	return forward(ctx, b, "textDocument/documentColor", params, func(ctx context.Context) ([]protocol.ColorInformation, error) {
		return b.lc.Server().DocumentColor(ctx, params)
	})
}

// Request is the catch-all for any client request this Binding does not
// itself implement: vendor-specific and unrecognized methods fall through
// here via the dispatcher's partial-implementation reflection (spec.md
// §4.6.1 "Any other client→server request"). A configured
// UnknownClientRequestHandler gets first refusal; otherwise this responds
// MethodNotFound by returning the sentinel error so the transport replies
// accordingly.
func (b *Binding) Request(ctx context.Context, method string, params interface{}) (interface{}, error) {
	if b.opts.UnknownClientRequestHandler != nil {
		b.flush.Fire(struct{}{})
		return b.opts.UnknownClientRequestHandler(ctx, method, params)
	}
	return nil, brokererr.ErrMethodNotFound
}

// wireFanout subscribes this Binding to every C4 dispatch point it can
// answer: diagnostics, refresh requests, applyEdit, and show-document
// (spec.md §4.6.1). Every subscription is registered on b.disposed so
// detaching releases them deterministically.
func (b *Binding) wireFanout() {
	b.disposed.Add(b.lc.OnDiagnostics.On(func(ev DiagnosticsEvent) {
		b.forwardDiagnostics(ev)
	}))

	b.disposed.Add(b.lc.CodeLensRefreshDispatch().OnRequest(b.refreshHandler(refreshCodeLens)))
	b.disposed.Add(b.lc.SemanticTokensRefreshDispatch().OnRequest(b.refreshHandler(refreshSemanticTokens)))
	b.disposed.Add(b.lc.DiagnosticRefreshDispatch().OnRequest(b.refreshHandler(refreshDiagnostics)))
	b.disposed.Add(b.lc.InlayHintRefreshDispatch().OnRequest(b.refreshHandler(refreshInlayHint)))
	b.disposed.Add(b.lc.InlineValueRefreshDispatch().OnRequest(b.refreshHandler(refreshInlineValue)))

	b.disposed.Add(b.lc.ApplyWorkspaceEditDispatch().OnRequest(b.handleApplyEdit))
	b.disposed.Add(b.lc.ShowDocumentDispatch().OnRequest(b.handleShowDocument))
}

func (b *Binding) forwardDiagnostics(ev DiagnosticsEvent) {
	if _, open := b.tracker.Get(string(ev.URI)); !open {
		return
	}
	_ = b.client.PublishDiagnostics(context.Background(), &protocol.PublishDiagnosticsParams{
		URI:         ev.URI,
		Version:     ev.Version,
		Diagnostics: ev.Diagnostics,
	})
}

type refreshKind int

const (
	refreshCodeLens refreshKind = iota
	refreshSemanticTokens
	refreshDiagnostics
	refreshInlayHint
	refreshInlineValue
)

// refreshHandler builds a C4 subscriber that forwards a refresh request
// only if this client's advertised capabilities include the matching
// refreshSupport flag (spec.md §4.6.1, testable property 6).
func (b *Binding) refreshHandler(kind refreshKind) func(context.Context, struct{}) (struct{}, error) {
	return func(ctx context.Context, _ struct{}) (struct{}, error) {
		if !b.refreshSupported(kind) {
			return struct{}{}, nil
		}
		var err error
		switch kind {
		case refreshCodeLens:
			err = b.client.CodeLensRefresh(ctx)
		case refreshSemanticTokens:
			err = b.client.SemanticTokensRefresh(ctx)
		case refreshDiagnostics:
			err = b.client.DiagnosticRefresh(ctx)
		case refreshInlayHint:
			err = b.client.InlayHintRefresh(ctx)
		case refreshInlineValue:
			err = b.client.InlineValueRefresh(ctx)
		}
		return struct{}{}, err
	}
}

func (b *Binding) refreshSupported(kind refreshKind) bool {
	b.mu.Lock()
	caps := b.clientCapabilities
	b.mu.Unlock()

	ws := caps.Workspace
	if ws == nil {
		return false
	}
	switch kind {
	case refreshCodeLens:
		return ws.CodeLens != nil && ws.CodeLens.RefreshSupport
	case refreshSemanticTokens:
		return ws.SemanticTokens != nil && ws.SemanticTokens.RefreshSupport
	case refreshDiagnostics:
		return ws.Diagnostics != nil && ws.Diagnostics.RefreshSupport
	case refreshInlayHint:
		return ws.InlayHint != nil && ws.InlayHint.RefreshSupport
	case refreshInlineValue:
		return ws.InlineValue != nil && ws.InlineValue.RefreshSupport
	default:
		return false
	}
}

// handleApplyEdit is this Binding's C4 subscriber for workspace/applyEdit.
// It declines (nil) unless the edit touches at least one document open in
// this client's tracker; otherwise it rewrites each touched document
// edit's version to the version this client's tracker currently holds
// (spec.md §4.6.1, §9 "Document version rewriting on applyEdit" — the
// acknowledged open question: this can diverge from the server's own
// version if the client has accepted edits the server hasn't seen yet)
// and forwards.
func (b *Binding) handleApplyEdit(ctx context.Context, params *protocol.ApplyWorkspaceEditParams) (*bool, error) {
	filtered, touched := b.filterWorkspaceEdit(params)
	if !touched {
		return nil, nil
	}

	applied, err := b.client.ApplyEdit(ctx, filtered)
	if err != nil {
		return nil, err
	}
	return &applied, nil
}

func (b *Binding) filterWorkspaceEdit(params *protocol.ApplyWorkspaceEditParams) (*protocol.ApplyWorkspaceEditParams, bool) {
	edit := params.Edit
	touched := false

	if len(edit.DocumentChanges) > 0 {
		kept := make([]protocol.TextDocumentEdit, 0, len(edit.DocumentChanges))
		for _, dc := range edit.DocumentChanges {
			d, ok := b.tracker.Get(string(dc.TextDocument.URI))
			if !ok {
				continue
			}
			touched = true
			dc.TextDocument.Version = versionOf(d)
			kept = append(kept, dc)
		}
		edit.DocumentChanges = kept
	} else if len(edit.Changes) > 0 {
		kept := make(map[protocol.DocumentURI][]protocol.TextEdit, len(edit.Changes))
		for uri, edits := range edit.Changes {
			if _, ok := b.tracker.Get(string(uri)); !ok {
				continue
			}
			touched = true
			kept[uri] = edits
		}
		edit.Changes = kept
	}

	out := *params
	out.Edit = edit
	return &out, touched
}

// versionOf returns the version this Binding's own tracker last recorded
// for d, i.e. the version this client itself last sent in a didOpen or
// didChange. This is deliberately the client's version, not C5's
// authoritative server-side version for the same URI (spec.md §9
// "Document version rewriting on applyEdit") — the acknowledged open
// question: if the client has accepted edits the server hasn't observed
// yet, this can still diverge from what the server considers current.
func versionOf(d doctracker.TrackedDocument) int32 {
	return d.Version
}

func (b *Binding) handleShowDocument(ctx context.Context, params *protocol.ShowDocumentParams) (*protocol.ShowDocumentResult, error) {
	return b.client.ShowDocument(ctx, params)
}

// DidChangeWatchedFiles forwards the notification upstream unless this
// broker instance was configured to intercept file-watch events itself
// (config.Options.InterceptDidChangeWatchedFile), in which case matching
// events are dropped here and a host drives the upstream server directly
// via LanguageClient.NotifyFileChanges instead (spec.md §6
// "interceptDidChangeWatchedFile").
func (b *Binding) DidChangeWatchedFiles(ctx context.Context, params *protocol.DidChangeWatchedFilesParams) error {
	if b.opts.InterceptDidChangeWatchedFile == nil {
		return b.lc.Server().DidChangeWatchedFiles(ctx, params)
	}

	kept := make([]protocol.FileEvent, 0, len(params.Changes))
	for _, ev := range params.Changes {
		if b.opts.InterceptDidChangeWatchedFile(string(ev.URI), int(ev.Type)) {
			kept = append(kept, ev)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return b.lc.Server().DidChangeWatchedFiles(ctx, &protocol.DidChangeWatchedFilesParams{Changes: kept})
}
