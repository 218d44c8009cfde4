package broker

import (
	"context"

	"go.lsp.dev/protocol"
	"go.uber.org/zap"

	"github.com/rlch/lspmux/internal/capabilities"
	"github.com/rlch/lspmux/internal/dispatch"
)

// installHandlers registers the LanguageClient itself as the handler for
// every inbound server->client request (spec.md §4.5.1), mirroring the
// teacher's own partial-protocol.Client-implementation idiom: methods this
// type does not implement fall through to the dispatcher's own
// MethodNotFound handling, which already satisfies the "Unknown request ->
// MethodNotFound" row of the table below.
func (lc *LanguageClient) installHandlers(ctx context.Context) {
	lc.conn.ServeClient(ctx, lc)
}

// RegisterCapability delegates to the capability registry (C2).
func (lc *LanguageClient) RegisterCapability(ctx context.Context, params *protocol.RegistrationParams) error {
	regs := make([]capabilities.Registration, 0, len(params.Registrations))
	for _, r := range params.Registrations {
		regs = append(regs, registrationFromWire(r))
	}
	lc.registry.HandleRegistration(regs)
	lc.replayOpenDocumentsFor(regs)
	return nil
}

// UnregisterCapability delegates to the capability registry (C2).
func (lc *LanguageClient) UnregisterCapability(ctx context.Context, params *protocol.UnregistrationParams) error {
	ids := make([]string, 0, len(params.Unregisterations))
	for _, u := range params.Unregisterations {
		ids = append(ids, u.ID)
	}
	lc.registry.HandleUnregistration(ids)
	return nil
}

// Configuration answers per-item results from the injected
// GetConfiguration resolver; scope is ignored (spec.md §4.5.1, §9
// "Configuration fan-in").
func (lc *LanguageClient) Configuration(ctx context.Context, params *protocol.ConfigurationParams) ([]any, error) {
	results := make([]any, len(params.Items))
	for i, item := range params.Items {
		if lc.opts.GetConfiguration != nil {
			if v, ok := lc.opts.GetConfiguration(item.Section); ok {
				results[i] = v
				continue
			}
		}
		results[i] = nil
	}
	return results, nil
}

// CodeLensRefresh fans out to subscribers via allVoid (C4).
func (lc *LanguageClient) CodeLensRefresh(ctx context.Context) error {
	_, err := lc.codeLensRefresh.SendRequest(ctx, struct{}{}, dispatch.AllVoid[struct{}])
	return err
}

// SemanticTokensRefresh fans out to subscribers via allVoid (C4).
func (lc *LanguageClient) SemanticTokensRefresh(ctx context.Context) error {
	_, err := lc.semanticTokensRefresh.SendRequest(ctx, struct{}{}, dispatch.AllVoid[struct{}])
	return err
}

// DiagnosticRefresh fans out to subscribers via allVoid (C4). The pinned
// go.lsp.dev/protocol release predates LSP 3.17's pull-diagnostics
// addition and exposes no wire method for this; the fan-out endpoint
// still exists so a host embedding lspmux directly can drive it, per
// DESIGN.md's note on the gap.
func (lc *LanguageClient) DiagnosticRefresh(ctx context.Context) error {
	_, err := lc.diagnosticRefresh.SendRequest(ctx, struct{}{}, dispatch.AllVoid[struct{}])
	return err
}

// InlayHintRefresh is the programmatic-only counterpart described above,
// for the same LSP-3.17 wire-type gap.
func (lc *LanguageClient) InlayHintRefresh(ctx context.Context) error {
	_, err := lc.inlayHintRefresh.SendRequest(ctx, struct{}{}, dispatch.AllVoid[struct{}])
	return err
}

// InlineValueRefresh is the programmatic-only counterpart described
// above, for the same LSP-3.17 wire-type gap.
func (lc *LanguageClient) InlineValueRefresh(ctx context.Context) error {
	_, err := lc.inlineValueRefresh.SendRequest(ctx, struct{}{}, dispatch.AllVoid[struct{}])
	return err
}

// ApplyEdit fans out via singleHandler, defaulting to false. Exactly one
// subscribed Binding is expected to own a given edit (the one holding the
// document(s) it touches); the rest decline with a nil *bool.
func (lc *LanguageClient) ApplyEdit(ctx context.Context, params *protocol.ApplyWorkspaceEditParams) (bool, error) {
	isNil := func(r *bool) bool { return r == nil }
	notApplied := false
	resp, err := lc.applyWorkspaceEdit.SendRequest(ctx, params, dispatch.SingleHandler(isNil, true, &notApplied))
	if err != nil || resp == nil {
		return false, err
	}
	return *resp, nil
}

// ShowDocument fans out via singleHandler, defaulting to {success:false}.
func (lc *LanguageClient) ShowDocument(ctx context.Context, params *protocol.ShowDocumentParams) (*protocol.ShowDocumentResult, error) {
	isNil := func(r *protocol.ShowDocumentResult) bool { return r == nil }
	def := &protocol.ShowDocumentResult{Success: false}
	return lc.showDocument.SendRequest(ctx, params, dispatch.SingleHandler(isNil, true, def))
}

// PublishDiagnostics emits onDiagnostics and, if the URI is still open in
// C5, caches the list for late-joining clients (spec.md §4.5.1, §4.6.1).
func (lc *LanguageClient) PublishDiagnostics(ctx context.Context, params *protocol.PublishDiagnosticsParams) error {
	ev := DiagnosticsEvent{
		URI:         params.URI,
		Version:     params.Version,
		Diagnostics: params.Diagnostics,
	}

	lc.mu.Lock()
	_, open := lc.docs[string(params.URI)]
	if open {
		lc.diagnostics[string(params.URI)] = ev
	}
	lc.mu.Unlock()

	lc.OnDiagnostics.Fire(ev)
	return nil
}

// LogMessage logs the server's message at debug level, recording the
// message type the server sent as a field.
func (lc *LanguageClient) LogMessage(ctx context.Context, params *protocol.LogMessageParams) error {
	lc.logger.Debug("server log", zap.String("message", params.Message), zap.Any("type", params.Type))
	return nil
}

// ShowMessage logs the server-initiated message.
func (lc *LanguageClient) ShowMessage(ctx context.Context, params *protocol.ShowMessageParams) error {
	lc.logger.Info("server show-message", zap.String("message", params.Message), zap.Any("type", params.Type))
	return nil
}

// ShowMessageRequest logs a warning and responds nil (spec.md §4.5.1:
// show-message-request has no meaningful single answer across N clients).
func (lc *LanguageClient) ShowMessageRequest(ctx context.Context, params *protocol.ShowMessageRequestParams) (*protocol.MessageActionItem, error) {
	lc.logger.Warn("server show-message-request dropped", zap.String("message", params.Message))
	return nil, nil
}

// WorkDoneProgressCreate accepts and no-ops.
func (lc *LanguageClient) WorkDoneProgressCreate(ctx context.Context, params *protocol.WorkDoneProgressCreateParams) error {
	return nil
}

// WorkspaceFolders returns the folders from the stored initializeParams.
func (lc *LanguageClient) WorkspaceFolders(ctx context.Context) ([]protocol.WorkspaceFolder, error) {
	lc.mu.Lock()
	params := lc.initializeParams
	lc.mu.Unlock()
	if params == nil {
		return nil, nil
	}
	return params.WorkspaceFolders, nil
}

func registrationFromWire(r protocol.Registration) capabilities.Registration {
	return capabilities.Registration{
		ID:       r.ID,
		Method:   r.Method,
		Raw:      r.RegisterOptions,
		Selector: selectorFromRegisterOptions(r.Method, r.RegisterOptions),
		Watchers: watchersFromRegisterOptions(r.Method, r.RegisterOptions),
	}
}
