package broker

import (
	"context"

	"go.lsp.dev/protocol"

	"github.com/rlch/lspmux/internal/capabilities"
	"github.com/rlch/lspmux/internal/diffengine"
	"github.com/rlch/lspmux/internal/doctracker"
	"github.com/rlch/lspmux/internal/event"
	"github.com/rlch/lspmux/internal/lifecycle"
)

// Synchronize attaches tracker as a contributor to C5's shared document
// set (spec.md §4.5.2). It subscribes to the tracker's open/close/change
// events, debounces content changes on a 500 ms trailing window, and
// wires flush so the pre-request signal ahead of a forwarded request can
// force it synchronously. The returned Disposable unwinds every
// subscription and the debounce timer.
func (lc *LanguageClient) Synchronize(tracker *doctracker.Tracker, flush *event.Emitter[struct{}]) lifecycle.Disposable {
	var coll lifecycle.DisposableCollection

	debounce := lifecycle.NewDebounce(lifecycle.DefaultDebounceWindow, func() {
		lc.flushTracker(context.Background(), tracker)
	})
	coll.Add(debounce)

	coll.Add(tracker.OnDidOpen.On(func(d doctracker.TrackedDocument) {
		lc.openDocument(context.Background(), tracker, d)
	}))
	coll.Add(tracker.OnDidClose.On(func(uri string) {
		debounce.Flush()
		lc.closeDocument(context.Background(), tracker, uri)
	}))
	coll.Add(tracker.OnDidChangeContent.On(func(_ doctracker.ContentChange) {
		debounce.Trigger()
	}))
	coll.Add(tracker.OnWillSave.On(func(uri string) {
		lc.willSave(context.Background(), uri)
	}))
	coll.Add(tracker.OnDidSave.On(func(ev doctracker.SaveEvent) {
		lc.didSave(context.Background(), ev)
	}))
	coll.Add(flush.On(func(struct{}) {
		debounce.Flush()
	}))

	return &coll
}

func (lc *LanguageClient) openDocument(ctx context.Context, tracker *doctracker.Tracker, d doctracker.TrackedDocument) {
	lc.mu.Lock()
	refs, ok := lc.docRefs[d.URI]
	if !ok {
		refs = make(map[*doctracker.Tracker]struct{})
		lc.docRefs[d.URI] = refs
	}
	refs[tracker] = struct{}{}

	if _, alreadyOpen := lc.docs[d.URI]; alreadyOpen {
		lc.mu.Unlock()
		return
	}
	doc := &Document{URI: d.URI, LanguageID: d.LanguageID, Version: 1, Text: d.Text}
	lc.docs[d.URI] = doc
	lc.mu.Unlock()

	if lc.shouldSendOpenClose(*doc) {
		_ = lc.server.DidOpen(ctx, &protocol.DidOpenTextDocumentParams{
			TextDocument: protocol.TextDocumentItem{
				URI:        protocol.DocumentURI(d.URI),
				LanguageID: protocol.LanguageIdentifier(d.LanguageID),
				Version:    1,
				Text:       d.Text,
			},
		})
	}

	lc.cache.Reset()
	lc.OnDocumentOpen.Fire(*doc)
}

func (lc *LanguageClient) closeDocument(ctx context.Context, tracker *doctracker.Tracker, uri string) {
	lc.mu.Lock()
	refs := lc.docRefs[uri]
	delete(refs, tracker)
	if len(refs) > 0 {
		lc.mu.Unlock()
		return
	}
	delete(lc.docRefs, uri)
	doc, ok := lc.docs[uri]
	delete(lc.docs, uri)
	delete(lc.diagnostics, uri)
	lc.mu.Unlock()

	if !ok {
		return
	}

	if lc.shouldSendOpenClose(*doc) {
		_ = lc.server.DidClose(ctx, &protocol.DidCloseTextDocumentParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(uri)},
		})
	}

	lc.cache.Reset()
	lc.OnDocumentClosed.Fire(*doc)
}

func (lc *LanguageClient) willSave(ctx context.Context, uri string) {
	if lc.opts.DisableSaveNotifications {
		return
	}
	doc, ok := lc.snapshot(uri)
	if !ok || !lc.syncOptionsFor(capabilities.MethodWillSave, doc).WillSave {
		return
	}
	_ = lc.server.WillSave(ctx, &protocol.WillSaveTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(uri)},
	})
}

func (lc *LanguageClient) didSave(ctx context.Context, ev doctracker.SaveEvent) {
	if lc.opts.DisableSaveNotifications {
		return
	}
	doc, ok := lc.snapshot(ev.URI)
	if !ok {
		return
	}
	sync := lc.syncOptionsFor(capabilities.MethodDidSave, doc)
	if sync.Save == nil {
		return
	}
	params := &protocol.DidSaveTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(ev.URI)},
	}
	if sync.Save.IncludeText {
		params.Text = ev.Text
	}
	_ = lc.server.DidSave(ctx, params)
}

// flushTracker walks every document currently tracked and, for any whose
// text differs from C5's stored copy, computes and sends didChange
// (spec.md §4.5.2 steps 1-4).
func (lc *LanguageClient) flushTracker(ctx context.Context, tracker *doctracker.Tracker) {
	for _, d := range tracker.All() {
		lc.mu.Lock()
		stored, ok := lc.docs[d.URI]
		lc.mu.Unlock()
		if !ok || stored.Text == d.Text {
			continue
		}

		sync := lc.syncOptionsFor(capabilities.MethodDidChange, *stored)

		var changes []protocol.TextDocumentContentChangeEvent
		switch sync.Change {
		case capabilities.SyncIncremental:
			edits, err := diffengine.Diff(ctx, stored.Text, d.Text, diffengine.DefaultBudget)
			if err != nil {
				edits = diffengine.FullReplace(stored.Text, d.Text)
			}
			changes = wireChangesFrom(edits)
		case capabilities.SyncFull:
			changes = []protocol.TextDocumentContentChangeEvent{{Text: d.Text}}
		case capabilities.SyncNone:
			changes = nil
		}

		newVersion := stored.Version + 1
		updated := &Document{URI: d.URI, LanguageID: stored.LanguageID, Version: newVersion, Text: d.Text}
		lc.mu.Lock()
		lc.docs[d.URI] = updated
		lc.mu.Unlock()

		if sync.Change != capabilities.SyncNone {
			_ = lc.server.DidChange(ctx, &protocol.DidChangeTextDocumentParams{
				TextDocument: protocol.VersionedTextDocumentIdentifier{
					TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: protocol.DocumentURI(d.URI)},
					Version:                newVersion,
				},
				ContentChanges: changes,
			})
		}

		lc.cache.Reset()
		lc.OnDocumentChanged.Fire(*updated)
	}
}

// replayOpenDocumentsFor sends didOpen for every already-open document
// that newly matches a freshly-registered textDocument/didOpen selector
// (spec.md §4.5.3).
func (lc *LanguageClient) replayOpenDocumentsFor(regs []capabilities.Registration) {
	for _, reg := range regs {
		if reg.Method != capabilities.MethodDidOpen {
			continue
		}
		lc.mu.Lock()
		docs := make([]Document, 0, len(lc.docs))
		for _, d := range lc.docs {
			docs = append(docs, *d)
		}
		lc.mu.Unlock()

		for _, d := range docs {
			if !reg.Selector.Matches(d.asSelectorDoc()) {
				continue
			}
			_ = lc.server.DidOpen(context.Background(), &protocol.DidOpenTextDocumentParams{
				TextDocument: protocol.TextDocumentItem{
					URI:        protocol.DocumentURI(d.URI),
					LanguageID: protocol.LanguageIdentifier(d.LanguageID),
					Version:    d.Version,
					Text:       d.Text,
				},
			})
		}
	}
}

func (lc *LanguageClient) snapshot(uri string) (Document, bool) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	d, ok := lc.docs[uri]
	if !ok {
		return Document{}, false
	}
	return *d, true
}

func (lc *LanguageClient) shouldSendOpenClose(d Document) bool {
	return lc.syncOptionsFor(capabilities.MethodDidOpen, d).OpenClose
}

func (lc *LanguageClient) syncOptionsFor(method string, d Document) capabilities.TextDocumentSyncOptions {
	opts, ok := lc.registry.GetTextDocumentNotificationOptions(method, d.asSelectorDoc())
	if !ok {
		return capabilities.TextDocumentSyncOptions{}
	}
	return opts
}

func wireChangesFrom(edits []diffengine.Change) []protocol.TextDocumentContentChangeEvent {
	out := make([]protocol.TextDocumentContentChangeEvent, 0, len(edits))
	for _, e := range edits {
		out = append(out, protocol.TextDocumentContentChangeEvent{
			Range: &protocol.Range{
				Start: protocol.Position{Line: e.StartLine, Character: e.StartChar},
				End:   protocol.Position{Line: e.EndLine, Character: e.EndChar},
			},
			RangeLength: e.RangeLength,
			Text:        e.Text,
		})
	}
	return out
}
