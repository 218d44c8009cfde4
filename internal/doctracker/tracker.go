// Package doctracker defines the document-tracker abstraction LanguageClient
// synchronizes against (spec.md §6): one implementation per Binding,
// supplying the set of currently-open documents plus open/close/change/save
// event streams. The broker core never assumes a particular editor
// integration; this in-memory implementation is the one lspmux ships,
// fed by a Binding's own didOpen/didChange/didClose handlers.
package doctracker

import (
	"sync"

	"github.com/rlch/lspmux/internal/event"
)

// TrackedDocument is one document as the owning client currently sees it.
// Version mirrors the version this client's own didOpen/didChange
// notifications carried, independent of C5's authoritative server-side
// version for the same URI (spec.md §9 "Document version rewriting on
// applyEdit").
type TrackedDocument struct {
	URI        string
	LanguageID string
	Text       string
	Version    int32
}

// ContentChange is fired on every text mutation the tracker observes.
type ContentChange struct {
	URI  string
	Text string
}

// SaveEvent carries the text included with a save, when the client sent
// one.
type SaveEvent struct {
	URI  string
	Text string // empty when the save omitted text
}

// Tracker is an in-memory per-Binding document mirror (spec.md's
// "ClientDocumentView"). All() and Get() observe a point-in-time
// snapshot; event subscribers observe every subsequent mutation.
type Tracker struct {
	mu   sync.RWMutex
	docs map[string]TrackedDocument

	OnDidOpen          event.Emitter[TrackedDocument]
	OnDidClose         event.Emitter[string]
	OnDidChangeContent event.Emitter[ContentChange]
	OnDidSave          event.Emitter[SaveEvent]
	OnWillSave         event.Emitter[string]
}

// New builds an empty tracker.
func New() *Tracker {
	return &Tracker{docs: make(map[string]TrackedDocument)}
}

// All returns a snapshot of every currently-open document.
func (t *Tracker) All() []TrackedDocument {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TrackedDocument, 0, len(t.docs))
	for _, d := range t.docs {
		out = append(out, d)
	}
	return out
}

// Get returns the tracked document for uri, if open.
func (t *Tracker) Get(uri string) (TrackedDocument, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.docs[uri]
	return d, ok
}

// Open records uri as opened with the given initial text and version and
// fires OnDidOpen (not OnDidChangeContent).
func (t *Tracker) Open(uri, languageID, text string, version int32) {
	doc := TrackedDocument{URI: uri, LanguageID: languageID, Text: text, Version: version}
	t.mu.Lock()
	t.docs[uri] = doc
	t.mu.Unlock()
	t.OnDidOpen.Fire(doc)
}

// Change replaces uri's full text and version and fires
// OnDidChangeContent. The tracker only ever stores full text (it is the
// client's own mirror, not the wire representation); incremental
// client-sent ranges are applied by the caller before calling Change.
func (t *Tracker) Change(uri, text string, version int32) {
	t.mu.Lock()
	doc, ok := t.docs[uri]
	if ok {
		doc.Text = text
		doc.Version = version
		t.docs[uri] = doc
	}
	t.mu.Unlock()
	if ok {
		t.OnDidChangeContent.Fire(ContentChange{URI: uri, Text: text})
	}
}

// Close drops uri from the tracker and fires OnDidClose.
func (t *Tracker) Close(uri string) {
	t.mu.Lock()
	_, ok := t.docs[uri]
	delete(t.docs, uri)
	t.mu.Unlock()
	if ok {
		t.OnDidClose.Fire(uri)
	}
}

// WillSave fires OnWillSave for uri.
func (t *Tracker) WillSave(uri string) {
	t.OnWillSave.Fire(uri)
}

// Save fires OnDidSave for uri with the optional saved text.
func (t *Tracker) Save(uri, text string) {
	t.OnDidSave.Fire(SaveEvent{URI: uri, Text: text})
}
