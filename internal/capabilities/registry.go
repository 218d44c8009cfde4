// Package capabilities implements the server-capability registry (C2):
// static capabilities from initialize plus dynamic (un)registration, and
// resolution of whether a given text-document notification or file-watch
// event applies to a document (spec.md §4.2).
package capabilities

import (
	"strconv"
	"sync"

	"github.com/rlch/lspmux/internal/event"
)

// SyncKind mirrors LSP's TextDocumentSyncKind.
type SyncKind int

const (
	SyncNone SyncKind = iota
	SyncFull
	SyncIncremental
)

// SaveOptions mirrors LSP's SaveOptions (textDocument/didSave payload
// shape).
type SaveOptions struct {
	IncludeText bool
}

// TextDocumentSyncOptions is the resolved view of whether/how a given
// text-document notification method applies, per spec.md §4.2
// "TextDocumentSync resolution".
type TextDocumentSyncOptions struct {
	OpenClose bool
	Change    SyncKind
	Save      *SaveOptions
	WillSave  bool
}

// Method names for the six text-document sync notifications/requests the
// registry resolves applicability for.
const (
	MethodDidOpen           = "textDocument/didOpen"
	MethodDidClose          = "textDocument/didClose"
	MethodDidChange         = "textDocument/didChange"
	MethodDidSave           = "textDocument/didSave"
	MethodWillSave          = "textDocument/willSave"
	MethodWillSaveWaitUntil = "textDocument/willSaveWaitUntil"
	MethodDidChangeWatched  = "workspace/didChangeWatchedFiles"
)

// Registration is a dynamic capability record. Identity is ID.
type Registration struct {
	ID       string
	Method   string
	Selector DocumentSelector // nil for non-text-document registrations
	Watchers []FileSystemWatcher
	// Raw carries the server-supplied registerOptions verbatim, for
	// methods the registry doesn't interpret itself but still needs to
	// replay to late-joining clients.
	Raw any
}

// FileChangeKind mirrors LSP's FileChangeType bitmask members.
type FileChangeKind int

const (
	FileCreated FileChangeKind = 1 << iota
	FileChanged
	FileDeleted
)

// defaultWatchKinds is LSP's default watch-kind bitmask (create|change|delete).
const defaultWatchKinds = FileCreated | FileChanged | FileDeleted

// FileSystemWatcher is one entry of a didChangeWatchedFiles registration.
type FileSystemWatcher struct {
	GlobPattern Pattern
	Kind        FileChangeKind // 0 means "use defaultWatchKinds"
}

func (w FileSystemWatcher) kind() FileChangeKind {
	if w.Kind == 0 {
		return defaultWatchKinds
	}
	return w.Kind
}

// StaticCapabilities is the subset of the server's advertised
// ServerCapabilities the registry needs to synthesize the static
// text-document-sync registration (spec.md §4.2).
type StaticCapabilities struct {
	TextDocumentSync SyncKind
	SaveIncludeText  bool
	HasSave          bool
	HasWillSave      bool
	HasWillSaveWait  bool
}

// Registry tracks static and dynamic server capabilities for one
// LanguageClient. Every method serializes on mu, so it is safe to use from
// several goroutines at once.
type Registry struct {
	mu       sync.Mutex
	static   StaticCapabilities
	byID     map[string]Registration
	watchers map[string]FileSystemWatcher // registration ID -> watcher, flattened

	OnRegistrationRequest   event.Emitter[[]Registration]
	OnUnregistrationRequest event.Emitter[[]string]
	OnDidChangeWatchedFiles event.Emitter[struct{}]
}

// New builds a registry seeded with the server's initial static
// capabilities.
func New(static StaticCapabilities) *Registry {
	return &Registry{
		static:   static,
		byID:     make(map[string]Registration),
		watchers: make(map[string]FileSystemWatcher),
	}
}

// GetStaticCapabilities returns the static set from initialize.
func (r *Registry) GetStaticCapabilities() StaticCapabilities {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.static
}

// HandleRegistration adds registrations whose id is not already present
// and fires OnRegistrationRequest with the filtered-new set. Duplicate ids
// are silently dropped: some servers (a known quirk of certain .NET
// language servers) re-send registrations that already exist.
func (r *Registry) HandleRegistration(regs []Registration) {
	r.mu.Lock()
	fresh := make([]Registration, 0, len(regs))
	for _, reg := range regs {
		if _, exists := r.byID[reg.ID]; exists {
			continue
		}
		r.byID[reg.ID] = reg
		if reg.Method == MethodDidChangeWatched {
			for i, w := range reg.Watchers {
				r.watchers[reg.ID+"#"+strconv.Itoa(i)] = w
			}
		}
		fresh = append(fresh, reg)
	}
	r.mu.Unlock()

	if len(fresh) == 0 {
		return
	}
	r.OnRegistrationRequest.Fire(fresh)

	for _, reg := range fresh {
		if reg.Method == MethodDidChangeWatched {
			r.OnDidChangeWatchedFiles.Fire(struct{}{})
		}
	}
}

// HandleUnregistration drops matching ids and fires
// OnUnregistrationRequest with the subset actually removed.
func (r *Registry) HandleUnregistration(ids []string) {
	r.mu.Lock()
	removed := make([]string, 0, len(ids))
	watchedChanged := false
	for _, id := range ids {
		reg, ok := r.byID[id]
		if !ok {
			continue
		}
		delete(r.byID, id)
		if reg.Method == MethodDidChangeWatched {
			for i := range reg.Watchers {
				delete(r.watchers, id+"#"+strconv.Itoa(i))
			}
			watchedChanged = true
		}
		removed = append(removed, id)
	}
	r.mu.Unlock()

	if len(removed) == 0 {
		return
	}
	r.OnUnregistrationRequest.Fire(removed)
	if watchedChanged {
		r.OnDidChangeWatchedFiles.Fire(struct{}{})
	}
}

// Registrations returns a snapshot of every currently-held dynamic
// registration, used to replay them to a newly-attached client (spec.md
// §4.6 step 7).
func (r *Registry) Registrations() []Registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Registration, 0, len(r.byID))
	for _, reg := range r.byID {
		out = append(out, reg)
	}
	return out
}

// GetTextDocumentNotificationOptions resolves whether method applies to
// doc, per the resolution order in spec.md §4.2: (a) the synthesized
// static registration derived from the initial capabilities, then (b) the
// first dynamic registration for method whose selector matches doc.
func (r *Registry) GetTextDocumentNotificationOptions(method string, doc Document) (TextDocumentSyncOptions, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	static := resolveStaticSync(r.static)
	if r.appliesStatically(method, static) {
		return static, true
	}

	for _, reg := range r.byID {
		if reg.Method != method {
			continue
		}
		if reg.Selector.Matches(doc) {
			return static, true
		}
	}
	return TextDocumentSyncOptions{}, false
}

func (r *Registry) appliesStatically(method string, static TextDocumentSyncOptions) bool {
	switch method {
	case MethodDidOpen, MethodDidClose:
		return static.OpenClose
	case MethodDidChange:
		return static.Change != SyncNone
	case MethodDidSave:
		return static.Save != nil
	case MethodWillSave:
		return static.WillSave
	case MethodWillSaveWaitUntil:
		// resolveStaticSync folds willSaveWaitUntil support into the same
		// WillSave flag as willSave; dynamic registration is the only way
		// to split them, matched in the loop in
		// GetTextDocumentNotificationOptions.
		return static.WillSave
	default:
		return false
	}
}

// resolveStaticSync expands a bare sync-kind enum into the structured
// {openClose, change, save} triple, per spec.md §4.2
// "TextDocumentSync resolution".
func resolveStaticSync(static StaticCapabilities) TextDocumentSyncOptions {
	if static.TextDocumentSync == SyncNone {
		return TextDocumentSyncOptions{OpenClose: false, Change: SyncNone, Save: nil}
	}
	opts := TextDocumentSyncOptions{
		OpenClose: true,
		Change:    static.TextDocumentSync,
		WillSave:  static.HasWillSave || static.HasWillSaveWait,
	}
	if static.HasSave {
		opts.Save = &SaveOptions{IncludeText: static.SaveIncludeText}
	}
	return opts
}

// IsPathWatched tests whether path matches any dynamically-registered
// file-system watcher's globPattern and whether kind is in that watcher's
// kind bitmask.
func (r *Registry) IsPathWatched(path string, kind FileChangeKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, w := range r.watchers {
		if w.kind()&kind == 0 {
			continue
		}
		if w.GlobPattern.matches(path) {
			return true
		}
	}
	return false
}
