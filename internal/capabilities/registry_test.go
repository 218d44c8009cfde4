package capabilities

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistrationDedup(t *testing.T) {
	r := New(StaticCapabilities{})

	var fired [][]Registration
	r.OnRegistrationRequest.On(func(regs []Registration) {
		fired = append(fired, regs)
	})

	reg := Registration{ID: "a", Method: MethodDidOpen}
	r.HandleRegistration([]Registration{reg})
	r.HandleRegistration([]Registration{reg}) // duplicate id, must be ignored

	require.Len(t, r.Registrations(), 1)
	require.Len(t, fired, 1, "second identical registration must not re-fire")
}

func TestUnregistrationOnlyReportsRemoved(t *testing.T) {
	r := New(StaticCapabilities{})
	r.HandleRegistration([]Registration{{ID: "a", Method: MethodDidOpen}})

	var removed []string
	r.OnUnregistrationRequest.On(func(ids []string) { removed = ids })

	r.HandleUnregistration([]string{"a", "nonexistent"})
	require.Equal(t, []string{"a"}, removed)
	require.Empty(t, r.Registrations())
}

func TestStaticSyncResolutionExpandsBareKind(t *testing.T) {
	r := New(StaticCapabilities{TextDocumentSync: SyncIncremental, HasSave: true, SaveIncludeText: true})
	opts, ok := r.GetTextDocumentNotificationOptions(MethodDidChange, Document{URI: "file:///a.go", LanguageID: "go"})
	require.True(t, ok)
	require.Equal(t, SyncIncremental, opts.Change)
	require.True(t, opts.OpenClose)
	require.NotNil(t, opts.Save)
	require.True(t, opts.Save.IncludeText)
}

func TestStaticSyncNoneDisablesOpenClose(t *testing.T) {
	r := New(StaticCapabilities{TextDocumentSync: SyncNone})
	_, ok := r.GetTextDocumentNotificationOptions(MethodDidOpen, Document{URI: "file:///a.go"})
	require.False(t, ok)
}

func TestDynamicRegistrationSelectorMatch(t *testing.T) {
	r := New(StaticCapabilities{TextDocumentSync: SyncNone})
	r.HandleRegistration([]Registration{{
		ID:     "watch-py",
		Method: MethodDidSave,
		Selector: DocumentSelector{{
			Language: "python",
		}},
	}})

	_, ok := r.GetTextDocumentNotificationOptions(MethodDidSave, Document{URI: "file:///a.py", LanguageID: "python"})
	require.True(t, ok)

	_, ok = r.GetTextDocumentNotificationOptions(MethodDidSave, Document{URI: "file:///a.go", LanguageID: "go"})
	require.False(t, ok)
}

func TestIsPathWatchedRespectsKindBitmaskAndGlobstar(t *testing.T) {
	r := New(StaticCapabilities{})
	r.HandleRegistration([]Registration{{
		ID:     "watch",
		Method: MethodDidChangeWatched,
		Watchers: []FileSystemWatcher{
			{GlobPattern: Pattern{Glob: "**/*.go"}, Kind: FileChanged},
		},
	}})

	require.True(t, r.IsPathWatched("/repo/pkg/sub/file.go", FileChanged))
	require.False(t, r.IsPathWatched("/repo/pkg/sub/file.go", FileDeleted))
	require.False(t, r.IsPathWatched("/repo/pkg/sub/file.txt", FileChanged))
}

func TestIsPathWatchedDefaultKindBitmask(t *testing.T) {
	r := New(StaticCapabilities{})
	r.HandleRegistration([]Registration{{
		ID:     "watch",
		Method: MethodDidChangeWatched,
		Watchers: []FileSystemWatcher{
			{GlobPattern: Pattern{Glob: "*.json"}},
		},
	}})

	require.True(t, r.IsPathWatched("config.json", FileCreated))
	require.True(t, r.IsPathWatched("config.json", FileDeleted))
}

func TestRelativePatternMatching(t *testing.T) {
	p := Pattern{BaseURI: "file:///repo/src", Glob: "**/*.ts"}
	require.True(t, p.matches("file:///repo/src/a/b/c.ts"))
	require.False(t, p.matches("file:///repo/other/c.ts"))
}

func TestNilSelectorMatchesEverything(t *testing.T) {
	var sel DocumentSelector
	require.True(t, sel.Matches(Document{URI: "file:///anything"}))
}
