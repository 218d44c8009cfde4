package broker

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"

	"github.com/rlch/lspmux/internal/doctracker"
)

func TestVersionOfReturnsTrackerVersion(t *testing.T) {
	d := doctracker.TrackedDocument{URI: "file:///a.go", Version: 7}
	require.EqualValues(t, 7, versionOf(d))
}

func TestFilterWorkspaceEditDropsUntrackedDocumentChanges(t *testing.T) {
	b := &Binding{tracker: doctracker.New()}
	b.tracker.Open("file:///open.go", "go", "package a", 3)

	params := &protocol.ApplyWorkspaceEditParams{
		Edit: protocol.WorkspaceEdit{
			DocumentChanges: []protocol.TextDocumentEdit{
				{
					TextDocument: protocol.OptionalVersionedTextDocumentIdentifier{
						TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: "file:///open.go"},
					},
				},
				{
					TextDocument: protocol.OptionalVersionedTextDocumentIdentifier{
						TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: "file:///closed.go"},
					},
				},
			},
		},
	}

	filtered, touched := b.filterWorkspaceEdit(params)
	require.True(t, touched)
	require.Len(t, filtered.Edit.DocumentChanges, 1)
	require.Equal(t, protocol.DocumentURI("file:///open.go"), filtered.Edit.DocumentChanges[0].TextDocument.URI)
	require.EqualValues(t, 3, filtered.Edit.DocumentChanges[0].TextDocument.Version)
}

func TestFilterWorkspaceEditDeclinesWhenNothingTracked(t *testing.T) {
	b := &Binding{tracker: doctracker.New()}

	params := &protocol.ApplyWorkspaceEditParams{
		Edit: protocol.WorkspaceEdit{
			Changes: map[protocol.DocumentURI][]protocol.TextEdit{
				"file:///untracked.go": {{NewText: "x"}},
			},
		},
	}

	_, touched := b.filterWorkspaceEdit(params)
	require.False(t, touched)
}

func TestFilterWorkspaceEditKeepsTrackedChanges(t *testing.T) {
	b := &Binding{tracker: doctracker.New()}
	b.tracker.Open("file:///a.go", "go", "package a", 1)

	params := &protocol.ApplyWorkspaceEditParams{
		Edit: protocol.WorkspaceEdit{
			Changes: map[protocol.DocumentURI][]protocol.TextEdit{
				"file:///a.go":       {{NewText: "x"}},
				"file:///unknown.go": {{NewText: "y"}},
			},
		},
	}

	filtered, touched := b.filterWorkspaceEdit(params)
	require.True(t, touched)
	require.Len(t, filtered.Edit.Changes, 1)
	_, ok := filtered.Edit.Changes["file:///a.go"]
	require.True(t, ok)
}
