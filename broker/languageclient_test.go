package broker

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"

	"github.com/rlch/lspmux/internal/capabilities"
)

func TestStaticCapabilitiesOfBareSyncKindImpliesSave(t *testing.T) {
	caps := protocol.ServerCapabilities{
		TextDocumentSync: protocol.TextDocumentSyncKindFull,
	}

	static := staticCapabilitiesOf(caps)

	require.Equal(t, capabilities.SyncFull, static.TextDocumentSync)
	require.True(t, static.HasSave, "a bare non-None sync kind must still imply save:{includeText:false}")
	require.False(t, static.SaveIncludeText)
}

func TestStaticCapabilitiesOfBareSyncKindNoneHasNoSave(t *testing.T) {
	caps := protocol.ServerCapabilities{
		TextDocumentSync: protocol.TextDocumentSyncKindNone,
	}

	static := staticCapabilitiesOf(caps)

	require.Equal(t, capabilities.SyncNone, static.TextDocumentSync)
	require.False(t, static.HasSave)
}

func TestStaticCapabilitiesOfStructuredOptions(t *testing.T) {
	caps := protocol.ServerCapabilities{
		TextDocumentSync: &protocol.TextDocumentSyncOptions{
			Change:            protocol.TextDocumentSyncKindIncremental,
			WillSave:          true,
			WillSaveWaitUntil: false,
			Save:              &protocol.SaveOptions{IncludeText: true},
		},
	}

	static := staticCapabilitiesOf(caps)

	require.Equal(t, capabilities.SyncIncremental, static.TextDocumentSync)
	require.True(t, static.HasWillSave)
	require.True(t, static.HasSave)
	require.True(t, static.SaveIncludeText)
}

func TestSyncKindOf(t *testing.T) {
	require.Equal(t, capabilities.SyncFull, syncKindOf(protocol.TextDocumentSyncKindFull))
	require.Equal(t, capabilities.SyncIncremental, syncKindOf(protocol.TextDocumentSyncKindIncremental))
	require.Equal(t, capabilities.SyncNone, syncKindOf(protocol.TextDocumentSyncKindNone))
}
