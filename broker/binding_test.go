package broker

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"

	"github.com/rlch/lspmux/internal/capabilities"
)

func TestWireSyncOptionsRoundTripsSave(t *testing.T) {
	sync := capabilities.TextDocumentSyncOptions{
		OpenClose: true,
		Change:    capabilities.SyncIncremental,
		WillSave:  true,
		Save:      &capabilities.SaveOptions{IncludeText: false},
	}

	wire := wireSyncOptions(sync)

	require.True(t, wire.OpenClose)
	require.Equal(t, protocol.TextDocumentSyncKindIncremental, wire.Change)
	require.True(t, wire.WillSave)
	require.NotNil(t, wire.Save)
	require.False(t, wire.Save.IncludeText)
}

func TestWireSyncOptionsOmitsSaveWhenNil(t *testing.T) {
	wire := wireSyncOptions(capabilities.TextDocumentSyncOptions{Change: capabilities.SyncFull})
	require.Nil(t, wire.Save)
}

func TestWireSyncKind(t *testing.T) {
	require.Equal(t, protocol.TextDocumentSyncKindFull, wireSyncKind(capabilities.SyncFull))
	require.Equal(t, protocol.TextDocumentSyncKindIncremental, wireSyncKind(capabilities.SyncIncremental))
	require.Equal(t, protocol.TextDocumentSyncKindNone, wireSyncKind(capabilities.SyncNone))
}

func TestTransformedCapabilitiesOverridesSyncAndClearsWorkspaceFolders(t *testing.T) {
	supported := true
	raw := protocol.ServerCapabilities{
		TextDocumentSync: protocol.TextDocumentSyncKindFull,
		Workspace: &protocol.ServerCapabilitiesWorkspace{
			WorkspaceFolders: &protocol.ServerCapabilitiesWorkspaceFolders{
				Supported: supported,
			},
		},
	}

	out := transformedCapabilities(raw, capabilities.TextDocumentSyncOptions{
		OpenClose: true,
		Change:    capabilities.SyncFull,
	})

	wire, ok := out.TextDocumentSync.(*protocol.TextDocumentSyncOptions)
	require.True(t, ok)
	require.True(t, wire.OpenClose)
	require.False(t, out.Workspace.WorkspaceFolders.Supported)
}
