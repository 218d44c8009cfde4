// Package broker implements the mutualization core: LanguageClient (C5,
// one per upstream server) and Binding (C6, one per attached client),
// wired together through the capability registry, request cache,
// multi-handler dispatch, and diff-engine packages under internal/.
package broker

import (
	"go.lsp.dev/protocol"

	"github.com/rlch/lspmux/internal/capabilities"
)

// Document is C5's authoritative view of one open file: the version and
// text the upstream server has actually been told about.
type Document struct {
	URI        string
	LanguageID string
	Version    int32
	Text       string
}

func (d Document) asSelectorDoc() capabilities.Document {
	return capabilities.Document{URI: d.URI, LanguageID: d.LanguageID}
}

// DisposeReason explains why a LanguageClient tore down.
type DisposeReason int

const (
	// DisposeLocal means dispose() was called explicitly.
	DisposeLocal DisposeReason = iota
	// DisposeRemote means the upstream server's transport closed on its own.
	DisposeRemote
)

func (r DisposeReason) String() string {
	if r == DisposeRemote {
		return "Remote"
	}
	return "Local"
}

// EndCause explains why a Binding's lifetime ended.
type EndCause int

const (
	// EndCauseClient means the attached client's transport closed.
	EndCauseClient EndCause = iota
	// EndCauseServer means the upstream LanguageClient disposed.
	EndCauseServer
)

func (c EndCause) String() string {
	if c == EndCauseServer {
		return "Server"
	}
	return "Client"
}

// DiagnosticsEvent is fired whenever C5 receives (and, if the URI is
// open, caches) a fresh diagnostics publication from the server.
type DiagnosticsEvent struct {
	URI         protocol.DocumentURI
	Version     uint32
	Diagnostics []protocol.Diagnostic
}
