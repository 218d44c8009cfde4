package capabilities

import (
	"path"
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

// DocumentFilter is one element of an LSP document selector: a language-id
// match, a URI scheme match, a glob path pattern, or any combination of the
// three. A zero-value field means "don't filter on this dimension".
type DocumentFilter struct {
	Language string
	Scheme   string
	Pattern  Pattern
}

// Pattern is either a bare glob string matched against the document URI's
// path, or a RelativePattern anchored to a base URI (spec.md §4.2 "Document
// selector matching").
type Pattern struct {
	Glob string

	// BaseURI, when non-empty, makes Glob relative to this base URI: the
	// document path must be a descendant of BaseURI's path and match Glob
	// relative to it.
	BaseURI string
}

// DocumentSelector is an any-of list of filters. A nil/empty selector
// matches every document, per spec.
type DocumentSelector []DocumentFilter

// StringSelector builds a selector that matches solely on language id, the
// shorthand form LSP allows ("selector is a string").
func StringSelector(languageID string) DocumentSelector {
	return DocumentSelector{{Language: languageID}}
}

// Document is the minimal view of a document the selector needs to match
// against: its URI and language id.
type Document struct {
	URI        string
	LanguageID string
}

// Matches reports whether any filter in the selector matches doc. A nil or
// empty selector matches everything.
func (sel DocumentSelector) Matches(doc Document) bool {
	if len(sel) == 0 {
		return true
	}
	for _, f := range sel {
		if f.matches(doc) {
			return true
		}
	}
	return false
}

func (f DocumentFilter) matches(doc Document) bool {
	if f.Language != "" && f.Language != doc.LanguageID {
		return false
	}
	if f.Scheme != "" && f.Scheme != uriScheme(doc.URI) {
		return false
	}
	if f.Pattern.Glob != "" && !f.Pattern.matches(doc.URI) {
		return false
	}
	return true
}

func (p Pattern) matches(uri string) bool {
	docPath := uriPath(uri)

	if p.BaseURI != "" {
		basePath := uriPath(p.BaseURI)
		rel, ok := descendant(basePath, docPath)
		if !ok {
			return false
		}
		return globMatch(p.Glob, rel)
	}
	return globMatch(p.Glob, docPath)
}

// globCache avoids recompiling the same glob pattern on every match; the
// registry only ever holds a handful of distinct patterns at once so an
// unbounded cache is fine. Guarded by globCacheMu since matching can run
// from multiple Bindings' goroutines concurrently against one Registry.
var (
	globCacheMu sync.Mutex
	globCache   = map[string]glob.Glob{}
)

// globMatch matches an extended glob (supporting "**" globstar) against a
// path-like string. The glob body always uses "/" regardless of OS, and so
// does the parent-path check in descendant.
func globMatch(pattern, subject string) bool {
	globCacheMu.Lock()
	g, ok := globCache[pattern]
	if !ok {
		compiled, err := glob.Compile(pattern, '/')
		if err != nil {
			globCacheMu.Unlock()
			return false
		}
		globCache[pattern] = compiled
		g = compiled
	}
	globCacheMu.Unlock()
	return g.Match(subject)
}

// descendant reports whether target is base or a descendant of base, and if
// so returns target's path relative to base (using "/" separators).
func descendant(base, target string) (string, bool) {
	base = strings.TrimRight(path.Clean(base), "/")
	target = path.Clean(target)
	if target == base {
		return "", true
	}
	prefix := base + "/"
	if !strings.HasPrefix(target, prefix) {
		return "", false
	}
	return strings.TrimPrefix(target, prefix), true
}

func uriScheme(uri string) string {
	if i := strings.Index(uri, "://"); i >= 0 {
		return uri[:i]
	}
	return ""
}

func uriPath(uri string) string {
	if i := strings.Index(uri, "://"); i >= 0 {
		return uri[i+3:]
	}
	return uri
}
