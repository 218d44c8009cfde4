// Package cache memoizes idempotent upstream LSP requests by a fingerprint
// of (method, arguments minus any cancellation token), so that concurrent
// identical requests from different Bindings collapse into a single
// upstream call (spec.md §4.3, component C3).
package cache

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"
)

// Cacheable is the read-only language-intelligence request set: the
// forwarded set (spec.md glossary) minus execute-command and minus any
// request whose result depends on side effects.
var Cacheable = map[string]bool{
	"textDocument/hover":                true,
	"textDocument/completion":           true,
	"completionItem/resolve":            true,
	"textDocument/semanticTokens/full":  true,
	"textDocument/semanticTokens/range": true,
	"textDocument/definition":           true,
	"textDocument/documentHighlight":    true,
	"textDocument/references":           true,
	"textDocument/documentSymbol":       true,
	"workspace/symbol":                  true,
	"workspaceSymbol/resolve":           true,
	"textDocument/formatting":           true,
	"textDocument/rangeFormatting":      true,
	"textDocument/onTypeFormatting":     true,
	"textDocument/rename":               true,
	"textDocument/prepareRename":        true,
	"textDocument/codeLens":             true,
	"codeLens/resolve":                  true,
	"textDocument/codeAction":           true,
	"codeAction/resolve":                true,
	"textDocument/documentLink":         true,
	"documentLink/resolve":              true,
	"textDocument/foldingRange":         true,
	"textDocument/documentColor":        true,
	"textDocument/diagnostic":           true,
	"workspace/diagnostic":              true,
	"textDocument/signatureHelp":        true,
}

// cached is one resolved (method, args) result, retained until the next
// Reset so that sequential identical requests never re-invoke fn, not just
// concurrent in-flight ones.
type cached struct {
	value any
	err   error
}

// Call performs the upstream call (method, args), applying the cache
// contract: a cache hit returns the stored resolved value without invoking
// fn again, whether the hit is a sequential repeat of an earlier completed
// call or a concurrent call racing an in-flight one. Concurrent identical
// misses collapse into one upstream call via singleflight; the result they
// collapse to is then retained for any later caller until Reset (spec.md
// §4.3, testable property #4). The cancellation token is excluded from the
// fingerprint by the caller (it passes the already-stripped args), so one
// caller cancelling can never poison another caller's view of the same
// result (spec.md §4.3 "Invalidation").
//
// Non-cacheable methods always invoke fn directly.
type Cache struct {
	mu      sync.Mutex
	group   singleflight.Group
	results map[string]cached
	// gen increments on every Reset. A result computed by a call that
	// started before a concurrent Reset is discarded rather than stored,
	// so a Reset racing an in-flight Call can never leave a stale entry
	// behind it.
	gen uint64
}

// New builds an empty request cache.
func New() *Cache {
	return &Cache{results: make(map[string]cached)}
}

// Call resolves (method, args) through the cache. args is anything
// JSON-marshalable; the caller is responsible for stripping any
// cancellation token from args before calling (spec.md §4.3).
func (c *Cache) Call(ctx context.Context, method string, args any, fn func(context.Context) (any, error)) (any, error) {
	if !Cacheable[method] {
		return fn(ctx)
	}

	key := c.key(method, args)

	c.mu.Lock()
	if r, ok := c.results[key]; ok {
		c.mu.Unlock()
		return r.value, r.err
	}
	gen := c.gen
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		return fn(ctx)
	})

	c.mu.Lock()
	if gen == c.gen {
		if _, exists := c.results[key]; !exists {
			c.results[key] = cached{value: v, err: err}
		}
	}
	c.mu.Unlock()

	return v, err
}

// key computes the fingerprint used for both the persistent result store
// and the singleflight key: a stable hash of (method, canonicalized args).
func (c *Cache) key(method string, args any) string {
	h := xxhash.New()
	_, _ = h.Write([]byte(method))
	_, _ = h.Write([]byte{0}) // separator so "ab"+"c" can't collide with "a"+"bc"
	_, _ = h.Write([]byte(canonicalJSON(args)))
	return strconv.FormatUint(h.Sum64(), 16)
}

// Reset flushes every stored result. Called on any document open, change,
// or close on the owning LanguageClient, before the corresponding mutation
// event fires, so subscribers always observe a coherent
// (empty-cache, new-doc) state (spec.md §5 "Ordering guarantees").
func (c *Cache) Reset() {
	c.mu.Lock()
	c.gen++
	c.results = make(map[string]cached)
	c.mu.Unlock()
}

func canonicalJSON(v any) string {
	// Re-marshal through a generic map/slice walk so field order never
	// affects the fingerprint, matching json.Marshal's own deterministic
	// map-key ordering plus a stable re-encode of the decoded value.
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return string(b)
	}
	canon, _ := json.Marshal(sortedValue(generic))
	return string(canon)
}

func sortedValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(orderedMap, 0, len(keys))
		for _, k := range keys {
			out = append(out, kv{k, sortedValue(t[k])})
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = sortedValue(e)
		}
		return out
	default:
		return v
	}
}

type kv struct {
	K string
	V any
}

// orderedMap marshals as a JSON object preserving insertion order, which
// sortedValue has already sorted by key.
type orderedMap []kv

func (m orderedMap) MarshalJSON() ([]byte, error) {
	var b []byte
	b = append(b, '{')
	for i, e := range m {
		if i > 0 {
			b = append(b, ',')
		}
		kb, _ := json.Marshal(e.K)
		b = append(b, kb...)
		b = append(b, ':')
		vb, err := json.Marshal(e.V)
		if err != nil {
			return nil, err
		}
		b = append(b, vb...)
	}
	b = append(b, '}')
	return b, nil
}
