// Package dispatch implements multi-handler fan-out for inbound
// server-to-client requests that must reach many subscribers at once
// (spec.md §4.4, component C4): refresh requests (allVoid) and
// workspace/applyEdit (singleHandler).
package dispatch

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rlch/lspmux/internal/brokererr"
)

// Handler answers one inbound request of type Req with a response of type
// Resp.
type Handler[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// Disposable unsubscribes a previously registered handler.
type Disposable interface{ Dispose() }

type disposeFunc func()

func (f disposeFunc) Dispose() { f() }

// Multi is a dispatch point with zero or more subscribers. SendRequest
// invokes every current subscriber concurrently and combines their
// responses via merge.
type Multi[Req, Resp any] struct {
	mu       sync.Mutex
	handlers map[int]Handler[Req, Resp]
	nextID   int
}

// OnRequest subscribes handler and returns a Disposable that removes it.
func (m *Multi[Req, Resp]) OnRequest(handler Handler[Req, Resp]) Disposable {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers == nil {
		m.handlers = make(map[int]Handler[Req, Resp])
	}
	id := m.nextID
	m.nextID++
	m.handlers[id] = handler
	return disposeFunc(func() {
		m.mu.Lock()
		delete(m.handlers, id)
		m.mu.Unlock()
	})
}

func (m *Multi[Req, Resp]) snapshot() []Handler[Req, Resp] {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Handler[Req, Resp], 0, len(m.handlers))
	for _, h := range m.handlers {
		out = append(out, h)
	}
	return out
}

// SendRequest invokes every current subscriber concurrently with req and
// combines their results via merge. With zero subscribers, merge still
// runs against an empty result slice so mergers like singleHandler can
// apply their default.
func (m *Multi[Req, Resp]) SendRequest(ctx context.Context, req Req, merge func([]Resp, []error) (Resp, error)) (Resp, error) {
	handlers := m.snapshot()
	results := make([]Resp, len(handlers))
	errs := make([]error, len(handlers))

	g, gctx := errgroup.WithContext(ctx)
	for i, h := range handlers {
		i, h := i, h
		g.Go(func() error {
			r, err := h(gctx, req)
			results[i] = r
			errs[i] = err
			return nil // errors are gathered, not short-circuited: a single
			// failing subscriber must never cancel the others' in-flight calls.
		})
	}
	_ = g.Wait()

	return merge(results, errs)
}

// AllVoid succeeds if every subscriber succeeded; on any error, returns the
// first non-nil error in errs. Multi.SendRequest fills errs in map-iteration
// order, so with several failing subscribers which error is returned is not
// defined.
func AllVoid[Resp any](results []Resp, errs []error) (Resp, error) {
	var zero Resp
	for _, err := range errs {
		if err != nil {
			return zero, err
		}
	}
	if len(results) > 0 {
		return results[0], nil
	}
	return zero, nil
}

// SingleHandler filters out nil responses (via isNil) and requires exactly
// one survivor. With zero or more than one, it returns defaultResp if
// hasDefault is true, else a HandlerCountMismatch error. Used for
// workspace/applyEdit, where exactly one Binding should own a given edit
// (spec.md §4.4).
func SingleHandler[Resp any](isNil func(Resp) bool, hasDefault bool, defaultResp Resp) func([]Resp, []error) (Resp, error) {
	return func(results []Resp, errs []error) (Resp, error) {
		var zero Resp
		for _, err := range errs {
			if err != nil {
				return zero, err
			}
		}

		var survivors []Resp
		for _, r := range results {
			if !isNil(r) {
				survivors = append(survivors, r)
			}
		}

		switch len(survivors) {
		case 1:
			return survivors[0], nil
		default:
			if hasDefault {
				return defaultResp, nil
			}
			return zero, brokererr.New(brokererr.HandlerCountMismatch, "expected exactly one non-nil handler response")
		}
	}
}
