// Package lifecycle provides the cross-cutting scheduling primitives used by
// both LanguageClient and Binding: scoped disposal, debounced flush, and
// timeout-wrapped operations.
package lifecycle

import "sync"

// Disposable releases a resource. Release must be idempotent-safe to call
// from DisposableCollection, which guarantees it is only ever invoked once
// per registration.
type Disposable interface {
	Dispose()
}

// DisposableFunc adapts a plain func into a Disposable.
type DisposableFunc func()

// Dispose implements Disposable.
func (f DisposableFunc) Dispose() {
	if f != nil {
		f()
	}
}

// DisposableCollection is a scoped holder that releases every registered
// resource exactly once on Dispose, even if an individual release panics or
// (when wrapped) returns an error. Every subscription or timer opened by a
// LanguageClient or Binding must be registered here so that tearing down the
// owning object cannot leak goroutines or subscriber-list entries.
type DisposableCollection struct {
	mu       sync.Mutex
	items    []Disposable
	disposed bool
}

// Add registers d for release. If the collection has already been disposed,
// d is released immediately.
func (c *DisposableCollection) Add(d Disposable) {
	if d == nil {
		return
	}
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		d.Dispose()
		return
	}
	c.items = append(c.items, d)
	c.mu.Unlock()
}

// AddFunc registers a plain func for release.
func (c *DisposableCollection) AddFunc(f func()) {
	c.Add(DisposableFunc(f))
}

// Dispose releases every registered resource in reverse registration order
// (last opened, first closed), isolating panics from one release so that a
// single misbehaving resource cannot prevent the rest from being released.
// Safe to call more than once; subsequent calls are no-ops.
func (c *DisposableCollection) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	items := c.items
	c.items = nil
	c.mu.Unlock()

	for i := len(items) - 1; i >= 0; i-- {
		disposeOne(items[i])
	}
}

func disposeOne(d Disposable) {
	defer func() { _ = recover() }()
	d.Dispose()
}

// IsDisposed reports whether Dispose has already run.
func (c *DisposableCollection) IsDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}
