// Package ipc matches asynchronous renderer replies to the task that is
// waiting for them. Every outbound request carries a correlation id; the
// waiting side registers a one-shot listener keyed by that id before
// sending, so replies are routed by id and never by arrival order.
package ipc

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/JakeFAU/figure-exporter/internal/export"
)

// ErrDuplicateID is returned when a listener is already registered for id.
var ErrDuplicateID = errors.New("correlation id already has a listener")

// Reply is the renderer's answer for one correlation id. A zero Code means
// success.
type Reply struct {
	Code   export.Code
	Result export.RenderResult
	Err    error
}

// Bus is a one-shot subscription table. The zero value is not usable; call
// New.
type Bus struct {
	mu        sync.Mutex
	waiters   map[string]chan Reply
	discarded atomic.Int64
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{waiters: make(map[string]chan Reply)}
}

// Once registers a listener for id. The returned channel receives at most
// one Reply.
func (b *Bus) Once(id string) (<-chan Reply, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.waiters[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	ch := make(chan Reply, 1)
	b.waiters[id] = ch
	return ch, nil
}

// Deliver hands r to the listener for id and removes it. It reports false
// when nobody is waiting: a second reply, a reply for an abandoned task, or
// an unknown id. Those replies are discarded.
func (b *Bus) Deliver(id string, r Reply) bool {
	b.mu.Lock()
	ch, ok := b.waiters[id]
	if ok {
		delete(b.waiters, id)
	}
	b.mu.Unlock()
	if !ok {
		b.discarded.Add(1)
		return false
	}
	ch <- r
	return true
}

// Abandon drops the listener for id; a later Deliver is discarded.
func (b *Bus) Abandon(id string) {
	b.mu.Lock()
	delete(b.waiters, id)
	b.mu.Unlock()
}

// Waiting reports how many listeners are registered.
func (b *Bus) Waiting() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.waiters)
}

// Discarded reports how many replies found no listener.
func (b *Bus) Discarded() int64 {
	return b.discarded.Load()
}
