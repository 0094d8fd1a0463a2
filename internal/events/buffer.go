package events

import (
	"context"
	"sync"
)

// Buffer is an ordered, append-only list of event payloads. Only the Bridge
// that owns it appends; everything else reads.
type Buffer struct {
	mu      sync.RWMutex
	entries []string
	changed chan struct{}
}

func newBuffer() *Buffer {
	return &Buffer{changed: make(chan struct{})}
}

func (b *Buffer) append(payload string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, payload)
	close(b.changed)
	b.changed = make(chan struct{})
}

// Snapshot returns a copy of all entries in arrival order.
func (b *Buffer) Snapshot() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len returns the number of entries.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Since returns a copy of the entries from index n onward.
func (b *Buffer) Since(n int) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n < 0 {
		n = 0
	}
	if n >= len(b.entries) {
		return nil
	}

	out := make([]string, len(b.entries)-n)
	copy(out, b.entries[n:])
	return out
}

// Changed returns a channel that is closed on the next append.
func (b *Buffer) Changed() <-chan struct{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.changed
}

// Follow calls fn for every entry from index from onward, then for each new
// entry as it arrives, until ctx is done or stop is closed. It returns the
// index of the next unseen entry.
func (b *Buffer) Follow(ctx context.Context, from int, stop <-chan struct{}, fn func(string)) int {
	next := from
	for {
		// Grab the channel before reading so an append in between is not missed.
		changed := b.Changed()
		for _, entry := range b.Since(next) {
			fn(entry)
			next++
		}

		select {
		case <-ctx.Done():
			return next
		case <-stop:
			for _, entry := range b.Since(next) {
				fn(entry)
				next++
			}
			return next
		case <-changed:
		}
	}
}
