// Package events bridges server-pushed subscription payloads into named,
// append-only buffers that any number of readers can consume.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Subscriber opens a subscription on a named channel. The returned channel
// yields payloads in arrival order and is closed when the subscription ends,
// either because ctx was cancelled or because the transport gave up.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan string, error)
}

// Bridge pumps one subscription into one Buffer.
type Bridge struct {
	channel string
	sub     Subscriber
	buf     *Buffer
	log     zerolog.Logger

	mu     sync.Mutex
	active bool
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

func newBridge(channel string, sub Subscriber, buf *Buffer, log zerolog.Logger) *Bridge {
	done := make(chan struct{})
	close(done)
	return &Bridge{
		channel: channel,
		sub:     sub,
		buf:     buf,
		log:     log.With().Str("channel", channel).Logger(),
		done:    done,
	}
}

// Buffer returns the buffer this bridge appends to.
func (b *Bridge) Buffer() *Buffer { return b.buf }

// IsActive reports whether a subscription is open or opening.
func (b *Bridge) IsActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Done returns a channel closed when the current subscription ends. If the
// bridge is not active the channel is already closed.
func (b *Bridge) Done() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

// Activate opens the subscription. Calling it while a subscription is open
// or opening does nothing. The subscription lives until ctx is done, Close is
// called, or the transport ends the stream; after that Activate may open a
// new one.
func (b *Bridge) Activate(ctx context.Context) error {
	b.mu.Lock()
	if b.active {
		b.mu.Unlock()
		return nil
	}
	b.gen++
	gen := b.gen
	subCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	b.active = true
	b.cancel = cancel
	b.done = done
	b.mu.Unlock()

	stream, err := b.sub.Subscribe(subCtx, b.channel)
	if err != nil {
		cancel()
		b.finish(gen)
		return fmt.Errorf("subscribe to %q: %w", b.channel, err)
	}

	b.log.Info().Msg("event stream subscribed")
	go b.pump(gen, stream)
	return nil
}

// Close cancels the open subscription, if any.
func (b *Bridge) Close() {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		b.log.Info().Msg("event stream closed")
	}
}

func (b *Bridge) pump(gen uint64, stream <-chan string) {
	defer b.finish(gen)

	for payload := range stream {
		b.buf.append(payload)
	}
}

func (b *Bridge) finish(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.gen {
		return
	}
	b.active = false
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	close(b.done)
	b.log.Debug().Msg("event stream ended")
}
