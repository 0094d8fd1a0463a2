package events

import (
	"sync"

	"github.com/rs/zerolog"
)

// Hub holds the process-wide buffers and bridges, keyed by channel name.
type Hub struct {
	sub Subscriber
	log zerolog.Logger

	mu      sync.Mutex
	buffers map[string]*Buffer
	bridges map[string]*Bridge
}

// NewHub creates a Hub whose bridges subscribe through sub.
func NewHub(sub Subscriber, log zerolog.Logger) *Hub {
	return &Hub{
		sub:     sub,
		log:     log.With().Str("component", "events").Logger(),
		buffers: make(map[string]*Buffer),
		bridges: make(map[string]*Bridge),
	}
}

// Buffer returns the buffer for name, creating it on first use.
func (h *Hub) Buffer(name string) *Buffer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bufferLocked(name)
}

// Bridge returns the bridge for name, creating it on first use.
func (h *Hub) Bridge(name string) *Bridge {
	h.mu.Lock()
	defer h.mu.Unlock()

	if br, ok := h.bridges[name]; ok {
		return br
	}
	br := newBridge(name, h.sub, h.bufferLocked(name), h.log)
	h.bridges[name] = br
	return br
}

// Close closes every bridge.
func (h *Hub) Close() {
	h.mu.Lock()
	bridges := make([]*Bridge, 0, len(h.bridges))
	for _, br := range h.bridges {
		bridges = append(bridges, br)
	}
	h.mu.Unlock()

	for _, br := range bridges {
		br.Close()
	}
}

func (h *Hub) bufferLocked(name string) *Buffer {
	if buf, ok := h.buffers[name]; ok {
		return buf
	}
	buf := newBuffer()
	h.buffers[name] = buf
	return buf
}
