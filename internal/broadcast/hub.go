// Package broadcast fans relay messages out to downstream WebSocket and SSE
// clients.
package broadcast

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Transport identifies a client's connection type.
type Transport string

const (
	TransportWebSocket Transport = "websocket"
	TransportSSE       Transport = "sse"
)

var (
	ErrClientClosed = errors.New("client closed")
	ErrBufferFull   = errors.New("client send buffer full")
)

// Client is a downstream subscriber. Push must not block.
type Client interface {
	ID() string
	Transport() Transport
	Push(msg []byte) error
	Close()
}

// Kind labels a published message.
type Kind string

const (
	KindFeed      Kind = "feed"
	KindTelemetry Kind = "telemetry"
	KindReference Kind = "reference"
)

// buffered reports whether messages of this kind go to the recent buffer.
func (k Kind) buffered() bool {
	return k == KindFeed || k == KindTelemetry
}

// Observer receives hub events, typically for metrics.
type Observer interface {
	ClientsChanged(t Transport, n int)
	Published(kind Kind)
	DeliveryFailed(t Transport)
}

type nopObserver struct{}

func (nopObserver) ClientsChanged(Transport, int) {}
func (nopObserver) Published(Kind)                {}
func (nopObserver) DeliveryFailed(Transport)      {}

// Options configures a Hub.
type Options struct {
	RecentCapacity int
	// ReplayRecent pushes the recent buffer to clients right after they register.
	ReplayRecent bool
	// SendBuffer is the per-client queue length.
	SendBuffer int
	// KeepAlive is the SSE comment interval.
	KeepAlive time.Duration
	Observer  Observer
}

// Hub tracks connected clients and delivers every published message to all
// of them.
type Hub struct {
	mu     sync.RWMutex
	ws     map[string]Client
	sse    map[string]Client
	closed bool

	recent   *Ring
	opts     Options
	observer Observer
	logger   *zap.Logger
}

// NewHub creates a Hub.
func NewHub(opts Options, logger *zap.Logger) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = sendBufferSize
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = sseKeepAlive
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &Hub{
		ws:       make(map[string]Client),
		sse:      make(map[string]Client),
		recent:   NewRing(opts.RecentCapacity),
		opts:     opts,
		observer: observer,
		logger:   logger,
	}
}

func (h *Hub) set(t Transport) map[string]Client {
	if t == TransportSSE {
		return h.sse
	}
	return h.ws
}

// Register adds c to the set for its transport. Registering after Close closes
// c immediately.
func (h *Hub) Register(c Client) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.Close()
		return
	}
	set := h.set(c.Transport())
	set[c.ID()] = c
	n := len(set)
	h.mu.Unlock()

	h.observer.ClientsChanged(c.Transport(), n)
	h.logger.Info("client registered",
		zap.String("transport", string(c.Transport())),
		zap.String("clientID", c.ID()),
		zap.Int("clients", n),
	)

	if h.opts.ReplayRecent {
		for _, e := range h.recent.Snapshot() {
			if err := c.Push(e.Message); err != nil {
				h.drop(c, err)
				return
			}
		}
	}
}

// Unregister removes c and closes it. Returns false if c was not registered.
func (h *Hub) Unregister(c Client) bool {
	h.mu.Lock()
	set := h.set(c.Transport())
	if _, ok := set[c.ID()]; !ok {
		h.mu.Unlock()
		return false
	}
	delete(set, c.ID())
	n := len(set)
	h.mu.Unlock()

	c.Close()
	h.observer.ClientsChanged(c.Transport(), n)
	h.logger.Info("client unregistered",
		zap.String("transport", string(c.Transport())),
		zap.String("clientID", c.ID()),
		zap.Int("clients", n),
	)
	return true
}

// Publish delivers msg to every client of both transports and returns the
// number of successful deliveries. A client that fails is unregistered; the
// others are unaffected.
func (h *Hub) Publish(kind Kind, msg []byte) int {
	if kind.buffered() {
		h.recent.Add(Entry{ReceivedAt: time.Now(), Message: msg})
	}
	h.observer.Published(kind)

	// Copy clients to avoid holding the lock during delivery.
	h.mu.RLock()
	clients := make([]Client, 0, len(h.ws)+len(h.sse))
	for _, c := range h.ws {
		clients = append(clients, c)
	}
	for _, c := range h.sse {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range clients {
		if err := c.Push(msg); err != nil {
			h.drop(c, err)
			continue
		}
		delivered++
	}
	return delivered
}

func (h *Hub) drop(c Client, err error) {
	h.observer.DeliveryFailed(c.Transport())
	h.logger.Warn("dropping client",
		zap.String("transport", string(c.Transport())),
		zap.String("clientID", c.ID()),
		zap.Error(err),
	)
	h.Unregister(c)
}

// Recent returns the buffered feed and telemetry messages, oldest first.
func (h *Hub) Recent() []Entry {
	return h.recent.Snapshot()
}

// Counts returns the number of connected clients per transport.
func (h *Hub) Counts() map[Transport]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[Transport]int{
		TransportWebSocket: len(h.ws),
		TransportSSE:       len(h.sse),
	}
}

// Close disconnects every client and rejects later registrations.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]Client, 0, len(h.ws)+len(h.sse))
	for _, c := range h.ws {
		clients = append(clients, c)
	}
	for _, c := range h.sse {
		clients = append(clients, c)
	}
	h.ws = make(map[string]Client)
	h.sse = make(map[string]Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	h.observer.ClientsChanged(TransportWebSocket, 0)
	h.observer.ClientsChanged(TransportSSE, 0)
	h.logger.Info("hub shut down", zap.Int("clients", len(clients)))
}
