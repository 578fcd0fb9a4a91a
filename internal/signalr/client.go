package signalr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State is a stage of the upstream session lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateNegotiating
	StateConnecting
	StateSubscribing
	StateStreaming
	StateReconnectWait
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateNegotiating:
		return "negotiating"
	case StateConnecting:
		return "connecting"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateReconnectWait:
		return "reconnect_wait"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	// Time allowed to write the subscribe command.
	writeWait = 10 * time.Second

	// Maximum inbound frame size.
	maxFrameSize = 16 << 20

	subscribeInvocationID = 1
)

// FrameHandler receives every inbound frame, one at a time, in arrival order.
type FrameHandler func(ctx context.Context, data []byte)

// StateFunc observes state transitions.
type StateFunc func(prev, next State)

// Options configures the stream client.
type Options struct {
	Topics []string

	// ReconnectDelay is the wait after an established socket closes.
	ReconnectDelay time.Duration
	// HandshakeRetryDelay is the wait after negotiate, connect or subscribe fails.
	HandshakeRetryDelay time.Duration
	// ReadTimeout closes a socket that has been silent this long. Zero disables it.
	ReadTimeout time.Duration
	// HandshakeTimeout bounds the WebSocket opening handshake.
	HandshakeTimeout time.Duration
}

// Client owns the upstream socket and its reconnect loop. Only one session is
// active at a time and each reconnect starts from a fresh negotiate.
type Client struct {
	negotiator *Negotiator
	dialer     *websocket.Dialer
	handler    FrameHandler
	opts       Options
	logger     *zap.Logger

	state    atomic.Int32
	sessions atomic.Uint64
	since    atomic.Int64 // unix nanos of the last transition

	mu      sync.Mutex
	onState []StateFunc
}

// NewClient creates a stream client. handler is called from the client's own
// goroutine and must not retain data after returning unless it copies it.
func NewClient(negotiator *Negotiator, handler FrameHandler, opts Options, logger *zap.Logger) *Client {
	c := &Client{
		negotiator: negotiator,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		handler: handler,
		opts:    opts,
		logger:  logger,
	}
	c.since.Store(time.Now().UnixNano())
	return c
}

// OnStateChange registers fn to be called on every state transition.
func (c *Client) OnStateChange(fn StateFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = append(c.onState, fn)
}

// State returns the current state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Since returns when the current state was entered.
func (c *Client) Since() time.Time {
	return time.Unix(0, c.since.Load())
}

// Sessions returns how many sessions reached the streaming state.
func (c *Client) Sessions() uint64 {
	return c.sessions.Load()
}

func (c *Client) setState(next State) {
	prev := State(c.state.Swap(int32(next)))
	if prev == next {
		return
	}
	c.since.Store(time.Now().UnixNano())

	c.mu.Lock()
	observers := make([]StateFunc, len(c.onState))
	copy(observers, c.onState)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(prev, next)
	}
}

// Run negotiates, connects, subscribes and streams until ctx is cancelled,
// retrying forever with a fixed delay.
func (c *Client) Run(ctx context.Context) error {
	defer c.setState(StateDisconnected)

	for {
		streamed, err := c.runSession(ctx)
		if ctx.Err() != nil {
			c.logger.Info("stream client stopping")
			return ctx.Err()
		}

		delay := c.opts.HandshakeRetryDelay
		if streamed {
			delay = c.opts.ReconnectDelay
			c.logger.Warn("upstream socket closed, reconnecting",
				zap.Error(err),
				zap.Duration("delay", delay),
			)
		} else {
			c.logger.Error("upstream handshake failed, retrying",
				zap.Error(err),
				zap.Duration("delay", delay),
			)
		}

		c.setState(StateReconnectWait)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.logger.Info("stream client stopping")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// runSession runs one negotiate/connect/subscribe/stream cycle. streamed
// reports whether the session reached the streaming state.
func (c *Client) runSession(ctx context.Context) (streamed bool, err error) {
	c.setState(StateNegotiating)
	neg, err := c.negotiator.Negotiate(ctx)
	if err != nil {
		return false, err
	}

	c.setState(StateConnecting)
	connectURL, err := c.negotiator.ConnectURL(neg.ConnectionToken)
	if err != nil {
		return false, err
	}

	header := http.Header{}
	header.Set("User-Agent", UserAgent)
	header.Set("Accept-Encoding", AcceptEncoding)
	if neg.Cookie != "" {
		header.Set("Cookie", neg.Cookie)
	}

	conn, resp, err := c.dialer.DialContext(ctx, connectURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return false, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	c.logger.Info("connected to upstream", zap.String("connectionId", neg.ConnectionID))

	c.setState(StateSubscribing)
	if err := c.subscribe(conn); err != nil {
		return false, fmt.Errorf("subscribing: %w", err)
	}

	// No subscribe acknowledgement is awaited.
	c.setState(StateStreaming)
	c.sessions.Add(1)
	c.logger.Info("subscribed to upstream topics", zap.Int("topics", len(c.opts.Topics)))

	return true, c.stream(ctx, conn)
}

func (c *Client) subscribe(conn *websocket.Conn) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(NewSubscribe(c.opts.Topics, subscribeInvocationID))
}

// stream reads frames until the socket fails or ctx is cancelled.
func (c *Client) stream(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(maxFrameSize)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	for {
		if c.opts.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return fmt.Errorf("upstream closed socket: %w", err)
			}
			return fmt.Errorf("reading frame: %w", err)
		}
		c.handler(ctx, data)
	}
}
