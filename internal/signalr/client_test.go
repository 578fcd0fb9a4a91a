package signalr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/livetiming-relay/internal/snapshot"
)

// fakeUpstream serves negotiate and connect like the provider does.
type fakeUpstream struct {
	t *testing.T

	negotiateCalls atomic.Int32
	failNegotiate  atomic.Int32 // number of leading negotiate calls answered with 500

	mu         sync.Mutex
	headers    []http.Header
	queries    []string
	subscribes [][]byte

	// frames are sent after each subscribe before the socket is closed.
	frames []string
	// hold keeps the socket open until closed.
	hold chan struct{}
}

func newFakeUpstream(t *testing.T, frames ...string) (*fakeUpstream, *httptest.Server) {
	f := &fakeUpstream{t: t, frames: frames}
	mux := http.NewServeMux()
	mux.HandleFunc("/signalr/negotiate", f.negotiate)
	mux.HandleFunc("/signalr/connect", f.connect)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeUpstream) negotiate(w http.ResponseWriter, r *http.Request) {
	n := f.negotiateCalls.Add(1)
	if n <= f.failNegotiate.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "GCLB", Value: "abc"})
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"ConnectionToken": "tok+/=",
		"ConnectionId":    "conn-1",
	})
}

func (f *fakeUpstream) connect(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return
	}

	f.mu.Lock()
	f.headers = append(f.headers, r.Header.Clone())
	f.queries = append(f.queries, r.URL.Query().Get("connectionToken"))
	f.subscribes = append(f.subscribes, msg)
	f.mu.Unlock()

	for _, frame := range f.frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			return
		}
	}
	if f.hold != nil {
		<-f.hold
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
}

func (f *fakeUpstream) sessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribes)
}

func TestNegotiate_ReturnsTokenAndCookie(t *testing.T) {
	_, srv := newFakeUpstream(t)
	n := NewNegotiator(srv.URL, 5*time.Second, zap.NewNop())

	neg, err := n.Negotiate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok+/=", neg.ConnectionToken)
	assert.Equal(t, "conn-1", neg.ConnectionID)
	assert.Equal(t, "GCLB=abc", neg.Cookie)
	require.Len(t, neg.SetCookie, 1)
}

func TestNegotiate_ErrorStatus(t *testing.T) {
	f, srv := newFakeUpstream(t)
	f.failNegotiate.Store(1)
	n := NewNegotiator(srv.URL, 5*time.Second, zap.NewNop())

	_, err := n.Negotiate(context.Background())
	var negErr *NegotiationError
	require.True(t, errors.As(err, &negErr))
	assert.Equal(t, http.StatusServiceUnavailable, negErr.StatusCode)
}

func TestNegotiate_MissingToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ConnectionId":"x"}`))
	}))
	defer srv.Close()

	_, err := NewNegotiator(srv.URL, time.Second, zap.NewNop()).Negotiate(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestConnectURL(t *testing.T) {
	n := NewNegotiator("https://livetiming.formula1.com/", time.Second, zap.NewNop())
	got, err := n.ConnectURL("a+b/c=")
	require.NoError(t, err)
	assert.Equal(t,
		"wss://livetiming.formula1.com/signalr/connect?clientProtocol=1.5&connectionData=%5B%7B%22name%22%3A%22Streaming%22%7D%5D&connectionToken=a%2Bb%2Fc%3D&transport=webSockets",
		got)
}

func TestClient_StreamsAndReconnects(t *testing.T) {
	f, srv := newFakeUpstream(t,
		`{}`,
		`{"M":[{"H":"Streaming","M":"feed","A":["TrackStatus",{"Status":"1","Message":"AllClear"},"2025-05-16T13:00:00Z"]}]}`,
	)

	store := snapshot.NewStore()
	var frames atomic.Int32
	handler := func(_ context.Context, data []byte) {
		frames.Add(1)
		var frame Frame
		if !assert.NoError(t, json.Unmarshal(data, &frame)) {
			return
		}
		for _, m := range frame.M {
			var topic string
			if !assert.NoError(t, json.Unmarshal(m.A[0], &topic)) {
				return
			}
			payload, err := snapshot.DecodeValue(m.A[1])
			if assert.NoError(t, err) {
				store.Merge(topic, payload)
			}
		}
	}

	client := NewClient(NewNegotiator(srv.URL, time.Second, zap.NewNop()), handler, Options{
		Topics:              []string{"TrackStatus", "CarData.z"},
		ReconnectDelay:      300 * time.Millisecond,
		HandshakeRetryDelay: 50 * time.Millisecond,
		HandshakeTimeout:    time.Second,
	}, zap.NewNop())

	var waits atomic.Int32
	client.OnStateChange(func(_, next State) {
		if next == StateReconnectWait {
			waits.Add(1)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	// First session ends when the fake closes the socket.
	require.Eventually(t, func() bool { return waits.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)

	// The store stays readable while waiting to reconnect.
	_, ok := store.Get(snapshot.TopicTrackStatus)
	require.True(t, ok)

	require.Eventually(t, func() bool { return f.sessions() >= 2 && frames.Load() >= 4 }, 3*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop")
	}

	assert.Equal(t, StateDisconnected, client.State())
	assert.GreaterOrEqual(t, f.negotiateCalls.Load(), int32(2))

	f.mu.Lock()
	defer f.mu.Unlock()

	hdr := f.headers[0]
	assert.Equal(t, "BestHTTP", hdr.Get("User-Agent"))
	assert.Equal(t, "gzip,identity", hdr.Get("Accept-Encoding"))
	assert.Equal(t, "GCLB=abc", hdr.Get("Cookie"))
	assert.Equal(t, "tok+/=", f.queries[0])

	var cmd struct {
		H string
		M string
		A [][]string
		I int
	}
	require.NoError(t, json.Unmarshal(f.subscribes[0], &cmd))
	assert.Equal(t, "Streaming", cmd.H)
	assert.Equal(t, "Subscribe", cmd.M)
	assert.Equal(t, 1, cmd.I)
	require.Len(t, cmd.A, 1)
	assert.Equal(t, []string{"TrackStatus", "CarData.z"}, cmd.A[0])
}

func TestClient_RetriesAfterHandshakeFailure(t *testing.T) {
	f, srv := newFakeUpstream(t)
	f.failNegotiate.Store(2)
	f.hold = make(chan struct{})
	defer close(f.hold)

	client := NewClient(NewNegotiator(srv.URL, time.Second, zap.NewNop()),
		func(context.Context, []byte) {},
		Options{
			Topics:              []string{"Heartbeat"},
			ReconnectDelay:      time.Hour,
			HandshakeRetryDelay: 20 * time.Millisecond,
		}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()

	require.Eventually(t, func() bool { return client.State() == StateStreaming }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), f.negotiateCalls.Load())
	assert.Equal(t, uint64(1), client.Sessions())
}

func TestClient_ClosedSocketWaitsReconnectDelay(t *testing.T) {
	f, srv := newFakeUpstream(t, `{}`)

	client := NewClient(NewNegotiator(srv.URL, time.Second, zap.NewNop()),
		func(context.Context, []byte) {},
		Options{
			Topics:              []string{"Heartbeat"},
			ReconnectDelay:      20 * time.Millisecond,
			HandshakeRetryDelay: time.Hour,
		}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()

	// Each session is closed by the server; only the short delay applies.
	require.Eventually(t, func() bool { return f.sessions() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, client.Sessions(), uint64(2))
}

func TestClient_HandshakeFailureWaitsRetryDelay(t *testing.T) {
	f, srv := newFakeUpstream(t)
	f.failNegotiate.Store(1)

	client := NewClient(NewNegotiator(srv.URL, time.Second, zap.NewNop()),
		func(context.Context, []byte) {},
		Options{
			Topics:              []string{"Heartbeat"},
			ReconnectDelay:      10 * time.Millisecond,
			HandshakeRetryDelay: time.Hour,
		}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()

	require.Eventually(t, func() bool { return client.State() == StateReconnectWait }, 2*time.Second, 5*time.Millisecond)
	// The short socket delay must not be used after a failed negotiate.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), f.negotiateCalls.Load())
	assert.Equal(t, 0, f.sessions())
}

func TestClient_ReadTimeoutEndsSession(t *testing.T) {
	f, srv := newFakeUpstream(t)
	f.hold = make(chan struct{})
	defer close(f.hold)

	client := NewClient(NewNegotiator(srv.URL, time.Second, zap.NewNop()),
		func(context.Context, []byte) {},
		Options{
			Topics:              []string{"Heartbeat"},
			ReconnectDelay:      time.Hour,
			HandshakeRetryDelay: time.Hour,
			ReadTimeout:         50 * time.Millisecond,
		}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()

	require.Eventually(t, func() bool { return client.State() == StateReconnectWait }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), client.Sessions())
}

func TestEncodeFeed(t *testing.T) {
	b, err := EncodeFeed("CarData", map[string]any{"Timestamp": "t"}, "ts")
	require.NoError(t, err)
	assert.JSONEq(t, `{"M":[{"H":"Streaming","M":"feed","A":["CarData",{"Timestamp":"t"},"ts"]}]}`, string(b))

	b, err = EncodeReference(map[string]any{"Heartbeat": map[string]any{"Utc": "x"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"M":[{"H":"Streaming","M":"feed","A":[{"R":{"Heartbeat":{"Utc":"x"}}}]}]}`, string(b))
}
