package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/livetiming-relay/internal/signalr"
)

func TestClient_SendOutage(t *testing.T) {
	var (
		gotPath, gotTitle, gotPriority, gotTags, gotAuth, gotBody string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotTitle = r.Header.Get("Title")
		gotPriority = r.Header.Get("Priority")
		gotTags = r.Header.Get("Tags")
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
	}))
	defer srv.Close()

	c := NewClient(&Config{
		Enabled:  true,
		Server:   srv.URL + "/",
		Topic:    "relay-alerts",
		Priority: "default",
		Tags:     "checkered_flag",
		Token:    "tk_abc",
	}, zap.NewNop())

	since := time.Date(2025, 5, 18, 13, 0, 0, 0, time.UTC)
	err := c.SendOutage(context.Background(), Outage{
		Since:     since,
		Duration:  2*time.Minute + 400*time.Millisecond,
		LastState: "reconnect_wait",
		Sessions:  3,
	})
	require.NoError(t, err)

	assert.Equal(t, "/relay-alerts", gotPath)
	assert.Equal(t, "Live timing upstream down", gotTitle)
	assert.Equal(t, "high", gotPriority)
	assert.Equal(t, "checkered_flag,warning", gotTags)
	assert.Equal(t, "Bearer tk_abc", gotAuth)
	assert.Equal(t, "Down since: 2025-05-18T13:00:00Z\nDuration: 2m0s\nState: reconnect_wait\nSessions: 3", gotBody)
}

func TestClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(&Config{Enabled: true, Server: srv.URL, Topic: "t", Priority: "default"}, zap.NewNop())
	err := c.SendRecovery(context.Background(), Outage{})
	assert.ErrorContains(t, err, "403")
}

func TestNew_DisabledIsNoop(t *testing.T) {
	n := New(&Config{Enabled: false}, zap.NewNop())
	_, ok := n.(*NoopNotifier)
	assert.True(t, ok)
	assert.NoError(t, n.SendOutage(context.Background(), Outage{}))
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []string
}

func (r *recordingNotifier) SendOutage(_ context.Context, o Outage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, "outage:"+o.LastState)
	return nil
}

func (r *recordingNotifier) SendRecovery(_ context.Context, _ Outage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, "recovery")
	return errors.New("ignored")
}

func (r *recordingNotifier) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.notices...)
}

func TestWatcher_OutageThenRecovery(t *testing.T) {
	rec := &recordingNotifier{}
	w := NewWatcher(context.Background(), rec, 20*time.Millisecond, nil, zap.NewNop())

	w.StateChanged(signalr.StateDisconnected, signalr.StateNegotiating)
	w.StateChanged(signalr.StateNegotiating, signalr.StateReconnectWait)

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"outage:reconnect_wait"}, rec.all())

	w.StateChanged(signalr.StateSubscribing, signalr.StateStreaming)
	w.Close()

	assert.Equal(t, []string{"outage:reconnect_wait", "recovery"}, rec.all())
}

func TestWatcher_ShortBlipIsQuiet(t *testing.T) {
	rec := &recordingNotifier{}
	w := NewWatcher(context.Background(), rec, 50*time.Millisecond, nil, zap.NewNop())

	w.StateChanged(signalr.StateSubscribing, signalr.StateStreaming)
	w.StateChanged(signalr.StateStreaming, signalr.StateReconnectWait)
	w.StateChanged(signalr.StateSubscribing, signalr.StateStreaming)

	time.Sleep(120 * time.Millisecond)
	w.Close()

	assert.Empty(t, rec.all())
}

func TestWatcher_CloseIsIdempotent(t *testing.T) {
	w := NewWatcher(context.Background(), &NoopNotifier{}, time.Hour, nil, zap.NewNop())
	w.Close()
	w.Close()
	w.StateChanged(signalr.StateDisconnected, signalr.StateStreaming)
}
