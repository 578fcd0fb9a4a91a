package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/livetiming-relay/internal/broadcast"
	"github.com/dgnsrekt/livetiming-relay/internal/feed"
	"github.com/dgnsrekt/livetiming-relay/internal/signalr"
)

func TestUpstreamSessions(t *testing.T) {
	m := New()

	m.UpstreamStateChanged(signalr.StateDisconnected, signalr.StateNegotiating)
	m.UpstreamStateChanged(signalr.StateNegotiating, signalr.StateReconnectWait)
	m.UpstreamStateChanged(signalr.StateReconnectWait, signalr.StateNegotiating)
	m.UpstreamStateChanged(signalr.StateSubscribing, signalr.StateStreaming)
	m.UpstreamStateChanged(signalr.StateStreaming, signalr.StateReconnectWait)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.upstreamSessions.WithLabelValues("established")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.upstreamSessions.WithLabelValues("failed")))
	assert.Equal(t, float64(signalr.StateReconnectWait), testutil.ToFloat64(m.upstreamState))
}

func TestDropsAndTelemetry(t *testing.T) {
	m := New()
	m.FrameDropped(feed.DropTelemetry, errors.New("bad"))
	m.FrameDropped(feed.DropMalformed, nil)
	m.TelemetryDecoded()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesDropped.WithLabelValues(feed.DropTelemetry)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.telemetry.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.telemetry.WithLabelValues("ok")))
}

func TestHandlerServesRelayMetrics(t *testing.T) {
	m := New()
	m.ClientsChanged(broadcast.TransportSSE, 3)
	m.Published(broadcast.KindFeed)
	m.BootstrapTopic("WeatherData", nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `relay_clients{transport="sse"} 3`)
	assert.Contains(t, string(body), `relay_messages_published_total{kind="feed"} 1`)
	assert.Contains(t, string(body), `relay_bootstrap_topics_total{result="ok"} 1`)
}
