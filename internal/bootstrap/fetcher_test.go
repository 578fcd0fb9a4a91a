package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/livetiming-relay/internal/snapshot"
)

const testSession = "2025/2025-05-18_Emilia_Romagna_Grand_Prix/2025-05-16_Practice_2/"

func newTestFetcher(t *testing.T, handler http.Handler, sessionPath string) *Fetcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewFetcher(Options{
		BaseURL:     srv.URL,
		SessionPath: sessionPath,
		Workers:     4,
		RatePerSec:  1000,
		Timeout:     2 * time.Second,
		RetryCount:  2,
		RetryDelay:  time.Millisecond,
	}, nil, zap.NewNop())
}

func TestFetch_PartialSuccess(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/static/"+testSession+"WeatherData.json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BestHTTP", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("\xef\xbb\xbf" + `{"AirTemp":"21.4","Rainfall":"0"}`))
	})
	mux.HandleFunc("/static/"+testSession+"TrackStatus.json", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	f := newTestFetcher(t, mux, testSession)
	result, err := f.Fetch(context.Background(), []string{"WeatherData", "TrackStatus", "DriverList"})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 1, result.Success)
	assert.Equal(t, 2, result.Failed)
	require.Len(t, result.Block, 1)

	weather, ok := result.Block["WeatherData"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "21.4", weather["AirTemp"])

	failed := map[string]error{}
	for _, e := range result.Errors {
		failed[e.Topic] = e
	}
	assert.ErrorIs(t, failed["DriverList"], ErrNotFound)
	assert.Contains(t, failed["TrackStatus"].Error(), "max retries exceeded")
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"CurrentLap":3,"TotalLaps":63}`))
	})

	f := newTestFetcher(t, handler, testSession)
	result, err := f.Fetch(context.Background(), []string{"LapCount"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Success)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetch_ReportsEachTopic(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/SessionStatus.json") {
			_, _ = w.Write([]byte(`{"Status":"Started"}`))
			return
		}
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(handler)
	defer srv.Close()

	outcomes := map[string]bool{}
	f := NewFetcher(Options{BaseURL: srv.URL, SessionPath: "x"}, func(topic string, err error) {
		outcomes[topic] = err == nil
	}, zap.NewNop())

	_, err := f.Fetch(context.Background(), []string{"SessionStatus", "LapCount"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"SessionStatus": true, "LapCount": false}, outcomes)
}

func TestResolveSessionPath(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/static/SessionInfo.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Name":"Practice 2","Path":"` + testSession + `"}`))
	})
	mux.HandleFunc("/static/"+testSession+"LapCount.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"CurrentLap":1}`))
	})

	f := newTestFetcher(t, mux, "")
	path, err := f.ResolveSessionPath(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testSession, path)

	result, err := f.Fetch(context.Background(), []string{snapshot.TopicLapCount})
	require.NoError(t, err)
	assert.Equal(t, testSession, result.SessionPath)
	assert.Contains(t, result.Block, snapshot.TopicLapCount)
}

func TestResolveSessionPath_Missing(t *testing.T) {
	f := newTestFetcher(t, http.NotFoundHandler(), "")
	_, err := f.Fetch(context.Background(), []string{"LapCount"})
	assert.True(t, errors.Is(err, ErrNoSessionPath))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestTopicURL(t *testing.T) {
	f := NewFetcher(Options{BaseURL: "https://livetiming.formula1.com/"}, nil, zap.NewNop())
	assert.Equal(t,
		"https://livetiming.formula1.com/static/2025/a/b/TimingData.json",
		f.TopicURL("/2025/a/b", "TimingData"))
}
