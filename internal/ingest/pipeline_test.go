package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/livetiming-relay/internal/broadcast"
	"github.com/dgnsrekt/livetiming-relay/internal/feed"
	"github.com/dgnsrekt/livetiming-relay/internal/snapshot"
)

type published struct {
	kind broadcast.Kind
	msg  string
}

type recordingPublisher struct {
	mu  sync.Mutex
	got []published
}

func (p *recordingPublisher) Publish(kind broadcast.Kind, msg []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, published{kind: kind, msg: string(msg)})
	return 1
}

func (p *recordingPublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]published, len(p.got))
	copy(out, p.got)
	return out
}

func startPipeline(t *testing.T) (*Pipeline, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	p := New(snapshot.NewStore(), feed.NewDecoder(zap.NewNop(), nil), pub, Options{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return p, pub
}

// flush waits until every previously submitted job has been processed.
func flush(t *testing.T, p *Pipeline) {
	t.Helper()
	require.NoError(t, p.Do(context.Background(), func(*snapshot.Store) {}))
}

func TestPipeline_MergesThenPublishesInOrder(t *testing.T) {
	p, pub := startPipeline(t)
	ctx := context.Background()

	require.NoError(t, p.Submit(ctx, OriginLive, []byte(`{"M":[{"H":"Streaming","M":"feed","A":["WeatherData",{"AirTemp":"20.1","Rainfall":"0"},"t1"]}]}`)))
	require.NoError(t, p.Submit(ctx, OriginLive, []byte(`{"M":[{"H":"Streaming","M":"feed","A":["WeatherData",{"AirTemp":"20.4"},"t2"]}]}`)))
	require.NoError(t, p.Submit(ctx, OriginLive, []byte(`not json`)))
	flush(t, p)

	var weather snapshot.WeatherData
	require.NoError(t, p.Store().Decode(snapshot.TopicWeatherData, &weather))
	assert.Equal(t, "20.4", weather.AirTemp)
	assert.Equal(t, "0", weather.Rainfall)

	got := pub.all()
	require.Len(t, got, 2)
	assert.Equal(t, broadcast.KindFeed, got[0].kind)
	assert.JSONEq(t, `{"M":[{"H":"Streaming","M":"feed","A":["WeatherData",{"AirTemp":"20.4"},"t2"]}]}`, got[1].msg)
}

func TestPipeline_ReferenceReplacesTopics(t *testing.T) {
	p, pub := startPipeline(t)
	ctx := context.Background()

	require.NoError(t, p.Submit(ctx, OriginLive, []byte(`{"M":[{"H":"Streaming","M":"feed","A":["LapCount",{"CurrentLap":5}]}]}`)))
	require.NoError(t, p.Submit(ctx, OriginLive, []byte(`{"M":[{"H":"Streaming","M":"feed","A":["TrackStatus",{"Status":"2"}]}]}`)))
	require.NoError(t, p.ApplyReference(ctx, OriginBootstrap, snapshot.ReferenceBlock{
		"LapCount": map[string]any{"CurrentLap": json.Number("7"), "TotalLaps": json.Number("63")},
	}))

	lap, ok := p.Store().Get(snapshot.TopicLapCount)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"CurrentLap": json.Number("7"), "TotalLaps": json.Number("63")}, lap)

	_, ok = p.Store().Get(snapshot.TopicTrackStatus)
	assert.True(t, ok)

	got := pub.all()
	require.Len(t, got, 3)
	assert.Equal(t, broadcast.KindReference, got[2].kind)
}

func TestPipeline_SourceSelection(t *testing.T) {
	p, pub := startPipeline(t)
	ctx := context.Background()
	frame := []byte(`{"M":[{"H":"Streaming","M":"feed","A":["LapCount",{"CurrentLap":1}]}]}`)

	require.NoError(t, p.Submit(ctx, OriginSimulation, frame))
	flush(t, p)
	assert.Empty(t, pub.all())

	p.SetSimulation(true)
	require.NoError(t, p.Submit(ctx, OriginLive, frame))
	require.NoError(t, p.Submit(ctx, OriginSimulation, frame))
	flush(t, p)
	assert.Len(t, pub.all(), 1)
}

func TestPipeline_Bootstrap(t *testing.T) {
	p, _ := startPipeline(t)

	msg, err := p.Bootstrap()
	require.NoError(t, err)
	assert.Nil(t, msg)

	require.NoError(t, p.Submit(context.Background(), OriginLive, []byte(`{"M":[{"H":"Streaming","M":"feed","A":["Heartbeat",{"Utc":"x"}]}]}`)))
	flush(t, p)

	msg, err = p.Bootstrap()
	require.NoError(t, err)
	assert.JSONEq(t, `{"M":[{"H":"Streaming","M":"feed","A":[{"R":{"Heartbeat":{"Utc":"x"}}}]}]}`, string(msg))
}

func TestPipeline_StoppedRejectsJobs(t *testing.T) {
	pub := &recordingPublisher{}
	p := New(snapshot.NewStore(), feed.NewDecoder(zap.NewNop(), nil), pub, Options{QueueSize: 1}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pipeline did not stop")
	}
	assert.ErrorIs(t, p.Submit(context.Background(), OriginLive, []byte(`{}`)), ErrStopped)
	assert.ErrorIs(t, p.Do(context.Background(), func(*snapshot.Store) {}), ErrStopped)
}

func TestPipeline_LiveSnapshotSurvivesSimulation(t *testing.T) {
	p, pub := startPipeline(t)
	ctx := context.Background()

	require.NoError(t, p.ApplyReference(ctx, OriginBootstrap, snapshot.ReferenceBlock{
		"DriverList":  map[string]any{"1": map[string]any{"Tla": "VER"}},
		"SessionInfo": map[string]any{"Name": "Real GP"},
	}))

	p.SetSimulation(true)
	require.NoError(t, p.Submit(ctx, OriginSimulation, []byte(`{"R":{"DriverList":{"99":{"Tla":"SIM"}},"SessionInfo":{"Name":"Simulated GP"}},"I":"1"}`)))
	// Live data keeps flowing into the live snapshot without being relayed.
	require.NoError(t, p.Submit(ctx, OriginLive, []byte(`{"M":[{"H":"Streaming","M":"feed","A":["LapCount",{"CurrentLap":3}]}]}`)))
	flush(t, p)

	assert.True(t, p.Simulating())
	msg, err := p.Bootstrap()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "Simulated GP")
	assert.NotContains(t, string(msg), "LapCount")

	relayed := len(pub.all())
	p.SetSimulation(false)
	require.NoError(t, p.Submit(ctx, OriginLive, []byte(`{"M":[{"H":"Streaming","M":"feed","A":["LapCount",{"CurrentLap":4}]}]}`)))
	flush(t, p)

	assert.False(t, p.Simulating())
	assert.JSONEq(t, `{
		"DriverList":{"1":{"Tla":"VER"}},
		"SessionInfo":{"Name":"Real GP"},
		"LapCount":{"CurrentLap":4}}`, mustEncode(t, p.Store().All()))

	// Switching back resyncs clients with the live snapshot, then relays the delta.
	got := pub.all()[relayed:]
	require.Len(t, got, 2)
	assert.Equal(t, broadcast.KindReference, got[0].kind)
	assert.Contains(t, got[0].msg, "Real GP")
	assert.NotContains(t, got[0].msg, "SIM")
	assert.Equal(t, broadcast.KindFeed, got[1].kind)
}

func TestPipeline_SimulationRestartsFromEmptySnapshot(t *testing.T) {
	p, _ := startPipeline(t)
	ctx := context.Background()

	p.SetSimulation(true)
	require.NoError(t, p.Submit(ctx, OriginSimulation, []byte(`{"M":[{"H":"Streaming","M":"feed","A":["LapCount",{"CurrentLap":9}]}]}`)))
	p.SetSimulation(false)
	p.SetSimulation(true)
	flush(t, p)

	_, ok := p.Store().Get(snapshot.TopicLapCount)
	assert.False(t, ok)
	_, ok = p.LiveStore().Get(snapshot.TopicLapCount)
	assert.False(t, ok)
}

func mustEncode(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return string(raw)
}
