// Package ingest owns the session context: the snapshot store, the frame
// decoder and the broadcast hub. All store writes happen on the pipeline's
// goroutine in the order jobs were submitted.
package ingest

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dgnsrekt/livetiming-relay/internal/broadcast"
	"github.com/dgnsrekt/livetiming-relay/internal/feed"
	"github.com/dgnsrekt/livetiming-relay/internal/snapshot"
)

// Origin tags where a job came from.
type Origin string

const (
	OriginLive       Origin = "live"
	OriginSimulation Origin = "simulation"
	OriginBootstrap  Origin = "bootstrap"
	OriginCommand    Origin = "command"
)

// Drop reasons for frames not relayed because of the active source. Live
// frames still update the live snapshot while the simulation runs.
const (
	DropSimulationActive   = "simulation_active"
	DropSimulationInactive = "simulation_inactive"
)

// ErrStopped is returned for jobs submitted after the pipeline stopped.
var ErrStopped = errors.New("ingestion pipeline stopped")

const defaultQueueSize = 1024

// Source is a producer of raw frames. It runs until ctx is cancelled.
type Source interface {
	Run(ctx context.Context) error
}

// Publisher delivers encoded messages downstream.
type Publisher interface {
	Publish(kind broadcast.Kind, msg []byte) int
}

// Observer receives pipeline events, typically for metrics.
type Observer interface {
	FrameReceived(source string)
	FrameDropped(reason string, err error)
	TelemetryDecoded()
}

type nopObserver struct{}

func (nopObserver) FrameReceived(string)       {}
func (nopObserver) FrameDropped(string, error) {}
func (nopObserver) TelemetryDecoded()          {}

type job struct {
	origin Origin
	frame  []byte
	block  snapshot.ReferenceBlock
	cmd    func(*snapshot.Store)
	// simulate, when set, switches the relayed source.
	simulate *bool
	done     chan struct{}
}

// Pipeline serializes every store mutation through one goroutine. Live and
// simulated frames are kept in separate stores so a simulation never
// overwrites the live snapshot.
type Pipeline struct {
	live     *snapshot.Store
	sim      *snapshot.Store
	decoder  *feed.Decoder
	hub      Publisher
	observer Observer
	logger   *zap.Logger

	jobs       chan job
	stopped    chan struct{}
	simulating atomic.Bool
}

// Options configures a Pipeline.
type Options struct {
	QueueSize int
	Observer  Observer
}

// New creates a Pipeline. Call Run to start processing.
func New(store *snapshot.Store, decoder *feed.Decoder, hub Publisher, opts Options, logger *zap.Logger) *Pipeline {
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &Pipeline{
		live:     store,
		sim:      snapshot.NewStore(),
		decoder:  decoder,
		hub:      hub,
		observer: observer,
		logger:   logger,
		jobs:     make(chan job, size),
		stopped:  make(chan struct{}),
	}
}

// Store returns the snapshot store of the relayed source.
func (p *Pipeline) Store() *snapshot.Store {
	if p.simulating.Load() {
		return p.sim
	}
	return p.live
}

// LiveStore returns the snapshot built from live and archive data.
func (p *Pipeline) LiveStore() *snapshot.Store {
	return p.live
}

// SetSimulation queues a switch of the relayed source. The switch is ordered
// with the frames around it: frames submitted earlier are handled under the
// previous source. Starting a simulation begins from an empty simulated
// snapshot; either switch republishes the snapshot of the new source.
func (p *Pipeline) SetSimulation(active bool) {
	if err := p.enqueue(context.Background(), job{origin: OriginCommand, simulate: &active}); err != nil {
		p.logger.Debug("source switch not queued", zap.Bool("simulation", active), zap.Error(err))
	}
}

// Simulating reports whether simulated frames are relayed.
func (p *Pipeline) Simulating() bool {
	return p.simulating.Load()
}

// Handler returns a frame callback that submits to the pipeline with origin.
func (p *Pipeline) Handler(origin Origin) func(ctx context.Context, data []byte) {
	return func(ctx context.Context, data []byte) {
		if err := p.Submit(ctx, origin, data); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Debug("frame not submitted", zap.String("origin", string(origin)), zap.Error(err))
		}
	}
}

// Submit queues a raw frame. It blocks while the queue is full.
func (p *Pipeline) Submit(ctx context.Context, origin Origin, frame []byte) error {
	return p.enqueue(ctx, job{origin: origin, frame: frame})
}

// ApplyReference queues a reference block and waits until it is applied and
// published.
func (p *Pipeline) ApplyReference(ctx context.Context, origin Origin, block snapshot.ReferenceBlock) error {
	if len(block) == 0 {
		return nil
	}
	return p.wait(ctx, job{origin: origin, block: block})
}

// Do runs fn on the pipeline goroutine with exclusive write access to the
// store and waits for it to finish.
func (p *Pipeline) Do(ctx context.Context, fn func(*snapshot.Store)) error {
	return p.wait(ctx, job{origin: OriginCommand, cmd: fn})
}

func (p *Pipeline) wait(ctx context.Context, j job) error {
	j.done = make(chan struct{})
	if err := p.enqueue(ctx, j); err != nil {
		return err
	}
	select {
	case <-j.done:
		return nil
	case <-p.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) enqueue(ctx context.Context, j job) error {
	select {
	case <-p.stopped:
		return ErrStopped
	default:
	}

	select {
	case p.jobs <- j:
		return nil
	case <-p.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes jobs until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	defer close(p.stopped)
	p.logger.Info("ingestion pipeline started")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("ingestion pipeline stopping")
			return
		case j := <-p.jobs:
			p.process(j)
		}
	}
}

func (p *Pipeline) process(j job) {
	if j.done != nil {
		defer close(j.done)
	}

	switch {
	case j.simulate != nil:
		p.switchSource(*j.simulate)
	case j.cmd != nil:
		j.cmd(p.Store())
	case j.block != nil:
		// Reference blocks from the archive always describe the live session.
		p.apply(p.live, feed.Envelope{Kind: feed.KindReference, Block: j.block}, !p.simulating.Load())
	default:
		p.processFrame(j.origin, j.frame)
	}
}

func (p *Pipeline) switchSource(simulate bool) {
	if p.simulating.Load() == simulate {
		return
	}
	if simulate {
		p.sim.Reset()
	}
	p.simulating.Store(simulate)
	p.logger.Info("frame source switched", zap.Bool("simulation", simulate))

	// Resync connected clients with the snapshot they now follow.
	block := p.Store().All()
	if len(block) == 0 {
		return
	}
	msg, err := feed.Envelope{Kind: feed.KindReference, Block: block}.Encode()
	if err != nil {
		p.logger.Error("encoding snapshot", zap.Error(err))
		return
	}
	p.hub.Publish(broadcast.KindReference, msg)
}

func (p *Pipeline) processFrame(origin Origin, frame []byte) {
	p.observer.FrameReceived(string(origin))

	simulating := p.simulating.Load()
	store, relay := p.live, !simulating
	if origin == OriginSimulation {
		if !simulating {
			p.observer.FrameDropped(DropSimulationInactive, nil)
			return
		}
		store, relay = p.sim, true
	}

	envs, err := p.decoder.Decode(frame)
	if err != nil {
		p.logger.Warn("dropping frame", zap.String("origin", string(origin)), zap.Error(err))
		return
	}
	if !relay && len(envs) > 0 {
		p.observer.FrameDropped(DropSimulationActive, nil)
	}
	for _, env := range envs {
		p.apply(store, env, relay)
	}
}

// apply writes env to store and then, when relay is set, publishes it.
func (p *Pipeline) apply(store *snapshot.Store, env feed.Envelope, relay bool) {
	var kind broadcast.Kind
	switch env.Kind {
	case feed.KindReference:
		n := store.ApplyReference(env.Block)
		kind = broadcast.KindReference
		p.logger.Debug("reference applied", zap.Int("topics", n))
	case feed.KindTelemetry:
		store.Merge(env.Topic, env.Payload)
		p.observer.TelemetryDecoded()
		kind = broadcast.KindTelemetry
	default:
		store.Merge(env.Topic, env.Payload)
		kind = broadcast.KindFeed
	}
	if !relay {
		return
	}

	msg, err := env.Encode()
	if err != nil {
		p.logger.Error("encoding update", zap.String("topic", env.Topic), zap.Error(err))
		return
	}
	p.hub.Publish(kind, msg)
}

// Bootstrap returns the snapshot as a reference message for a new client, or
// nil when the snapshot is empty.
func (p *Pipeline) Bootstrap() ([]byte, error) {
	block := p.Store().All()
	if len(block) == 0 {
		return nil, nil
	}
	return feed.Envelope{Kind: feed.KindReference, Block: block}.Encode()
}
