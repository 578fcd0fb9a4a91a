package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/livetiming-relay/internal/signalr"
)

const pendingNotices = 16

type notice struct {
	recovery bool
	outage   Outage
}

// Watcher follows the upstream client state and sends an outage notice when
// streaming has been unavailable for longer than a threshold, and a recovery
// notice once it resumes. Recovery is only reported after an outage notice.
type Watcher struct {
	ctx      context.Context
	notifier Notifier
	after    time.Duration
	sessions func() uint64
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	down    time.Time // zero while streaming
	last    signalr.State
	gen     uint64
	timer   *time.Timer
	alerted bool
	closed  bool

	queue chan notice
	done  chan struct{}
}

// NewWatcher creates a Watcher. The upstream is considered down until the
// first transition into the streaming state. sessions may be nil.
func NewWatcher(ctx context.Context, notifier Notifier, after time.Duration, sessions func() uint64, logger *zap.Logger) *Watcher {
	if sessions == nil {
		sessions = func() uint64 { return 0 }
	}
	w := &Watcher{
		ctx:      ctx,
		notifier: notifier,
		after:    after,
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
		last:     signalr.StateDisconnected,
		queue:    make(chan notice, pendingNotices),
		done:     make(chan struct{}),
	}

	w.mu.Lock()
	w.down = w.now()
	w.arm()
	w.mu.Unlock()

	go w.run()
	return w
}

// StateChanged satisfies signalr.StateFunc.
func (w *Watcher) StateChanged(_, next signalr.State) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.last = next

	if next == signalr.StateStreaming {
		w.disarm()
		if !w.down.IsZero() && w.alerted {
			w.enqueue(notice{recovery: true, outage: w.outage()})
		}
		w.down = time.Time{}
		w.alerted = false
		return
	}

	if w.down.IsZero() {
		w.down = w.now()
		w.arm()
	}
}

// Close stops the watcher and waits for queued notices to be sent.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.disarm()
	close(w.queue)
	w.mu.Unlock()

	<-w.done
}

func (w *Watcher) arm() {
	w.gen++
	gen := w.gen
	w.timer = time.AfterFunc(w.after, func() { w.fire(gen) })
}

func (w *Watcher) disarm() {
	w.gen++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Watcher) fire(gen uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || gen != w.gen || w.down.IsZero() || w.alerted {
		return
	}
	w.alerted = true
	w.logger.Warn("upstream outage",
		zap.Time("since", w.down),
		zap.Stringer("state", w.last),
	)
	w.enqueue(notice{outage: w.outage()})
}

func (w *Watcher) outage() Outage {
	return Outage{
		Since:     w.down,
		Duration:  w.now().Sub(w.down),
		LastState: w.last.String(),
		Sessions:  w.sessions(),
	}
}

// enqueue must be called with mu held.
func (w *Watcher) enqueue(n notice) {
	select {
	case w.queue <- n:
	default:
		w.logger.Warn("notification queue full, dropping notice", zap.Bool("recovery", n.recovery))
	}
}

func (w *Watcher) run() {
	defer close(w.done)
	for n := range w.queue {
		var err error
		if n.recovery {
			err = w.notifier.SendRecovery(w.ctx, n.outage)
		} else {
			err = w.notifier.SendOutage(w.ctx, n.outage)
		}
		if err != nil {
			w.logger.Warn("upstream notice failed", zap.Bool("recovery", n.recovery), zap.Error(err))
		}
	}
}
