package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/livetiming-relay/internal/bootstrap"
	"github.com/dgnsrekt/livetiming-relay/internal/ingest"
)

var (
	ErrReloadInProgress = errors.New("reload already in progress")
	ErrNothingFetched   = errors.New("no reference topics could be fetched")
)

// ArchiveFetcher is the part of bootstrap.Fetcher the Refresher needs.
type ArchiveFetcher interface {
	ResolveSessionPath(ctx context.Context) (string, error)
	FetchSession(ctx context.Context, sessionPath string, topics []string) (*bootstrap.Result, error)
}

// Refresher seeds the snapshot from the static archive, at startup and on
// demand. Only one refresh runs at a time.
type Refresher struct {
	fetcher  ArchiveFetcher
	pipeline *ingest.Pipeline
	topics   []string
	logger   *zap.Logger

	isReloading atomic.Bool
	reloadMu    sync.Mutex // prevents concurrent reloads

	sessionPath string
	loadedAt    time.Time
	stateMu     sync.RWMutex
}

// NewRefresher creates a Refresher. sessionPath may be empty, in which case
// the archive's current session is used.
func NewRefresher(fetcher ArchiveFetcher, pipeline *ingest.Pipeline, topics []string, sessionPath string, logger *zap.Logger) *Refresher {
	return &Refresher{
		fetcher:     fetcher,
		pipeline:    pipeline,
		topics:      topics,
		sessionPath: sessionPath,
		logger:      logger,
	}
}

// IsReloading returns true if a refresh is currently in progress.
func (r *Refresher) IsReloading() bool {
	return r.isReloading.Load()
}

// SessionPath returns the session the snapshot was last seeded from.
func (r *Refresher) SessionPath() string {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.sessionPath
}

// LoadedAt returns when the last refresh was applied. Zero if none was.
func (r *Refresher) LoadedAt() time.Time {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.loadedAt
}

// RefreshResult contains the result of a successful refresh.
type RefreshResult struct {
	PreviousSessionPath string    `json:"previousSessionPath"`
	SessionPath         string    `json:"sessionPath"`
	LoadedAt            time.Time `json:"loadedAt"`
	TopicsLoaded        int       `json:"topicsLoaded"`
	TopicsFailed        int       `json:"topicsFailed"`
}

// Refresh fetches every topic of sessionPath and applies them as a reference
// block. An empty sessionPath keeps the current one, or discovers it when none
// is set. The snapshot is left untouched when nothing could be fetched.
func (r *Refresher) Refresh(ctx context.Context, sessionPath string) (*RefreshResult, error) {
	// Prevent concurrent reloads
	if !r.reloadMu.TryLock() {
		return nil, ErrReloadInProgress
	}
	defer r.reloadMu.Unlock()

	r.isReloading.Store(true)
	defer r.isReloading.Store(false)

	previous := r.SessionPath()
	if sessionPath == "" {
		sessionPath = previous
	}
	if sessionPath == "" {
		resolved, err := r.fetcher.ResolveSessionPath(ctx)
		if err != nil {
			return nil, err
		}
		sessionPath = resolved
	}

	r.logger.Info("refreshing snapshot from archive",
		zap.String("previousSessionPath", previous),
		zap.String("sessionPath", sessionPath),
	)

	result, err := r.fetcher.FetchSession(ctx, sessionPath, r.topics)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", sessionPath, err)
	}
	if result.Success == 0 {
		return nil, fmt.Errorf("%w from %s", ErrNothingFetched, sessionPath)
	}

	if err := r.pipeline.ApplyReference(ctx, ingest.OriginBootstrap, result.Block); err != nil {
		return nil, fmt.Errorf("applying reference block: %w", err)
	}

	r.stateMu.Lock()
	r.sessionPath = result.SessionPath
	r.loadedAt = time.Now()
	loadedAt := r.loadedAt
	r.stateMu.Unlock()

	r.logger.Info("snapshot refreshed",
		zap.String("sessionPath", result.SessionPath),
		zap.Int("topicsLoaded", result.Success),
		zap.Int("topicsFailed", result.Failed),
	)

	return &RefreshResult{
		PreviousSessionPath: previous,
		SessionPath:         result.SessionPath,
		LoadedAt:            loadedAt,
		TopicsLoaded:        result.Success,
		TopicsFailed:        result.Failed,
	}, nil
}
