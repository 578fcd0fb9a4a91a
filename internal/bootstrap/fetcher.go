// Package bootstrap seeds the snapshot from the provider's static archive.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/livetiming-relay/internal/snapshot"
)

// Options configures a Fetcher.
type Options struct {
	// BaseURL is the provider origin, e.g. https://livetiming.formula1.com.
	BaseURL string
	// SessionPath is the archive folder of the session, e.g.
	// 2025/2025-05-18_Emilia_Romagna_Grand_Prix/2025-05-16_Practice_2/.
	// Empty means discover it on each fetch.
	SessionPath string

	Workers    int
	RatePerSec int
	Timeout    time.Duration
	RetryCount int
	RetryDelay time.Duration
}

// Result summarizes a fetch. Block holds only the topics that succeeded.
type Result struct {
	SessionPath string
	Block       snapshot.ReferenceBlock
	Total       int
	Success     int
	Failed      int
	Errors      []*TopicError
}

// ResultFunc observes each topic outcome. err is nil on success.
type ResultFunc func(topic string, err error)

// Fetcher downloads one JSON document per topic and combines them into a
// reference block.
type Fetcher struct {
	client      *archiveClient
	baseURL     string
	sessionPath string
	workers     int
	onResult    ResultFunc
	logger      *zap.Logger
}

// NewFetcher creates a Fetcher. onResult may be nil.
func NewFetcher(opts Options, onResult ResultFunc, logger *zap.Logger) *Fetcher {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	if onResult == nil {
		onResult = func(string, error) {}
	}
	return &Fetcher{
		client:      newArchiveClient(opts.RatePerSec, opts.Timeout, opts.RetryDelay, opts.RetryCount, logger),
		baseURL:     strings.TrimSuffix(opts.BaseURL, "/"),
		sessionPath: normalizePath(opts.SessionPath),
		workers:     workers,
		onResult:    onResult,
		logger:      logger,
	}
}

func normalizePath(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

// TopicURL returns the archive URL of topic under sessionPath.
func (f *Fetcher) TopicURL(sessionPath, topic string) string {
	return f.baseURL + "/static/" + normalizePath(sessionPath) + topic + ".json"
}

// ResolveSessionPath returns the configured session path, or reads the
// current one from the archive's top-level SessionInfo document.
func (f *Fetcher) ResolveSessionPath(ctx context.Context) (string, error) {
	if f.sessionPath != "" {
		return f.sessionPath, nil
	}

	body, err := f.client.get(ctx, f.baseURL+"/static/SessionInfo.json")
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoSessionPath, err)
	}

	var info snapshot.SessionInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return "", fmt.Errorf("%w: decoding session info: %w", ErrNoSessionPath, err)
	}
	if info.Path == "" {
		return "", ErrNoSessionPath
	}
	return normalizePath(info.Path), nil
}

type topicResult struct {
	topic string
	value any
	err   error
}

// Fetch requests every topic concurrently and waits for all of them. Failed
// topics are reported in the result and left out of the block. An error is
// returned only when no session path is available or ctx ends first.
func (f *Fetcher) Fetch(ctx context.Context, topics []string) (*Result, error) {
	sessionPath, err := f.ResolveSessionPath(ctx)
	if err != nil {
		return nil, err
	}
	return f.FetchSession(ctx, sessionPath, topics)
}

// FetchSession is Fetch for an explicit session path.
func (f *Fetcher) FetchSession(ctx context.Context, sessionPath string, topics []string) (*Result, error) {
	sessionPath = normalizePath(sessionPath)
	if sessionPath == "" {
		return nil, ErrNoSessionPath
	}

	result := &Result{
		SessionPath: sessionPath,
		Block:       make(snapshot.ReferenceBlock, len(topics)),
		Total:       len(topics),
	}
	if len(topics) == 0 {
		return result, nil
	}

	f.logger.Info("fetching reference data",
		zap.String("sessionPath", sessionPath),
		zap.Int("topics", len(topics)),
	)

	jobs := make(chan string, len(topics))
	results := make(chan topicResult, len(topics))

	var wg sync.WaitGroup
	for i := 0; i < min(f.workers, len(topics)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for topic := range jobs {
				value, err := f.fetchTopic(ctx, sessionPath, topic)
				results <- topicResult{topic: topic, value: value, err: err}
			}
		}()
	}

	for _, topic := range topics {
		jobs <- topic
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		f.onResult(r.topic, r.err)
		if r.err != nil {
			result.Failed++
			result.Errors = append(result.Errors, &TopicError{Topic: r.topic, Err: r.err})
			f.logger.Warn("reference topic failed", zap.String("topic", r.topic), zap.Error(r.err))
			continue
		}
		result.Success++
		result.Block[r.topic] = r.value
		f.logger.Debug("reference topic fetched", zap.String("topic", r.topic))
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	f.logger.Info("reference data fetched",
		zap.Int("success", result.Success),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

func (f *Fetcher) fetchTopic(ctx context.Context, sessionPath, topic string) (any, error) {
	body, err := f.client.get(ctx, f.TopicURL(sessionPath, topic))
	if err != nil {
		return nil, err
	}
	value, err := snapshot.DecodeValue(body)
	if err != nil {
		return nil, fmt.Errorf("decoding: %w", err)
	}
	return value, nil
}
