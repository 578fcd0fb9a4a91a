package bootstrap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/livetiming-relay/internal/signalr"
)

var utf8BOM = []byte{0xef, 0xbb, 0xbf}

// maxDocumentSize bounds a single archive document.
const maxDocumentSize = 64 << 20

// archiveClient performs rate-limited GETs against the static archive and
// retries 429 and 5xx responses with exponential backoff.
type archiveClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	retryCount int
	retryDelay time.Duration
	logger     *zap.Logger
}

func newArchiveClient(ratePerSec int, timeout, retryDelay time.Duration, retryCount int, logger *zap.Logger) *archiveClient {
	transport := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		MaxIdleConns:    100,
		MaxConnsPerHost: 10,
		IdleConnTimeout: 90 * time.Second,
	}
	if ratePerSec <= 0 {
		ratePerSec = 10
	}

	return &archiveClient{
		httpClient: &http.Client{
			Transport: gzhttp.Transport(transport),
			Timeout:   timeout,
		},
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2),
		retryCount: retryCount,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// get returns the body of url with any UTF-8 byte-order mark removed.
func (c *archiveClient) get(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	c.logger.Debug("requesting", zap.String("url", url))

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1))
			c.logger.Debug("retrying request", zap.Int("attempt", attempt), zap.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("User-Agent", signalr.UserAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
		_ = resp.Body.Close()

		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden:
			// The archive answers 403 for documents that do not exist.
			return nil, ErrNotFound
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = ErrRateLimited
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		case resp.StatusCode != http.StatusOK:
			return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, 200))
		}

		return bytes.TrimPrefix(body, utf8BOM), nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
