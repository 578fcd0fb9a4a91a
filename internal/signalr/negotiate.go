package signalr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNoToken is returned when negotiate succeeds without a connection token.
var ErrNoToken = errors.New("negotiate response has no connection token")

// Negotiation is the result of the negotiate handshake.
type Negotiation struct {
	ConnectionToken string `json:"ConnectionToken"`
	ConnectionID    string `json:"ConnectionId"`

	// Cookie is the Cookie header value to present on connect.
	Cookie string `json:"-"`
	// SetCookie holds the raw Set-Cookie lines for pass-through to callers.
	SetCookie []string `json:"-"`
}

// NegotiationError reports a failed negotiate request. StatusCode is zero for
// transport errors.
type NegotiationError struct {
	StatusCode int
	Err        error
}

func (e *NegotiationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("negotiate failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("negotiate failed: %v", e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

// Negotiator performs the one-shot negotiate request.
type Negotiator struct {
	httpClient *http.Client
	baseURL    string
	logger     *zap.Logger
}

// NewNegotiator creates a Negotiator for the provider at baseURL
// (e.g. https://livetiming.formula1.com).
func NewNegotiator(baseURL string, timeout time.Duration, logger *zap.Logger) *Negotiator {
	return &Negotiator{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		logger:     logger,
	}
}

// NegotiateURL returns the negotiate endpoint URL.
func (n *Negotiator) NegotiateURL() string {
	q := url.Values{}
	q.Set("connectionData", ConnectionData())
	q.Set("clientProtocol", ProtocolVersion)
	return n.baseURL + "/signalr/negotiate?" + q.Encode()
}

// ConnectURL returns the WebSocket connect URL for token.
func (n *Negotiator) ConnectURL(token string) (string, error) {
	u, err := url.Parse(n.baseURL + "/signalr/connect")
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}

	q := url.Values{}
	q.Set("clientProtocol", ProtocolVersion)
	q.Set("transport", "webSockets")
	q.Set("connectionToken", token)
	q.Set("connectionData", ConnectionData())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Negotiate issues the negotiate request and returns the connection token and
// session cookie.
func (n *Negotiator) Negotiate(ctx context.Context) (*Negotiation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.NegotiateURL(), nil)
	if err != nil {
		return nil, &NegotiationError{Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, &NegotiationError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &NegotiationError{StatusCode: resp.StatusCode, Err: fmt.Errorf("reading body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &NegotiationError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", truncate(string(body), 200)),
		}
	}

	var neg Negotiation
	if err := json.Unmarshal(body, &neg); err != nil {
		return nil, &NegotiationError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if neg.ConnectionToken == "" {
		return nil, &NegotiationError{StatusCode: resp.StatusCode, Err: ErrNoToken}
	}

	neg.SetCookie = resp.Header.Values("Set-Cookie")
	neg.Cookie = cookieHeader(resp.Cookies())

	n.logger.Debug("negotiate successful",
		zap.String("connectionId", neg.ConnectionID),
		zap.Int("cookies", len(neg.SetCookie)),
	)
	return &neg, nil
}

// cookieHeader joins response cookies into a request Cookie header value.
func cookieHeader(cookies []*http.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
