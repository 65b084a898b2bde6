package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/gatemesh/pathsync/internal/schedule"
)

// Retry and backoff constants for the HTTP bridge.
const (
	defaultHTTPRetries = 3
	httpBaseBackoff    = 250 * time.Millisecond
	httpMaxBackoff     = 5 * time.Second
	backoffFactor      = 2.0
	jitterFraction     = 0.25
	maxReplyBytes      = 64 << 10
	userAgent          = "pathsync/0.1"
)

// HTTPBridge talks to a bridge service that relays messages to nodes over
// their local link. A sync is POST {base}/nodes/{id}/schedules with the
// request frame as body and the reply frame as response.
type HTTPBridge struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	logger     *slog.Logger

	// sleepFunc waits between retries. Tests override it to avoid real
	// delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// HTTPBridgeConfig configures an HTTPBridge. HTTPClient carries any
// authentication (see NewAuthClient); nil means http.DefaultClient.
type HTTPBridgeConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	MaxRetries int // retries after the first try; negative disables retry
	Logger     *slog.Logger
}

// NewHTTPBridge creates an HTTP bridge transport.
func NewHTTPBridge(cfg HTTPBridgeConfig) *HTTPBridge {
	b := &HTTPBridge{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
		maxRetries: cfg.MaxRetries,
		logger:     cfg.Logger,
		sleepFunc:  timeSleep,
	}

	if b.httpClient == nil {
		b.httpClient = http.DefaultClient
	}

	if b.logger == nil {
		b.logger = slog.Default()
	}

	if b.maxRetries == 0 {
		b.maxRetries = defaultHTTPRetries
	}

	if b.maxRetries < 0 {
		b.maxRetries = 0
	}

	return b
}

// Send implements Transport. Network errors and retryable statuses are
// retried with jittered exponential backoff until MaxRetries or ctx ends.
func (b *HTTPBridge) Send(ctx context.Context, targetID string, msg *schedule.SyncMessage) (*Ack, error) {
	body, err := json.Marshal(newRequest("", targetID, msg))
	if err != nil {
		return nil, fmt.Errorf("transport: encoding request for %q: %w", targetID, err)
	}

	endpoint := b.baseURL + "/nodes/" + url.PathEscape(targetID) + "/schedules"

	var attempt int
	for {
		resp, err := b.doOnce(ctx, endpoint, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctxErr(targetID, ctx.Err())
			}

			if attempt < b.maxRetries {
				if err := b.wait(ctx, targetID, attempt, b.calcBackoff(attempt), slog.String("error", err.Error())); err != nil {
					return nil, err
				}

				attempt++

				continue
			}

			return nil, &NodeError{Target: targetID, Msg: err.Error(), Err: ErrUnreachable}
		}

		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
		resp.Body.Close()

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			if readErr != nil {
				return nil, &NodeError{Target: targetID, Msg: "reading reply: " + readErr.Error(), Err: ErrProtocol}
			}

			return decodeReply(targetID, raw)
		}

		if isRetryable(resp.StatusCode) && attempt < b.maxRetries {
			if err := b.wait(ctx, targetID, attempt, b.retryBackoff(resp, attempt), slog.Int("status", resp.StatusCode)); err != nil {
				return nil, err
			}

			attempt++

			continue
		}

		return nil, statusError(targetID, resp.StatusCode, raw)
	}
}

func (b *HTTPBridge) wait(ctx context.Context, targetID string, attempt int, backoff time.Duration, cause slog.Attr) error {
	b.logger.Warn("retrying schedule delivery",
		slog.String("node", targetID),
		slog.Int("attempt", attempt+1),
		slog.Duration("backoff", backoff),
		cause,
	)

	if err := b.sleepFunc(ctx, backoff); err != nil {
		return ctxErr(targetID, err)
	}

	return nil
}

func (b *HTTPBridge) doOnce(ctx context.Context, endpoint string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	return b.httpClient.Do(req)
}

func decodeReply(targetID string, raw []byte) (*Ack, error) {
	// An empty 2xx body is a bare acknowledgement.
	if len(bytes.TrimSpace(raw)) == 0 {
		return &Ack{}, nil
	}

	var r reply
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, &NodeError{Target: targetID, Msg: "malformed reply: " + err.Error(), Err: ErrProtocol}
	}

	return r.ack(targetID)
}

// statusError classifies a final non-2xx response. The node's own error
// text is used as the message when the body is a reply frame.
func statusError(targetID string, code int, raw []byte) error {
	msg := strings.TrimSpace(string(raw))

	var r reply
	if json.Unmarshal(raw, &r) == nil && r.Error != "" {
		msg = r.Error
	}

	if msg == "" {
		msg = http.StatusText(code)
	}

	var sentinel error

	switch {
	case code == http.StatusNotFound, code == http.StatusBadGateway, code == http.StatusServiceUnavailable:
		sentinel = ErrUnreachable
	case code == http.StatusGatewayTimeout, code == http.StatusRequestTimeout:
		sentinel = ErrTimeout
	case code >= http.StatusBadRequest && code < http.StatusInternalServerError:
		sentinel = ErrNack
	default:
		sentinel = ErrProtocol
	}

	return &NodeError{Target: targetID, StatusCode: code, Msg: msg, Err: sentinel}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// retryBackoff honours Retry-After (in seconds) on 429 and 503 responses.
func (b *HTTPBridge) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return b.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (b *HTTPBridge) calcBackoff(attempt int) time.Duration {
	backoff := float64(httpBaseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(httpMaxBackoff) {
		backoff = float64(httpMaxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// AuthConfig selects how the bridge authenticates. Client credentials take
// precedence over a static token; with neither, requests are anonymous.
type AuthConfig struct {
	Token        string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// NewAuthClient returns an HTTP client that attaches bearer tokens per
// auth. base supplies the underlying transport and may be nil. ctx scopes
// token fetches for the client-credentials flow.
func NewAuthClient(ctx context.Context, auth AuthConfig, base *http.Client) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)

	switch {
	case auth.ClientID != "" && auth.TokenURL != "":
		cc := &clientcredentials.Config{
			ClientID:     auth.ClientID,
			ClientSecret: auth.ClientSecret,
			TokenURL:     auth.TokenURL,
			Scopes:       auth.Scopes,
		}

		return cc.Client(ctx)
	case auth.Token != "":
		return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: auth.Token,
			TokenType:   "Bearer",
		}))
	default:
		return base
	}
}
