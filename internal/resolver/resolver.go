// Package resolver looks up the caller's public address from an HTTP echo
// service such as api.ipify.org.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cl3t4p/ip-notifier/internal/metrics"
	"github.com/cl3t4p/ip-notifier/internal/retry"
)

const (
	DefaultTimeout = 10 * time.Second

	// maxBodyBytes bounds the echo response; an address never comes close.
	maxBodyBytes = 4 << 10
)

// ErrBodyTooLarge means the lookup response exceeded maxBodyBytes.
var ErrBodyTooLarge = errors.New("lookup response body too large")

// StatusError is returned for a non-2xx lookup response when strict status
// checking is enabled.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("lookup %s returned http status %d", e.URL, e.StatusCode)
}

func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// HTTPResolver issues one GET per Fetch call. It never retries.
type HTTPResolver struct {
	client       *http.Client
	strictStatus bool
	logger       *slog.Logger
}

type Option func(*HTTPResolver)

// WithStrictStatus makes non-2xx responses an error instead of a candidate.
func WithStrictStatus(strict bool) Option {
	return func(r *HTTPResolver) { r.strictStatus = strict }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *HTTPResolver) { r.logger = logger.With("component", "resolver") }
}

// WithClient replaces the default client, timeout included.
func WithClient(client *http.Client) Option {
	return func(r *HTTPResolver) { r.client = client }
}

func New(timeout time.Duration, opts ...Option) *HTTPResolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	r := &HTTPResolver{
		client: &http.Client{Timeout: timeout},
		logger: slog.Default().With("component", "resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fetch returns the response body verbatim for any completed exchange. An
// empty body is a valid result. Non-2xx statuses are logged, or returned as
// *StatusError when strict status checking is on.
func (r *HTTPResolver) Fetch(ctx context.Context, lookupURL string) (string, error) {
	start := time.Now()
	addr, err := r.fetch(ctx, lookupURL)
	metrics.ResolverLookupLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ResolverLookupsTotal.WithLabelValues("error").Inc()
		metrics.ResolverLookupErrors.WithLabelValues(retry.Classify(err).Reason).Inc()
		return "", err
	}
	metrics.ResolverLookupsTotal.WithLabelValues("ok").Inc()
	return addr, nil
}

func (r *HTTPResolver) fetch(ctx context.Context, lookupURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
	if err != nil {
		return "", fmt.Errorf("create lookup request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send lookup request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if r.strictStatus {
			return "", &StatusError{URL: lookupURL, StatusCode: resp.StatusCode}
		}
		r.logger.Warn("lookup returned non-success status, using body as address",
			"lookup_url", lookupURL,
			"status", resp.StatusCode,
		)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return "", fmt.Errorf("read lookup response: %w", err)
	}
	if len(body) > maxBodyBytes {
		return "", fmt.Errorf("read lookup response: %w (limit %d bytes)", ErrBodyTooLarge, maxBodyBytes)
	}
	return string(body), nil
}
