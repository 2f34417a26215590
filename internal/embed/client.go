// Package embed converts text into 1024-dimensional vectors by calling
// a local generator service over HTTP. Transient failures are retried
// with backoff; a circuit breaker fails fast once the service looks
// down.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	cdocserr "github.com/compounding-docs/cdocs/internal/errors"
)

// Dimensions is the only embedding size the server accepts.
const Dimensions = 1024

// Client is anything that can embed text.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options configures an HTTPClient.
type Options struct {
	// Host is the generator base URL, e.g. http://localhost:8765.
	Host string

	// Timeout bounds one HTTP request (default 30s).
	Timeout time.Duration

	// Retry tunes the transient-failure retry loop.
	Retry cdocserr.RetryConfig

	// Breaker wraps the retry loop. Required so the health monitor can
	// observe its transitions.
	Breaker *cdocserr.CircuitBreaker

	Logger *slog.Logger
}

// WithDefaults fills zero values.
func (o Options) WithDefaults() Options {
	if o.Host == "" {
		o.Host = "http://localhost:8765"
	}
	if o.Timeout == 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Retry.MaxRetries == 0 {
		o.Retry = cdocserr.DefaultRetryConfig()
	}
	if o.Breaker == nil {
		o.Breaker = cdocserr.NewCircuitBreaker("embedding")
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// HTTPClient talks to the embedding generator service.
type HTTPClient struct {
	opts   Options
	client *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the generator at opts.Host.
func NewHTTPClient(opts Options) *HTTPClient {
	opts = opts.WithDefaults()
	return &HTTPClient{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
	}
}

// Breaker exposes the circuit breaker for health reporting.
func (c *HTTPClient) Breaker() *cdocserr.CircuitBreaker {
	return c.opts.Breaker
}

type embedRequest struct {
	Input string `json:"input"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed converts text to a vector. Empty input is rejected. While the
// circuit is open the call fails fast with EmbeddingUnavailable
// carrying the remaining break duration.
func (c *HTTPClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, cdocserr.New(cdocserr.TagInvalidArgument, "embedding input must not be empty")
	}

	if !c.opts.Breaker.Allow() {
		return nil, c.unavailableError(nil)
	}

	var vector []float32
	err := c.opts.Breaker.Execute(func() error {
		return cdocserr.Retry(ctx, c.opts.Retry, func() error {
			v, err := c.embedOnce(ctx, text)
			if err != nil {
				return err
			}
			vector = v
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, cdocserr.ErrCircuitOpen) {
			return nil, c.unavailableError(nil)
		}
		if ce := cdocserr.FromContext(err); ce != nil {
			return nil, ce
		}
		var de *cdocserr.Error
		if errors.As(err, &de) {
			return nil, de
		}
		return nil, c.unavailableError(err)
	}
	return vector, nil
}

// embedOnce performs one HTTP round trip. Errors are classified:
// permanent failures are wrapped so the retry loop stops.
func (c *HTTPClient) embedOnce(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Input: text})
	if err != nil {
		return nil, cdocserr.MarkPermanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.opts.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, cdocserr.MarkPermanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// Timeouts and refused connections are transient.
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, payload)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, cdocserr.MarkPermanent(err)
		}
		return nil, err
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}

	if len(parsed.Embedding) != Dimensions {
		// Wrong dimensionality means the generator is running the
		// wrong model; retrying cannot help.
		return nil, cdocserr.MarkPermanent(
			cdocserr.Newf(cdocserr.TagEmbeddingUnavailable,
				"embedding service returned %d dimensions, expected %d",
				len(parsed.Embedding), Dimensions).
				WithSuggestion("Check the generator's embedding model configuration."))
	}
	return parsed.Embedding, nil
}

// unavailableError builds the EmbeddingUnavailable reply with breaker
// state and retry timing.
func (c *HTTPClient) unavailableError(cause error) *cdocserr.Error {
	b := c.opts.Breaker
	e := cdocserr.Wrap(cdocserr.TagEmbeddingUnavailable, "embedding service unavailable", cause)
	if e == nil {
		e = cdocserr.New(cdocserr.TagEmbeddingUnavailable, "embedding service unavailable")
	}
	e.WithDetail("state", b.State().String())
	if after := b.RetryAfter(); after > 0 {
		e.WithDetail("retry_after_seconds", strconv.Itoa(int(after.Seconds()+0.5)))
	}
	if hint := platformHint(); hint != "" {
		e.WithSuggestion(hint)
	}
	return e
}

// platformHint explains the usual cause of an unreachable generator on
// Apple Silicon hosts.
func platformHint() string {
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		return "On macOS/ARM64 the embedding generator must run natively; check that the service is started and listening."
	}
	return "Check that the embedding generator service is running."
}
