package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cdocserr "github.com/compounding-docs/cdocs/internal/errors"
)

func fastRetry() cdocserr.RetryConfig {
	return cdocserr.RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func embedHandler(vec []float32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": vec})
	}
}

func fullVec() []float32 {
	v := make([]float32, Dimensions)
	v[0] = 1
	return v
}

func TestEmbed_Success(t *testing.T) {
	srv := httptest.NewServer(embedHandler(fullVec()))
	defer srv.Close()

	c := NewHTTPClient(Options{Host: srv.URL, Retry: fastRetry()})

	vec, err := c.Embed(context.Background(), "hello")

	require.NoError(t, err)
	assert.Len(t, vec, Dimensions)
}

func TestEmbed_EmptyInputRejected(t *testing.T) {
	c := NewHTTPClient(Options{Host: "http://127.0.0.1:1", Retry: fastRetry()})

	_, err := c.Embed(context.Background(), "")

	require.Error(t, err)
	assert.Equal(t, cdocserr.TagInvalidArgument, cdocserr.TagOf(err))
}

func TestEmbed_WrongDimensionsFailsWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{1, 2, 3}})
	}))
	defer srv.Close()

	c := NewHTTPClient(Options{Host: srv.URL, Retry: fastRetry()})

	_, err := c.Embed(context.Background(), "hello")

	require.Error(t, err)
	assert.Equal(t, cdocserr.TagEmbeddingUnavailable, cdocserr.TagOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestEmbed_TransientFailureRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		embedHandler(fullVec())(w, r)
	}))
	defer srv.Close()

	c := NewHTTPClient(Options{Host: srv.URL, Retry: fastRetry()})

	vec, err := c.Embed(context.Background(), "hello")

	require.NoError(t, err)
	assert.Len(t, vec, Dimensions)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbed_PermanentFailureNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewHTTPClient(Options{Host: srv.URL, Retry: fastRetry()})

	_, err := c.Embed(context.Background(), "hello")

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEmbed_CircuitOpensAndFailsFast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	breaker := cdocserr.NewCircuitBreaker("test",
		cdocserr.WithMaxFailures(1),
		cdocserr.WithResetTimeout(time.Minute))
	c := NewHTTPClient(Options{Host: srv.URL, Retry: fastRetry(), Breaker: breaker})

	_, err := c.Embed(context.Background(), "hello")
	require.Error(t, err)
	require.Equal(t, cdocserr.StateOpen, breaker.State())

	// Fails fast while open, carrying state and retry timing.
	_, err = c.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, cdocserr.TagEmbeddingUnavailable, cdocserr.TagOf(err))

	var de *cdocserr.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "open", de.Details["state"])
	assert.NotEmpty(t, de.Details["retry_after_seconds"])
}

func TestEmbed_ConnectionRefusedIsUnavailable(t *testing.T) {
	c := NewHTTPClient(Options{Host: "http://127.0.0.1:1", Retry: fastRetry()})

	_, err := c.Embed(context.Background(), "hello")

	require.Error(t, err)
	assert.Equal(t, cdocserr.TagEmbeddingUnavailable, cdocserr.TagOf(err))
}

func TestCachedClient_CachesByContent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		embedHandler(fullVec())(w, r)
	}))
	defer srv.Close()

	inner := NewHTTPClient(Options{Host: srv.URL, Retry: fastRetry()})
	c, err := NewCachedClient(inner, 8)
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "same text")
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), "same text")
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), "other text")
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 2, c.Len())
}

func TestCachedClient_DoesNotCacheFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	inner := NewHTTPClient(Options{Host: srv.URL, Retry: fastRetry()})
	c, err := NewCachedClient(inner, 8)
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Zero(t, c.Len())
}
