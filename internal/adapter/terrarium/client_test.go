package terrarium

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/risk-grid-service/internal/retry"
)

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewClient_RejectsTemplateWithoutPlaceholders(t *testing.T) {
	_, err := NewClient("https://tiles.example.com/{z}/{x}.png", testPolicy(), discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "{y}")
}

func TestNewClient_DefaultTemplate(t *testing.T) {
	c, err := NewClient("", testPolicy(), discardLogger())
	require.NoError(t, err)
	assert.Equal(t, "https://s3.amazonaws.com/elevation-tiles-prod/terrarium/10/550/335.png", c.url(10, 550, 335))
}

func TestFetchTile_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/terrarium/3/4/5.png", r.URL.Path)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/terrarium/{z}/{x}/{y}.png", testPolicy(), discardLogger())
	require.NoError(t, err)

	body, err := c.FetchTile(context.Background(), 3, 4, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), body)
}

func TestFetchTile_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/{z}/{x}/{y}.png", testPolicy(), discardLogger())
	require.NoError(t, err)

	_, err = c.FetchTile(context.Background(), 1, 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchTile_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/{z}/{x}/{y}.png", testPolicy(), discardLogger())
	require.NoError(t, err)

	body, err := c.FetchTile(context.Background(), 1, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), body)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchTile_HonorsContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL+"/{z}/{x}/{y}.png", testPolicy(), discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = c.FetchTile(ctx, 1, 1, 1)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
