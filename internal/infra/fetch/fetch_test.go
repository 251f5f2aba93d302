package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/biomes-client/internal/core/domain"
	"github.com/vietddude/biomes-client/internal/testutil"
)

func newTestClient(t *testing.T, url string, logger *slog.Logger) *Client {
	t.Helper()
	if logger == nil {
		logger = slogt.New(t)
	}
	c, err := NewClient(Config{BaseURL: url, Retries: 3, RetryDelay: time.Millisecond}, logger)
	require.NoError(t, err)
	return c
}

func TestClient_DecodesJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/check" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected json content type, got %q", ct)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{"userId": 42})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)

	var out struct {
		UserID uint64 `json:"userId"`
	}
	err := c.Do(context.Background(), Request{Method: http.MethodPost, Path: "/api/auth/check", Body: struct{}{}}, &out)
	require.NoError(t, err)
	require.Equal(t, uint64(42), out.UserID)
}

func TestClient_RetriesTimeoutsThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			time.Sleep(200 * time.Millisecond)
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	rec, logger := testutil.NewLogRecorder()
	c := newTestClient(t, server.URL, logger)

	var out struct {
		OK bool `json:"ok"`
	}
	err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/slow"}, &out, WithTimeout(50*time.Millisecond))
	require.NoError(t, err)
	require.True(t, out.OK)
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, 2, rec.Count(slog.LevelWarn))
}

func TestClient_BadGatewayIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)

	err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/api/social/self_profile"}, nil)
	require.ErrorIs(t, err, domain.ErrServiceUnavailable)
	require.Equal(t, int32(1), calls.Load())
}

func TestClient_ServerErrorRetriedUntilExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"database down"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)

	err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, nil)
	require.Equal(t, int32(4), calls.Load())

	// The last error surfaces as-is.
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusInternalServerError, se.Status)
	require.Equal(t, "database down", se.Message)
}

func TestClient_ClientErrorsNotRetried(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
		notAuthed   bool
	}{
		{"unauthorized", http.StatusUnauthorized, `{"message":"no session"}`, "no session", true},
		{"not found", http.StatusNotFound, "missing", "missing", true},
		{"bad request", http.StatusBadRequest, `{"error":"bad username"}`, "bad username", false},
		{"empty body", http.StatusForbidden, "", "empty response", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := newTestClient(t, server.URL, nil)
			err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, nil)

			var se *StatusError
			require.ErrorAs(t, err, &se)
			require.Equal(t, tt.wantMessage, se.Message)
			require.Equal(t, tt.notAuthed, errors.Is(err, domain.ErrNotAuthenticated))
			require.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestNewClient_ZeroRetriesTakesDefault(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c, err := NewClient(Config{BaseURL: server.URL, RetryDelay: time.Millisecond}, slogt.New(t))
	require.NoError(t, err)

	err = c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, nil)
	require.Error(t, err)
	require.Equal(t, int32(DefaultRetries+1), calls.Load())

	calls.Store(0)
	err = c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, nil, WithRetries(0))
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestClient_TransportErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := newTestClient(t, url, nil)
	err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, nil, WithRetries(1))
	require.ErrorIs(t, err, domain.ErrTransientNetwork)
}

func TestClient_ContextCancelStopsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/x"}, nil, WithRetries(100), WithRetryDelay(time.Hour))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
