package syncqueue

import (
	"context"
	"encoding/json/v2"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tithebookapp/tithebook-server/internal/domain"
)

func testAction(entityID string) *domain.PendingAction {
	return &domain.PendingAction{
		ID:        "action:00000000000000000001",
		Seq:       1,
		Type:      domain.ActionUpdateTithe,
		EntityID:  entityID,
		Timestamp: time.Now(),
	}
}

func TestHTTPTransportPostsAction(t *testing.T) {
	var got actionEnvelope
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/actions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	transport := NewHTTPTransport(srv.URL+"/", "secret", logger)

	err := transport.Apply(context.Background(), testAction("M001"))
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", auth)
	require.NotNil(t, got.Action)
	assert.Equal(t, "M001", got.Action.EntityID)
	assert.Equal(t, domain.ActionUpdateTithe, got.Action.Type)
}

func TestHTTPTransportConflictIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	transport := NewHTTPTransport(srv.URL, "", logger)

	assert.NoError(t, transport.Apply(context.Background(), testAction("M002")))
}

func TestHTTPTransportRejectionIsNotOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	transport := NewHTTPTransport(srv.URL, "", logger)

	err := transport.Apply(context.Background(), testAction("M003"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrOffline)
	assert.Contains(t, err.Error(), "status 400")
}

func TestHTTPTransportUnreachableIsOffline(t *testing.T) {
	// A server that is already closed refuses connections.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	transport := NewHTTPTransport(srv.URL, "", logger)

	err := transport.Apply(context.Background(), testAction("M004"))
	assert.ErrorIs(t, err, ErrOffline)
}

func TestHTTPTransportUnavailableIsOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	transport := NewHTTPTransport(srv.URL, "", logger)

	assert.ErrorIs(t, transport.Apply(context.Background(), testAction("M005")), ErrOffline)
}
