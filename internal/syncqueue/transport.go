package syncqueue

import (
	"bytes"
	"context"
	"encoding/json/v2"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tithebookapp/tithebook-server/internal/domain"
)

const transportTimeout = 30 * time.Second

// HTTPTransport pushes actions to the remote management system over
// HTTP. Connection failures surface as ErrOffline so the queue parks
// instead of burning retries against a dead link.
type HTTPTransport struct {
	http    *http.Client
	baseURL string
	apiKey  string
	logger  *slog.Logger
}

// NewHTTPTransport creates a transport for the given remote base URL.
func NewHTTPTransport(baseURL, apiKey string, logger *slog.Logger) *HTTPTransport {
	return &HTTPTransport{
		http: &http.Client{
			Timeout: transportTimeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		logger:  logger,
	}
}

type actionEnvelope struct {
	Action *domain.PendingAction `json:"action"`
}

func (t *HTTPTransport) Apply(ctx context.Context, action *domain.PendingAction) error {
	payload, err := json.Marshal(actionEnvelope{Action: action})
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/api/v1/actions", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	t.logger.Debug("pushing action",
		"action", action.ID,
		"type", action.Type,
		"entity", action.EntityID,
	)

	resp, err := t.http.Do(req)
	if err != nil {
		if isConnectivityError(err) {
			return ErrOffline
		}
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		// The remote already holds an earlier submission for this
		// entity. The earlier write wins, so the local action is done.
		t.logger.Info("action superseded by earlier submission",
			"action", action.ID,
			"entity", action.EntityID,
		)
		return nil
	case resp.StatusCode == http.StatusServiceUnavailable:
		return ErrOffline
	default:
		return fmt.Errorf("remote rejected action: status %d: %s", resp.StatusCode, string(body))
	}
}

// isConnectivityError reports whether err means the remote cannot be
// reached at all, as opposed to the remote answering with a failure.
func isConnectivityError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

var _ Transport = (*HTTPTransport)(nil)
