package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json/v2"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tithebookapp/tithebook-server/internal/domain"
)

const (
	defaultTimeout = 60 * time.Second

	// Roster context sent with each page. Vision providers cap prompt
	// size, so only names are sent, never giving history.
	maxRosterHint = 500
)

// Remote extraction errors.
var (
	ErrRateLimited = errors.New("ocr provider rate limited")
	ErrServer      = errors.New("ocr provider server error")
	ErrBadRequest  = errors.New("ocr provider rejected request")
)

// RemoteExtractor calls an HTTP vision endpoint that reads tithe-book
// pages. The endpoint receives the page image plus roster names and
// returns one entry per handwritten row.
type RemoteExtractor struct {
	http     *http.Client
	endpoint string
	apiKey   string
	logger   *slog.Logger
}

// NewRemoteExtractor creates a client for the given extraction endpoint.
func NewRemoteExtractor(endpoint, apiKey string, logger *slog.Logger) *RemoteExtractor {
	return &RemoteExtractor{
		http: &http.Client{
			Timeout: defaultTimeout,
		},
		endpoint: endpoint,
		apiKey:   apiKey,
		logger:   logger,
	}
}

type extractRequest struct {
	Image       string   `json:"image"` // base64-encoded page image
	Assembly    string   `json:"assembly"`
	SourceFile  string   `json:"source_file"`
	RosterNames []string `json:"roster_names,omitempty"`
}

type extractResponse struct {
	Entries []domain.ExtractedEntry `json:"entries"`
}

func (c *RemoteExtractor) ExtractPage(ctx context.Context, image []byte, hint PageHint, roster []domain.RosterMember) ([]domain.ExtractedEntry, error) {
	names := make([]string, 0, min(len(roster), maxRosterHint))
	for _, m := range roster {
		if len(names) == maxRosterHint {
			break
		}
		names = append(names, m.FullName())
	}

	payload, err := json.Marshal(extractRequest{
		Image:       base64.StdEncoding.EncodeToString(image),
		Assembly:    hint.AssemblyName,
		SourceFile:  hint.SourceFile,
		RosterNames: names,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.Debug("extraction request",
		"file", hint.SourceFile,
		"assembly", hint.AssemblyName,
	)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode == http.StatusBadRequest:
		return nil, ErrBadRequest
	case resp.StatusCode >= 500:
		return nil, ErrServer
	default:
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var parsed extractResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return parsed.Entries, nil
}

var _ Extractor = (*RemoteExtractor)(nil)
