// HTTP implementation of [ProgressService]
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/evanmccall/absync/internal/models"
	"github.com/evanmccall/absync/internal/shared"
	"golang.org/x/oauth2"
)

// ProgressClient talks to the remote progress service over HTTP with a bearer
// token supplied by an [oauth2.TokenSource].
type ProgressClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewProgressClient creates a ProgressClient for the given server.
// The token is wrapped in a static token source; httpClient may be nil.
func NewProgressClient(baseURL, token string, httpClient *http.Client) (*ProgressClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: missing server base URL", shared.ErrInvalidConfig)
	}
	if token == "" {
		return nil, fmt.Errorf("%w: missing API token", shared.ErrMissingCredentials)
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	ctx := context.Background()
	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}

	return &ProgressClient{
		baseURL:    baseURL,
		httpClient: oauth2.NewClient(ctx, ts),
	}, nil
}

// doRequest performs an authenticated JSON request against the service.
// Connectivity failures map to [shared.ErrOffline], 404s to
// [shared.ErrServerSessionGone] or [shared.ErrItemNotFound], everything else
// non-2xx to [shared.ErrAPIRequest].
func (c *ProgressClient) doRequest(ctx context.Context, method, endpoint string, body, result any) error {
	apiURL := c.baseURL + endpoint

	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", shared.ErrOffline, err)
		}
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", shared.ErrServerSessionGone, method, endpoint)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: %s %s: status %d", shared.ErrAPIRequest, method, endpoint, resp.StatusCode)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// UpsertLocalSession creates or updates a session keyed by the client-supplied ID.
func (c *ProgressClient) UpsertLocalSession(ctx context.Context, req *SessionUpsert) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/api/session/local", req, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("%w: upsert returned no session id", shared.ErrAPIRequest)
	}
	return resp.ID, nil
}

// SyncSession pushes a keep-alive update for a streaming session.
func (c *ProgressClient) SyncSession(ctx context.Context, serverSessionID string, req *SessionSync) error {
	endpoint := fmt.Sprintf("/api/session/%s/sync", serverSessionID)
	return c.doRequest(ctx, http.MethodPatch, endpoint, req, nil)
}

// CloseSession closes a streaming session on the server.
func (c *ProgressClient) CloseSession(ctx context.Context, serverSessionID string, req *SessionSync) error {
	endpoint := fmt.Sprintf("/api/session/%s/close", serverSessionID)
	return c.doRequest(ctx, http.MethodPost, endpoint, req, nil)
}

// FetchProgress retrieves the server's progress record for one item.
func (c *ProgressClient) FetchProgress(ctx context.Context, libraryItemID string) (*models.MediaProgress, error) {
	endpoint := fmt.Sprintf("/api/me/progress/%s", libraryItemID)

	var entry ProgressEntry
	if err := c.doRequest(ctx, http.MethodGet, endpoint, nil, &entry); err != nil {
		return nil, err
	}
	return entry.ToModel(), nil
}

// FetchSnapshot retrieves the bulk progress snapshot for the authenticated user.
func (c *ProgressClient) FetchSnapshot(ctx context.Context) (*UserSnapshot, error) {
	var snapshot UserSnapshot
	if err := c.doRequest(ctx, http.MethodGet, "/api/me", nil, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// RequestPlaySession asks the server for a streaming play session.
func (c *ProgressClient) RequestPlaySession(ctx context.Context, libraryItemID string) (*PlaySession, error) {
	endpoint := fmt.Sprintf("/api/items/%s/play", libraryItemID)

	var session PlaySession
	if err := c.doRequest(ctx, http.MethodPost, endpoint, nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ToModel converts a wire progress entry into the local mirror shape.
func (e *ProgressEntry) ToModel() *models.MediaProgress {
	p := &models.MediaProgress{
		ID:              e.ID,
		UserID:          e.UserID,
		LibraryItemID:   e.LibraryItemID,
		EpisodeID:       e.EpisodeID,
		Duration:        e.Duration,
		Progress:        e.Progress,
		CurrentPosition: e.CurrentTime,
		IsFinished:      e.IsFinished,
		LastUpdate:      time.UnixMilli(e.LastUpdate),
	}
	if e.StartedAt > 0 {
		t := time.UnixMilli(e.StartedAt)
		p.StartedAt = &t
	}
	if e.FinishedAt > 0 {
		t := time.UnixMilli(e.FinishedAt)
		p.FinishedAt = &t
	}
	return p
}
