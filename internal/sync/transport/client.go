// Package transport implements the wire contract with the sync server.
//
// Push sends one record at a time; the record's local id is the
// idempotency token, so a retried push after a lost response returns the
// original server id instead of creating a duplicate. Pull requests all
// server-side changes since the client's last-sync watermark.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/creditapp/offlinesync/internal/errors"
	"github.com/creditapp/offlinesync/internal/models"
)

// ZeroWatermark is sent as the since value before any successful pull.
const ZeroWatermark = "2000-01-01T00:00:00Z"

// PushRequest carries one pending record to the server.
type PushRequest struct {
	LocalID    string          `json:"local_id"`
	Collection string          `json:"collection"`
	Payload    json.RawMessage `json:"payload"`
}

// PushResponse acknowledges a push with the authoritative server id.
type PushResponse struct {
	ServerID string `json:"server_id"`
}

// PullRequest asks for all changes since the watermark.
type PullRequest struct {
	Since string `json:"since"`
}

// PullResponse carries server-side changes and the next watermark, which
// the caller persists only after applying every change.
type PullResponse struct {
	Changes    []models.Change `json:"changes"`
	ServerTime string          `json:"server_time"`
}

// Client is the network dependency of the sync engine.
type Client interface {
	Push(ctx context.Context, req PushRequest) (*PushResponse, error)
	Pull(ctx context.Context, since string) (*PullResponse, error)
	Ping(ctx context.Context) error
}

// HTTPClient talks to the sync server over authenticated JSON HTTP.
type HTTPClient struct {
	base  *url.URL
	token string
	http  *http.Client
}

// NewHTTP creates an HTTPClient for the given server base URL. The token
// is attached as a bearer token to every request; which credential to
// use is configuration, not protocol.
func NewHTTP(baseURL, token string, timeout time.Duration) (*HTTPClient, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid server URL", err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPClient{
		base:  base,
		token: token,
		http:  &http.Client{Timeout: timeout},
	}, nil
}

// Push sends one record. Safe to retry: the server deduplicates on
// local_id and replies with the same server id for a repeated push.
func (c *HTTPClient) Push(ctx context.Context, req PushRequest) (*PushResponse, error) {
	var resp PushResponse
	if err := c.post(ctx, "/api/v1/sync/push", req, &resp); err != nil {
		return nil, err
	}
	if resp.ServerID == "" {
		return nil, apperrors.New(apperrors.ErrServerRejected, "push acknowledged without a server id")
	}
	return &resp, nil
}

// Pull requests all changes since the watermark.
func (c *HTTPClient) Pull(ctx context.Context, since string) (*PullResponse, error) {
	if since == "" {
		since = ZeroWatermark
	}

	var resp PullResponse
	if err := c.post(ctx, "/api/v1/sync/pull", PullRequest{Since: since}, &resp); err != nil {
		return nil, err
	}
	if resp.ServerTime == "" {
		return nil, apperrors.New(apperrors.ErrNetwork, "pull response missing server time")
	}
	return &resp, nil
}

// Ping probes server reachability for the connectivity monitor.
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/v1/sync/ping"), nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to build ping request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrNetwork, "ping failed", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return apperrors.Newf(apperrors.ErrNetwork, "ping returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) endpoint(path string) string {
	return strings.TrimRight(c.base.String(), "/") + path
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(data))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrNetwork, "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrNetwork, "failed to read response", err)
	}

	if err := classifyStatus(resp.StatusCode, raw); err != nil {
		return err
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return apperrors.Wrap(apperrors.ErrNetwork, "malformed response body", err)
	}
	return nil
}

// classifyStatus maps HTTP status codes onto the engine's error
// taxonomy: retryable conditions become NETWORK_ERROR, everything the
// server refused on purpose becomes terminal for the record.
func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperrors.Newf(apperrors.ErrAuthFailed, "authentication rejected (status %d)", status)
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return apperrors.Newf(apperrors.ErrNetwork, "server unavailable (status %d)", status)
	default:
		return apperrors.Newf(apperrors.ErrServerRejected, "server rejected request (status %d): %s",
			status, serverMessage(body))
	}
}

func serverMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		return "no detail"
	}
	return msg
}

var _ Client = (*HTTPClient)(nil)
