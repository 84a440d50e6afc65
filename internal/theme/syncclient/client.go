package syncclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hackreg/internal/theme/service"
	pkgerrors "hackreg/pkg/errors"

	"github.com/google/uuid"
)

const (
	syncPath              = "/api/v1/sync/themes"
	defaultRequestTimeout = 3 * time.Second
)

// Client fetches theme snapshots from a theme service.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client for baseURL, e.g. http://localhost:8086.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type envelope struct {
	Code    pkgerrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
	Data    json.RawMessage     `json:"data"`
}

// Poll asks for the current snapshot and a delta against since.
func (c *Client) Poll(ctx context.Context, since string) (service.PollResult, error) {
	endpoint := c.baseURL + syncPath
	if since != "" {
		endpoint += "?since=" + url.QueryEscape(since)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return service.PollResult{}, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return service.PollResult{}, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return service.PollResult{}, fmt.Errorf("read response body failed: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return service.PollResult{}, fmt.Errorf("decode response failed (status %d): %w", resp.StatusCode, err)
	}
	if env.Code != pkgerrors.Success {
		return service.PollResult{}, pkgerrors.New(env.Code).WithMessage(env.Message)
	}

	var result service.PollResult
	if err := json.Unmarshal(env.Data, &result); err != nil {
		return service.PollResult{}, fmt.Errorf("decode poll result failed: %w", err)
	}
	return result, nil
}
