package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ResolutionCount is one channel's tally for the billing POST body.
type ResolutionCount struct {
	Resolved      int `json:"resolved"`
	Unresolved    int `json:"unresolved"`
	HasChatsRooms int `json:"has_chats_rooms"`
	Unclassified  int `json:"unclassified"`
}

// ChannelReport is one element of the billing POST body array.
type ChannelReport struct {
	ChannelUUID     uuid.UUID       `json:"channel_uuid"`
	Date            string          `json:"date"`
	ResolutionCount ResolutionCount `json:"resolution_count"`
}

// Client posts a project's daily channel resolution report to the
// billing API, throttled to limiter's rate so a many-project rollup
// doesn't burst the downstream billing service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	authToken  string
	limiter    *rate.Limiter
}

// NewClient builds a Client rate-limited to ratePerSecond requests per
// second. A zero or negative ratePerSecond disables throttling.
func NewClient(httpClient *http.Client, baseURL, authToken string, ratePerSecond float64) *Client {
	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), 1)
	}
	return &Client{httpClient: httpClient, baseURL: baseURL, authToken: authToken, limiter: limiter}
}

// Post sends one project's reports in a single request. The returned
// error wraps the HTTP status when non-2xx so ClassifyHTTPStatus can
// decide retry eligibility upstream.
func (c *Client) Post(ctx context.Context, projectUUID uuid.UUID, reports []ChannelReport) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("billing rate limiter: %w", err)
		}
	}

	body, err := json.Marshal(reports)
	if err != nil {
		return fmt.Errorf("marshal billing reports: %w", err)
	}

	url := fmt.Sprintf("%s/%s/conversation", c.baseURL, projectUUID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build billing request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("billing request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}

// StatusError carries a non-2xx billing response status for
// ClassifyHTTPStatus to inspect.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("billing API returned status %d: %s", e.StatusCode, e.Body)
}
