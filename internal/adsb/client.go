package adsb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultFeedURL is the public military aircraft endpoint of the v2 feed.
const DefaultFeedURL = "https://api.adsb.lol/v2/mil"

// FeedResponse is the v2 feed envelope. Aircraft items are kept raw so they
// can be re-published without losing fields this service does not model.
type FeedResponse struct {
	Now      int64             `json:"now"`
	Total    int               `json:"total"`
	Aircraft []json.RawMessage `json:"ac"`
}

// APIError is returned when the feed answers with a non-200 status.
type APIError struct {
	StatusCode int
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("adsb feed %s returned status %d", e.URL, e.StatusCode)
}

// Client fetches aircraft snapshots from an ADS-B v2 feed.
type Client struct {
	http *resty.Client
	url  string
}

// NewClient creates a feed client. A zero timeout means 30 seconds.
func NewClient(url string, timeout time.Duration) *Client {
	if url == "" {
		url = DefaultFeedURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "miltracker-poller/1.0")
	return &Client{http: r, url: url}
}

// URL returns the feed endpoint.
func (c *Client) URL() string {
	return c.url
}

// Fetch retrieves the current snapshot.
func (c *Client) Fetch(ctx context.Context) (*FeedResponse, error) {
	resp, err := c.http.R().SetContext(ctx).Get(c.url)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", c.url, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode(), URL: c.url}
	}

	var out FeedResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("decode feed response: %w", err)
	}
	return &out, nil
}
