package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/crucible/internal/journal"
	"github.com/kingrea/crucible/internal/model"
)

// Client talks to a bridge server. It answers the observer's three
// resynchronization queries and tails the event journal by sequence number.
type Client struct {
	baseURL string
	http    *http.Client
}

// ClientOption customizes client construction.
type ClientOption func(*Client)

// ClientWithHTTPClient overrides the underlying HTTP client.
func ClientWithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewClient builds a client for the bridge at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("bridge: base URL is required")
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Workers fetches every worker for the project.
func (c *Client) Workers(ctx context.Context, projectID int64) ([]model.Worker, error) {
	var out []model.Worker
	err := c.getJSON(ctx, "/state/workers", stateQuery(projectID, 0), &out)
	return out, err
}

// RecentTasks fetches up to limit tasks ordered by most recent update first.
func (c *Client) RecentTasks(ctx context.Context, projectID int64, limit int) ([]model.Task, error) {
	var out []model.Task
	err := c.getJSON(ctx, "/state/tasks", stateQuery(projectID, limit), &out)
	return out, err
}

// RecentActivity fetches up to limit of the newest activity entries.
func (c *Client) RecentActivity(ctx context.Context, projectID int64, limit int) ([]model.ActivityItem, error) {
	var out []model.ActivityItem
	err := c.getJSON(ctx, "/state/activity", stateQuery(projectID, limit), &out)
	return out, err
}

// Tail fetches journal entries after seq, oldest first, along with the
// server's latest sequence number.
func (c *Client) Tail(ctx context.Context, seq int64) ([]journal.Entry, int64, error) {
	query := url.Values{}
	if seq > 0 {
		query.Set("since", strconv.FormatInt(seq, 10))
	}
	var out tailResponse
	if err := c.getJSON(ctx, "/events", query, &out); err != nil {
		return nil, 0, err
	}
	return out.Entries, out.LastSeq, nil
}

// Healthy reports whether the bridge answers its health check.
func (c *Client) Healthy(ctx context.Context) bool {
	var out healthResponse
	if err := c.getJSON(ctx, "/health", nil, &out); err != nil {
		return false
	}
	return out.Status == string(StatusReady)
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("bridge: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("bridge: %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bridge: %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("bridge: %s: decode response: %w", path, err)
	}
	return nil
}

func stateQuery(projectID int64, limit int) url.Values {
	query := url.Values{}
	query.Set("project_id", strconv.FormatInt(projectID, 10))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	return query
}
