// Package client talks to the hazard backend over HTTP. Transport
// failures come back as *NetworkError so callers can fall into their
// offline paths; rejected requests come back as *APIError.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/apex/log"

	"dodanati/api"
	"dodanati/config"
	"dodanati/models"
)

// NetworkError wraps a transport-level failure (refused, timeout, DNS).
// Transient; callers degrade to cached data instead of surfacing it.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error on %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsNetwork reports whether err is (or wraps) a transport failure.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Client is the hazard backend API client.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New builds a client from engine configuration.
func New(cfg *config.Engine) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

// SetToken sets the bearer token attached to every request. The token is
// issued elsewhere; the client just forwards it.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Submit files a single hazard report.
func (c *Client) Submit(ctx context.Context, args *api.SubmitArgs) (*api.SubmitResult, error) {
	var result api.SubmitResult
	if err := c.postJSON(ctx, api.SubmitEndpoint, args, &result); err != nil {
		return nil, err
	}
	log.Debugf("Submitted hazard: id=%d merged=%t", result.Data.ID, result.Meta.Merged)
	return &result, nil
}

// SyncBulk flushes a batch of queued reports in one request.
func (c *Client) SyncBulk(ctx context.Context, args *api.BulkArgs) (*api.BulkResult, error) {
	var result api.BulkResult
	if err := c.postJSON(ctx, api.BulkSyncEndpoint, args, &result); err != nil {
		return nil, err
	}
	log.Debugf("Bulk sync: created=%d failed=%d", result.Meta.CreatedCount, result.Meta.FailedCount)
	return &result, nil
}

// Nearby queries hazards for a viewport. The response mode decides
// whether Data holds points or clusters.
func (c *Client) Nearby(ctx context.Context, q *api.NearbyQuery) (*api.NearbyResult, error) {
	vals := url.Values{}
	vals.Set("lat", formatFloat(q.Lat))
	vals.Set("lng", formatFloat(q.Lng))
	vals.Set("zoom", strconv.Itoa(q.Zoom))
	vals.Set("minLat", formatFloat(q.MinLat))
	vals.Set("maxLat", formatFloat(q.MaxLat))
	vals.Set("minLng", formatFloat(q.MinLng))
	vals.Set("maxLng", formatFloat(q.MaxLng))
	mode := q.Mode
	if mode == "" {
		mode = api.ModeAuto
	}
	vals.Set("mode", mode)

	var result api.NearbyResult
	if err := c.getJSON(ctx, api.NearbyEndpoint+"?"+vals.Encode(), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RouteSummary asks the backend for the hazard summary of a route.
func (c *Client) RouteSummary(ctx context.Context, args *api.RouteSummaryArgs) (*models.RouteSummary, error) {
	var result api.RouteSummaryResult
	if err := c.postJSON(ctx, api.RouteSummaryEndpoint, args, &result); err != nil {
		return nil, err
	}
	return &result.Data, nil
}

// Feedback casts an up/down vote on a hazard.
func (c *Client) Feedback(ctx context.Context, args *api.FeedbackArgs) (*api.FeedbackResult, error) {
	var result api.FeedbackResult
	if err := c.postJSON(ctx, api.FeedbackEndpoint, args, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Health probes the backend. A nil error means reachable.
func (c *Client) Health(ctx context.Context) error {
	var out map[string]any
	return c.getJSON(ctx, api.HealthEndpoint, &out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("building %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *Client) getJSON(ctx context.Context, pathAndQuery string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathAndQuery, nil)
	if err != nil {
		return fmt.Errorf("building %s request: %w", pathAndQuery, err)
	}
	return c.do(req, pathAndQuery, out)
}

func (c *Client) do(req *http.Request, op string, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		log.Warnf("Request %s failed at transport level: %v", op, err)
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr api.ErrorResult
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
			apiErr.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", op, err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
