// Package instantly provides a client for the Instantly.ai outreach API.
package instantly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client defines the Instantly operations used by the pipeline.
type Client interface {
	// ListCampaigns returns all campaigns on the account.
	ListCampaigns(ctx context.Context) ([]Campaign, error)
	// AddLeads pushes leads into a campaign and returns how many were accepted.
	AddLeads(ctx context.Context, campaignID string, leads []Lead) (int, error)
	// CampaignAnalytics returns aggregate stats for a campaign.
	CampaignAnalytics(ctx context.Context, campaignID string) (*Analytics, error)
}

// Campaign is an Instantly outreach campaign.
type Campaign struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status int    `json:"status"`
}

// Lead is a contact pushed into a campaign.
type Lead struct {
	Email       string            `json:"email"`
	FirstName   string            `json:"first_name,omitempty"`
	LastName    string            `json:"last_name,omitempty"`
	CompanyName string            `json:"company_name,omitempty"`
	Custom      map[string]string `json:"custom_variables,omitempty"`
}

// Analytics holds aggregate campaign stats.
type Analytics struct {
	CampaignID     string `json:"campaign_id"`
	LeadsCount     int    `json:"leads_count"`
	ContactedCount int    `json:"contacted_count"`
	RepliesCount   int    `json:"replies_count"`
	BouncedCount   int    `json:"bounced_count"`
}

// APIError is a non-2xx response from the Instantly API.
type APIError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("instantly: status %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) HTTPStatus() int { return e.StatusCode }

func (e *APIError) RetryAfterHint() time.Duration { return e.RetryAfter }

// Option configures the Instantly client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets a per-second rate limit for API calls.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new Instantly client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.instantly.ai/api/v2",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(5, 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

type campaignsResponse struct {
	Items []Campaign `json:"items"`
}

func (c *httpClient) ListCampaigns(ctx context.Context) ([]Campaign, error) {
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "instantly: rate limit")
	}

	var resp campaignsResponse
	if err := c.do(ctx, http.MethodGet, "/campaigns", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

type addLeadsRequest struct {
	CampaignID string `json:"campaign_id"`
	Leads      []Lead `json:"leads"`
}

type addLeadsResponse struct {
	UploadedCount int `json:"uploaded_count"`
}

func (c *httpClient) AddLeads(ctx context.Context, campaignID string, leads []Lead) (int, error) {
	if len(leads) == 0 {
		return 0, nil
	}
	if err := c.wait(ctx); err != nil {
		return 0, eris.Wrap(err, "instantly: rate limit")
	}

	payload := addLeadsRequest{CampaignID: campaignID, Leads: leads}
	var resp addLeadsResponse
	if err := c.do(ctx, http.MethodPost, "/leads/list", payload, &resp); err != nil {
		return 0, err
	}
	return resp.UploadedCount, nil
}

func (c *httpClient) CampaignAnalytics(ctx context.Context, campaignID string) (*Analytics, error) {
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "instantly: rate limit")
	}

	var resp Analytics
	path := "/campaigns/analytics?id=" + url.QueryEscape(campaignID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *httpClient) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return eris.Wrap(err, "instantly: marshal request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return eris.Wrap(err, "instantly: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "instantly: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "instantly: read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Body:       string(respBody),
		}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return eris.Wrap(err, "instantly: unmarshal response")
		}
	}
	return nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
