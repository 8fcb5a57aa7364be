// Package zerobounce provides a client for the ZeroBounce email validation API.
package zerobounce

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

// Client defines the ZeroBounce validation operations.
type Client interface {
	// Validate checks a single email address.
	Validate(ctx context.Context, email string) (*Result, error)
	// ValidateBatch checks up to 100 addresses in one call.
	ValidateBatch(ctx context.Context, emails []string) ([]Result, error)
	// Credits returns the remaining validation credits on the account.
	Credits(ctx context.Context) (int, error)
}

// maxBatchSize is the ZeroBounce per-request address limit.
const maxBatchSize = 100

// Result is a single address validation outcome.
type Result struct {
	Address   string `json:"address"`
	Status    string `json:"status"`
	SubStatus string `json:"sub_status"`
	FreeEmail bool   `json:"free_email"`
	MXFound   string `json:"mx_found"`
	Domain    string `json:"domain"`
	SMTPScore int    `json:"smtp_score,omitempty"`
}

// APIError is a non-2xx response from the ZeroBounce API.
type APIError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("zerobounce: status %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus returns the response status code for classification.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// RetryAfterHint returns the parsed Retry-After header, zero when absent.
func (e *APIError) RetryAfterHint() time.Duration { return e.RetryAfter }

// Option configures the ZeroBounce client.
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

// NewClient creates a new ZeroBounce client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.zerobounce.net/v2",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(10, 10),
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

func (c *httpClient) Validate(ctx context.Context, email string) (*Result, error) {
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "zerobounce: rate limit")
	}

	reqURL := fmt.Sprintf("%s/validate?api_key=%s&email=%s",
		c.baseURL, url.QueryEscape(c.apiKey), url.QueryEscape(email))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "zerobounce: create request")
	}

	var result Result
	if err := c.doJSON(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type batchRequest struct {
	APIKey     string       `json:"api_key"`
	EmailBatch []batchEntry `json:"email_batch"`
}

type batchEntry struct {
	EmailAddress string `json:"email_address"`
}

type batchResponse struct {
	EmailBatch []Result     `json:"email_batch"`
	Errors     []batchError `json:"errors"`
}

type batchError struct {
	EmailAddress string `json:"email_address"`
	Error        string `json:"error"`
}

func (c *httpClient) ValidateBatch(ctx context.Context, emails []string) ([]Result, error) {
	if len(emails) == 0 {
		return nil, nil
	}
	if len(emails) > maxBatchSize {
		return nil, eris.Errorf("zerobounce: batch of %d exceeds limit of %d", len(emails), maxBatchSize)
	}
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "zerobounce: rate limit")
	}

	payload := batchRequest{APIKey: c.apiKey}
	for _, e := range emails {
		payload.EmailBatch = append(payload.EmailBatch, batchEntry{EmailAddress: e})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "zerobounce: marshal batch")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/validatebatch", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "zerobounce: create batch request")
	}
	req.Header.Set("Content-Type", "application/json")

	var resp batchResponse
	if err := c.doJSON(req, &resp); err != nil {
		return nil, err
	}

	// Per-address API errors come back as unknown so the caller still gets
	// one result per submitted address.
	results := resp.EmailBatch
	for _, be := range resp.Errors {
		results = append(results, Result{Address: be.EmailAddress, Status: "unknown", SubStatus: be.Error})
	}
	return results, nil
}

type creditsResponse struct {
	Credits string `json:"Credits"`
}

func (c *httpClient) Credits(ctx context.Context) (int, error) {
	if err := c.wait(ctx); err != nil {
		return 0, eris.Wrap(err, "zerobounce: rate limit")
	}

	reqURL := fmt.Sprintf("%s/getcredits?api_key=%s", c.baseURL, url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, eris.Wrap(err, "zerobounce: create credits request")
	}

	var resp creditsResponse
	if err := c.doJSON(req, &resp); err != nil {
		return 0, err
	}
	credits, err := strconv.Atoi(resp.Credits)
	if err != nil {
		return 0, eris.Wrapf(err, "zerobounce: parse credits %q", resp.Credits)
	}
	return credits, nil
}

func (c *httpClient) doJSON(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "zerobounce: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "zerobounce: read response body")
	}

	if resp.StatusCode != http.StatusOK {
		return &APIError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Body:       string(body),
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "zerobounce: unmarshal response")
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
