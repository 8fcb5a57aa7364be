// Package apollo provides a client for the Apollo.io people enrichment API.
package apollo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client defines the Apollo enrichment operations.
type Client interface {
	// EnrichPerson looks up a single person by email address.
	EnrichPerson(ctx context.Context, email string) (*Person, error)
	// BulkEnrich looks up to 10 people in one call. The returned slice
	// holds one entry per matched address; unmatched addresses are absent.
	BulkEnrich(ctx context.Context, emails []string) ([]Person, error)
	// SearchPeople runs a prospecting search and returns one page of
	// matches.
	SearchPeople(ctx context.Context, q SearchQuery) (*SearchPage, error)
}

// maxBulkSize is the Apollo bulk_match per-request limit.
const maxBulkSize = 10

// Person is an enriched contact record.
type Person struct {
	Email       string        `json:"email"`
	FirstName   string        `json:"first_name"`
	LastName    string        `json:"last_name"`
	Name        string        `json:"name"`
	Title       string        `json:"title"`
	Seniority   string        `json:"seniority"`
	LinkedInURL string        `json:"linkedin_url"`
	City        string        `json:"city"`
	State       string        `json:"state"`
	Country     string        `json:"country"`
	PhoneNumber string        `json:"sanitized_phone"`
	Org         *Organization `json:"organization"`
}

// Organization is the company attached to an enriched person.
type Organization struct {
	Name         string `json:"name"`
	Domain       string `json:"primary_domain"`
	Industry     string `json:"industry"`
	NumEmployees int    `json:"estimated_num_employees"`
	City         string `json:"city"`
	State        string `json:"state"`
	Country      string `json:"country"`
}

// Location renders the organization headquarters as "City, State, Country",
// skipping empty parts.
func (o *Organization) Location() string {
	if o == nil {
		return ""
	}
	var out string
	for _, part := range []string{o.City, o.State, o.Country} {
		if part == "" {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += part
	}
	return out
}

// APIError is a non-2xx response from the Apollo API.
type APIError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("apollo: status %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) HTTPStatus() int { return e.StatusCode }

func (e *APIError) RetryAfterHint() time.Duration { return e.RetryAfter }

// SearchQuery narrows a prospecting search. Zero-value fields are omitted
// from the request.
type SearchQuery struct {
	Titles    []string `json:"person_titles,omitempty"`
	Locations []string `json:"person_locations,omitempty"`
	Domains   []string `json:"q_organization_domains_list,omitempty"`
	Keywords  string   `json:"q_keywords,omitempty"`
	Page      int      `json:"page,omitempty"`
	PerPage   int      `json:"per_page,omitempty"`
}

// SearchPage is one page of prospecting results.
type SearchPage struct {
	People     []Person
	Page       int
	TotalPages int
}

// ErrNoMatch is returned when Apollo has no record for the address.
var ErrNoMatch = eris.New("apollo: no match")

// Option configures the Apollo client.
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

// NewClient creates a new Apollo client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.apollo.io/v1",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(2, 2),
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

type matchResponse struct {
	Person *Person `json:"person"`
}

func (c *httpClient) EnrichPerson(ctx context.Context, email string) (*Person, error) {
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "apollo: rate limit")
	}

	payload := map[string]any{"email": email}
	var resp matchResponse
	if err := c.postJSON(ctx, "/people/match", payload, &resp); err != nil {
		return nil, err
	}
	if resp.Person == nil {
		return nil, ErrNoMatch
	}
	return resp.Person, nil
}

type bulkMatchResponse struct {
	Matches []*Person `json:"matches"`
}

func (c *httpClient) BulkEnrich(ctx context.Context, emails []string) ([]Person, error) {
	if len(emails) == 0 {
		return nil, nil
	}
	if len(emails) > maxBulkSize {
		return nil, eris.Errorf("apollo: bulk of %d exceeds limit of %d", len(emails), maxBulkSize)
	}
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "apollo: rate limit")
	}

	details := make([]map[string]any, len(emails))
	for i, e := range emails {
		details[i] = map[string]any{"email": e}
	}
	payload := map[string]any{"details": details}

	var resp bulkMatchResponse
	if err := c.postJSON(ctx, "/people/bulk_match", payload, &resp); err != nil {
		return nil, err
	}

	// Apollo returns null entries for addresses it could not match.
	var matched []Person
	for _, p := range resp.Matches {
		if p != nil {
			matched = append(matched, *p)
		}
	}
	return matched, nil
}

type searchResponse struct {
	People     []Person `json:"people"`
	Pagination struct {
		Page       int `json:"page"`
		TotalPages int `json:"total_pages"`
	} `json:"pagination"`
}

func (c *httpClient) SearchPeople(ctx context.Context, q SearchQuery) (*SearchPage, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PerPage <= 0 {
		q.PerPage = 25
	}
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "apollo: rate limit")
	}

	var resp searchResponse
	if err := c.postJSON(ctx, "/mixed_people/search", q, &resp); err != nil {
		return nil, err
	}
	return &SearchPage{
		People:     resp.People,
		Page:       resp.Pagination.Page,
		TotalPages: resp.Pagination.TotalPages,
	}, nil
}

func (c *httpClient) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "apollo: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "apollo: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "apollo: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "apollo: read response body")
	}

	if resp.StatusCode != http.StatusOK {
		return &APIError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Body:       string(respBody),
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrap(err, "apollo: unmarshal response")
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
