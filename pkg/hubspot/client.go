// Package hubspot provides a client for the HubSpot CRM v3 contacts API.
package hubspot

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

// Client defines the HubSpot contact operations used by the pipeline.
type Client interface {
	// ListContacts returns one page of contacts. Pass the cursor from the
	// previous page to continue; an empty cursor starts from the beginning.
	ListContacts(ctx context.Context, cursor string) (*ContactPage, error)
	// SearchByEmail finds a contact by its email property.
	SearchByEmail(ctx context.Context, email string) (*Contact, error)
	// CreateContact creates a contact and returns its ID.
	CreateContact(ctx context.Context, properties map[string]string) (string, error)
	// UpdateContact patches properties on an existing contact.
	UpdateContact(ctx context.Context, id string, properties map[string]string) error
	// BatchUpdate patches up to 100 contacts in one call.
	BatchUpdate(ctx context.Context, inputs []BatchInput) error
}

// maxBatchSize is the HubSpot batch endpoint per-request limit.
const maxBatchSize = 100

// contactProperties are the properties requested on every read.
var contactProperties = []string{
	"email", "firstname", "lastname", "jobtitle", "phone",
	"company", "hs_linkedin_url", "city", "state", "country",
	"lead_score", "email_verification_status",
}

// Contact is a HubSpot contact record.
type Contact struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
}

// Email returns the contact's email property.
func (c *Contact) Email() string {
	return c.Properties["email"]
}

// ContactPage is one page of a contact listing.
type ContactPage struct {
	Results    []Contact
	NextCursor string
	HasMore    bool
}

// BatchInput is one contact in a batch update.
type BatchInput struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
}

// APIError is a non-2xx response from the HubSpot API.
type APIError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hubspot: status %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) HTTPStatus() int { return e.StatusCode }

func (e *APIError) RetryAfterHint() time.Duration { return e.RetryAfter }

// ErrContactNotFound is returned when no contact matches the search.
var ErrContactNotFound = eris.New("hubspot: contact not found")

// Option configures the HubSpot client.
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

// WithPageSize sets the listing page size (max 100).
func WithPageSize(n int) Option {
	return func(c *httpClient) {
		if n > 0 && n <= 100 {
			c.pageSize = n
		}
	}
}

type httpClient struct {
	token    string
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	pageSize int
}

// NewClient creates a new HubSpot client authenticated with a private app token.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: "https://api.hubapi.com",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:  rate.NewLimiter(4, 4),
		pageSize: 100,
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

type listResponse struct {
	Results []Contact `json:"results"`
	Paging  *struct {
		Next struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

func (c *httpClient) ListContacts(ctx context.Context, cursor string) (*ContactPage, error) {
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "hubspot: rate limit")
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.pageSize))
	for _, p := range contactProperties {
		q.Add("properties", p)
	}
	if cursor != "" {
		q.Set("after", cursor)
	}

	var resp listResponse
	if err := c.do(ctx, http.MethodGet, "/crm/v3/objects/contacts?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	page := &ContactPage{Results: resp.Results}
	if resp.Paging != nil && resp.Paging.Next.After != "" {
		page.NextCursor = resp.Paging.Next.After
		page.HasMore = true
	}
	return page, nil
}

type searchRequest struct {
	FilterGroups []filterGroup `json:"filterGroups"`
	Properties   []string      `json:"properties"`
	Limit        int           `json:"limit"`
}

type filterGroup struct {
	Filters []filter `json:"filters"`
}

type filter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type searchResponse struct {
	Total   int       `json:"total"`
	Results []Contact `json:"results"`
}

func (c *httpClient) SearchByEmail(ctx context.Context, email string) (*Contact, error) {
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "hubspot: rate limit")
	}

	payload := searchRequest{
		FilterGroups: []filterGroup{{Filters: []filter{{
			PropertyName: "email",
			Operator:     "EQ",
			Value:        email,
		}}}},
		Properties: contactProperties,
		Limit:      1,
	}

	var resp searchResponse
	if err := c.do(ctx, http.MethodPost, "/crm/v3/objects/contacts/search", payload, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, ErrContactNotFound
	}
	return &resp.Results[0], nil
}

func (c *httpClient) CreateContact(ctx context.Context, properties map[string]string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", eris.Wrap(err, "hubspot: rate limit")
	}

	payload := map[string]any{"properties": properties}
	var created Contact
	if err := c.do(ctx, http.MethodPost, "/crm/v3/objects/contacts", payload, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (c *httpClient) UpdateContact(ctx context.Context, id string, properties map[string]string) error {
	if err := c.wait(ctx); err != nil {
		return eris.Wrap(err, "hubspot: rate limit")
	}

	payload := map[string]any{"properties": properties}
	return c.do(ctx, http.MethodPatch, "/crm/v3/objects/contacts/"+url.PathEscape(id), payload, nil)
}

func (c *httpClient) BatchUpdate(ctx context.Context, inputs []BatchInput) error {
	if len(inputs) == 0 {
		return nil
	}
	if len(inputs) > maxBatchSize {
		return eris.Errorf("hubspot: batch of %d exceeds limit of %d", len(inputs), maxBatchSize)
	}
	if err := c.wait(ctx); err != nil {
		return eris.Wrap(err, "hubspot: rate limit")
	}

	payload := map[string]any{"inputs": inputs}
	return c.do(ctx, http.MethodPost, "/crm/v3/objects/contacts/batch/update", payload, nil)
}

func (c *httpClient) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return eris.Wrap(err, "hubspot: marshal request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return eris.Wrap(err, "hubspot: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "hubspot: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "hubspot: read response body")
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
			return eris.Wrap(err, "hubspot: unmarshal response")
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
