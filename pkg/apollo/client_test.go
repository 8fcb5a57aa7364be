package apollo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrichPerson(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/people/match", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "jane@acme.io", req["email"])

		json.NewEncoder(w).Encode(matchResponse{Person: &Person{
			Email:     "jane@acme.io",
			FirstName: "Jane",
			Title:     "VP of Engineering",
			Seniority: "vp",
			Org: &Organization{
				Name:         "Acme",
				Domain:       "acme.io",
				Industry:     "software",
				NumEmployees: 340,
				City:         "Denver",
				State:        "CO",
			},
		}})
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	p, err := c.EnrichPerson(context.Background(), "jane@acme.io")
	require.NoError(t, err)
	assert.Equal(t, "Jane", p.FirstName)
	assert.Equal(t, "vp", p.Seniority)
	assert.Equal(t, 340, p.Org.NumEmployees)
	assert.Equal(t, "Denver, CO", p.Org.Location())
}

func TestEnrichPerson_NoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(matchResponse{Person: nil})
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := c.EnrichPerson(context.Background(), "nobody@acme.io")
	assert.True(t, eris.Is(err, ErrNoMatch))
}

func TestBulkEnrich_SkipsNullMatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/people/bulk_match", r.URL.Path)
		json.NewEncoder(w).Encode(bulkMatchResponse{Matches: []*Person{
			{Email: "a@x.io", FirstName: "Ann"},
			nil,
			{Email: "c@x.io", FirstName: "Carl"},
		}})
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	people, err := c.BulkEnrich(context.Background(), []string{"a@x.io", "b@x.io", "c@x.io"})
	require.NoError(t, err)
	require.Len(t, people, 2)
	assert.Equal(t, "Ann", people[0].FirstName)
	assert.Equal(t, "Carl", people[1].FirstName)
}

func TestBulkEnrich_TooLarge(t *testing.T) {
	emails := make([]string, maxBulkSize+1)
	for i := range emails {
		emails[i] = "a@x.io"
	}

	c := NewClient("test-key")
	_, err := c.BulkEnrich(context.Background(), emails)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestSearchPeople(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mixed_people/search", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, float64(1), req["page"], "page defaults to 1")
		assert.Equal(t, float64(25), req["per_page"], "per_page defaults to 25")

		var resp searchResponse
		resp.People = []Person{{Email: "vp@x.io", Title: "VP Sales"}}
		resp.Pagination.Page = 1
		resp.Pagination.TotalPages = 3
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	page, err := c.SearchPeople(context.Background(), SearchQuery{Titles: []string{"VP Sales"}})
	require.NoError(t, err)
	require.Len(t, page.People, 1)
	assert.Equal(t, "vp@x.io", page.People[0].Email)
	assert.Equal(t, 3, page.TotalPages)
}

func TestAPIError_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient("bad-key", WithBaseURL(srv.URL))
	_, err := c.EnrichPerson(context.Background(), "jane@acme.io")
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, apiErr.HTTPStatus())
}

func TestOrganizationLocation_Nil(t *testing.T) {
	var o *Organization
	assert.Equal(t, "", o.Location())
}
