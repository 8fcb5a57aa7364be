// Package ingest parses lead files (CSV, XLSX) into lead records keyed by
// email. Column headers are matched loosely so exports from different CRMs
// load without manual remapping.
package ingest

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/leadpipe/internal/model"
)

// Report summarizes an import.
type Report struct {
	Rows     int `json:"rows"`
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"` // rows without a usable email address
}

// columnAliases maps loose header spellings to canonical field names.
var columnAliases = map[string]string{
	"email":          "email",
	"e_mail":         "email",
	"email_address":  "email",
	"first_name":     "first_name",
	"firstname":      "first_name",
	"first":          "first_name",
	"last_name":      "last_name",
	"lastname":       "last_name",
	"last":           "last_name",
	"full_name":      "full_name",
	"name":           "full_name",
	"title":          "title",
	"job_title":      "title",
	"jobtitle":       "title",
	"seniority":      "seniority",
	"phone":          "phone",
	"phone_number":   "phone",
	"mobile":         "phone",
	"linkedin":       "linkedin_url",
	"linkedin_url":   "linkedin_url",
	"city":           "city",
	"state":          "state",
	"country":        "country",
	"company":        "company_name",
	"company_name":   "company_name",
	"organization":   "company_name",
	"company_domain": "company_domain",
	"domain":         "company_domain",
	"website":        "company_domain",
	"industry":       "company_industry",
}

// columnKey normalizes a header cell for alias lookup.
func columnKey(header string) string {
	s := strings.ToLower(strings.TrimSpace(header))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}

// mapHeader resolves each header cell to a canonical field name, or "" when
// the column is unrecognized.
func mapHeader(header []string) []string {
	mapped := make([]string, len(header))
	for i, h := range header {
		mapped[i] = columnAliases[columnKey(h)]
	}
	return mapped
}

var titleCaser = cases.Title(language.Und)

// properName fixes shouting or all-lowercase name cells; mixed-case values
// are kept as typed.
func properName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	if s == strings.ToUpper(s) || s == strings.ToLower(s) {
		return titleCaser.String(strings.ToLower(s))
	}
	return s
}

// leadFromRow builds a lead from one data row using the mapped header.
// Returns false when the row carries no email address.
func leadFromRow(mapped []string, row []string) (model.Lead, bool) {
	var lead model.Lead
	for i, field := range mapped {
		if field == "" || i >= len(row) {
			continue
		}
		value := strings.TrimSpace(row[i])
		if value == "" {
			continue
		}
		switch field {
		case "email":
			lead.Email = model.NormalizeEmail(value)
		case "first_name":
			lead.FirstName = properName(value)
		case "last_name":
			lead.LastName = properName(value)
		case "full_name":
			lead.FullName = properName(value)
		case "title":
			lead.Title = value
		case "seniority":
			lead.Seniority = strings.ToLower(value)
		case "phone":
			lead.Phone = value
		case "linkedin_url":
			lead.LinkedInURL = value
		case "city":
			lead.City = properName(value)
		case "state":
			lead.State = value
		case "country":
			lead.Country = value
		case "company_name":
			lead.CompanyName = value
		case "company_domain":
			lead.CompanyDomain = normalizeDomain(value)
		case "company_industry":
			lead.CompanyIndustry = strings.ToLower(value)
		}
	}
	if lead.Email == "" || !strings.Contains(lead.Email, "@") {
		return lead, false
	}
	lead.Source = model.SourceCSV
	return lead, true
}

// normalizeDomain strips scheme and path from website-style values.
func normalizeDomain(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return s
}

// fromRows converts a header row plus data rows into leads, deduplicating
// by email (last row wins for non-empty fields is not applied here; the
// store's merge handles that on upsert).
func fromRows(header []string, rows [][]string) ([]model.Lead, *Report) {
	mapped := mapHeader(header)
	report := &Report{Rows: len(rows)}

	seen := make(map[string]int)
	var leads []model.Lead
	for _, row := range rows {
		lead, ok := leadFromRow(mapped, row)
		if !ok {
			report.Skipped++
			continue
		}
		if idx, dup := seen[lead.Email]; dup {
			leads[idx] = lead
			report.Skipped++
			continue
		}
		seen[lead.Email] = len(leads)
		leads = append(leads, lead)
	}
	report.Imported = len(leads)
	return leads, report
}
