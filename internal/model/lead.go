package model

import (
	"strings"
	"time"
)

// VerificationStatus is the vendor-normalized result of an email check.
type VerificationStatus string

const (
	VerificationValid     VerificationStatus = "valid"
	VerificationInvalid   VerificationStatus = "invalid"
	VerificationCatchAll  VerificationStatus = "catch-all"
	VerificationUnknown   VerificationStatus = "unknown"
	VerificationSpamtrap  VerificationStatus = "spamtrap"
	VerificationAbuse     VerificationStatus = "abuse"
	VerificationDoNotMail VerificationStatus = "do_not_mail"
)

// Deliverable reports whether the status is safe to send to.
func (s VerificationStatus) Deliverable() bool {
	return s == VerificationValid
}

// LeadSource tags where a lead entered the system.
type LeadSource string

const (
	SourceCSV    LeadSource = "csv"
	SourceCRM    LeadSource = "crm"
	SourceSearch LeadSource = "search"
)

// Lead is the durable entity accumulating per-stage results for one contact.
// Email is the cross-stage join key: set at creation, never changed. Each
// pipeline stage writes only its own fields.
type Lead struct {
	ID     int64      `json:"id"`
	Email  string     `json:"email"`
	Source LeadSource `json:"source"`

	// CRMID is the contact id at the CRM, when the lead came from there.
	CRMID string `json:"crm_id,omitempty"`

	// Verification stage fields.
	VerificationStatus    VerificationStatus `json:"verification_status,omitempty"`
	VerificationSubStatus string             `json:"verification_sub_status,omitempty"`
	VerificationScore     int                `json:"verification_score,omitempty"`
	VerifiedAt            *time.Time         `json:"verified_at,omitempty"`

	// Enrichment stage fields.
	Enriched        bool   `json:"enriched"`
	FirstName       string `json:"first_name,omitempty"`
	LastName        string `json:"last_name,omitempty"`
	FullName        string `json:"full_name,omitempty"`
	Title           string `json:"title,omitempty"`
	Seniority       string `json:"seniority,omitempty"`
	Phone           string `json:"phone,omitempty"`
	LinkedInURL     string `json:"linkedin_url,omitempty"`
	City            string `json:"city,omitempty"`
	State           string `json:"state,omitempty"`
	Country         string `json:"country,omitempty"`
	CompanyName     string `json:"company_name,omitempty"`
	CompanyDomain   string `json:"company_domain,omitempty"`
	CompanyIndustry string `json:"company_industry,omitempty"`
	CompanySize     int    `json:"company_size,omitempty"`
	CompanyLocation string `json:"company_location,omitempty"`

	// Scoring stage fields.
	Score          int            `json:"score"`
	ScoreBreakdown map[string]int `json:"score_breakdown,omitempty"`

	// Sync stage fields.
	OutreachStatus string `json:"outreach_status,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizeEmail lower-cases and trims an email for use as the join key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// LeadFilter specifies criteria for listing leads.
type LeadFilter struct {
	Source             LeadSource         `json:"source,omitempty"`
	VerificationStatus VerificationStatus `json:"verification_status,omitempty"`
	Unverified         bool               `json:"unverified,omitempty"`
	ScoreMin           *int               `json:"score_min,omitempty"`
	ScoreMax           *int               `json:"score_max,omitempty"`
	Emails             []string           `json:"emails,omitempty"`
	Limit              int                `json:"limit,omitempty"`
	Offset             int                `json:"offset,omitempty"`
}

// Verification holds one vendor verification result before it is applied
// to a lead record.
type Verification struct {
	Email      string             `json:"email"`
	Status     VerificationStatus `json:"status"`
	SubStatus  string             `json:"sub_status,omitempty"`
	Score      int                `json:"score,omitempty"`
	FreeEmail  bool               `json:"free_email,omitempty"`
	Domain     string             `json:"domain,omitempty"`
	MXFound    bool               `json:"mx_found,omitempty"`
	VerifiedAt time.Time          `json:"verified_at"`
}

// Enrichment holds one vendor enrichment result before it is applied to a
// lead record. Empty fields leave the lead's existing values untouched.
type Enrichment struct {
	Email           string `json:"email"`
	Enriched        bool   `json:"enriched"`
	FirstName       string `json:"first_name,omitempty"`
	LastName        string `json:"last_name,omitempty"`
	FullName        string `json:"full_name,omitempty"`
	Title           string `json:"title,omitempty"`
	Seniority       string `json:"seniority,omitempty"`
	Phone           string `json:"phone,omitempty"`
	LinkedInURL     string `json:"linkedin_url,omitempty"`
	City            string `json:"city,omitempty"`
	State           string `json:"state,omitempty"`
	Country         string `json:"country,omitempty"`
	CompanyName     string `json:"company_name,omitempty"`
	CompanyDomain   string `json:"company_domain,omitempty"`
	CompanyIndustry string `json:"company_industry,omitempty"`
	CompanySize     int    `json:"company_size,omitempty"`
	CompanyLocation string `json:"company_location,omitempty"`
}

// ApplyVerification writes a verification result onto the lead, touching
// only the verification fields.
func (l *Lead) ApplyVerification(v Verification) {
	l.VerificationStatus = v.Status
	l.VerificationSubStatus = v.SubStatus
	l.VerificationScore = v.Score
	t := v.VerifiedAt
	l.VerifiedAt = &t
}

// ApplyEnrichment writes an enrichment result onto the lead. Empty incoming
// fields keep the lead's existing values, so re-enrichment never erases data.
func (l *Lead) ApplyEnrichment(e Enrichment) {
	l.Enriched = l.Enriched || e.Enriched
	if !e.Enriched {
		return
	}
	l.FirstName = orKeep(e.FirstName, l.FirstName)
	l.LastName = orKeep(e.LastName, l.LastName)
	l.FullName = orKeep(e.FullName, l.FullName)
	l.Title = orKeep(e.Title, l.Title)
	l.Seniority = orKeep(e.Seniority, l.Seniority)
	l.Phone = orKeep(e.Phone, l.Phone)
	l.LinkedInURL = orKeep(e.LinkedInURL, l.LinkedInURL)
	l.City = orKeep(e.City, l.City)
	l.State = orKeep(e.State, l.State)
	l.Country = orKeep(e.Country, l.Country)
	l.CompanyName = orKeep(e.CompanyName, l.CompanyName)
	l.CompanyDomain = orKeep(e.CompanyDomain, l.CompanyDomain)
	l.CompanyIndustry = orKeep(e.CompanyIndustry, l.CompanyIndustry)
	l.CompanyLocation = orKeep(e.CompanyLocation, l.CompanyLocation)
	if e.CompanySize > 0 {
		l.CompanySize = e.CompanySize
	}
}

func orKeep(incoming, existing string) string {
	if incoming != "" {
		return incoming
	}
	return existing
}

// SyncOutcome is the per-lead result of a reconciler write.
type SyncOutcome string

const (
	SyncCreated SyncOutcome = "created"
	SyncUpdated SyncOutcome = "updated"
	SyncFailed  SyncOutcome = "failed"
)

// SyncLogEntry is one append-only audit row for a reconciler write.
type SyncLogEntry struct {
	ID         int64       `json:"id"`
	JobID      int64       `json:"job_id"`
	Email      string      `json:"email"`
	Target     string      `json:"target"`
	ExternalID string      `json:"external_id,omitempty"`
	Outcome    SyncOutcome `json:"outcome"`
	Error      string      `json:"error,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}
