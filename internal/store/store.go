package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadpipe/internal/model"
)

// ErrNotFound is returned when a lead or job does not exist.
var ErrNotFound = eris.New("not found")

// Store defines the persistence interface for leads, batch jobs, and the
// sync audit log. Leads are durable entities keyed by email; jobs are the
// ephemeral pipeline runs that enrich them.
type Store interface {
	// Leads. Upserts create the lead on first sight of an email and only
	// touch the calling stage's fields on an existing record.
	UpsertVerification(ctx context.Context, v model.Verification, source model.LeadSource) (*model.Lead, error)
	UpsertEnrichment(ctx context.Context, e model.Enrichment, source model.LeadSource) (*model.Lead, error)
	UpdateLeadScore(ctx context.Context, email string, score int, breakdown map[string]int) error
	UpdateOutreachStatus(ctx context.Context, email, status string) error
	SetCRMID(ctx context.Context, email, crmID string) error
	GetLead(ctx context.Context, email string) (*model.Lead, error)
	ListLeads(ctx context.Context, filter model.LeadFilter) ([]model.Lead, error)

	// Jobs. Written only by the orchestrator.
	CreateJob(ctx context.Context, job *model.BatchJob) (int64, error)
	UpdateJob(ctx context.Context, job *model.BatchJob) error
	GetJob(ctx context.Context, id int64) (*model.BatchJob, error)
	ListJobs(ctx context.Context, filter model.JobFilter) ([]model.BatchJob, error)

	// Sync audit log. Append-only.
	AppendSyncLog(ctx context.Context, entry *model.SyncLogEntry) (int64, error)
	ListSyncLog(ctx context.Context, jobID int64) ([]model.SyncLogEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
