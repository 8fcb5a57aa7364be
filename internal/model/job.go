package model

import "time"

// WorkflowKind selects which stage sequence a batch job runs.
type WorkflowKind string

const (
	WorkflowVerifyOnly   WorkflowKind = "verify_only"
	WorkflowVerifyEnrich WorkflowKind = "verify_enrich"
	WorkflowFullPipeline WorkflowKind = "full_pipeline"
	WorkflowSyncOnly     WorkflowKind = "sync_only"
)

// Valid reports whether k names a known workflow.
func (k WorkflowKind) Valid() bool {
	switch k {
	case WorkflowVerifyOnly, WorkflowVerifyEnrich, WorkflowFullPipeline, WorkflowSyncOnly:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a batch job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Phase is the pipeline stage a job is currently in.
type Phase string

const (
	PhaseQueued    Phase = "queued"
	PhaseVerifying Phase = "verifying"
	PhaseEnriching Phase = "enriching"
	PhaseScoring   Phase = "scoring"
	PhaseSyncing   Phase = "syncing"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// BatchJob tracks one pipeline run. It is mutated only by the orchestrator;
// pollers read copy-on-read snapshots.
type BatchJob struct {
	ID       int64        `json:"id"`
	Workflow WorkflowKind `json:"workflow"`
	Status   JobStatus    `json:"status"`
	Phase    Phase        `json:"phase"`
	Source   LeadSource   `json:"source,omitempty"`

	Total     int `json:"total"`
	Processed int `json:"processed"`

	// Verification outcome counters.
	ValidCount   int `json:"valid_count"`
	InvalidCount int `json:"invalid_count"`
	UnknownCount int `json:"unknown_count"`

	// Sync outcome counters.
	CreatedCount int `json:"created_count"`
	UpdatedCount int `json:"updated_count"`
	FailedCount  int `json:"failed_count"`

	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobSnapshot is the poll-contract view of a job: a consistent copy of the
// job record plus the derived percent value.
type JobSnapshot struct {
	BatchJob
	Percent int `json:"percent"`
}

// StageSummary is what a stage executor reports back to the orchestrator.
type StageSummary struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status JobStatus `json:"status,omitempty"`
	Limit  int       `json:"limit,omitempty"`
	Offset int       `json:"offset,omitempty"`
}
