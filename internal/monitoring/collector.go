package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/internal/store"
)

// MetricsSnapshot holds a point-in-time view of pipeline health over the
// lookback window.
type MetricsSnapshot struct {
	JobsTotal     int       `json:"jobs_total"`
	JobsComplete  int       `json:"jobs_complete"`
	JobsFailed    int       `json:"jobs_failed"`
	JobsRunning   int       `json:"jobs_running"`
	JobFailRate   float64   `json:"job_fail_rate"`
	LeadsTotal    int       `json:"leads_total"`
	LeadsValid    int       `json:"leads_valid"`
	LeadsInvalid  int       `json:"leads_invalid"`
	SyncCreated   int       `json:"sync_created"`
	SyncUpdated   int       `json:"sync_updated"`
	SyncFailed    int       `json:"sync_failed"`
	SyncFailRate  float64   `json:"sync_fail_rate"`
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers the snapshot from the job store.
type Collector struct {
	store store.Store
}

// NewCollector creates a metrics collector over the given store.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// maxJobsScanned bounds how many recent jobs one snapshot reads.
const maxJobsScanned = 1000

// Collect aggregates job and sync outcomes over the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	if lookbackHours <= 0 {
		lookbackHours = 24
	}
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}
	cutoff := snap.CollectedAt.Add(-time.Duration(lookbackHours) * time.Hour)

	jobs, err := c.store.ListJobs(ctx, model.JobFilter{Limit: maxJobsScanned})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list jobs")
	}

	for _, job := range jobs {
		if job.CreatedAt.Before(cutoff) {
			continue
		}
		snap.JobsTotal++
		switch job.Status {
		case model.JobCompleted:
			snap.JobsComplete++
		case model.JobFailed:
			snap.JobsFailed++
		case model.JobQueued, model.JobProcessing:
			snap.JobsRunning++
		}

		snap.LeadsTotal += job.Processed
		snap.LeadsValid += job.ValidCount
		snap.LeadsInvalid += job.InvalidCount
		snap.SyncCreated += job.CreatedCount
		snap.SyncUpdated += job.UpdatedCount
		snap.SyncFailed += job.FailedCount
	}

	if finished := snap.JobsComplete + snap.JobsFailed; finished > 0 {
		snap.JobFailRate = float64(snap.JobsFailed) / float64(finished)
	}
	if synced := snap.SyncCreated + snap.SyncUpdated + snap.SyncFailed; synced > 0 {
		snap.SyncFailRate = float64(snap.SyncFailed) / float64(synced)
	}
	return snap, nil
}
