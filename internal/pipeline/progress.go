package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/internal/store"
)

// Tracker holds live counters for running jobs so the progress endpoint can
// answer without a store round trip. Finished jobs are served from the store.
type Tracker struct {
	mu    sync.RWMutex
	jobs  map[int64]*model.BatchJob
	store store.Store
}

// NewTracker creates a Tracker backed by the given store.
func NewTracker(st store.Store) *Tracker {
	return &Tracker{
		jobs:  make(map[int64]*model.BatchJob),
		store: st,
	}
}

// Register starts tracking a job in memory.
func (t *Tracker) Register(job *model.BatchJob) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[job.ID] = job
}

// Update mutates a tracked job under the tracker lock.
func (t *Tracker) Update(id int64, fn func(*model.BatchJob)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if job, ok := t.jobs[id]; ok {
		fn(job)
	}
}

// StartPhase moves a job into a new phase and resets the per-phase counters.
func (t *Tracker) StartPhase(id int64, phase model.Phase, total int) {
	t.Update(id, func(job *model.BatchJob) {
		job.Phase = phase
		job.Total = total
		job.Processed = 0
	})
}

// Snapshot returns the job with its computed percent. The second return is
// false when the job is not tracked in memory.
func (t *Tracker) Snapshot(id int64) (model.JobSnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[id]
	if !ok {
		return model.JobSnapshot{}, false
	}
	return snapshotOf(job), true
}

// Flush persists the tracked counters to the store.
func (t *Tracker) Flush(ctx context.Context, id int64) {
	t.mu.RLock()
	job, ok := t.jobs[id]
	var copied model.BatchJob
	if ok {
		copied = *job
	}
	t.mu.RUnlock()
	if !ok {
		return
	}
	if err := t.store.UpdateJob(ctx, &copied); err != nil {
		zap.L().Warn("tracker: flush job", zap.Int64("job_id", id), zap.Error(err))
	}
}

// Forget drops a finished job from memory after a final flush.
func (t *Tracker) Forget(ctx context.Context, id int64) {
	t.Flush(ctx, id)
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, id)
}

// snapshotOf computes the reported percent for a job. The percent is pinned
// below 100 while work is still running so pollers never see a premature
// "done", and forced to 100 once the job completes regardless of counter
// drift.
func snapshotOf(job *model.BatchJob) model.JobSnapshot {
	snap := model.JobSnapshot{BatchJob: *job}

	switch {
	case job.Status == model.JobCompleted:
		snap.Percent = 100
	case job.Total <= 0:
		snap.Percent = 0
	default:
		pct := job.Processed * 100 / job.Total
		if pct > 99 && !job.Status.Terminal() {
			pct = 99
		}
		if pct > 100 {
			pct = 100
		}
		if pct < 0 {
			pct = 0
		}
		snap.Percent = pct
	}
	return snap
}

// flushInterval is how often a running stage persists its counters.
const flushInterval = 2 * time.Second

// periodicFlush persists counters until ctx is cancelled.
func (t *Tracker) periodicFlush(ctx context.Context, id int64) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Flush(ctx, id)
		}
	}
}
