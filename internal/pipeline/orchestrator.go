package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/internal/monitoring"
	"github.com/sells-group/leadpipe/internal/store"
)

// NoJob is the job ID returned when a submission contains nothing to do.
// It is never a valid job ID.
const NoJob int64 = 0

// ErrJobNotFound is returned when a job ID is unknown to both the tracker
// and the store.
var ErrJobNotFound = eris.New("pipeline: job not found")

// ErrUnknownWorkflow is returned for a workflow name outside the known set.
var ErrUnknownWorkflow = eris.New("pipeline: unknown workflow")

// Stage is one pipeline phase executor.
type Stage interface {
	Phase() model.Phase
	Run(ctx context.Context, jobID int64, emails []string, source model.LeadSource, tracker *Tracker) (model.StageSummary, error)
}

// phasesFor maps a workflow to its ordered stage sequence.
func phasesFor(workflow model.WorkflowKind) []model.Phase {
	switch workflow {
	case model.WorkflowVerifyOnly:
		return []model.Phase{model.PhaseVerifying}
	case model.WorkflowVerifyEnrich:
		return []model.Phase{model.PhaseVerifying, model.PhaseEnriching, model.PhaseScoring}
	case model.WorkflowFullPipeline:
		return []model.Phase{model.PhaseVerifying, model.PhaseEnriching, model.PhaseScoring, model.PhaseSyncing}
	case model.WorkflowSyncOnly:
		return []model.Phase{model.PhaseSyncing}
	}
	return nil
}

// Orchestrator owns the job lifecycle: it creates jobs, runs their stage
// sequence in the background, and serves the progress poll contract from the
// in-memory tracker while a job runs and from the store after it finishes.
type Orchestrator struct {
	store   store.Store
	tracker *Tracker
	stages  map[model.Phase]Stage

	mu      sync.Mutex
	cancels map[int64]context.CancelFunc
	wg      sync.WaitGroup
}

// NewOrchestrator wires an orchestrator from its stages. A stage may be
// omitted; submitting a workflow that needs it fails the job at that phase.
func NewOrchestrator(st store.Store, tracker *Tracker, stages ...Stage) *Orchestrator {
	byPhase := make(map[model.Phase]Stage, len(stages))
	for _, s := range stages {
		byPhase[s.Phase()] = s
	}
	return &Orchestrator{
		store:   st,
		tracker: tracker,
		stages:  byPhase,
		cancels: make(map[int64]context.CancelFunc),
	}
}

// Submit creates a job and starts it in the background. An empty submission
// is not an error: it returns NoJob and nothing runs.
func (o *Orchestrator) Submit(ctx context.Context, workflow model.WorkflowKind, emails []string, source model.LeadSource) (int64, error) {
	if !workflow.Valid() {
		return NoJob, eris.Wrapf(ErrUnknownWorkflow, "%q", workflow)
	}

	emails = normalizeEmails(emails)
	if len(emails) == 0 {
		return NoJob, nil
	}

	job := &model.BatchJob{
		Workflow: workflow,
		Status:   model.JobQueued,
		Phase:    model.PhaseQueued,
		Source:   source,
		Total:    len(emails),
	}
	id, err := o.store.CreateJob(ctx, job)
	if err != nil {
		return NoJob, eris.Wrap(err, "submit: create job")
	}
	job.ID = id
	o.tracker.Register(job)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.mu.Lock()
	o.cancels[id] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.cancels, id)
			o.mu.Unlock()
			cancel()
		}()
		o.run(runCtx, id, workflow, emails, source)
	}()

	zap.L().Info("job submitted",
		zap.Int64("job_id", id),
		zap.String("workflow", string(workflow)),
		zap.Int("emails", len(emails)),
	)
	return id, nil
}

// run executes the job's stage sequence. It owns all status transitions
// after queued.
func (o *Orchestrator) run(ctx context.Context, jobID int64, workflow model.WorkflowKind, emails []string, source model.LeadSource) {
	log := zap.L().With(zap.Int64("job_id", jobID))
	monitoring.JobsActive.Inc()
	defer monitoring.JobsActive.Dec()

	now := time.Now().UTC()
	o.tracker.Update(jobID, func(job *model.BatchJob) {
		job.Status = model.JobProcessing
		job.StartedAt = &now
	})
	o.tracker.Flush(ctx, jobID)

	flushCtx, stopFlush := context.WithCancel(ctx)
	go o.tracker.periodicFlush(flushCtx, jobID)

	var runErr error
	for _, phase := range phasesFor(workflow) {
		stage, ok := o.stages[phase]
		if !ok {
			runErr = eris.Errorf("no executor for phase %q", phase)
			break
		}
		if _, err := stage.Run(ctx, jobID, emails, source, o.tracker); err != nil {
			runErr = err
			break
		}
	}
	stopFlush()

	done := time.Now().UTC()
	o.tracker.Update(jobID, func(job *model.BatchJob) {
		job.CompletedAt = &done
		switch {
		case runErr == nil:
			job.Status = model.JobCompleted
			job.Phase = model.PhaseCompleted
		case ctx.Err() != nil:
			job.Status = model.JobCancelled
			job.Phase = model.PhaseFailed
			job.ErrorMessage = "cancelled"
		default:
			job.Status = model.JobFailed
			job.Phase = model.PhaseFailed
			job.ErrorMessage = runErr.Error()
		}
	})

	var processed int
	var status model.JobStatus
	o.tracker.Update(jobID, func(job *model.BatchJob) {
		processed = job.Processed
		status = job.Status
	})
	monitoring.JobsFinished.WithLabelValues(string(workflow), string(status)).Inc()
	monitoring.LeadsProcessed.WithLabelValues(string(workflow)).Add(float64(processed))

	// Final persistence must not depend on the (possibly cancelled) run
	// context.
	o.tracker.Forget(context.WithoutCancel(ctx), jobID)

	if runErr != nil {
		log.Error("job finished with error", zap.Error(runErr))
	} else {
		log.Info("job completed")
	}
}

// Status serves the progress poll contract: live counters while the job
// runs, the persisted record once it is done.
func (o *Orchestrator) Status(ctx context.Context, jobID int64) (model.JobSnapshot, error) {
	if snap, ok := o.tracker.Snapshot(jobID); ok {
		return snap, nil
	}
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			return model.JobSnapshot{}, ErrJobNotFound
		}
		return model.JobSnapshot{}, err
	}
	return snapshotOf(job), nil
}

// Cancel stops a running job. Cancelling a finished or unknown job returns
// ErrJobNotFound.
func (o *Orchestrator) Cancel(jobID int64) error {
	o.mu.Lock()
	cancel, ok := o.cancels[jobID]
	o.mu.Unlock()
	if !ok {
		return ErrJobNotFound
	}
	cancel()
	return nil
}

// Wait blocks until every background job goroutine has exited. Used on
// shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// normalizeEmails lowercases, trims, and dedupes the submission, dropping
// blanks. Order of first appearance is preserved.
func normalizeEmails(emails []string) []string {
	seen := make(map[string]struct{}, len(emails))
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}
