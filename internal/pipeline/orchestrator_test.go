package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadpipe/internal/model"
)

// fakeStage records the order stages run in.
type fakeStage struct {
	phase model.Phase
	run   func(ctx context.Context, jobID int64, emails []string, tracker *Tracker) error

	mu    sync.Mutex
	calls int
}

func (f *fakeStage) Phase() model.Phase { return f.phase }

func (f *fakeStage) Run(ctx context.Context, jobID int64, emails []string, source model.LeadSource, tracker *Tracker) (model.StageSummary, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.run != nil {
		if err := f.run(ctx, jobID, emails, tracker); err != nil {
			return model.StageSummary{}, err
		}
	}
	return model.StageSummary{Succeeded: len(emails)}, nil
}

func noopStages(order *[]model.Phase, mu *sync.Mutex, phases ...model.Phase) []Stage {
	out := make([]Stage, 0, len(phases))
	for _, p := range phases {
		p := p
		out = append(out, &fakeStage{
			phase: p,
			run: func(ctx context.Context, jobID int64, emails []string, tracker *Tracker) error {
				mu.Lock()
				*order = append(*order, p)
				mu.Unlock()
				return nil
			},
		})
	}
	return out
}

func allPhases() []model.Phase {
	return []model.Phase{
		model.PhaseVerifying, model.PhaseEnriching,
		model.PhaseScoring, model.PhaseSyncing,
	}
}

func TestOrchestrator_EmptySubmissionReturnsNoJob(t *testing.T) {
	s := newTestStore(t)
	tracker := NewTracker(s)
	o := NewOrchestrator(s, tracker)

	id, err := o.Submit(context.Background(), model.WorkflowVerifyOnly, nil, model.SourceCSV)
	require.NoError(t, err)
	assert.Equal(t, NoJob, id)

	// Blanks and whitespace count as empty too.
	id, err = o.Submit(context.Background(), model.WorkflowVerifyOnly, []string{"", "   "}, model.SourceCSV)
	require.NoError(t, err)
	assert.Equal(t, NoJob, id)

	jobs, err := s.ListJobs(context.Background(), model.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs, "nothing runs for an empty submission")
}

func TestOrchestrator_UnknownWorkflowRejected(t *testing.T) {
	s := newTestStore(t)
	o := NewOrchestrator(s, NewTracker(s))

	_, err := o.Submit(context.Background(), model.WorkflowKind("bogus"), []string{"a@example.com"}, model.SourceCSV)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrUnknownWorkflow))
}

func TestOrchestrator_PhaseOrderPerWorkflow(t *testing.T) {
	tests := []struct {
		workflow model.WorkflowKind
		want     []model.Phase
	}{
		{model.WorkflowVerifyOnly, []model.Phase{model.PhaseVerifying}},
		{model.WorkflowVerifyEnrich, []model.Phase{model.PhaseVerifying, model.PhaseEnriching, model.PhaseScoring}},
		{model.WorkflowFullPipeline, []model.Phase{model.PhaseVerifying, model.PhaseEnriching, model.PhaseScoring, model.PhaseSyncing}},
		{model.WorkflowSyncOnly, []model.Phase{model.PhaseSyncing}},
	}
	for _, tt := range tests {
		t.Run(string(tt.workflow), func(t *testing.T) {
			s := newTestStore(t)
			tracker := NewTracker(s)

			var mu sync.Mutex
			var order []model.Phase
			o := NewOrchestrator(s, tracker, noopStages(&order, &mu, allPhases()...)...)

			id, err := o.Submit(context.Background(), tt.workflow, []string{"a@example.com"}, model.SourceCSV)
			require.NoError(t, err)
			require.NotEqual(t, NoJob, id)
			o.Wait()

			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, tt.want, order)
		})
	}
}

func TestOrchestrator_CompletedJobReports100Percent(t *testing.T) {
	s := newTestStore(t)
	tracker := NewTracker(s)
	o := NewOrchestrator(s, tracker, &fakeStage{
		phase: model.PhaseVerifying,
		run: func(ctx context.Context, jobID int64, emails []string, tracker *Tracker) error {
			tracker.Update(jobID, func(job *model.BatchJob) { job.Processed = len(emails) })
			return nil
		},
	})

	ctx := context.Background()
	id, err := o.Submit(ctx, model.WorkflowVerifyOnly, []string{"a@example.com", "b@example.com"}, model.SourceCSV)
	require.NoError(t, err)
	o.Wait()

	snap, err := o.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, snap.Status)
	assert.Equal(t, model.PhaseCompleted, snap.Phase)
	assert.Equal(t, 100, snap.Percent)
	require.NotNil(t, snap.CompletedAt)

	// Served from the store: the tracker forgot the job after the run.
	_, inMemory := tracker.Snapshot(id)
	assert.False(t, inMemory)
}

func TestOrchestrator_StageErrorFailsJob(t *testing.T) {
	s := newTestStore(t)
	tracker := NewTracker(s)

	var secondRan bool
	o := NewOrchestrator(s, tracker,
		&fakeStage{
			phase: model.PhaseVerifying,
			run: func(ctx context.Context, jobID int64, emails []string, tracker *Tracker) error {
				return eris.New("vendor credential revoked")
			},
		},
		&fakeStage{
			phase: model.PhaseEnriching,
			run: func(ctx context.Context, jobID int64, emails []string, tracker *Tracker) error {
				secondRan = true
				return nil
			},
		},
		&fakeStage{phase: model.PhaseScoring},
	)

	ctx := context.Background()
	id, err := o.Submit(ctx, model.WorkflowVerifyEnrich, []string{"a@example.com"}, model.SourceCSV)
	require.NoError(t, err)
	o.Wait()

	snap, err := o.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, snap.Status)
	assert.Equal(t, model.PhaseFailed, snap.Phase)
	assert.Contains(t, snap.ErrorMessage, "vendor credential revoked")
	assert.False(t, secondRan, "later phases never run after a stage failure")
}

func TestOrchestrator_MissingStageFailsJob(t *testing.T) {
	s := newTestStore(t)
	tracker := NewTracker(s)
	o := NewOrchestrator(s, tracker) // no stages wired

	ctx := context.Background()
	id, err := o.Submit(ctx, model.WorkflowVerifyOnly, []string{"a@example.com"}, model.SourceCSV)
	require.NoError(t, err)
	o.Wait()

	snap, err := o.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, snap.Status)
	assert.Contains(t, snap.ErrorMessage, "no executor")
}

func TestOrchestrator_StatusUnknownJob(t *testing.T) {
	s := newTestStore(t)
	o := NewOrchestrator(s, NewTracker(s))

	_, err := o.Status(context.Background(), 9999)
	assert.True(t, eris.Is(err, ErrJobNotFound))
}

func TestOrchestrator_CancelStopsRunningJob(t *testing.T) {
	s := newTestStore(t)
	tracker := NewTracker(s)

	started := make(chan struct{})
	o := NewOrchestrator(s, tracker, &fakeStage{
		phase: model.PhaseVerifying,
		run: func(ctx context.Context, jobID int64, emails []string, tracker *Tracker) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	})

	ctx := context.Background()
	id, err := o.Submit(ctx, model.WorkflowVerifyOnly, []string{"a@example.com"}, model.SourceCSV)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("stage never started")
	}
	require.NoError(t, o.Cancel(id))
	o.Wait()

	snap, err := o.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobCancelled, snap.Status)

	// A finished job is no longer cancellable.
	assert.True(t, eris.Is(o.Cancel(id), ErrJobNotFound))
}

func TestOrchestrator_SubmitDedupesEmails(t *testing.T) {
	s := newTestStore(t)
	tracker := NewTracker(s)

	var got []string
	var mu sync.Mutex
	o := NewOrchestrator(s, tracker, &fakeStage{
		phase: model.PhaseVerifying,
		run: func(ctx context.Context, jobID int64, emails []string, tracker *Tracker) error {
			mu.Lock()
			got = append([]string(nil), emails...)
			mu.Unlock()
			return nil
		},
	})

	ctx := context.Background()
	id, err := o.Submit(ctx, model.WorkflowVerifyOnly,
		[]string{"A@Example.com", "a@example.com", " b@example.com "}, model.SourceCSV)
	require.NoError(t, err)
	o.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, got)

	snap, err := o.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Total)
}
