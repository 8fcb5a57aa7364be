package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/internal/resilience"
	"github.com/sells-group/leadpipe/pkg/zerobounce"
)

func TestVerifyStage_RecordsVerdicts(t *testing.T) {
	s := newTestStore(t)
	tracker := NewTracker(s)
	ctx := context.Background()

	zb := &fakeVerifier{
		validateBatch: func(_ context.Context, emails []string) ([]zerobounce.Result, error) {
			out := make([]zerobounce.Result, 0, len(emails))
			for _, e := range emails {
				r := zerobounce.Result{Address: e, Status: "valid", Domain: "example.com", MXFound: "true"}
				switch e {
				case "bouncer@example.com":
					r.Status = "invalid"
					r.SubStatus = "mailbox_not_found"
				case "maybe@example.com":
					r.Status = "catch-all"
				}
				out = append(out, r)
			}
			return out, nil
		},
	}

	emails := []string{"good@example.com", "bouncer@example.com", "maybe@example.com"}
	id := newTrackedJob(t, s, tracker, model.WorkflowVerifyOnly, len(emails))

	stage := NewVerifyStage(zb, s, newTestGate("zerobounce"))
	summary, err := stage.Run(ctx, id, emails, model.SourceCSV, tracker)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)

	good, err := s.GetLead(ctx, "good@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.VerificationValid, good.VerificationStatus)
	assert.True(t, good.VerificationStatus.Deliverable())

	bad, err := s.GetLead(ctx, "bouncer@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.VerificationInvalid, bad.VerificationStatus)
	assert.Equal(t, "mailbox_not_found", bad.VerificationSubStatus)

	snap, ok := tracker.Snapshot(id)
	require.True(t, ok)
	assert.Equal(t, 3, snap.Processed)
	assert.Equal(t, 1, snap.ValidCount)
	assert.Equal(t, 1, snap.InvalidCount)
	assert.Equal(t, 1, snap.UnknownCount, "catch-all is neither valid nor invalid")
}

func TestVerifyStage_PublishesVerifyingPhase(t *testing.T) {
	s := newTestStore(t)
	tracker := NewTracker(s)
	ctx := context.Background()

	emails := []string{"a@example.com", "b@example.com"}
	id := newTrackedJob(t, s, tracker, model.WorkflowVerifyOnly, len(emails))

	// Snapshot mid-batch: pollers must see the working phase, not queued.
	var midRun model.Phase
	zb := &fakeVerifier{
		validateBatch: func(_ context.Context, batch []string) ([]zerobounce.Result, error) {
			snap, ok := tracker.Snapshot(id)
			require.True(t, ok)
			midRun = snap.Phase
			out := make([]zerobounce.Result, 0, len(batch))
			for _, e := range batch {
				out = append(out, zerobounce.Result{Address: e, Status: "valid"})
			}
			return out, nil
		},
	}

	stage := NewVerifyStage(zb, s, newTestGate("zerobounce"))
	_, err := stage.Run(ctx, id, emails, model.SourceCSV, tracker)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseVerifying, midRun)

	snap, ok := tracker.Snapshot(id)
	require.True(t, ok)
	assert.Equal(t, model.PhaseVerifying, snap.Phase)
	assert.Equal(t, len(emails), snap.Total)
}

func TestVerifyStage_MissingFromResponseIsUnknown(t *testing.T) {
	s := newTestStore(t)
	tracker := NewTracker(s)
	ctx := context.Background()

	zb := &fakeVerifier{
		validateBatch: func(_ context.Context, emails []string) ([]zerobounce.Result, error) {
			// Vendor silently drops the second address.
			return []zerobounce.Result{{Address: emails[0], Status: "valid"}}, nil
		},
	}

	emails := []string{"kept@example.com", "dropped@example.com"}
	id := newTrackedJob(t, s, tracker, model.WorkflowVerifyOnly, len(emails))

	stage := NewVerifyStage(zb, s, newTestGate("zerobounce"))
	_, err := stage.Run(ctx, id, emails, model.SourceCSV, tracker)
	require.NoError(t, err)

	dropped, err := s.GetLead(ctx, "dropped@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.VerificationUnknown, dropped.VerificationStatus)
	assert.Equal(t, "missing_from_response", dropped.VerificationSubStatus)

	snap, _ := tracker.Snapshot(id)
	assert.Equal(t, 2, snap.Processed, "every address accounted for")
}

func TestVerifyStage_BatchFailureStillAccountsForEveryLead(t *testing.T) {
	s := newTestStore(t)
	tracker := NewTracker(s)
	ctx := context.Background()

	zb := &fakeVerifier{
		validateBatch: func(_ context.Context, emails []string) ([]zerobounce.Result, error) {
			return nil, &zerobounce.APIError{StatusCode: 400, Body: "bad request"}
		},
	}

	emails := []string{"a@example.com", "b@example.com"}
	id := newTrackedJob(t, s, tracker, model.WorkflowVerifyOnly, len(emails))

	stage := NewVerifyStage(zb, s, newTestGate("zerobounce"))
	summary, err := stage.Run(ctx, id, emails, model.SourceCSV, tracker)
	require.NoError(t, err, "a permanent batch failure does not fail the stage")
	assert.Equal(t, 2, summary.Failed)

	lead, err := s.GetLead(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.VerificationUnknown, lead.VerificationStatus)
	assert.Equal(t, "verification_failed", lead.VerificationSubStatus)

	snap, _ := tracker.Snapshot(id)
	assert.Equal(t, 2, snap.Processed)
	assert.Equal(t, 2, snap.UnknownCount)
}

func TestVerifyStage_HonorsRetryOverride(t *testing.T) {
	s := newTestStore(t)
	tracker := NewTracker(s)
	ctx := context.Background()

	var calls atomic.Int32
	zb := &fakeVerifier{
		validateBatch: func(_ context.Context, emails []string) ([]zerobounce.Result, error) {
			calls.Add(1)
			return nil, &zerobounce.APIError{StatusCode: 503, Body: "overloaded"}
		},
	}

	emails := []string{"a@example.com"}
	id := newTrackedJob(t, s, tracker, model.WorkflowVerifyOnly, len(emails))

	stage := NewVerifyStage(zb, s, newTestGate("zerobounce"))
	stage.UseRetry(resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	})

	summary, err := stage.Run(ctx, id, emails, model.SourceCSV, tracker)
	require.NoError(t, err, "exhausted transient failures degrade to unknown verdicts")
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, int32(2), calls.Load(), "configured attempt budget, not the stock one")
}

func TestVerifyStage_UnauthorizedFailsStage(t *testing.T) {
	s := newTestStore(t)
	tracker := NewTracker(s)
	ctx := context.Background()

	zb := &fakeVerifier{
		validateBatch: func(_ context.Context, emails []string) ([]zerobounce.Result, error) {
			return nil, &zerobounce.APIError{StatusCode: 401, Body: "invalid api key"}
		},
	}

	emails := []string{"a@example.com"}
	id := newTrackedJob(t, s, tracker, model.WorkflowVerifyOnly, len(emails))

	stage := NewVerifyStage(zb, s, newTestGate("zerobounce"))
	_, err := stage.Run(ctx, id, emails, model.SourceCSV, tracker)
	require.Error(t, err)
}
