package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/leadpipe/internal/adapter"
	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/internal/store"
	"github.com/sells-group/leadpipe/pkg/zerobounce"
)

// verifyBatchSize is the ZeroBounce batch endpoint limit.
const verifyBatchSize = 100

// VerifyStage checks deliverability of every address in the batch through
// ZeroBounce and records the verdicts.
type VerifyStage struct {
	retryPolicy
	zb    zerobounce.Client
	store store.Store
	gate  *adapter.Gate
}

// NewVerifyStage wires the verification stage.
func NewVerifyStage(zb zerobounce.Client, st store.Store, gate *adapter.Gate) *VerifyStage {
	return &VerifyStage{zb: zb, store: st, gate: gate}
}

func (s *VerifyStage) Phase() model.Phase {
	return model.PhaseVerifying
}

// Run verifies emails in batches of 100. Per-batch failures mark every
// address in that batch as unknown rather than failing the stage; only a
// credential failure aborts.
func (s *VerifyStage) Run(ctx context.Context, jobID int64, emails []string, source model.LeadSource, tracker *Tracker) (model.StageSummary, error) {
	log := zap.L().With(zap.Int64("job_id", jobID), zap.String("stage", "verify"))
	log.Info("verify: starting", zap.Int("emails", len(emails)))

	tracker.StartPhase(jobID, model.PhaseVerifying, len(emails))

	batches := chunk(emails, verifyBatchSize)
	cfg := s.execConfig("zerobounce", "validate_batch")
	cfg.Concurrency = s.gate.Concurrency()

	var succeeded, failed atomic.Int64
	_, err := forEach(ctx, cfg, batches, func(ctx context.Context, batch []string) error {
		results, err := adapter.DoVal(ctx, s.gate, "validate_batch", func(ctx context.Context) ([]zerobounce.Result, error) {
			return s.zb.ValidateBatch(ctx, batch)
		})
		if err != nil {
			return adapter.Wrap("zerobounce", "validate_batch", err)
		}

		byAddress := make(map[string]zerobounce.Result, len(results))
		for _, r := range results {
			byAddress[model.NormalizeEmail(r.Address)] = r
		}

		for _, email := range batch {
			v := verificationFrom(email, byAddress[model.NormalizeEmail(email)])
			if _, err := s.store.UpsertVerification(ctx, v, source); err != nil {
				log.Warn("verify: persist verdict", zap.String("email", email), zap.Error(err))
				failed.Add(1)
				tracker.Update(jobID, func(job *model.BatchJob) { job.Processed++ })
				continue
			}
			succeeded.Add(1)
			tracker.Update(jobID, func(job *model.BatchJob) {
				job.Processed++
				switch v.Status {
				case model.VerificationValid:
					job.ValidCount++
				case model.VerificationInvalid, model.VerificationSpamtrap,
					model.VerificationAbuse, model.VerificationDoNotMail:
					job.InvalidCount++
				default:
					job.UnknownCount++
				}
			})
		}
		return nil
	}, func(batch []string, err error) {
		if err != nil {
			// The whole batch burned: record each address as unknown so the
			// job still accounts for every lead.
			for _, email := range batch {
				v := model.Verification{
					Email:      email,
					Status:     model.VerificationUnknown,
					SubStatus:  "verification_failed",
					VerifiedAt: time.Now().UTC(),
				}
				if _, upErr := s.store.UpsertVerification(ctx, v, source); upErr != nil {
					log.Warn("verify: record failed batch", zap.String("email", email), zap.Error(upErr))
				}
				failed.Add(1)
				tracker.Update(jobID, func(job *model.BatchJob) {
					job.Processed++
					job.UnknownCount++
				})
			}
		}
	})

	summary := model.StageSummary{
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
	}
	log.Info("verify: finished",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
	)
	return summary, err
}

// verificationFrom maps a ZeroBounce result onto the stored verdict. An
// absent result (address missing from the response) is recorded as unknown.
func verificationFrom(email string, r zerobounce.Result) model.Verification {
	v := model.Verification{
		Email:      email,
		Status:     model.VerificationUnknown,
		VerifiedAt: time.Now().UTC(),
	}
	if r.Address == "" {
		v.SubStatus = "missing_from_response"
		return v
	}

	switch r.Status {
	case "valid":
		v.Status = model.VerificationValid
	case "invalid":
		v.Status = model.VerificationInvalid
	case "catch-all":
		v.Status = model.VerificationCatchAll
	case "spamtrap":
		v.Status = model.VerificationSpamtrap
	case "abuse":
		v.Status = model.VerificationAbuse
	case "do_not_mail":
		v.Status = model.VerificationDoNotMail
	}
	v.SubStatus = r.SubStatus
	v.Score = r.SMTPScore
	v.FreeEmail = r.FreeEmail
	v.Domain = r.Domain
	v.MXFound = r.MXFound == "true"
	return v
}
