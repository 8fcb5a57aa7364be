package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/internal/scoring"
	"github.com/sells-group/leadpipe/internal/store"
)

// ScoreStage computes the fit score for every lead in the batch. Scoring is
// local, so the only failures are store writes.
type ScoreStage struct {
	store store.Store
	cfg   scoring.Config
}

// NewScoreStage wires the scoring stage.
func NewScoreStage(st store.Store, cfg scoring.Config) *ScoreStage {
	return &ScoreStage{store: st, cfg: cfg}
}

func (s *ScoreStage) Phase() model.Phase {
	return model.PhaseScoring
}

func (s *ScoreStage) Run(ctx context.Context, jobID int64, emails []string, source model.LeadSource, tracker *Tracker) (model.StageSummary, error) {
	log := zap.L().With(zap.Int64("job_id", jobID), zap.String("stage", "score"))

	leads, err := s.store.ListLeads(ctx, model.LeadFilter{Emails: emails, Limit: len(emails)})
	if err != nil {
		return model.StageSummary{}, err
	}
	log.Info("score: starting", zap.Int("leads", len(leads)))

	tracker.StartPhase(jobID, model.PhaseScoring, len(leads))

	var summary model.StageSummary
	for i := range leads {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		lead := &leads[i]
		score, breakdown := scoring.Score(lead, s.cfg)
		if err := s.store.UpdateLeadScore(ctx, lead.Email, score, breakdown); err != nil {
			log.Warn("score: persist", zap.String("email", lead.Email), zap.Error(err))
			summary.Failed++
		} else {
			summary.Succeeded++
		}
		tracker.Update(jobID, func(job *model.BatchJob) { job.Processed++ })
	}
	summary.Skipped = len(emails) - len(leads)
	if summary.Skipped < 0 {
		summary.Skipped = 0
	}

	log.Info("score: finished",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}
