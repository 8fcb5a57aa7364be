package pipeline

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/sells-group/leadpipe/internal/adapter"
	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/internal/store"
	"github.com/sells-group/leadpipe/pkg/apollo"
)

// enrichBatchSize is the Apollo bulk_match per-request limit.
const enrichBatchSize = 10

// EnrichStage fills in person and company fields for deliverable leads via
// Apollo. Undeliverable addresses are skipped, never sent to the vendor.
type EnrichStage struct {
	retryPolicy
	apollo apollo.Client
	store  store.Store
	gate   *adapter.Gate
}

// NewEnrichStage wires the enrichment stage.
func NewEnrichStage(ap apollo.Client, st store.Store, gate *adapter.Gate) *EnrichStage {
	return &EnrichStage{apollo: ap, store: st, gate: gate}
}

func (s *EnrichStage) Phase() model.Phase {
	return model.PhaseEnriching
}

// Run enriches the deliverable subset of emails in batches of 10. Addresses
// Apollo cannot match stay unenriched but still count as processed.
func (s *EnrichStage) Run(ctx context.Context, jobID int64, emails []string, source model.LeadSource, tracker *Tracker) (model.StageSummary, error) {
	log := zap.L().With(zap.Int64("job_id", jobID), zap.String("stage", "enrich"))

	deliverable, skipped, err := s.deliverable(ctx, emails)
	if err != nil {
		return model.StageSummary{}, err
	}
	log.Info("enrich: starting",
		zap.Int("deliverable", len(deliverable)),
		zap.Int("skipped", skipped),
	)

	tracker.StartPhase(jobID, model.PhaseEnriching, len(deliverable))

	batches := chunk(deliverable, enrichBatchSize)
	cfg := s.execConfig("apollo", "bulk_match")
	cfg.Concurrency = s.gate.Concurrency()

	var succeeded, failed atomic.Int64
	_, err = forEach(ctx, cfg, batches, func(ctx context.Context, batch []string) error {
		people, err := adapter.DoVal(ctx, s.gate, "bulk_match", func(ctx context.Context) ([]apollo.Person, error) {
			return s.apollo.BulkEnrich(ctx, batch)
		})
		if err != nil {
			return adapter.Wrap("apollo", "bulk_match", err)
		}

		matched := make(map[string]apollo.Person, len(people))
		for _, p := range people {
			matched[model.NormalizeEmail(p.Email)] = p
		}

		for _, email := range batch {
			p, ok := matched[model.NormalizeEmail(email)]
			if !ok {
				// No match is a normal outcome, not a failure.
				succeeded.Add(1)
				tracker.Update(jobID, func(job *model.BatchJob) { job.Processed++ })
				continue
			}
			if _, err := s.store.UpsertEnrichment(ctx, enrichmentFrom(email, p), source); err != nil {
				log.Warn("enrich: persist", zap.String("email", email), zap.Error(err))
				failed.Add(1)
			} else {
				succeeded.Add(1)
			}
			tracker.Update(jobID, func(job *model.BatchJob) { job.Processed++ })
		}
		return nil
	}, func(batch []string, err error) {
		if err != nil {
			failed.Add(int64(len(batch)))
			tracker.Update(jobID, func(job *model.BatchJob) { job.Processed += len(batch) })
		}
	})

	summary := model.StageSummary{
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
		Skipped:   skipped,
	}
	log.Info("enrich: finished",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
	)
	return summary, err
}

// deliverable filters emails down to leads whose verification verdict allows
// outreach (valid only).
func (s *EnrichStage) deliverable(ctx context.Context, emails []string) ([]string, int, error) {
	leads, err := s.store.ListLeads(ctx, model.LeadFilter{Emails: emails, Limit: len(emails)})
	if err != nil {
		return nil, 0, err
	}

	byEmail := make(map[string]model.Lead, len(leads))
	for _, l := range leads {
		byEmail[l.Email] = l
	}

	var out []string
	skipped := 0
	for _, email := range emails {
		lead, ok := byEmail[model.NormalizeEmail(email)]
		if ok && lead.VerificationStatus.Deliverable() {
			out = append(out, email)
		} else {
			skipped++
		}
	}
	return out, skipped, nil
}

// enrichmentFrom maps an Apollo person onto the stored enrichment fields.
func enrichmentFrom(email string, p apollo.Person) model.Enrichment {
	e := model.Enrichment{
		Email:       email,
		Enriched:    true,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		FullName:    p.Name,
		Title:       p.Title,
		Seniority:   p.Seniority,
		Phone:       p.PhoneNumber,
		LinkedInURL: p.LinkedInURL,
		City:        p.City,
		State:       p.State,
		Country:     p.Country,
	}
	if p.Org != nil {
		e.CompanyName = p.Org.Name
		e.CompanyDomain = p.Org.Domain
		e.CompanyIndustry = p.Org.Industry
		e.CompanySize = p.Org.NumEmployees
		e.CompanyLocation = p.Org.Location()
	}
	return e
}
