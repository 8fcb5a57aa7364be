package pipeline

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadpipe/internal/adapter"
	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/internal/resilience"
	"github.com/sells-group/leadpipe/internal/store"
	"github.com/sells-group/leadpipe/pkg/hubspot"
	"github.com/sells-group/leadpipe/pkg/instantly"
	"github.com/sells-group/leadpipe/pkg/salesforce"
)

// Syncer pushes one lead into an external CRM. Implementations must look the
// record up first so reruns update instead of duplicating.
type Syncer interface {
	Target() string
	Sync(ctx context.Context, lead *model.Lead) (model.SyncOutcome, string, error)
}

// SyncStage reconciles scored leads into every configured CRM target, one
// sync_log row per lead per target.
type SyncStage struct {
	retryPolicy
	store   store.Store
	targets []Syncer
}

// NewSyncStage wires the sync stage.
func NewSyncStage(st store.Store, targets ...Syncer) *SyncStage {
	return &SyncStage{store: st, targets: targets}
}

func (s *SyncStage) Phase() model.Phase {
	return model.PhaseSyncing
}

func (s *SyncStage) Run(ctx context.Context, jobID int64, emails []string, source model.LeadSource, tracker *Tracker) (model.StageSummary, error) {
	log := zap.L().With(zap.Int64("job_id", jobID), zap.String("stage", "sync"))

	leads, err := s.store.ListLeads(ctx, model.LeadFilter{Emails: emails, Limit: len(emails)})
	if err != nil {
		return model.StageSummary{}, err
	}

	// Only deliverable leads go out.
	var out []model.Lead
	for _, l := range leads {
		if l.VerificationStatus.Deliverable() {
			out = append(out, l)
		}
	}
	skipped := len(emails) - len(out)
	log.Info("sync: starting",
		zap.Int("leads", len(out)),
		zap.Int("skipped", skipped),
		zap.Int("targets", len(s.targets)),
	)

	tracker.StartPhase(jobID, model.PhaseSyncing, len(out))

	cfg := s.execConfig("crm", "sync_lead")
	// Retry per target, not per lead: re-running the whole lead after one
	// target's transient failure would double-write the others.
	retryCfg := cfg.Retry
	cfg.Retry.MaxAttempts = 1

	type syncResult struct {
		outcome    model.SyncOutcome
		externalID string
	}

	var succeeded, failed atomic.Int64
	_, err = forEach(ctx, cfg, out, func(ctx context.Context, lead model.Lead) error {
		var firstErr error
		for _, target := range s.targets {
			res, syncErr := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (syncResult, error) {
				outcome, externalID, err := target.Sync(ctx, &lead)
				return syncResult{outcome: outcome, externalID: externalID}, err
			})
			outcome, externalID := res.outcome, res.externalID

			entry := &model.SyncLogEntry{
				JobID:      jobID,
				Email:      lead.Email,
				Target:     target.Target(),
				ExternalID: externalID,
				Outcome:    outcome,
			}
			if syncErr != nil {
				entry.Outcome = model.SyncFailed
				entry.Error = syncErr.Error()
				if firstErr == nil {
					firstErr = syncErr
				}
			}
			if _, logErr := s.store.AppendSyncLog(ctx, entry); logErr != nil {
				log.Warn("sync: append log", zap.String("email", lead.Email), zap.Error(logErr))
			}
			if syncErr != nil {
				continue
			}

			tracker.Update(jobID, func(job *model.BatchJob) {
				switch outcome {
				case model.SyncCreated:
					job.CreatedCount++
				case model.SyncUpdated:
					job.UpdatedCount++
				}
			})
		}
		return firstErr
	}, func(lead model.Lead, err error) {
		tracker.Update(jobID, func(job *model.BatchJob) {
			job.Processed++
			if err != nil {
				job.FailedCount++
			}
		})
		if err != nil {
			failed.Add(1)
		} else {
			succeeded.Add(1)
		}
	})

	summary := model.StageSummary{
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
		Skipped:   skipped,
	}
	log.Info("sync: finished",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
	)
	return summary, err
}

// HubSpotSyncer reconciles leads into HubSpot contacts.
type HubSpotSyncer struct {
	hs    hubspot.Client
	gate  *adapter.Gate
	store store.Store
}

// NewHubSpotSyncer wires the HubSpot target. The store reference is used to
// persist the contact ID after a create.
func NewHubSpotSyncer(hs hubspot.Client, gate *adapter.Gate, st store.Store) *HubSpotSyncer {
	return &HubSpotSyncer{hs: hs, gate: gate, store: st}
}

func (h *HubSpotSyncer) Target() string { return "hubspot" }

func (h *HubSpotSyncer) Sync(ctx context.Context, lead *model.Lead) (model.SyncOutcome, string, error) {
	props := hubspotProperties(lead)

	// Prefer the stored contact ID; fall back to an email search.
	contactID := lead.CRMID
	if contactID == "" {
		existing, err := adapter.DoVal(ctx, h.gate, "search_contact", func(ctx context.Context) (*hubspot.Contact, error) {
			return h.hs.SearchByEmail(ctx, lead.Email)
		})
		switch {
		case eris.Is(err, hubspot.ErrContactNotFound):
			// fall through to create
		case err != nil:
			return model.SyncFailed, "", adapter.Wrap("hubspot", "search_contact", err)
		default:
			contactID = existing.ID
		}
	}

	if contactID == "" {
		id, err := adapter.DoVal(ctx, h.gate, "create_contact", func(ctx context.Context) (string, error) {
			return h.hs.CreateContact(ctx, props)
		})
		if err != nil {
			return model.SyncFailed, "", adapter.Wrap("hubspot", "create_contact", err)
		}
		if err := h.store.SetCRMID(ctx, lead.Email, id); err != nil {
			zap.L().Warn("hubspot: persist contact id", zap.String("email", lead.Email), zap.Error(err))
		}
		return model.SyncCreated, id, nil
	}

	err := h.gate.Do(ctx, "update_contact", func(ctx context.Context) error {
		return h.hs.UpdateContact(ctx, contactID, props)
	})
	if err != nil {
		return model.SyncFailed, contactID, adapter.Wrap("hubspot", "update_contact", err)
	}
	return model.SyncUpdated, contactID, nil
}

func hubspotProperties(lead *model.Lead) map[string]string {
	props := map[string]string{
		"email":                     lead.Email,
		"lead_score":                strconv.Itoa(lead.Score),
		"email_verification_status": string(lead.VerificationStatus),
	}
	setIfPresent := func(key, value string) {
		if value != "" {
			props[key] = value
		}
	}
	setIfPresent("firstname", lead.FirstName)
	setIfPresent("lastname", lead.LastName)
	setIfPresent("jobtitle", lead.Title)
	setIfPresent("phone", lead.Phone)
	setIfPresent("company", lead.CompanyName)
	setIfPresent("hs_linkedin_url", lead.LinkedInURL)
	setIfPresent("city", lead.City)
	setIfPresent("state", lead.State)
	setIfPresent("country", lead.Country)
	return props
}

// SalesforceSyncer reconciles leads into Salesforce contacts.
type SalesforceSyncer struct {
	sf   salesforce.Client
	gate *adapter.Gate
}

// NewSalesforceSyncer wires the Salesforce target.
func NewSalesforceSyncer(sf salesforce.Client, gate *adapter.Gate) *SalesforceSyncer {
	return &SalesforceSyncer{sf: sf, gate: gate}
}

func (s *SalesforceSyncer) Target() string { return "salesforce" }

func (s *SalesforceSyncer) Sync(ctx context.Context, lead *model.Lead) (model.SyncOutcome, string, error) {
	existing, err := adapter.DoVal(ctx, s.gate, "find_contact", func(ctx context.Context) (*salesforce.Contact, error) {
		return salesforce.FindContactByEmail(ctx, s.sf, lead.Email)
	})
	if err != nil {
		return model.SyncFailed, "", adapter.Wrap("salesforce", "find_contact", err)
	}

	fields := salesforceFields(lead)
	if existing == nil {
		id, err := adapter.DoVal(ctx, s.gate, "create_contact", func(ctx context.Context) (string, error) {
			return salesforce.CreateContact(ctx, s.sf, fields)
		})
		if err != nil {
			return model.SyncFailed, "", adapter.Wrap("salesforce", "create_contact", err)
		}
		return model.SyncCreated, id, nil
	}

	err = s.gate.Do(ctx, "update_contact", func(ctx context.Context) error {
		return salesforce.UpdateContact(ctx, s.sf, existing.ID, fields)
	})
	if err != nil {
		return model.SyncFailed, existing.ID, adapter.Wrap("salesforce", "update_contact", err)
	}
	return model.SyncUpdated, existing.ID, nil
}

// InstantlySyncer pushes leads into an outreach campaign. Instantly dedupes
// by email inside a campaign, so reruns report updates instead of creates.
type InstantlySyncer struct {
	in         instantly.Client
	gate       *adapter.Gate
	store      store.Store
	campaignID string
}

// NewInstantlySyncer wires the outreach target for one campaign.
func NewInstantlySyncer(in instantly.Client, gate *adapter.Gate, st store.Store, campaignID string) *InstantlySyncer {
	return &InstantlySyncer{in: in, gate: gate, store: st, campaignID: campaignID}
}

func (i *InstantlySyncer) Target() string { return "instantly" }

func (i *InstantlySyncer) Sync(ctx context.Context, lead *model.Lead) (model.SyncOutcome, string, error) {
	payload := instantly.Lead{
		Email:       lead.Email,
		FirstName:   lead.FirstName,
		LastName:    lead.LastName,
		CompanyName: lead.CompanyName,
	}
	if lead.Score > 0 {
		payload.Custom = map[string]string{"lead_score": strconv.Itoa(lead.Score)}
	}

	accepted, err := adapter.DoVal(ctx, i.gate, "add_leads", func(ctx context.Context) (int, error) {
		return i.in.AddLeads(ctx, i.campaignID, []instantly.Lead{payload})
	})
	if err != nil {
		return model.SyncFailed, "", adapter.Wrap("instantly", "add_leads", err)
	}

	if err := i.store.UpdateOutreachStatus(ctx, lead.Email, "in_campaign"); err != nil {
		zap.L().Warn("instantly: persist outreach status", zap.String("email", lead.Email), zap.Error(err))
	}

	if accepted == 0 {
		// Already in the campaign.
		return model.SyncUpdated, i.campaignID, nil
	}
	return model.SyncCreated, i.campaignID, nil
}

func salesforceFields(lead *model.Lead) map[string]any {
	fields := map[string]any{
		"Email":         lead.Email,
		"Lead_Score__c": lead.Score,
	}
	if lead.FirstName != "" {
		fields["FirstName"] = lead.FirstName
	}
	if lead.LastName != "" {
		fields["LastName"] = lead.LastName
	}
	if lead.Title != "" {
		fields["Title"] = lead.Title
	}
	if lead.Phone != "" {
		fields["Phone"] = lead.Phone
	}
	if lead.City != "" {
		fields["MailingCity"] = lead.City
	}
	if lead.State != "" {
		fields["MailingState"] = lead.State
	}
	return fields
}
