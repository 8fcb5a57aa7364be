package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/pkg/apollo"
)

func TestEnrichStage_OnlyDeliverableLeadsGoToVendor(t *testing.T) {
	s := newTestStore(t)
	tracker := NewTracker(s)
	ctx := context.Background()

	seedVerified(t, s, "valid@example.com", model.VerificationValid)
	seedVerified(t, s, "bad@example.com", model.VerificationInvalid)
	seedVerified(t, s, "risky@example.com", model.VerificationCatchAll)

	var sent []string
	ap := &fakeEnricher{
		bulkEnrich: func(_ context.Context, emails []string) ([]apollo.Person, error) {
			sent = append(sent, emails...)
			return []apollo.Person{{
				Email:     "valid@example.com",
				FirstName: "Ada",
				LastName:  "Lovelace",
				Title:     "VP Engineering",
				Org: &apollo.Organization{
					Name:         "Analytical Engines",
					Domain:       "example.com",
					NumEmployees: 120,
					City:         "London",
					Country:      "UK",
				},
			}}, nil
		},
	}

	emails := []string{"valid@example.com", "bad@example.com", "risky@example.com"}
	id := newTrackedJob(t, s, tracker, model.WorkflowVerifyEnrich, len(emails))

	stage := NewEnrichStage(ap, s, newTestGate("apollo"))
	summary, err := stage.Run(ctx, id, emails, model.SourceCSV, tracker)
	require.NoError(t, err)

	assert.Equal(t, []string{"valid@example.com"}, sent, "undeliverable addresses never reach the vendor")
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 2, summary.Skipped)

	lead, err := s.GetLead(ctx, "valid@example.com")
	require.NoError(t, err)
	assert.True(t, lead.Enriched)
	assert.Equal(t, "Ada", lead.FirstName)
	assert.Equal(t, "Analytical Engines", lead.CompanyName)
	assert.Equal(t, 120, lead.CompanySize)
	assert.Equal(t, "London, UK", lead.CompanyLocation)
	assert.Equal(t, model.VerificationValid, lead.VerificationStatus, "enrichment leaves verification fields alone")
}

func TestEnrichStage_UnmatchedAddressStaysUnenriched(t *testing.T) {
	s := newTestStore(t)
	tracker := NewTracker(s)
	ctx := context.Background()

	seedVerified(t, s, "ghost@example.com", model.VerificationValid)

	ap := &fakeEnricher{
		bulkEnrich: func(_ context.Context, emails []string) ([]apollo.Person, error) {
			return nil, nil
		},
	}

	id := newTrackedJob(t, s, tracker, model.WorkflowVerifyEnrich, 1)
	stage := NewEnrichStage(ap, s, newTestGate("apollo"))
	summary, err := stage.Run(ctx, id, []string{"ghost@example.com"}, model.SourceCSV, tracker)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded, "no match is not a failure")

	lead, err := s.GetLead(ctx, "ghost@example.com")
	require.NoError(t, err)
	assert.False(t, lead.Enriched)

	snap, _ := tracker.Snapshot(id)
	assert.Equal(t, 1, snap.Processed)
}

func TestEnrichStage_EnrichmentKeepsExistingFields(t *testing.T) {
	s := newTestStore(t)
	tracker := NewTracker(s)
	ctx := context.Background()

	seedVerified(t, s, "known@example.com", model.VerificationValid)
	_, err := s.UpsertEnrichment(ctx, model.Enrichment{
		Email:     "known@example.com",
		Enriched:  true,
		FirstName: "Grace",
		Phone:     "+1 555 0100",
	}, model.SourceCSV)
	require.NoError(t, err)

	// Second pass returns a sparser record; existing fields must survive.
	ap := &fakeEnricher{
		bulkEnrich: func(_ context.Context, emails []string) ([]apollo.Person, error) {
			return []apollo.Person{{Email: "known@example.com", Title: "Rear Admiral"}}, nil
		},
	}

	id := newTrackedJob(t, s, tracker, model.WorkflowVerifyEnrich, 1)
	stage := NewEnrichStage(ap, s, newTestGate("apollo"))
	_, err = stage.Run(ctx, id, []string{"known@example.com"}, model.SourceCSV, tracker)
	require.NoError(t, err)

	lead, err := s.GetLead(ctx, "known@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Grace", lead.FirstName)
	assert.Equal(t, "+1 555 0100", lead.Phone)
	assert.Equal(t, "Rear Admiral", lead.Title)
}
