package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadpipe/internal/adapter"
	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/internal/store"
	"github.com/sells-group/leadpipe/pkg/apollo"
	"github.com/sells-group/leadpipe/pkg/hubspot"
	"github.com/sells-group/leadpipe/pkg/instantly"
	"github.com/sells-group/leadpipe/pkg/salesforce"
	"github.com/sells-group/leadpipe/pkg/zerobounce"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "leadpipe.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestGate(vendor string) *adapter.Gate {
	return adapter.NewGate(vendor, adapter.GateConfig{RPS: 10000, Burst: 10000})
}

func seedVerified(t *testing.T, s store.Store, email string, status model.VerificationStatus) {
	t.Helper()
	_, err := s.UpsertVerification(context.Background(), model.Verification{
		Email:      email,
		Status:     status,
		VerifiedAt: time.Now().UTC(),
	}, model.SourceCSV)
	require.NoError(t, err)
}

func newTrackedJob(t *testing.T, s store.Store, tracker *Tracker, workflow model.WorkflowKind, total int) int64 {
	t.Helper()
	job := &model.BatchJob{
		Workflow: workflow,
		Status:   model.JobProcessing,
		Phase:    model.PhaseQueued,
		Total:    total,
	}
	id, err := s.CreateJob(context.Background(), job)
	require.NoError(t, err)
	job.ID = id
	tracker.Register(job)
	return id
}

// fakeVerifier implements zerobounce.Client.
type fakeVerifier struct {
	validateBatch func(ctx context.Context, emails []string) ([]zerobounce.Result, error)
}

func (f *fakeVerifier) Validate(ctx context.Context, email string) (*zerobounce.Result, error) {
	results, err := f.ValidateBatch(ctx, []string{email})
	if err != nil {
		return nil, err
	}
	return &results[0], nil
}

func (f *fakeVerifier) ValidateBatch(ctx context.Context, emails []string) ([]zerobounce.Result, error) {
	return f.validateBatch(ctx, emails)
}

func (f *fakeVerifier) Credits(ctx context.Context) (int, error) {
	return 1000, nil
}

// fakeEnricher implements apollo.Client.
type fakeEnricher struct {
	bulkEnrich func(ctx context.Context, emails []string) ([]apollo.Person, error)
}

func (f *fakeEnricher) EnrichPerson(ctx context.Context, email string) (*apollo.Person, error) {
	people, err := f.BulkEnrich(ctx, []string{email})
	if err != nil {
		return nil, err
	}
	if len(people) == 0 {
		return nil, apollo.ErrNoMatch
	}
	return &people[0], nil
}

func (f *fakeEnricher) BulkEnrich(ctx context.Context, emails []string) ([]apollo.Person, error) {
	return f.bulkEnrich(ctx, emails)
}

func (f *fakeEnricher) SearchPeople(ctx context.Context, q apollo.SearchQuery) (*apollo.SearchPage, error) {
	return &apollo.SearchPage{Page: 1, TotalPages: 1}, nil
}

// fakeHubSpot implements hubspot.Client.
type fakeHubSpot struct {
	contacts map[string]*hubspot.Contact // by email
	created  []map[string]string
	updated  map[string]map[string]string // by contact id
	fail     error
}

func newFakeHubSpot() *fakeHubSpot {
	return &fakeHubSpot{
		contacts: make(map[string]*hubspot.Contact),
		updated:  make(map[string]map[string]string),
	}
}

func (f *fakeHubSpot) ListContacts(ctx context.Context, cursor string) (*hubspot.ContactPage, error) {
	page := &hubspot.ContactPage{}
	for _, c := range f.contacts {
		page.Results = append(page.Results, *c)
	}
	return page, nil
}

func (f *fakeHubSpot) SearchByEmail(ctx context.Context, email string) (*hubspot.Contact, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	if c, ok := f.contacts[email]; ok {
		return c, nil
	}
	return nil, hubspot.ErrContactNotFound
}

func (f *fakeHubSpot) CreateContact(ctx context.Context, properties map[string]string) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	id := "hs-" + properties["email"]
	f.contacts[properties["email"]] = &hubspot.Contact{ID: id, Properties: properties}
	f.created = append(f.created, properties)
	return id, nil
}

func (f *fakeHubSpot) UpdateContact(ctx context.Context, id string, properties map[string]string) error {
	if f.fail != nil {
		return f.fail
	}
	f.updated[id] = properties
	return nil
}

func (f *fakeHubSpot) BatchUpdate(ctx context.Context, inputs []hubspot.BatchInput) error {
	for _, in := range inputs {
		f.updated[in.ID] = in.Properties
	}
	return nil
}

// fakeInstantly implements instantly.Client, deduping campaign members by
// email the way the real API does.
type fakeInstantly struct {
	members map[string]map[string]bool // campaign id -> emails
	fail    error
}

func newFakeInstantly() *fakeInstantly {
	return &fakeInstantly{members: make(map[string]map[string]bool)}
}

func (f *fakeInstantly) ListCampaigns(ctx context.Context) ([]instantly.Campaign, error) {
	out := make([]instantly.Campaign, 0, len(f.members))
	for id := range f.members {
		out = append(out, instantly.Campaign{ID: id, Name: id})
	}
	return out, nil
}

func (f *fakeInstantly) AddLeads(ctx context.Context, campaignID string, leads []instantly.Lead) (int, error) {
	if f.fail != nil {
		return 0, f.fail
	}
	if f.members[campaignID] == nil {
		f.members[campaignID] = make(map[string]bool)
	}
	accepted := 0
	for _, l := range leads {
		if !f.members[campaignID][l.Email] {
			f.members[campaignID][l.Email] = true
			accepted++
		}
	}
	return accepted, nil
}

func (f *fakeInstantly) CampaignAnalytics(ctx context.Context, campaignID string) (*instantly.Analytics, error) {
	return &instantly.Analytics{
		CampaignID: campaignID,
		LeadsCount: len(f.members[campaignID]),
	}, nil
}

// fakeSalesforce implements salesforce.Client backed by a contact list.
type fakeSalesforce struct {
	contacts map[string]*salesforce.Contact // by email
	inserted []map[string]any
	updated  map[string]map[string]any // by record id
	fail     error
}

func newFakeSalesforce() *fakeSalesforce {
	return &fakeSalesforce{
		contacts: make(map[string]*salesforce.Contact),
		updated:  make(map[string]map[string]any),
	}
}

func (f *fakeSalesforce) Query(ctx context.Context, soql string, out any) error {
	if f.fail != nil {
		return f.fail
	}
	recs := out.(*[]salesforce.Contact)
	for email, c := range f.contacts {
		if strings.Contains(soql, "'"+email+"'") {
			*recs = append(*recs, *c)
		}
	}
	return nil
}

func (f *fakeSalesforce) InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	f.inserted = append(f.inserted, record)
	email, _ := record["Email"].(string)
	id := "sf-" + email
	f.contacts[email] = &salesforce.Contact{ID: id, Email: email}
	return id, nil
}

func (f *fakeSalesforce) InsertCollection(ctx context.Context, sObjectName string, records []map[string]any) ([]salesforce.CollectionResult, error) {
	out := make([]salesforce.CollectionResult, 0, len(records))
	for _, r := range records {
		id, err := f.InsertOne(ctx, sObjectName, r)
		out = append(out, salesforce.CollectionResult{ID: id, Success: err == nil})
	}
	return out, nil
}

func (f *fakeSalesforce) UpdateOne(ctx context.Context, sObjectName string, id string, fields map[string]any) error {
	if f.fail != nil {
		return f.fail
	}
	f.updated[id] = fields
	return nil
}

func (f *fakeSalesforce) UpdateCollection(ctx context.Context, sObjectName string, records []salesforce.CollectionRecord) ([]salesforce.CollectionResult, error) {
	out := make([]salesforce.CollectionResult, 0, len(records))
	for _, r := range records {
		err := f.UpdateOne(ctx, sObjectName, r.ID, r.Fields)
		out = append(out, salesforce.CollectionResult{ID: r.ID, Success: err == nil})
	}
	return out, nil
}
