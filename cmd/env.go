package main

import (
	"context"
	"os"
	"time"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadpipe/internal/adapter"
	"github.com/sells-group/leadpipe/internal/config"
	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/internal/pipeline"
	"github.com/sells-group/leadpipe/internal/resilience"
	"github.com/sells-group/leadpipe/internal/scoring"
	"github.com/sells-group/leadpipe/internal/store"
	"github.com/sells-group/leadpipe/pkg/apollo"
	"github.com/sells-group/leadpipe/pkg/hubspot"
	"github.com/sells-group/leadpipe/pkg/instantly"
	sfpkg "github.com/sells-group/leadpipe/pkg/salesforce"
	"github.com/sells-group/leadpipe/pkg/zerobounce"
)

// appEnv holds the initialized store, vendor clients, gates, and the
// orchestrator shared by the serve/run/sync commands.
type appEnv struct {
	Store        store.Store
	Tracker      *pipeline.Tracker
	Orchestrator *pipeline.Orchestrator
	Scoring      scoring.Config
	Retry        resilience.RetryConfig

	ZeroBounce zerobounce.Client
	Apollo     apollo.Client
	HubSpot    hubspot.Client
	Instantly  instantly.Client
	Salesforce sfpkg.Client // nil unless configured

	HubSpotGate    *adapter.Gate
	InstantlyGate  *adapter.Gate
	SalesforceGate *adapter.Gate
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Orchestrator != nil {
		e.Orchestrator.Wait()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initApp sets up the store, vendor clients, per-vendor gates, the stages,
// and the orchestrator. Callers should defer env.Close().
func initApp(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	scoringCfg, err := scoring.LoadConfig(cfg.Scoring.ConfigPath)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	env := &appEnv{Store: st, Scoring: scoringCfg}

	env.ZeroBounce = zerobounce.NewClient(cfg.ZeroBounce.Key,
		zerobounce.WithBaseURL(cfg.ZeroBounce.BaseURL),
		zerobounce.WithRateLimit(cfg.ZeroBounce.Vendor.RPS),
	)
	env.Apollo = apollo.NewClient(cfg.Apollo.Key,
		apollo.WithBaseURL(cfg.Apollo.BaseURL),
		apollo.WithRateLimit(cfg.Apollo.Vendor.RPS),
	)
	env.HubSpot = hubspot.NewClient(cfg.HubSpot.Token,
		hubspot.WithBaseURL(cfg.HubSpot.BaseURL),
		hubspot.WithRateLimit(cfg.HubSpot.Vendor.RPS),
		hubspot.WithPageSize(cfg.HubSpot.PageSize),
	)
	env.Instantly = instantly.NewClient(cfg.Instantly.Key,
		instantly.WithBaseURL(cfg.Instantly.BaseURL),
		instantly.WithRateLimit(cfg.Instantly.Vendor.RPS),
	)

	// Salesforce is an optional second CRM target.
	if cfg.Salesforce.ClientID != "" {
		env.Salesforce, err = initSalesforce()
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		env.SalesforceGate = adapter.NewGate("salesforce", adapter.GateConfig{RPS: cfg.Salesforce.RPS})
	}

	zbGate := adapter.NewGate("zerobounce", gateConfig(cfg.ZeroBounce.Vendor))
	apolloGate := adapter.NewGate("apollo", gateConfig(cfg.Apollo.Vendor))
	env.HubSpotGate = adapter.NewGate("hubspot", gateConfig(cfg.HubSpot.Vendor))
	env.InstantlyGate = adapter.NewGate("instantly", gateConfig(cfg.Instantly.Vendor))

	targets := []pipeline.Syncer{
		pipeline.NewHubSpotSyncer(env.HubSpot, env.HubSpotGate, st),
	}
	if env.Salesforce != nil {
		targets = append(targets, pipeline.NewSalesforceSyncer(env.Salesforce, env.SalesforceGate))
	}

	env.Retry = retryConfig(cfg.Pipeline)

	verify := pipeline.NewVerifyStage(env.ZeroBounce, st, zbGate)
	verify.UseRetry(env.Retry)
	enrich := pipeline.NewEnrichStage(env.Apollo, st, apolloGate)
	enrich.UseRetry(env.Retry)
	syncStage := pipeline.NewSyncStage(st, targets...)
	syncStage.UseRetry(env.Retry)

	env.Tracker = pipeline.NewTracker(st)
	env.Orchestrator = pipeline.NewOrchestrator(st, env.Tracker,
		verify,
		enrich,
		pipeline.NewScoreStage(st, scoringCfg),
		syncStage,
	)

	return env, nil
}

// retryConfig maps the pipeline config block onto the stage retry settings.
func retryConfig(p config.PipelineConfig) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    p.MaxAttempts,
		InitialBackoff: time.Duration(p.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(p.MaxBackoffMs) * time.Millisecond,
		Multiplier:     p.BackoffMultiplier,
	}
}

func gateConfig(v config.VendorConfig) adapter.GateConfig {
	return adapter.GateConfig{
		RPS:         v.RPS,
		Burst:       v.Burst,
		QueueDepth:  v.QueueDepth,
		Concurrency: v.Concurrency,
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

func initSalesforce() (sfpkg.Client, error) {
	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	return sfpkg.NewClient(sf, sfpkg.WithRateLimit(cfg.Salesforce.RPS)), nil
}

// waitForJob polls a submitted job until it reaches a terminal status.
// Used by the CLI commands; the HTTP API polls via /api/progress instead.
func waitForJob(ctx context.Context, env *appEnv, jobID int64) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap, err := env.Orchestrator.Status(ctx, jobID)
			if err != nil {
				return err
			}
			if snap.Status.Terminal() {
				logJobResult(snap)
				if snap.Status != model.JobCompleted {
					return eris.Errorf("job %d %s: %s", jobID, snap.Status, snap.ErrorMessage)
				}
				return nil
			}
		}
	}
}

// collectUnverifiedCRMEmails walks the CRM contact list and returns the
// emails of contacts the pipeline has never verified, up to limit.
func collectUnverifiedCRMEmails(ctx context.Context, env *appEnv, limit int) ([]string, error) {
	var emails []string
	cursor := ""
	for len(emails) < limit {
		page, err := adapter.DoVal(ctx, env.HubSpotGate, "list_contacts", func(ctx context.Context) (*hubspot.ContactPage, error) {
			return env.HubSpot.ListContacts(ctx, cursor)
		})
		if err != nil {
			return nil, adapter.Wrap("hubspot", "list_contacts", err)
		}
		for _, contact := range page.Results {
			if contact.Email() == "" {
				continue
			}
			if contact.Properties["email_verification_status"] != "" {
				continue
			}
			emails = append(emails, contact.Email())
			if len(emails) >= limit {
				break
			}
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}
	return emails, nil
}

func logJobResult(snap model.JobSnapshot) {
	zap.L().Info("job finished",
		zap.Int64("job_id", snap.ID),
		zap.String("status", string(snap.Status)),
		zap.Int("total", snap.Total),
		zap.Int("processed", snap.Processed),
		zap.Int("valid", snap.ValidCount),
		zap.Int("invalid", snap.InvalidCount),
		zap.Int("unknown", snap.UnknownCount),
		zap.Int("created", snap.CreatedCount),
		zap.Int("updated", snap.UpdatedCount),
		zap.Int("failed", snap.FailedCount),
	)
}
