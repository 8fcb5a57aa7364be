package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/internal/pipeline"
)

// syncReport summarizes a synchronous sync run.
type syncReport struct {
	BatchID int64 `json:"batch_id"`
	Synced  int   `json:"synced"`
	Created int   `json:"created"`
	Updated int   `json:"updated"`
	Failed  int   `json:"failed"`
	Skipped int   `json:"skipped"`
}

// runSync pushes the given leads through a sync stage built from the caller's
// targets and blocks until it finishes. Outcomes are audited in the sync log
// under a sync_only job like any orchestrated run.
func runSync(ctx context.Context, env *appEnv, targets []pipeline.Syncer, emails []string) (*syncReport, error) {
	now := time.Now().UTC()
	job := &model.BatchJob{
		Workflow:  model.WorkflowSyncOnly,
		Status:    model.JobProcessing,
		Phase:     model.PhaseSyncing,
		Total:     len(emails),
		CreatedAt: now,
		StartedAt: &now,
	}
	id, err := env.Store.CreateJob(ctx, job)
	if err != nil {
		return nil, err
	}
	job.ID = id
	env.Tracker.Register(job)

	stage := pipeline.NewSyncStage(env.Store, targets...)
	stage.UseRetry(env.Retry)
	summary, runErr := stage.Run(ctx, id, emails, model.SourceCSV, env.Tracker)
	finalizeJob(ctx, env, id, runErr)
	if runErr != nil {
		return nil, runErr
	}

	final, err := env.Store.GetJob(context.WithoutCancel(ctx), id)
	if err != nil {
		return nil, err
	}
	return &syncReport{
		BatchID: id,
		Synced:  summary.Succeeded,
		Created: final.CreatedCount,
		Updated: final.UpdatedCount,
		Failed:  final.FailedCount,
		Skipped: summary.Skipped,
	}, nil
}

// finalizeJob records the terminal status for a job run outside the
// orchestrator and flushes it out of tracker memory.
func finalizeJob(ctx context.Context, env *appEnv, jobID int64, runErr error) {
	done := time.Now().UTC()
	env.Tracker.Update(jobID, func(job *model.BatchJob) {
		job.CompletedAt = &done
		if runErr == nil {
			job.Status = model.JobCompleted
			job.Phase = model.PhaseCompleted
		} else {
			job.Status = model.JobFailed
			job.Phase = model.PhaseFailed
			job.ErrorMessage = runErr.Error()
		}
	})
	env.Tracker.Forget(context.WithoutCancel(ctx), jobID)
}

var (
	errSalesforceNotConfigured = eris.New("salesforce target is not configured")
	errCampaignRequired        = eris.New("campaign is required for the instantly target")
)

func errUnknownTarget(name string) error {
	return eris.Errorf("unknown sync target %q", name)
}

var (
	syncTargets    []string
	syncCampaignID string
	syncMinScore   int
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push verified leads to the configured CRM and outreach targets",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		var targets []pipeline.Syncer
		for _, name := range syncTargets {
			switch name {
			case "hubspot":
				targets = append(targets, pipeline.NewHubSpotSyncer(env.HubSpot, env.HubSpotGate, env.Store))
			case "salesforce":
				if env.Salesforce == nil {
					return errSalesforceNotConfigured
				}
				targets = append(targets, pipeline.NewSalesforceSyncer(env.Salesforce, env.SalesforceGate))
			case "instantly":
				if syncCampaignID == "" {
					return errCampaignRequired
				}
				targets = append(targets, pipeline.NewInstantlySyncer(env.Instantly, env.InstantlyGate, env.Store, syncCampaignID))
			default:
				return errUnknownTarget(name)
			}
		}

		filter := model.LeadFilter{VerificationStatus: model.VerificationValid}
		if syncMinScore > 0 {
			filter.ScoreMin = &syncMinScore
		}
		leads, err := env.Store.ListLeads(ctx, filter)
		if err != nil {
			return err
		}
		emails := make([]string, 0, len(leads))
		for _, l := range leads {
			emails = append(emails, l.Email)
		}
		if len(emails) == 0 {
			zap.L().Info("sync: no deliverable leads to push")
			return nil
		}

		report, err := runSync(ctx, env, targets, emails)
		if err != nil {
			return err
		}
		zap.L().Info("sync finished",
			zap.Int64("batch_id", report.BatchID),
			zap.Int("synced", report.Synced),
			zap.Int("created", report.Created),
			zap.Int("updated", report.Updated),
			zap.Int("failed", report.Failed),
		)
		return nil
	},
}

func init() {
	syncCmd.Flags().StringSliceVar(&syncTargets, "target", []string{"hubspot"}, "sync targets (hubspot, salesforce, instantly)")
	syncCmd.Flags().StringVar(&syncCampaignID, "campaign", "", "Instantly campaign ID (required for the instantly target)")
	syncCmd.Flags().IntVar(&syncMinScore, "min-score", 0, "only sync leads at or above this score")
	rootCmd.AddCommand(syncCmd)
}
