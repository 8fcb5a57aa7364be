package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/internal/pipeline"
)

var crmCmd = &cobra.Command{
	Use:   "crm",
	Short: "CRM reconciliation commands",
}

var crmVerifyLimit int

// crm verify walks the CRM contact list and verifies every contact that has
// no verification result yet.
var crmVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify CRM contacts that have never been checked",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		emails, err := collectUnverifiedCRMEmails(ctx, env, crmVerifyLimit)
		if err != nil {
			return err
		}
		if len(emails) == 0 {
			zap.L().Info("crm verify: nothing to do")
			return nil
		}

		jobID, err := env.Orchestrator.Submit(ctx, model.WorkflowVerifyOnly, emails, model.SourceCRM)
		if err != nil {
			return err
		}
		if jobID == pipeline.NoJob {
			zap.L().Info("crm verify: nothing to do")
			return nil
		}
		zap.L().Info("crm verify submitted",
			zap.Int64("batch_id", jobID),
			zap.Int("contacts", len(emails)),
		)

		return waitForJob(ctx, env, jobID)
	},
}

func init() {
	crmVerifyCmd.Flags().IntVar(&crmVerifyLimit, "limit", 1000, "max contacts to verify in one run")
	crmCmd.AddCommand(crmVerifyCmd)
	rootCmd.AddCommand(crmCmd)
}
