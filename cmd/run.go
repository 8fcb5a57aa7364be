package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadpipe/internal/ingest"
	"github.com/sells-group/leadpipe/internal/model"
)

var (
	runWorkflow string
	runFile     string
)

var runCmd = &cobra.Command{
	Use:   "run [email ...]",
	Short: "Run the pipeline over a lead file or an explicit email list",
	Long: `Submits a batch job and blocks until it finishes. Leads come either
from --file (CSV or XLSX) or from emails passed as arguments.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		workflow := model.WorkflowKind(runWorkflow)
		if !workflow.Valid() {
			return eris.Errorf("unknown workflow %q", runWorkflow)
		}

		emails := args
		source := model.LeadSource("")
		if runFile != "" {
			if len(args) > 0 {
				return eris.New("pass either --file or emails, not both")
			}
			leads, report, err := readLeadFile(runFile)
			if err != nil {
				return err
			}
			zap.L().Info("file imported",
				zap.String("file", runFile),
				zap.Int("rows", report.Rows),
				zap.Int("imported", report.Imported),
				zap.Int("skipped", report.Skipped),
			)
			for _, l := range leads {
				emails = append(emails, l.Email)
			}
			source = model.SourceCSV
		}
		if len(emails) == 0 {
			return eris.New("no emails to process")
		}
		if source == "" {
			source = model.SourceCSV
		}

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		jobID, err := env.Orchestrator.Submit(ctx, workflow, emails, source)
		if err != nil {
			return err
		}
		zap.L().Info("batch submitted",
			zap.Int64("batch_id", jobID),
			zap.String("workflow", string(workflow)),
			zap.Int("emails", len(emails)),
		)

		return waitForJob(ctx, env, jobID)
	},
}

// readLeadFile parses a CSV or XLSX lead file by extension.
func readLeadFile(path string) ([]model.Lead, *ingest.Report, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, eris.Wrap(err, "open lead file")
		}
		defer f.Close()
		return ingest.ReadCSV(f)
	case ".xlsx":
		return ingest.ReadXLSX(path)
	default:
		return nil, nil, eris.Errorf("unsupported lead file %q (want .csv or .xlsx)", path)
	}
}

func init() {
	runCmd.Flags().StringVar(&runWorkflow, "workflow", string(model.WorkflowFullPipeline),
		"workflow to run (verify_only, verify_enrich, full_pipeline, sync_only)")
	runCmd.Flags().StringVar(&runFile, "file", "", "lead file to import (CSV or XLSX)")
	rootCmd.AddCommand(runCmd)
}
