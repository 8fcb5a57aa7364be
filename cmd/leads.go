package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadpipe/internal/export"
	"github.com/sells-group/leadpipe/internal/model"
	"github.com/sells-group/leadpipe/internal/scoring"
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Inspect and export lead records",
}

// -- leads list --

var leadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List leads",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		leads, err := st.ListLeads(ctx, leadFilterFromFlags(cmd))
		if err != nil {
			return eris.Wrap(err, "leads list")
		}
		if len(leads) == 0 {
			fmt.Fprintln(os.Stderr, "No leads found.")
			return nil
		}

		formatLeadsList(os.Stdout, leads)
		return nil
	},
}

// -- leads export --

var leadsExportOut string

var leadsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export leads to a CSV file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		filter := leadFilterFromFlags(cmd)
		filter.Limit = 0 // export everything that matches

		leads, err := st.ListLeads(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "leads export")
		}

		out := leadsExportOut
		if out == "" {
			out = export.Filename("leads", time.Now())
		}
		f, err := os.Create(out)
		if err != nil {
			return eris.Wrap(err, "create export file")
		}
		defer f.Close()

		if err := export.WriteCSV(f, leads); err != nil {
			return eris.Wrap(err, "write export")
		}

		zap.L().Info("export complete",
			zap.String("file", out),
			zap.Int("leads", len(leads)),
		)
		return nil
	},
}

// -- leads rescore --

var leadsRescoreCmd = &cobra.Command{
	Use:   "rescore",
	Short: "Recompute every lead's score with the current weights",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		scoringCfg, err := scoring.LoadConfig(cfg.Scoring.ConfigPath)
		if err != nil {
			return err
		}

		leads, err := st.ListLeads(ctx, model.LeadFilter{})
		if err != nil {
			return eris.Wrap(err, "leads rescore")
		}

		rescored := 0
		for i := range leads {
			lead := &leads[i]
			score, breakdown := scoring.Score(lead, scoringCfg)
			if err := st.UpdateLeadScore(ctx, lead.Email, score, breakdown); err != nil {
				zap.L().Warn("rescore: persist", zap.String("email", lead.Email), zap.Error(err))
				continue
			}
			rescored++
		}

		zap.L().Info("rescore complete", zap.Int("rescored", rescored))
		return nil
	},
}

func leadFilterFromFlags(cmd *cobra.Command) model.LeadFilter {
	status, _ := cmd.Flags().GetString("status")
	source, _ := cmd.Flags().GetString("source")
	minScore, _ := cmd.Flags().GetInt("min-score")
	limit, _ := cmd.Flags().GetInt("limit")

	filter := model.LeadFilter{
		VerificationStatus: model.VerificationStatus(status),
		Source:             model.LeadSource(source),
		Limit:              limit,
	}
	if minScore > 0 {
		filter.ScoreMin = &minScore
	}
	return filter
}

func formatLeadsList(w io.Writer, leads []model.Lead) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EMAIL\tSTATUS\tNAME\tTITLE\tCOMPANY\tSCORE\tOUTREACH")
	for _, l := range leads {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			l.Email, l.VerificationStatus, l.FullName, l.Title,
			l.CompanyName, l.Score, l.OutreachStatus,
		)
	}
	tw.Flush()
}

func init() {
	for _, c := range []*cobra.Command{leadsListCmd, leadsExportCmd} {
		c.Flags().String("status", "", "filter by verification status (valid, invalid, catch-all, unknown)")
		c.Flags().String("source", "", "filter by lead source (csv, crm, search)")
		c.Flags().Int("min-score", 0, "only leads at or above this score")
		c.Flags().Int("limit", 100, "max number of leads")
	}
	leadsExportCmd.Flags().StringVar(&leadsExportOut, "out", "", "output file (default leads_<timestamp>.csv)")

	leadsCmd.AddCommand(leadsListCmd)
	leadsCmd.AddCommand(leadsExportCmd)
	leadsCmd.AddCommand(leadsRescoreCmd)
	rootCmd.AddCommand(leadsCmd)
}
