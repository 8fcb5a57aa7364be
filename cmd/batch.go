package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadpipe/internal/model"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Inspect batch job history",
	Long:  "Commands for listing, viewing, and cancelling batch jobs.",
}

// -- batch list --

var batchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List batch jobs",
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

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		jobs, err := st.ListJobs(ctx, model.JobFilter{
			Status: model.JobStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "batch list")
		}

		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No batches found.")
			return nil
		}

		formatBatchList(os.Stdout, jobs)
		return nil
	},
}

// -- batch show --

var batchShowCmd = &cobra.Command{
	Use:   "show <batch-id>",
	Short: "Show full details of a batch job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Errorf("invalid batch id %q", args[0])
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		job, err := st.GetJob(ctx, id)
		if err != nil {
			return eris.Wrap(err, "batch show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(job); err != nil {
			return err
		}

		log, err := st.ListSyncLog(ctx, id)
		if err != nil {
			return eris.Wrap(err, "batch show sync log")
		}
		if len(log) > 0 {
			formatSyncLog(os.Stdout, log)
		}
		return nil
	},
}

func formatBatchList(w io.Writer, jobs []model.BatchJob) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWORKFLOW\tSTATUS\tPHASE\tTOTAL\tPROCESSED\tVALID\tINVALID\tCREATED")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			j.ID, j.Workflow, j.Status, j.Phase,
			j.Total, j.Processed, j.ValidCount, j.InvalidCount,
			j.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	tw.Flush()
}

func formatSyncLog(w io.Writer, entries []model.SyncLogEntry) {
	fmt.Fprintln(w, "\nSync log:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EMAIL\tTARGET\tOUTCOME\tEXTERNAL_ID\tERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.Email, e.Target, e.Outcome, e.ExternalID, e.Error,
		)
	}
	tw.Flush()
}

func init() {
	batchListCmd.Flags().String("status", "", "filter by status (queued, processing, completed, failed, cancelled)")
	batchListCmd.Flags().Int("limit", 50, "max number of batches to display")

	batchCmd.AddCommand(batchListCmd)
	batchCmd.AddCommand(batchShowCmd)
	rootCmd.AddCommand(batchCmd)
}
