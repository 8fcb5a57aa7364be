package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/leadpipe/internal/adapter"
	"github.com/sells-group/leadpipe/pkg/instantly"
)

var campaignsAnalytics bool

var campaignsCmd = &cobra.Command{
	Use:   "campaigns",
	Short: "List outreach campaigns",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		campaigns, err := adapter.DoVal(ctx, env.InstantlyGate, "list_campaigns",
			env.Instantly.ListCampaigns)
		if err != nil {
			return adapter.Wrap("instantly", "list_campaigns", err)
		}
		if len(campaigns) == 0 {
			fmt.Fprintln(os.Stderr, "No campaigns found.")
			return nil
		}

		if !campaignsAnalytics {
			formatCampaignsList(os.Stdout, campaigns)
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tLEADS\tCONTACTED\tREPLIES\tBOUNCED")
		for _, c := range campaigns {
			stats, err := adapter.DoVal(ctx, env.InstantlyGate, "campaign_analytics",
				func(ctx context.Context) (*instantly.Analytics, error) {
					return env.Instantly.CampaignAnalytics(ctx, c.ID)
				})
			if err != nil {
				return adapter.Wrap("instantly", "campaign_analytics", err)
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
				c.ID, c.Name, c.Status,
				stats.LeadsCount, stats.ContactedCount, stats.RepliesCount, stats.BouncedCount,
			)
		}
		tw.Flush()
		return nil
	},
}

func formatCampaignsList(w io.Writer, campaigns []instantly.Campaign) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS")
	for _, c := range campaigns {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", c.ID, c.Name, c.Status)
	}
	tw.Flush()
}

func init() {
	campaignsCmd.Flags().BoolVar(&campaignsAnalytics, "analytics", false, "include per-campaign analytics")
	rootCmd.AddCommand(campaignsCmd)
}
