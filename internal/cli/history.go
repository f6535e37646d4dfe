package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/rendercheck/history"
)

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs and fixtures whose outcome flips between runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := history.Open(a.cfg.History.Path, a.logger)
			if err != nil {
				return err
			}
			defer store.Close()
			ctx := cmd.Context()
			limit := a.v.GetInt("history.limit")

			if id := a.v.GetString("history.fixture"); id != "" {
				outcomes, err := store.FixtureHistory(ctx, id, limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "RUN\tSTARTED\tSTATUS\tDIFF\tMS\tERROR")
				for _, o := range outcomes {
					diff := "-"
					if o.Difference != nil {
						diff = fmt.Sprintf("%.6f", *o.Difference)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", o.RunID, o.StartedAt.Format(time.DateTime),
						o.Status, diff, o.DurationMS, o.Error)
				}
				return tw.Flush()
			}

			runs, err := store.Runs(ctx, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tSTARTED\tTOTAL\tPASS\tFAIL\tERROR\tSKIP\tHEALTHY")
			for _, r := range runs {
				healthy := "-"
				if r.Healthy != nil {
					healthy = fmt.Sprint(*r.Healthy)
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n", r.ID, r.StartedAt.Format(time.DateTime),
					r.Total, r.Pass, r.Fail, r.Error, r.Skip, healthy)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			flaky, err := store.FlakyFixtures(ctx, a.cfg.History.FlakyRuns, limit)
			if err != nil {
				return err
			}
			if len(flaky) == 0 {
				return nil
			}
			fmt.Fprintf(a.stdout, "\nFlaky over the last %d runs:\n", a.cfg.History.FlakyRuns)
			tw = tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FIXTURE\tRUNS\tPASS\tFAIL\tERROR\tFLIPS")
			for _, f := range flaky {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", f.ID, f.Runs, f.Pass, f.Fail, f.Error, f.Transitions)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Int("limit", 20, "maximum rows to print")
	cmd.Flags().String("fixture", "", "show one fixture's outcomes across runs")
	mustBind(a.v, "history.limit", cmd.Flags().Lookup("limit"))
	mustBind(a.v, "history.fixture", cmd.Flags().Lookup("fixture"))
	return cmd
}
