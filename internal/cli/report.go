package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/rendercheck/report"
)

func newReportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the last run's summary as Markdown",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sum, err := report.Read(a.cfg.Server.ResultsDir)
			if err != nil {
				return err
			}
			if a.v.GetBool("report.json") {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(sum.Categories()); err != nil {
					return err
				}
			} else if err := a.writeMarkdown(sum, "-"); err != nil {
				return err
			}
			if a.v.GetBool("report.check") {
				_, err := report.CheckHealth(sum)
				return err
			}
			return nil
		},
	}
	cmd.Flags().Bool("check", false, "exit non-zero when the health bounds fail")
	cmd.Flags().Bool("json", false, "print per-category counts as JSON instead")
	mustBind(a.v, "report.check", cmd.Flags().Lookup("check"))
	mustBind(a.v, "report.json", cmd.Flags().Lookup("json"))
	return cmd
}
