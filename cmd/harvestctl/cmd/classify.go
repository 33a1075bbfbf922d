package cmd

import (
	"context"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/use-agent/harvest/app"
)

func init() {
	rootCmd.AddCommand(classifyCmd)
}

var classifyCmd = &cobra.Command{
	Use:   "classify <url>...",
	Short: "Print the fetch path chosen for each URL and the reason.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"URL", "Method", "Reason", "Detail"})
			for _, u := range args {
				d := a.Runner.Classify(ctx, u, "")
				t.AppendRow(table.Row{u, d.Method, d.Reason, d.Detail})
			}
			t.Render()
			return nil
		})
	},
}
