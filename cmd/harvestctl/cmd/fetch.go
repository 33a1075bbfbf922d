package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/use-agent/harvest/app"
	"github.com/use-agent/harvest/models"
)

var (
	fetchMethod string
	fetchHTML   bool
)

func init() {
	fetchCmd.Flags().StringVarP(&fetchMethod, "method", "m", "", "force the fetch path: static or browser")
	fetchCmd.Flags().BoolVar(&fetchHTML, "html", false, "print only the page HTML")
	rootCmd.AddCommand(fetchCmd)
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Fetch a page through the escalation ladder and print the outcome.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &models.ScrapeRequest{URL: args[0]}
		req.Method = models.Method(fetchMethod)
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			res := a.Runner.Fetch(ctx, req)
			if fetchHTML && res.OK() {
				_, err := fmt.Fprint(cmd.OutOrStdout(), res.Content)
				return err
			}
			out := models.NewFetchResponse(res)
			if !fetchHTML {
				out.Content = ""
			}
			if err := printJSON(cmd, out); err != nil {
				return err
			}
			return res.Err
		})
	},
}
