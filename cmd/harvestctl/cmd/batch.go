package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/use-agent/harvest/app"
	"github.com/use-agent/harvest/models"
)

var (
	batchOpts  scrapeFlags
	batchFile  string
	batchMode  string
	batchWidth int
	batchJSON  bool
)

func init() {
	batchOpts.bind(batchCmd, true)
	fs := batchCmd.Flags()
	fs.StringVarP(&batchFile, "file", "f", "", "read URLs from a file, one per line ('-' for stdin)")
	fs.StringVar(&batchMode, "mode", models.BatchModePool, "pool or async")
	fs.IntVar(&batchWidth, "concurrency", 0, "override the configured concurrency")
	fs.BoolVar(&batchJSON, "json", false, "print every result as JSON instead of a summary table")
	rootCmd.AddCommand(batchCmd)
}

var batchCmd = &cobra.Command{
	Use:   "batch [url]...",
	Short: "Scrape many URLs with the same options.",
	RunE: func(cmd *cobra.Command, args []string) error {
		urls := args
		if batchFile != "" {
			more, err := readURLs(cmd, batchFile)
			if err != nil {
				return err
			}
			urls = append(urls, more...)
		}
		if len(urls) == 0 {
			return fmt.Errorf("no URLs given")
		}
		if batchMode != models.BatchModePool && batchMode != models.BatchModeAsync {
			return fmt.Errorf("--mode must be %q or %q", models.BatchModePool, models.BatchModeAsync)
		}
		opts, err := batchOpts.scrapeOptions()
		if err != nil {
			return err
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			results := a.Runner.Batch(ctx, urls, opts, batchMode, batchWidth, nil)
			if batchJSON {
				return printJSON(cmd, results)
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"URL", "OK", "Type", "Method", "Attempts", "ms", "Error"})
			failed := 0
			for _, r := range results {
				msg := ""
				if r.Error != nil {
					msg = r.Error.Code
					failed++
				}
				t.AppendRow(table.Row{r.URL, r.Success, r.DataType, r.MethodUsed, r.Attempts, r.Timing.TotalMs, msg})
			}
			t.AppendFooter(table.Row{"", "", "", "", "", "failed", fmt.Sprintf("%d/%d", failed, len(results))})
			t.Render()
			return nil
		})
	},
}

func readURLs(cmd *cobra.Command, path string) ([]string, error) {
	in := cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		in = f
	}
	var urls []string
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, sc.Err()
}
