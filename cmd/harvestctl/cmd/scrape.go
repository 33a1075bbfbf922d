package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/use-agent/harvest/app"
	"github.com/use-agent/harvest/models"
)

// scrapeFlags are shared by the commands that extract records.
type scrapeFlags struct {
	dataType   string
	selectors  string
	template   string
	noTemplate bool
	method     string
	loadMore   bool
	maxReviews int
	maxAge     int64
	store      bool
	raw        bool
}

func (f *scrapeFlags) bind(cmd *cobra.Command, fetching bool) {
	fs := cmd.Flags()
	fs.StringVarP(&f.dataType, "data-type", "t", "", "general, product, review, custom or pattern_detection")
	fs.StringVarP(&f.selectors, "selectors", "s", "", `JSON object of field to selector, e.g. '{"title":"h1"}'`)
	fs.StringVar(&f.template, "template", "", "apply the named selector template")
	fs.BoolVar(&f.noTemplate, "no-template", false, "never apply a matching template")
	fs.IntVar(&f.maxReviews, "max-reviews", 0, "cap the number of reviews collected")
	fs.BoolVar(&f.raw, "raw", false, "skip the transform stage")
	if fetching {
		fs.StringVarP(&f.method, "method", "m", "", "force the fetch path: static or browser")
		fs.BoolVar(&f.loadMore, "load-more", false, "click load-more controls before extracting")
		fs.Int64Var(&f.maxAge, "max-age", 0, "accept a cached result up to this many milliseconds old")
		fs.BoolVar(&f.store, "store", false, "persist the record to the configured sink")
	}
}

func (f *scrapeFlags) extractOptions() (models.ExtractOptions, error) {
	opts := models.ExtractOptions{
		DataType:      f.dataType,
		Template:      f.template,
		NoTemplate:    f.noTemplate,
		MaxReviews:    f.maxReviews,
		SkipTransform: f.raw,
	}
	if f.selectors != "" {
		if err := json.Unmarshal([]byte(f.selectors), &opts.Selectors); err != nil {
			return opts, fmt.Errorf("--selectors: %w", err)
		}
	}
	return opts, nil
}

func (f *scrapeFlags) scrapeOptions() (models.ScrapeOptions, error) {
	eo, err := f.extractOptions()
	if err != nil {
		return models.ScrapeOptions{}, err
	}
	return models.ScrapeOptions{
		ExtractOptions: eo,
		Method:         models.Method(f.method),
		LoadMore:       f.loadMore,
		MaxAge:         f.maxAge,
		Store:          f.store,
	}, nil
}

var (
	scrapeOpts  scrapeFlags
	extractOpts scrapeFlags
	extractURL  string
)

func init() {
	scrapeOpts.bind(scrapeCmd, true)
	rootCmd.AddCommand(scrapeCmd)

	extractOpts.bind(extractCmd, false)
	extractCmd.Flags().StringVarP(&extractURL, "url", "u", "", "page URL for link resolution and template matching")
	rootCmd.AddCommand(extractCmd)

	rootCmd.AddCommand(patternsCmd)
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape <url>",
	Short: "Fetch a page and print the extracted record as JSON.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := scrapeOpts.scrapeOptions()
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			res := a.Runner.Scrape(ctx, &models.ScrapeRequest{URL: args[0], ScrapeOptions: opts})
			return result(cmd, res)
		})
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract <file|->",
	Short: "Extract a record from an HTML file (or stdin) without fetching.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := extractOpts.extractOptions()
		if err != nil {
			return err
		}
		html, err := readInput(cmd, args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			res := a.Runner.Extract(ctx, &models.ExtractRequest{HTML: html, URL: extractURL, ExtractOptions: opts})
			return result(cmd, res)
		})
	},
}

var patternsCmd = &cobra.Command{
	Use:   "patterns <url>",
	Short: "Detect repeated structures on a page.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &models.ScrapeRequest{URL: args[0]}
		req.DataType = models.DataTypePatternDetection
		req.NoTemplate = true
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return result(cmd, a.Runner.Scrape(ctx, req))
		})
	},
}

// result prints res and turns a failed result into a command error.
func result(cmd *cobra.Command, res *models.ScrapeResult) error {
	if err := printJSON(cmd, res); err != nil {
		return err
	}
	if !res.Success && res.Error != nil {
		return fmt.Errorf("%s: %s", res.Error.Code, res.Error.Message)
	}
	return nil
}

func readInput(cmd *cobra.Command, path string) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		return string(b), err
	}
	b, err := os.ReadFile(path)
	return string(b), err
}
