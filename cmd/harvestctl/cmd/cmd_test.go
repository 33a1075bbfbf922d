package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/harvest/models"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HARVEST_BROWSER", "false")
	t.Setenv("HARVEST_SINK", "none")
	t.Setenv("HARVEST_LOG_LEVEL", "error")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestExtract_Stdin(t *testing.T) {
	html := `<html><body><h1>Hello</h1><span class="n">42</span></body></html>`
	out, err := run(t, html, "extract", "-", "--selectors", `{"title":"h1","n":".n"}`)
	require.NoError(t, err)

	var res models.ScrapeResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Success)
	assert.Equal(t, models.DataTypeCustom, res.DataType)
	data, ok := res.Data["extracted_data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Hello", data["title"])
	assert.Equal(t, float64(42), data["n"])
}

func TestExtract_BadSelectors(t *testing.T) {
	_, err := run(t, "", "extract", "-", "--selectors", `not json`)
	assert.ErrorContains(t, err, "--selectors")
}

func TestScrapeFlags(t *testing.T) {
	var f scrapeFlags
	c := &cobra.Command{Use: "x"}
	f.bind(c, true)
	require.NoError(t, c.ParseFlags([]string{
		"-t", "product", "-m", "browser", "--load-more", "--max-age", "500", "--store", "--raw",
	}))

	opts, err := f.scrapeOptions()
	require.NoError(t, err)
	assert.Equal(t, models.DataTypeProduct, opts.DataType)
	assert.Equal(t, models.MethodBrowser, opts.Method)
	assert.True(t, opts.LoadMore)
	assert.Equal(t, int64(500), opts.MaxAge)
	assert.True(t, opts.Store)
	assert.True(t, opts.SkipTransform)
}

func TestReadURLs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	require.NoError(t, os.WriteFile(path, []byte("https://a.test/\n\n# comment\n  https://b.test/  \n"), 0o644))

	c := &cobra.Command{}
	urls, err := readURLs(c, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.test/", "https://b.test/"}, urls)

	c.SetIn(strings.NewReader("https://c.test/\n"))
	urls, err = readURLs(c, "-")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://c.test/"}, urls)
}
