package app

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/models"
)

func testConfig() *config.Config {
	cfg := config.Load()
	cfg.Browser.Enabled = false
	cfg.Sink.Driver = "memory"
	return cfg
}

func TestNew_StaticOnly(t *testing.T) {
	a, err := New(context.Background(), testConfig())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Pool)
	assert.False(t, a.Fetcher.HasBrowser())
	assert.NotNil(t, a.Sink)
	assert.NotNil(t, a.Metrics.Registry)

	res := a.Runner.Extract(context.Background(), &models.ExtractRequest{
		HTML: `<html><body><h1>Hello</h1></body></html>`,
		ExtractOptions: models.ExtractOptions{
			Selectors: models.SelectorSpec{"h": models.Shorthand("h1")},
		},
	})
	require.True(t, res.Success, "%+v", res.Error)
	assert.Equal(t, "Hello", res.Data["extracted_data"].(map[string]any)["h"])
}

func TestNew_Errors(t *testing.T) {
	cfg := testConfig()
	cfg.Proxy.List = []string{"ftp://nope:1"}
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Templates.Dir = t.TempDir() + "/missing"
	_, err = New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNew_NoSink(t *testing.T) {
	cfg := testConfig()
	cfg.Sink.Driver = "none"
	cfg.Cache.MaxEntries = 0
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.Sink)
}

func TestInitLogger(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	InitLogger(config.LogConfig{Level: "warn", Format: "text"}, &buf)
	slog.Info("hidden")
	slog.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
}
