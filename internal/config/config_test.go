package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/modwatch/internal/platform"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2*time.Second, cfg.PollInterval())
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout())
	assert.Equal(t, platform.DefaultCatalog(), cfg.Catalog())
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.Service.BaseURL = "http://scraper.internal:9000"
	cfg.Moderation.HateLabels = []string{"hate", "sarcasm"}
	require.NoError(t, cfg.SaveTo(path))

	loaded, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadFrom_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[polling]
interval_ms = 500

[[platforms]]
tag = "facebook"
name = "Facebook"
`), 0600))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval())
	assert.Equal(t, 3, cfg.Polling.ResyncAttempts)
	assert.Equal(t, "http://localhost:8000", cfg.Service.BaseURL)

	catalog := cfg.Catalog()
	require.Len(t, catalog, 1)
	assert.Equal(t, platform.Facebook, catalog[0].Tag)
	assert.Nil(t, catalog[0].Active)
}

func TestLoadFrom_Missing(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "nope.toml"))
	assert.True(t, os.IsNotExist(err))
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Service.BaseURL = "localhost"
	cfg.Polling.IntervalMillis = 0
	cfg.Scraping.DefaultDays = -1
	cfg.Moderation.HateLabels = nil
	cfg.Dashboard.ReportTime = "8am"
	cfg.Email.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"service.base_url", "polling.interval_ms", "scraping.default_days", "moderation.hate_labels", "dashboard.report_time", "email.smtp_host"} {
		assert.ErrorContains(t, err, want)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MODWATCH_API_URL", "http://env:8000")
	t.Setenv("MODWATCH_LOG_LEVEL", "debug")

	cfg := Default()
	cfg.ApplyEnv()
	assert.Equal(t, "http://env:8000", cfg.Service.BaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestArchivePath(t *testing.T) {
	cfg := Default()
	cfg.Archive.Path = "/tmp/x.db"
	p, err := cfg.ArchivePath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", p)
}
