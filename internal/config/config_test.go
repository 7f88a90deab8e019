package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 1, cfg.Scraper.Concurrency)
	require.Equal(t, 100, cfg.Scraper.RateLimitPerHour)
	require.Equal(t, 2, cfg.Failure.Threshold)
	require.Equal(t, 10*time.Minute, cfg.FailureWindow())
	require.Equal(t, 20*time.Minute, cfg.CooldownDuration())
	require.Equal(t, 2*time.Minute, cfg.NotifyInterval())
	require.Equal(t, "scrape_jobs", cfg.DB.JobsTable)
	require.Equal(t, "scrape_jobs_priority", cfg.DB.PriorityTable)
	require.Equal(t, "none", cfg.Snapshots.Provider)
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
scraper:
  concurrency: 3
  rate_limit_per_hour: 40
failure:
  threshold: 5
db:
  dsn: postgres://localhost/iptu
`)
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Scraper.Concurrency)
	require.Equal(t, 40, cfg.Scraper.RateLimitPerHour)
	require.Equal(t, 5, cfg.Failure.Threshold)
	require.Equal(t, "postgres://localhost/iptu", cfg.DB.DSN)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Scraper.Concurrency = 0
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Failure.Threshold = 0
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Snapshots.Provider = "s3"
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Snapshots.Provider = "gcs"
	cfg.Snapshots.GCSBucket = ""
	require.Error(t, cfg.Validate())
}
