package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, 8, cfg.Dref.AggregationWorkers)
	assert.Equal(t, "en", cfg.Dref.CanonicalLanguage)
	assert.Equal(t, "dref:lifecycle", cfg.Dref.Events.Channel)
	assert.Equal(t, time.Second, cfg.Dref.Events.RetryDelay)
}

func TestLoadEnvOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("DREF_AGGREGATION_WORKERS", "3")
	t.Setenv("DREF_CANONICAL_LANGUAGE", " FR ")
	t.Setenv("ALLOWED_ORIGINS", "https://go.ifrc.org, ,https://staging.ifrc.org")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Dref.AggregationWorkers)
	assert.Equal(t, "fr", cfg.Dref.CanonicalLanguage)
	assert.Equal(t, []string{"https://go.ifrc.org", "https://staging.ifrc.org"}, cfg.CORS.AllowedOrigins)
}

func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
