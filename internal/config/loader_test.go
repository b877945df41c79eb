package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "us-east-1", cfg.Region)
	assert.Equal(t, "/", cfg.Delimiter)
	assert.Equal(t, 10000, cfg.MaxParallelism)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 100000, cfg.ExpansionCap)
	assert.Equal(t, 10000, cfg.FrontierWarn)
	assert.Equal(t, 8, cfg.DownloadPools)
	assert.Equal(t, 5, cfg.RetryAttempts)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("S3GLOB_MAX_PARALLELISM", "500")
	t.Setenv("S3GLOB_REGION", "eu-west-1")
	t.Setenv("S3GLOB_REQUEST_TIMEOUT", "45s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.MaxParallelism)
	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.Equal(t, 45*time.Second, cfg.RequestTimeout)

	// Unrelated values keep their defaults.
	assert.Equal(t, "/", cfg.Delimiter)
}

func TestGetConfig_ReturnsLoaded(t *testing.T) {
	t.Setenv("S3GLOB_DOWNLOAD_POOLS", "4")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.DownloadPools)

	assert.Equal(t, cfg.DownloadPools, GetConfig().DownloadPools)
}
