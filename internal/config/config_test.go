package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.DevMode)
	assert.Equal(t, 10000.0, cfg.StartCash)
	assert.Equal(t, 0.02, cfg.AnnualInterest)
	assert.Equal(t, 0.0005, cfg.FeeRate)
	assert.Equal(t, 3.0, cfg.MarketDataRateLimit)
	assert.Equal(t, "https://data.alpaca.markets", cfg.MarketDataBaseURL)
	assert.False(t, cfg.Backup.Enabled)
	assert.Equal(t, 7, cfg.Backup.Keep)
	assert.True(t, filepath.IsAbs(cfg.DataDir))
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("PORT", "9000")
	t.Setenv("ANALYST_ADDRESS", "0xabc")
	t.Setenv("START_CASH", "25000")
	t.Setenv("ANNUAL_INTEREST", "0.05")
	t.Setenv("FEE_RATE", "0")
	t.Setenv("DEV_MODE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "0xabc", cfg.AnalystAddress)
	assert.Equal(t, 25000.0, cfg.StartCash)
	assert.Equal(t, 0.05, cfg.AnnualInterest)
	assert.Equal(t, 0.0, cfg.FeeRate)
	assert.True(t, cfg.DevMode)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non-numeric port", "PORT", "not-a-port"},
		{"non-numeric start cash", "START_CASH", "lots"},
		{"zero start cash", "START_CASH", "0"},
		{"negative interest", "ANNUAL_INTEREST", "-0.01"},
		{"negative fee", "FEE_RATE", "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATA_DIR", t.TempDir())
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadBackupRequiresBucket(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("BACKUP_ENABLED", "true")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BACKUP_S3_BUCKET")
}

func TestDatabasePath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "ledger.db"), cfg.DatabasePath("ledger"))
}
