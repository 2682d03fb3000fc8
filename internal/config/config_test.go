package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "AlphaMachine", cfg.App.Name)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "alphamachine", cfg.Database.Database)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, 0.10, cfg.Signals.StopLossPct)
	assert.Equal(t, 0.25, cfg.Signals.TakeProfitPct)
	assert.Equal(t, 0.30, cfg.Learning.WeightMin)
	assert.Equal(t, 2.00, cfg.Learning.WeightMax)
	assert.Equal(t, 0.80, cfg.Learning.MinConfidenceForAuto)
	assert.Equal(t, "America/New_York", cfg.Scheduler.Timezone)
	assert.True(t, cfg.Agents.RuleBasedEnabled)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
app:
  name: AlphaMachineTest
  log_level: debug
signals:
  portfolio_value: 250000.0
learning:
  auto_enabled: true
  human_review_required: false
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "AlphaMachineTest", cfg.App.Name)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, 250000.0, cfg.Signals.PortfolioValue)
	assert.True(t, cfg.Learning.AutoEnabled)
	assert.False(t, cfg.Learning.HumanReviewRequired)
	// Untouched keys keep their defaults
	assert.Equal(t, 0.10, cfg.Signals.MaxPositionPct)
}

func TestValidateRejectsBadBounds(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Learning.WeightMin = 2.5
	assert.Error(t, cfg.Validate())

	cfg.Learning.WeightMin = 0.30
	cfg.Backtest.HoldPeriodDays = 0
	assert.Error(t, cfg.Validate())

	cfg.Backtest.HoldPeriodDays = 14
	cfg.Scheduler.Timezone = "Not/AZone"
	assert.Error(t, cfg.Validate())
}

func TestGetDSN(t *testing.T) {
	dc := DatabaseConfig{
		Host: "db", Port: 5432, User: "u", Password: "p",
		Database: "alphamachine", SSLMode: "disable",
	}
	assert.Equal(t,
		"host=db port=5432 user=u password=p dbname=alphamachine sslmode=disable",
		dc.GetDSN())
}
