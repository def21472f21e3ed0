package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis://localhost:6379/0", cfg.LiveStoreURL)
	assert.Equal(t, 2000, cfg.SchedulerTickMS)
	assert.Equal(t, 5, cfg.PaymentWindowMinutes)
	assert.Equal(t, "10.00", cfg.DefaultMinIncrementPercent)
	assert.Equal(t, 3600, cfg.LiveStateTTLGraceSeconds)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.False(t, cfg.SeedDemoData)
	assert.True(t, cfg.MinIncrement().Equal(dec(t, "10.00")))
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AUCTION_SCHEDULER_TICK_MS", "500")
	t.Setenv("AUCTION_PAYMENT_WINDOW_MINUTES", "2")
	t.Setenv("AUCTION_DEFAULT_MIN_INCREMENT_PERCENT", "5.50")
	t.Setenv("AUCTION_LIVE_STORE_URL", "redis://cache:6379/1")
	t.Setenv("AUCTION_SEED_DEMO_DATA", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.SchedulerTickMS)
	assert.Equal(t, 2, cfg.PaymentWindowMinutes)
	assert.Equal(t, "redis://cache:6379/1", cfg.LiveStoreURL)
	assert.True(t, cfg.SeedDemoData)
	assert.True(t, cfg.MinIncrement().Equal(dec(t, "5.50")))
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero tick", func(c *Config) { c.SchedulerTickMS = 0 }},
		{"negative payment window", func(c *Config) { c.PaymentWindowMinutes = -1 }},
		{"empty live store url", func(c *Config) { c.LiveStoreURL = "" }},
		{"empty durable store url", func(c *Config) { c.DurableStoreURL = "" }},
		{"garbage increment", func(c *Config) { c.DefaultMinIncrementPercent = "ten percent" }},
		{"zero increment", func(c *Config) { c.DefaultMinIncrementPercent = "0" }},
		{"tiny ttl grace", func(c *Config) { c.LiveStateTTLGraceSeconds = 10 }},
		{"zero rate limit", func(c *Config) { c.BidRateLimit = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "2s", cfg.TickInterval().String())
	assert.Equal(t, "5m0s", cfg.PaymentWindow().String())
	assert.Equal(t, "1h0m0s", cfg.TTLGrace().String())
	assert.Equal(t, "15s", cfg.ShutdownTimeout().String())
}
