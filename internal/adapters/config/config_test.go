package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regimesync/pkg/errors"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "regimesync", cfg.App.Name)
	assert.Equal(t, 5010, cfg.Feed.Port)
	assert.Equal(t, "127.0.0.1", cfg.Feed.Host)
	assert.Equal(t, 5005, cfg.EventBridge.Port)
	assert.Equal(t, 5010, cfg.Broadcast.Port)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Postgres.Enabled)
	assert.False(t, cfg.Telegram.Enabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("FEED_PORT", "6010")
	t.Setenv("FEED_INSTRUMENT", "NQ 03-26")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_HOST", "cache")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 6010, cfg.Feed.Port)
	assert.Equal(t, "NQ 03-26", cfg.Feed.Instrument)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr())
}

func TestValidatePort(t *testing.T) {
	tests := []struct {
		name    string
		port    int
		wantErr bool
	}{
		{"lowest valid", 1024, false},
		{"default feed port", 5010, false},
		{"highest valid", 65535, false},
		{"privileged", 80, true},
		{"zero", 0, true},
		{"negative", -1, true},
		{"out of range", 70000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePort(tt.port)
			if tt.wantErr {
				assert.ErrorIs(t, err, errors.ErrInvalidPort)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadRejectsInvalidFeedPort(t *testing.T) {
	t.Setenv("FEED_PORT", "80")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidPort)
}

func TestPostgresDSN(t *testing.T) {
	cfg := PostgresConfig{
		Host: "db", Port: 5432, User: "u", Password: "p",
		Database: "regimes", SSLMode: "disable",
	}

	assert.Equal(t, "host=db port=5432 user=u password=p dbname=regimes sslmode=disable", cfg.DSN())
}
