package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "guildxp", cfg.App.Name)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, time.UTC, cfg.App.Location)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "guildxp.events", cfg.Kafka.Topics.Events)
	assert.Equal(t, int64(15), cfg.Engine.Defaults.XPMin)
	assert.Equal(t, int64(25), cfg.Engine.Defaults.XPMax)
	assert.Equal(t, int64(500), cfg.Engine.Defaults.Voice.MaxDailyVoiceXP)
	assert.Equal(t, 5*time.Minute, cfg.Engine.History.TTL)
	assert.True(t, cfg.Features.Enabled(FeatureVoiceRewards, "g1"))
	assert.False(t, cfg.Features.Enabled(FeatureNotifyVoice, "g1"))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GUILDXP_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("GUILDXP_ENGINE_DEFAULTS_XP_MAX", "40")
	t.Setenv("GUILDXP_ENGINE_HISTORY_TTL", "90s")
	t.Setenv("GUILDXP_FEATURES_VOICE_REWARDS", "false")
	t.Setenv("GUILDXP_HTTP_ADDR", ":9999")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, int64(40), cfg.Engine.Defaults.XPMax)
	assert.Equal(t, 90*time.Second, cfg.Engine.History.TTL)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.False(t, cfg.Features.Enabled(FeatureVoiceRewards, "g1"))
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guildxp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  env: staging
  timezone: Asia/Almaty
engine:
  defaults:
    cooldown_ms: 30000
  workers: 8
features:
  notify:
    voice: true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, EnvStaging, cfg.App.Environment)
	assert.Equal(t, "Asia/Almaty", cfg.App.Location.String())
	assert.Equal(t, int64(30000), cfg.Engine.Defaults.CooldownMs)
	assert.Equal(t, int64(15), cfg.Engine.Defaults.XPMin)
	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.True(t, cfg.Features.Enabled(FeatureNotifyVoice, "g1"))
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestValidate_CollectsErrors(t *testing.T) {
	t.Setenv("GUILDXP_APP_ENV", "production")
	t.Setenv("GUILDXP_ENGINE_DEFAULTS_XP_MIN", "50")
	t.Setenv("GUILDXP_HTTP_MODE", "loud")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres.url is required in production")
	assert.Contains(t, err.Error(), "engine.defaults")
	assert.Contains(t, err.Error(), "http.mode")
}
