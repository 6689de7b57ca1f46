package guild

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/guildxp/guildxp/internal/domain/shared"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults("g1")

	assert.NoError(t, cfg.Validate())
	assert.Equal(t, shared.GuildID("g1"), cfg.GuildID)
	assert.Equal(t, time.Minute, cfg.Cooldown())
	assert.Equal(t, 2*time.Minute, cfg.StreakThreshold())
	assert.Equal(t, int64(15), cfg.XPMin)
	assert.Equal(t, int64(25), cfg.XPMax)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"inverted xp range", func(c *Config) { c.XPMin, c.XPMax = 30, 10 }},
		{"negative cooldown", func(c *Config) { c.CooldownMs = -1 }},
		{"zero duplicate threshold", func(c *Config) { c.Spam.MaxDuplicateMessages = 0 }},
		{"caps over 100", func(c *Config) { c.Spam.MaxCapsPercentage = 120 }},
		{"negative voice xp", func(c *Config) { c.Voice.XPPerMinute = -5 }},
		{"negative level coins", func(c *Config) { c.Economy.LevelUpCoinsPerLevel = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults("g1")
			tt.mutate(&cfg)
			err := cfg.Validate()
			assert.Error(t, err)
			assert.True(t, shared.IsValidation(err))
		})
	}
}
