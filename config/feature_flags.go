package config

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// FeatureFlags manages feature toggles with per-guild gradual rollout.
// Guilds are bucketed by a hash of their ID, so a guild stays in or out of
// a partial rollout across restarts.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// guildOverrides pin a feature on or off for one guild.
	guildOverrides map[string]map[string]bool
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// RolloutPercent is 0-100.
	RolloutPercent int
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	GuildID string
	UserID  string
	IsAdmin bool
}

// Predefined feature flag names.
const (
	FeatureVoiceRewards      = "voice.rewards"       // award XP for voice sessions
	FeatureAnticheat         = "moderation.anticheat" // automation detection on top of spam rules
	FeatureAutoAchievements  = "achievements.auto"    // evaluate achievements after every unit
	FeatureLeaderboardCache  = "leaderboard.cache"    // serve rankings from redis
	FeatureNotifyLevelUp     = "notify.level_up"
	FeatureNotifyAchievement = "notify.achievement"
	FeatureNotifyDaily       = "notify.daily"
	FeatureNotifyVoice       = "notify.voice"
)

var featureDefaults = []Feature{
	{Name: FeatureVoiceRewards, Description: "Award XP for time spent in voice channels", Enabled: true, RolloutPercent: 100},
	{Name: FeatureAnticheat, Description: "Detect scripted message patterns", Enabled: true, RolloutPercent: 100},
	{Name: FeatureAutoAchievements, Description: "Evaluate achievements after awards and claims", Enabled: true, RolloutPercent: 100},
	{Name: FeatureLeaderboardCache, Description: "Serve rankings from the redis sorted set", Enabled: true, RolloutPercent: 100},
	{Name: FeatureNotifyLevelUp, Description: "Forward level-up events to the notifications topic", Enabled: true, RolloutPercent: 100},
	{Name: FeatureNotifyAchievement, Description: "Forward achievement unlocks to the notifications topic", Enabled: true, RolloutPercent: 100},
	{Name: FeatureNotifyDaily, Description: "Forward daily claims to the notifications topic", Enabled: true, RolloutPercent: 100},
	// Voice notifications are chatty; off until a consumer needs them.
	{Name: FeatureNotifyVoice, Description: "Forward ended voice sessions to the notifications topic", Enabled: false, RolloutPercent: 0},
}

func featureKey(name string) string { return "features." + name }

func setFeatureDefaults(v *viper.Viper) {
	for _, f := range featureDefaults {
		v.SetDefault(featureKey(f.Name), f.Enabled)
	}
}

// LoadFeatureFlags builds the flags from the "features" section. A value
// may be a bool or a rollout percentage, e.g. GUILDXP_FEATURES_VOICE_REWARDS=25.
// A nil viper yields the defaults.
func LoadFeatureFlags(v *viper.Viper) *FeatureFlags {
	ff := NewFeatureFlags()
	if v == nil {
		return ff
	}
	for name, feature := range ff.features {
		raw := v.Get(featureKey(name))
		if raw == nil {
			continue
		}
		applyFeatureValue(feature, raw)
	}
	return ff
}

// NewFeatureFlags returns the defaults.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:       make(map[string]*Feature, len(featureDefaults)),
		guildOverrides: make(map[string]map[string]bool),
	}
	for _, f := range featureDefaults {
		f := f
		ff.features[f.Name] = &f
	}
	return ff
}

func applyFeatureValue(f *Feature, raw any) {
	switch val := raw.(type) {
	case bool:
		f.setPercent(boolPercent(val))
	case int:
		if val >= 0 && val <= 100 {
			f.setPercent(val)
		}
	case int64:
		if val >= 0 && val <= 100 {
			f.setPercent(int(val))
		}
	case float64:
		if val >= 0 && val <= 100 {
			f.setPercent(int(val))
		}
	case string:
		s := strings.TrimSpace(strings.TrimSuffix(val, "%"))
		if b, err := strconv.ParseBool(s); err == nil {
			f.setPercent(boolPercent(b))
			return
		}
		if p, err := strconv.Atoi(s); err == nil && p >= 0 && p <= 100 {
			f.setPercent(p)
		}
	}
}

func boolPercent(b bool) int {
	if b {
		return 100
	}
	return 0
}

func (f *Feature) setPercent(p int) {
	f.RolloutPercent = p
	f.Enabled = p > 0
}

// IsEnabled checks if a feature is enabled for the given context.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if ctx != nil && ctx.GuildID != "" {
		if overrides, ok := ff.guildOverrides[ctx.GuildID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}
	if ctx != nil && ctx.IsAdmin {
		return true
	}
	if !feature.Enabled {
		return false
	}
	if feature.RolloutPercent < 100 && ctx != nil && ctx.GuildID != "" {
		return inRollout(ctx.GuildID, featureName, feature.RolloutPercent)
	}
	return feature.RolloutPercent > 0
}

// Enabled is IsEnabled for a guild.
func (ff *FeatureFlags) Enabled(featureName, guildID string) bool {
	return ff.IsEnabled(featureName, &FeatureContext{GuildID: guildID})
}

func inRollout(guildID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(guildID))
	return int(h.Sum32()%100) < percent
}

// SetGuildOverride pins a feature for one guild.
func (ff *FeatureFlags) SetGuildOverride(guildID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.guildOverrides[guildID]; !ok {
		ff.guildOverrides[guildID] = make(map[string]bool)
	}
	ff.guildOverrides[guildID][featureName] = enabled
}

// ClearGuildOverrides removes all overrides for a guild.
func (ff *FeatureFlags) ClearGuildOverrides(guildID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.guildOverrides, guildID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFeatureNotFound, featureName)
	}
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}
	feature.setPercent(percent)
	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]Feature, len(ff.features))
	for k, v := range ff.features {
		result[k] = *v
	}
	return result
}

// NotificationsEnabled reports whether any notification kind is on.
func (ff *FeatureFlags) NotificationsEnabled() bool {
	return ff.IsEnabled(FeatureNotifyLevelUp, nil) ||
		ff.IsEnabled(FeatureNotifyAchievement, nil) ||
		ff.IsEnabled(FeatureNotifyDaily, nil) ||
		ff.IsEnabled(FeatureNotifyVoice, nil)
}

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
