package moderation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/guildxp/guildxp/internal/domain/guild"
	"github.com/guildxp/guildxp/internal/domain/shared"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func settings() guild.SpamSettings { return guild.Defaults("g1").Spam }

func history(content string, n int, age time.Duration) []HistoryEntry {
	out := make([]HistoryEntry, n)
	for i := range out {
		out[i] = HistoryEntry{Content: content, At: now.Add(-age)}
	}
	return out
}

func TestClassify_Rules(t *testing.T) {
	c := NewClassifier()
	tests := []struct {
		name    string
		content string
		hist    []HistoryEntry
		flag    Flag
		damping float64
	}{
		{"clean", "hello there, how is everyone?", nil, FlagNone, 1.0},
		{"duplicate case folded", "Hello", history("hELLO", 3, 10*time.Second), FlagDuplicate, 0.5},
		{"duplicate outside window", "Hello", history("hello", 3, 61*time.Second), FlagNone, 1.0},
		{"two duplicates not enough", "Hello", history("hello", 2, 10*time.Second), FlagNone, 1.0},
		{"caps", "THIS IS LOUD TEXT", nil, FlagCaps, 0.7},
		{"caps too short", "SHOUTING!!", nil, FlagNone, 1.0},
		{"emoji flood", strings.Repeat("\U0001F600", 10), nil, FlagEmoji, 0.8},
		{"emoji below limit", strings.Repeat("\U0001F600", 9), nil, FlagNone, 1.0},
		{"low entropy", strings.Repeat("a", 25), nil, FlagPattern, 0.3},
		{"short repetition ignored", strings.Repeat("a", 20), nil, FlagNone, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := c.Classify(Message{Content: tt.content, At: now}, tt.hist, settings())
			assert.Equal(t, tt.flag, v.Flag)
			assert.Equal(t, tt.damping, v.Damping)
		})
	}
}

func TestClassify_Precedence(t *testing.T) {
	c := NewClassifier()
	loud := "AAAAAAAAAAAAAAAAAAAAAAAAA" // caps and low entropy
	v := c.Classify(Message{Content: loud, At: now}, nil, settings())
	assert.Equal(t, FlagCaps, v.Flag)

	v = c.Classify(Message{Content: loud, At: now}, history(loud, 3, time.Second), settings())
	assert.Equal(t, FlagDuplicate, v.Flag)
}

func TestClassify_Disabled(t *testing.T) {
	s := settings()
	s.Enabled = false
	v := NewClassifier().Classify(Message{Content: strings.Repeat("A", 40), At: now}, nil, s)
	assert.Equal(t, Clean, v)
}

func TestClassify_PenaltyDisabledKeepsFlag(t *testing.T) {
	s := settings()
	s.XPPenaltyEnabled = false
	v := NewClassifier().Classify(Message{Content: strings.Repeat("a", 30), At: now}, nil, s)
	assert.Equal(t, FlagPattern, v.Flag)
	assert.Equal(t, 1.0, v.Damping)
}

func TestProperty_DampingInUnitInterval(t *testing.T) {
	c := NewClassifier()
	rapid.Check(t, func(rt *rapid.T) {
		content := rapid.String().Draw(rt, "content")
		n := rapid.IntRange(0, 5).Draw(rt, "dups")
		v := c.Classify(Message{Content: content, At: now}, history(content, n, time.Second), settings())
		if v.Damping <= 0 || v.Damping > 1 {
			rt.Fatalf("damping %v out of (0,1]", v.Damping)
		}
		if v.Flagged() != (v.Damping < 1) {
			rt.Fatalf("flag %q inconsistent with damping %v", v.Flag, v.Damping)
		}
	})
}

func TestCountEmoji(t *testing.T) {
	assert.Equal(t, 0, CountEmoji("plain text"))
	assert.Equal(t, 3, CountEmoji("\U0001F680 \u2600 \u2702"))
	assert.Equal(t, 2, CountEmoji("\U0001F1F0\U0001F1FF"))
}

func TestRingHistory(t *testing.T) {
	ctx := context.Background()
	key := shared.Key{UserID: "u", GuildID: "g"}
	h := NewRingHistory(3, time.Minute)

	for i := 0; i < 5; i++ {
		require.NoError(t, h.Record(ctx, key, HistoryEntry{Content: "m", At: now.Add(time.Duration(i) * time.Second)}))
	}
	got, err := h.Recent(ctx, key, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, now.Add(2*time.Second), got[0].At)

	require.NoError(t, h.Record(ctx, key, HistoryEntry{Content: "late", At: now.Add(2 * time.Minute)}))
	got, _ = h.Recent(ctx, key, now.Add(-time.Hour))
	assert.Len(t, got, 1, "entries beyond ttl are dropped")

	other, _ := h.Recent(ctx, shared.Key{UserID: "x", GuildID: "g"}, now.Add(-time.Hour))
	assert.Empty(t, other)
}

func TestDetectAutomation(t *testing.T) {
	var rapidHist []HistoryEntry
	for i := 0; i < 5; i++ {
		rapidHist = append(rapidHist, HistoryEntry{Content: strings.Repeat("x", i+1), At: now.Add(-time.Duration(5-i) * 200 * time.Millisecond)})
	}
	assert.Equal(t, FlagRapid, DetectAutomation(Message{Content: "y", At: now}, rapidHist).Flag)

	copyHist := history("same text", 3, time.Minute)
	assert.Equal(t, FlagCopyPaste, DetectAutomation(Message{Content: "same text", At: now}, copyHist).Flag)

	var botHist []HistoryEntry
	for i := 0; i < 6; i++ {
		botHist = append(botHist, HistoryEntry{Content: "abcdefgh" + string(rune('a'+i)), At: now.Add(-time.Duration(6-i) * time.Minute)})
	}
	v := DetectAutomation(Message{Content: "new", At: now}, botHist)
	assert.Equal(t, FlagBotPattern, v.Flag)
	assert.Equal(t, 1.0, v.Damping)

	assert.Equal(t, Clean, DetectAutomation(Message{Content: "hi", At: now}, nil))
}

func TestActionFor(t *testing.T) {
	s := settings()
	assert.Equal(t, ActionNone, ActionFor(2, s))
	assert.Equal(t, ActionWarn, ActionFor(3, s))
	assert.Equal(t, ActionMute, ActionFor(5, s))
}

func TestNewReport_Truncates(t *testing.T) {
	r := NewReport("id", shared.Key{UserID: "u", GuildID: "g"}, "c", rules[FlagCaps], strings.Repeat("é", 600), now)
	assert.Len(t, []rune(r.Content), 500)
	assert.Equal(t, FlagCaps, r.Flag)
}
