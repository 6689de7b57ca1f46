// Package moderation scores chat messages for spam and automation and keeps
// the per-user warning ledger that results from it.
package moderation

import (
	"strings"
	"time"
	"unicode"

	"github.com/guildxp/guildxp/internal/domain/guild"
)

// Flag names the rule that matched a message.
type Flag string

const (
	FlagNone      Flag = "none"
	FlagDuplicate Flag = "duplicate"
	FlagCaps      Flag = "caps"
	FlagEmoji     Flag = "emoji"
	FlagPattern   Flag = "pattern"

	// Automation flags are reported but never change damping.
	FlagRapid      Flag = "rapid_messaging"
	FlagCopyPaste  Flag = "copy_paste"
	FlagBotPattern Flag = "bot_pattern"
)

// DuplicateWindow is how far back identical messages count as duplicates.
const DuplicateWindow = 60 * time.Second

const (
	capsMinLength    = 10
	patternMinLength = 20
	patternMinRatio  = 0.10
)

// Verdict is the classifier output. Damping is in (0, 1].
type Verdict struct {
	Flag     Flag
	Severity int
	Damping  float64
}

// Clean is the verdict for an unflagged message.
var Clean = Verdict{Flag: FlagNone, Severity: 0, Damping: 1.0}

// Flagged reports whether any spam rule matched.
func (v Verdict) Flagged() bool { return v.Flag != FlagNone && v.Flag != "" }

var rules = map[Flag]Verdict{
	FlagDuplicate: {Flag: FlagDuplicate, Severity: 3, Damping: 0.5},
	FlagCaps:      {Flag: FlagCaps, Severity: 2, Damping: 0.7},
	FlagEmoji:     {Flag: FlagEmoji, Severity: 2, Damping: 0.8},
	FlagPattern:   {Flag: FlagPattern, Severity: 4, Damping: 0.3},
}

// Message is the part of a chat event the classifier looks at.
type Message struct {
	Content string
	At      time.Time
}

// Classifier applies the spam rules in precedence order.
type Classifier struct{}

// NewClassifier creates a classifier.
func NewClassifier() *Classifier { return &Classifier{} }

// Classify scores msg against the user's prior messages. The first matching
// rule wins: duplicate, caps, emoji flood, low-entropy pattern. A flagged
// message is damped, never zeroed.
func (c *Classifier) Classify(msg Message, history []HistoryEntry, settings guild.SpamSettings) Verdict {
	if !settings.Enabled {
		return Clean
	}

	v := c.match(msg, history, settings)
	if v.Flagged() && !settings.XPPenaltyEnabled {
		v.Damping = 1.0
	}
	return v
}

func (c *Classifier) match(msg Message, history []HistoryEntry, settings guild.SpamSettings) Verdict {
	folded := strings.ToLower(msg.Content)

	if settings.MaxDuplicateMessages > 0 {
		dup := 0
		for _, h := range history {
			if msg.At.Sub(h.At) < DuplicateWindow && strings.ToLower(h.Content) == folded {
				dup++
			}
		}
		if dup >= settings.MaxDuplicateMessages {
			return rules[FlagDuplicate]
		}
	}

	runes := []rune(msg.Content)
	length := len(runes)

	if length > capsMinLength {
		upper := 0
		for _, r := range runes {
			if unicode.IsUpper(r) {
				upper++
			}
		}
		if float64(upper)/float64(length)*100 >= settings.MaxCapsPercentage {
			return rules[FlagCaps]
		}
	}

	if settings.MaxEmojiCount > 0 && CountEmoji(msg.Content) >= settings.MaxEmojiCount {
		return rules[FlagEmoji]
	}

	if foldedRunes := []rune(folded); len(foldedRunes) > patternMinLength {
		distinct := make(map[rune]struct{}, 16)
		for _, r := range foldedRunes {
			distinct[r] = struct{}{}
		}
		if float64(len(distinct))/float64(len(foldedRunes)) < patternMinRatio {
			return rules[FlagPattern]
		}
	}

	return Clean
}

// emojiRanges are the glyph blocks counted as emoji.
var emojiRanges = [][2]rune{
	{0x1F600, 0x1F64F}, // emoticons
	{0x1F300, 0x1F5FF}, // symbols & pictographs
	{0x1F680, 0x1F6FF}, // transport & map
	{0x1F1E0, 0x1F1FF}, // regional indicators
	{0x2600, 0x26FF},   // misc symbols
	{0x2700, 0x27BF},   // dingbats
}

// CountEmoji counts runes that fall in the emoji blocks.
func CountEmoji(s string) int {
	n := 0
	for _, r := range s {
		for _, rg := range emojiRanges {
			if r >= rg[0] && r <= rg[1] {
				n++
				break
			}
		}
	}
	return n
}
