package moderation

import "time"

const (
	automationWindow      = 10 // newest messages inspected
	automationMinMessages = 5
	rapidMaxAvgInterval   = time.Second
	copyPasteThreshold    = 3
	botLengthVariance     = 10.0
	botMinMeanLength      = 5.0
)

// DetectAutomation looks for bot-like behaviour across recent messages,
// oldest first, with msg being the message just received. It returns Clean
// when nothing suspicious is found. Automation verdicts are informational:
// their damping is always 1.
func DetectAutomation(msg Message, history []HistoryEntry) Verdict {
	recent := history
	if len(recent) > automationWindow {
		recent = recent[len(recent)-automationWindow:]
	}

	if len(recent) >= automationMinMessages {
		span := msg.At.Sub(recent[0].At)
		avg := span / time.Duration(len(recent)-1)
		if avg < rapidMaxAvgInterval {
			return Verdict{Flag: FlagRapid, Severity: 4, Damping: 1}
		}
	}

	identical := 0
	for _, h := range recent {
		if h.Content == msg.Content {
			identical++
		}
	}
	if identical >= copyPasteThreshold {
		return Verdict{Flag: FlagCopyPaste, Severity: 3, Damping: 1}
	}

	if len(recent) >= automationMinMessages {
		var sum float64
		for _, h := range recent {
			sum += float64(len([]rune(h.Content)))
		}
		mean := sum / float64(len(recent))
		var variance float64
		for _, h := range recent {
			d := float64(len([]rune(h.Content))) - mean
			variance += d * d
		}
		variance /= float64(len(recent))
		if variance < botLengthVariance && mean > botMinMeanLength {
			return Verdict{Flag: FlagBotPattern, Severity: 3, Damping: 1}
		}
	}

	return Clean
}
