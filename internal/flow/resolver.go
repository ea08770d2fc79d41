// Package flow drives per-respondent traversal of a segmented questionnaire:
// branch resolution, answer accumulation, and the execution engine's
// state machine.
package flow

import (
	"log/slog"
	"strings"

	"github.com/wuzengqing001225/SmartAgentSurvey/internal/models"
)

// Match is the outcome of resolving a branch point: the segment to follow and
// the tier at which the respondent's answer matched its condition label.
type Match struct {
	Segment models.Segment
	Tier    models.MatchTier
}

// Resolve selects which of the candidate segments sharing an anchor the
// respondent follows next, based on their recorded answer to the anchor
// question. Candidates must be non-empty; a zero-candidate anchor is a
// routing failure the engine reports before calling Resolve.
//
// With one candidate there is no branch to resolve and it is returned
// unconditionally. With several, the answer and every condition label are
// normalized (trimmed, lowercased) and matched in three tiers: exact
// equality, then substring containment in either direction (first candidate
// in list order wins), then the first candidate as a default. A missing or
// non-string answer resolves to the default immediately.
func Resolve(candidates []models.Segment, answer any) Match {
	if len(candidates) == 1 {
		return Match{Segment: candidates[0], Tier: models.MatchExact}
	}

	text, ok := answer.(string)
	if !ok {
		return Match{Segment: candidates[0], Tier: models.MatchNone}
	}
	normalized := strings.ToLower(strings.TrimSpace(text))

	for _, c := range candidates {
		if strings.ToLower(strings.TrimSpace(c.Condition)) == normalized {
			return Match{Segment: c, Tier: models.MatchExact}
		}
	}

	for _, c := range candidates {
		label := strings.ToLower(strings.TrimSpace(c.Condition))
		if strings.Contains(label, normalized) || strings.Contains(normalized, label) {
			slog.Warn("Branch condition matched only partially", "anchor", c.Anchor, "condition", c.Condition, "answer", text)
			return Match{Segment: c, Tier: models.MatchPartial}
		}
	}

	return Match{Segment: candidates[0], Tier: models.MatchNone}
}
