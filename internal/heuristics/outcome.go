// Package heuristics holds the pure text functions used to classify and
// normalize legal opinions. Nothing in this package performs I/O.
package heuristics

import "regexp"

// Outcome is the classified litigation result of an opinion.
type Outcome string

const (
	OutcomeWon     Outcome = "WON"
	OutcomeLost    Outcome = "LOST"
	OutcomeUnknown Outcome = "UNKNOWN"
)

// ParseOutcome maps a string onto an Outcome. Anything unrecognized is UNKNOWN.
func ParseOutcome(s string) Outcome {
	switch Outcome(s) {
	case OutcomeWon:
		return OutcomeWon
	case OutcomeLost:
		return OutcomeLost
	default:
		return OutcomeUnknown
	}
}

// winSignals are phrasings that indicate a plaintiff-favorable result.
var winSignals = compileAll(
	`we\s+reverse\s+.*?district court.*?dismissal`,
	`reverse\s+and\s+remand`,
	`vacate\s+and\s+remand`,
	`summary judgment\s+for\s+the\s+plaintiff`,
	`grant(?:ed)?\s+the\s+plaintiff['’]s?\s+motion`,
	`judgment\s+in\s+favor\s+of\s+plaintiff`,
	`plaintiff['’]s?\s+claims\s+are\s+reinstated`,
	`violation\s+of\s+(?:due process|fourteenth amendment)`,
	`§?\s*1983\s+claim\s+(?:survives|allowed|proceeds)`,
	`claims?\s+may\s+proceed`,
	`dismiss(?:al)?\s+vacated`,
)

// lossSignals are phrasings that indicate the claim failed.
var lossSignals = compileAll(
	`affirm(?:ed)?\s+the\s+dismissal`,
	`summary judgment\s+for\s+the\s+defendant`,
	`dismiss(?:ed|al)\s+for\s+failure\s+to\s+state`,
	`qualified immunity\s+applies`,
	`lack of jurisdiction`,
	`claims?\s+dismissed\s+with\s+prejudice`,
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

func anyMatch(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// ClassifyOutcome returns WON when only win signals match, LOST when only loss
// signals match, and UNKNOWN when both or neither do.
func ClassifyOutcome(text string) Outcome {
	won := anyMatch(winSignals, text)
	lost := anyMatch(lossSignals, text)
	switch {
	case won && !lost:
		return OutcomeWon
	case lost && !won:
		return OutcomeLost
	default:
		return OutcomeUnknown
	}
}
