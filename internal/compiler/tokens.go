package compiler

import "strings"

// EstimateTokens approximates the token count of text. Real tokenizers
// are model-specific; for budgeting purposes a deterministic estimate
// is enough, and the same estimator is used when filling and when
// reporting, so the budget invariant holds exactly. The heuristic
// takes the larger of words*4/3 and bytes/4, which tracks BPE-style
// tokenizers closely on both prose and code.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	byWords := (words*4 + 2) / 3
	byBytes := (len(text) + 3) / 4
	if byWords > byBytes {
		return byWords
	}
	return byBytes
}
