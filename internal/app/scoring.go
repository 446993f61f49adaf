package app

import "strings"

// Scoring weights for a single answered question.
const (
	pointsCorrect   = 4
	pointsIncorrect = -1
)

// Score grades submitted answers against a test's answer key: +4 per
// correct answer, -1 per incorrect answer, 0 for unanswered questions.
// Comparison is whitespace-trimmed and case-insensitive. Ordinals not in
// the key are ignored; the total may be negative.
func Score(key map[int]string, answers map[int]string) int {
	score := 0
	for ordinal, correct := range key {
		answer := normalizeLabel(answers[ordinal])
		if answer == "" {
			continue
		}
		if answer == normalizeLabel(correct) {
			score += pointsCorrect
		} else {
			score += pointsIncorrect
		}
	}
	return score
}

func normalizeLabel(label string) string {
	return strings.ToUpper(strings.TrimSpace(label))
}
