// ABOUTME: Answer faithfulness and context recall scores for paper question answering
// ABOUTME: Deterministic ground-truth comparison, no judge model involved
package eval

import (
	"fmt"
	"strings"
)

// PassThreshold is the minimum score each metric needs for a case to pass
const PassThreshold = 0.9

// Faithfulness scores an answer against the strings it must and must not contain.
// 1.0 when all expected items are present and no forbidden one is, 0.5 when only one
// of the two conditions fails, 0.0 when both fail.
func Faithfulness(answer string, expected, forbidden []string) (float64, string) {
	answerUpper := strings.ToUpper(answer)

	var missing []string
	for _, item := range expected {
		if !strings.Contains(answerUpper, strings.ToUpper(item)) {
			missing = append(missing, item)
		}
	}

	var found []string
	for _, item := range forbidden {
		if strings.Contains(answerUpper, strings.ToUpper(item)) {
			found = append(found, item)
		}
	}

	switch {
	case len(missing) == 0 && len(found) == 0:
		return 1.0, "answer matches ground truth"
	case len(missing) > 0 && len(found) > 0:
		return 0.0, fmt.Sprintf("missing expected items: %v, forbidden items found: %v", missing, found)
	case len(missing) > 0:
		return 0.5, fmt.Sprintf("missing expected items: %v", missing)
	default:
		return 0.5, fmt.Sprintf("forbidden items found: %v", found)
	}
}

// ContextRecall is the share of expected items found in the retrieved passage
func ContextRecall(passage string, expected []string) (float64, string) {
	if len(expected) == 0 {
		return 1.0, "no context expectations"
	}

	passageUpper := strings.ToUpper(passage)
	var missing []string
	for _, item := range expected {
		if !strings.Contains(passageUpper, strings.ToUpper(item)) {
			missing = append(missing, item)
		}
	}

	recall := float64(len(expected)-len(missing)) / float64(len(expected))
	if len(missing) == 0 {
		return 1.0, "all expected items retrieved"
	}
	return recall, fmt.Sprintf("recall %.2f, missing items: %v", recall, missing)
}
