package review

import "strings"

// issueMarkers are the labels the review prompt instructs the model
// to use when reporting findings. Counting their occurrences gives a
// rough finding total for session continuity without parsing the
// review body.
var issueMarkers = []string{"ISSUE:", "ERROR:", "WARNING:", "FILE:", "Line:"}

// CountIssueMarkers estimates how many findings a review contains.
// The count is advisory; duplicated or free-form labels inflate it
// and that is acceptable for its only use, the continuation preamble.
func CountIssueMarkers(review string) int {
	total := 0
	for _, m := range issueMarkers {
		total += strings.Count(review, m)
	}
	return total
}
