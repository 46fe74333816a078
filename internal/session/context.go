package session

import (
	"fmt"
	"strings"
	"time"
)

// continuationContext prepends the continuation preamble to a review
// context. The issue recap only appears when the previous review
// actually found something.
func continuationContext(iteration int, lastReviewed time.Time, lastIssues *int, original string) string {
	parts := []string{
		fmt.Sprintf("🔄 Continuing review session (iteration %d)", iteration),
		fmt.Sprintf("📅 Last reviewed: %s", timeAgo(lastReviewed, time.Now())),
		"",
	}
	if lastIssues != nil && *lastIssues > 0 {
		parts = append(parts,
			fmt.Sprintf("In our last review, we found %d issues.", *lastIssues),
			"Let me check what has changed since then.",
			"",
		)
	}
	parts = append(parts, original)
	return strings.Join(parts, "\n")
}

// timeAgo renders t relative to now in coarse human units.
func timeAgo(t, now time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		m := int(d.Minutes())
		return fmt.Sprintf("%d minute%s ago", m, plural(m))
	case d < 24*time.Hour:
		h := int(d.Hours())
		return fmt.Sprintf("%d hour%s ago", h, plural(h))
	default:
		days := int(d.Hours() / 24)
		return fmt.Sprintf("%d day%s ago", days, plural(days))
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
