package strings

import (
	"strings"
)

// DefaultReasonMaxLen is the maximum length used for server-provided failure
// reasons in logs and tables.
const DefaultReasonMaxLen = 200

// MinTruncateLen is the smallest usable maxLen. Values below it would not
// leave room for any content plus "...".
const MinTruncateLen = 4

// Truncate flattens a string to a single line and shortens it to maxLen
// runes, appending "..." when content was cut. Server error bodies can be
// multi-line HTML or XML; this keeps them readable in log lines and tables.
func Truncate(s string, maxLen int) string {
	if maxLen < MinTruncateLen {
		maxLen = MinTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
