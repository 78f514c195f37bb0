// Package strings holds text helpers shared by the command line output.
package strings

import (
	"strings"
)

// MessageWidth is the widest element or participant message shown in tables.
const MessageWidth = 60

// OneLine collapses every run of whitespace in s, newlines included, into a
// single space and cuts the result to at most width runes, ending in "..."
// when cut. Widths below 4 are treated as 4.
func OneLine(s string, width int) string {
	if width < 4 {
		width = 4
	}
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width-3]) + "..."
}
