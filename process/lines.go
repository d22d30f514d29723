package process

import (
	"regexp"
	"strings"
)

// ansiRe matches CSI and OSC escape sequences the assistant's TUI emits.
var ansiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07]*\x07`)

// splitLines appends data to the carried partial line and returns the
// complete lines plus the new remainder. A read that ends mid-line leaves
// the fragment in the carry until the next read completes it.
func splitLines(carry, data string) (lines []string, rest string) {
	combined := carry + data
	parts := strings.Split(combined, "\n")
	return parts[:len(parts)-1], parts[len(parts)-1]
}

// sanitizeLine strips escape sequences, carriage returns, and surrounding
// whitespace. Returns "" for lines with no visible content.
func sanitizeLine(line string) string {
	line = ansiRe.ReplaceAllString(line, "")
	line = strings.ReplaceAll(line, "\r", "")
	return strings.TrimSpace(line)
}
