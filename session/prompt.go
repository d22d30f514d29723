package session

import (
	"fmt"
	"regexp"
	"strings"
)

// Detector decides whether recent process output looks like an interactive
// prompt. Detection is heuristic: an ordered list of regular expressions is
// tried against the last non-empty line of output, and the first match wins.
type Detector struct {
	patterns []*regexp.Regexp
}

// NewDetector compiles the given patterns in order. An invalid pattern fails
// the whole constructor so misconfiguration surfaces at startup, not at
// detection time.
func NewDetector(patterns []string) (*Detector, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid prompt pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return &Detector{patterns: compiled}, nil
}

// Match reports whether a single line matches any pattern.
func (d *Detector) Match(line string) bool {
	for _, re := range d.patterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// Detect scans entries from newest to oldest for the last non-empty line and
// matches it. Returns the matched line and true, or false when the last
// non-empty line matches no pattern.
func (d *Detector) Detect(entries []Entry) (string, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		line := strings.TrimSpace(entries[i].Text)
		if line == "" {
			continue
		}
		if d.Match(line) {
			return line, true
		}
		return "", false
	}
	return "", false
}
