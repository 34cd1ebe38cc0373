// Package validate implements boundary checks for user-supplied input.
// Every predicate is pure and total: invalid input is a normal false
// return, never an error.
package validate

import (
	"regexp"
	"strings"
	"unicode"
)

// identifierMaxLen bounds PubMed IDs; real PMIDs are currently 8 digits,
// the upstream format allows up to 20.
const identifierMaxLen = 20

// urlPatterns are the recognized shapes a PubMed article URL can take.
var urlPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)pubmed\.ncbi\.nlm\.nih\.gov/(\d+)`),
	regexp.MustCompile(`(?i)pubmed\.ncbi\.nlm\.nih\.gov/pubmed/(\d+)`),
	regexp.MustCompile(`(?i)ncbi\.nlm\.nih\.gov/pubmed/(\d+)`),
	regexp.MustCompile(`(?i)pmid=(\d+)`),
}

var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

// defaultUnsafeMarkers are the injection sequences rejected at the
// boundary: SQL control fragments and script-tag markers. Matched
// case-insensitively as substrings.
var defaultUnsafeMarkers = []string{
	"' or '",
	"' and '",
	"union select",
	"drop table",
	"insert into",
	"delete from",
	"xp_cmdshell",
	"<script",
	"</script",
	"javascript:",
	"onerror=",
	"onload=",
}

// Validator holds the configured injection-marker set. The zero value
// uses the default markers.
type Validator struct {
	markers []string
}

// New returns a Validator with the given injection markers, or the
// defaults when none are supplied.
func New(markers ...string) *Validator {
	if len(markers) == 0 {
		markers = defaultUnsafeMarkers
	}
	lowered := make([]string, len(markers))
	for i, m := range markers {
		lowered[i] = strings.ToLower(m)
	}
	return &Validator{markers: lowered}
}

// ValidIdentifier reports whether s is a well-formed source identifier:
// non-empty, decimal digits only, at most 20 characters.
func (v *Validator) ValidIdentifier(s string) bool {
	if len(s) == 0 || len(s) > identifierMaxLen {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ValidSourceURL reports whether s looks like a PubMed article URL with
// an extractable numeric identifier.
func (v *Validator) ValidSourceURL(s string) bool {
	_, ok := v.ExtractIdentifier(s)
	return ok
}

// ExtractIdentifier pulls the numeric identifier out of a PubMed URL.
func (v *Validator) ExtractIdentifier(s string) (string, bool) {
	for _, p := range urlPatterns {
		if m := p.FindStringSubmatch(s); m != nil && v.ValidIdentifier(m[1]) {
			return m[1], true
		}
	}
	return "", false
}

// RejectsUnsafe reports whether s contains any configured injection
// marker and must therefore be rejected. This check runs before any
// other use of user-supplied text.
func (v *Validator) RejectsUnsafe(s string) bool {
	lowered := strings.ToLower(s)
	markers := v.markers
	if markers == nil {
		markers = defaultUnsafeMarkers
	}
	for _, m := range markers {
		if strings.Contains(lowered, m) {
			return true
		}
	}
	return false
}

// Sanitize strips non-printable characters and HTML tags from free-text
// input and trims surrounding whitespace.
func (v *Validator) Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsPrint(r) || r == '\n' || r == '\t' {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(htmlTagPattern.ReplaceAllString(b.String(), ""))
}
