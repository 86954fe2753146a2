package services

import (
	"regexp"
	"strings"
)

// The inference prompt forbids long dashes and any mention of the source
// documents, but model output is not a contract. SanitizeAnswer enforces
// both rules deterministically on whatever comes back.

var (
	theCVPattern = regexp.MustCompile(`(?i)\b(?:the|my|your)\s+cv\b`)
	// Only the exact acronym. A case-insensitive match would also rewrite
	// brand tokens like "CVS".
	bareCVPattern = regexp.MustCompile(`\b(?:CVs?|cvs?)\b`)
	theJDPattern  = regexp.MustCompile(`(?i)\b(?:the|this|your)\s+job\s+description\b`)
	bareJDPattern = regexp.MustCompile(`(?i)\bjob\s+descriptions?\b`)

	longDashReplacer = strings.NewReplacer(
		"—", "-", // em dash
		"–", "-", // en dash
		"―", "-", // horizontal bar
	)
)

// SanitizeAnswer rewrites long-dash characters to plain hyphens and removes
// explicit references to the CV or the job description from a field value.
func SanitizeAnswer(value string) string {
	value = longDashReplacer.Replace(value)
	value = theCVPattern.ReplaceAllString(value, "my experience")
	value = bareCVPattern.ReplaceAllString(value, "experience")
	value = theJDPattern.ReplaceAllString(value, "the role")
	value = bareJDPattern.ReplaceAllString(value, "role")
	return value
}
