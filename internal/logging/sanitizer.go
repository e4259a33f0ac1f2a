package logging

import (
	"regexp"
	"sort"
	"strings"
)

const redactedMark = "[REDACTED]"

// providerKeyPatterns match credential formats of the supported providers.
var providerKeyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`sk-(?:proj-)?[A-Za-z0-9_-]{20,}`),
	regexp.MustCompile(`AIza[a-zA-Z0-9_-]{35}`),
	// A reverse proxy in front of Ollama usually wants a bearer token.
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`),
	regexp.MustCompile(`(?i)(?:x-)?api[_-]?key["'\s:=]+[a-zA-Z0-9_-]{20,}`),
}

// Sanitizer redacts credentials from log messages and attributes. Besides
// the known key formats it redacts the exact secrets it was given, which
// covers keys for self-hosted or proxied endpoints with no fixed prefix.
type Sanitizer struct {
	secrets []string
}

// NewSanitizer creates a sanitizer that also redacts every non-trivial
// value in secrets.
func NewSanitizer(secrets ...string) *Sanitizer {
	s := &Sanitizer{}
	for _, v := range secrets {
		// Short values would redact ordinary words.
		if len(strings.TrimSpace(v)) >= 8 {
			s.secrets = append(s.secrets, v)
		}
	}
	// Longest first so a secret containing another is replaced whole.
	sort.Slice(s.secrets, func(i, j int) bool { return len(s.secrets[i]) > len(s.secrets[j]) })
	return s
}

// Sanitize redacts sensitive information from input.
func (s *Sanitizer) Sanitize(input string) string {
	out := input
	for _, v := range s.secrets {
		out = strings.ReplaceAll(out, v, redactedMark)
	}
	for _, re := range providerKeyPatterns {
		out = re.ReplaceAllString(out, redactedMark)
	}
	return out
}
