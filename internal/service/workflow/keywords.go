package workflow

import (
	"regexp"
	"strings"
	"unicode"
)

// MaxKeywords bounds the keyword set derived during Assessment.
const MaxKeywords = 8

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true, "this": true,
	"from": true, "into": true, "have": true, "has": true, "are": true, "was": true,
	"were": true, "will": true, "would": true, "should": true, "could": true, "can": true,
	"you": true, "your": true, "our": true, "its": true, "not": true, "but": true,
	"all": true, "any": true, "how": true, "what": true, "why": true, "when": true,
	"where": true, "which": true, "who": true, "does": true, "did": true, "please": true,
	"make": true, "need": true, "want": true, "some": true, "there": true, "then": true,
	"than": true, "them": true, "they": true, "also": true, "just": true, "like": true,
	"use": true, "using": true, "about": true, "able": true, "get": true, "out": true,
}

// extractKeywords returns up to max distinct, lower-cased, non stop-word
// tokens of request in order of first appearance.
func extractKeywords(request string, max int) []string {
	fields := strings.FieldsFunc(strings.ToLower(request), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-' && r != '.' && r != '/'
	})
	seen := make(map[string]bool)
	out := make([]string, 0, max)
	for _, f := range fields {
		f = strings.Trim(f, ".-/")
		if len(f) < 3 || stopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
		if len(out) == max {
			break
		}
	}
	return out
}

var (
	backtickPath = regexp.MustCompile("`([^`\\s]+)`")
	pathToken    = regexp.MustCompile(`^(?:[\w.-]+/)*[\w-]+(?:\.[\w-]+)*\.[A-Za-z][A-Za-z0-9]{0,7}$`)
)

// parseRelevantFiles pulls file paths out of a retrieval response: anything
// in backticks that looks like a path, plus bare tokens with an extension.
func parseRelevantFiles(text string) []string {
	seen := make(map[string]bool)
	var files []string
	add := func(p string) {
		p = strings.TrimPrefix(p, "./")
		if p == "" || seen[p] || strings.Contains(p, "://") || !looksLikePath(p) {
			return
		}
		seen[p] = true
		files = append(files, p)
	}
	for _, m := range backtickPath.FindAllStringSubmatch(text, -1) {
		add(strings.TrimSuffix(m[1], "."))
	}
	for _, field := range strings.Fields(text) {
		if strings.Contains(field, "`") || strings.Contains(field, "://") {
			continue
		}
		tok := strings.TrimRight(strings.Trim(field, "()[]{}\"',;:*"), ".")
		if pathToken.MatchString(tok) {
			add(tok)
		}
	}
	return files
}

// looksLikePath accepts directory paths and names whose extension starts
// with a letter. Single-letter stems such as "e.g" are rejected.
func looksLikePath(p string) bool {
	base := p
	if i := strings.LastIndex(p, "/"); i >= 0 {
		base = p[i+1:]
	}
	dot := strings.LastIndex(base, ".")
	if dot <= 0 || dot == len(base)-1 {
		return strings.Contains(p, "/") && !strings.HasSuffix(p, "/")
	}
	if dot < 2 && !strings.Contains(p, "/") {
		return false
	}
	ext := base[dot+1:]
	for _, r := range ext {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return unicode.IsLetter(rune(ext[0]))
}
