package workflow

import (
	"bufio"
	"regexp"
	"strings"
)

// Confidence is the reviewer's stated certainty.
type Confidence string

const (
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

// Verdict is the parsed review block.
type Verdict struct {
	Claimed    bool // reviewer wrote PASS
	Confidence Confidence
	Issues     []string
}

// Passed applies the acceptance rule: a claimed PASS above LOW confidence
// with no issues.
func (v Verdict) Passed() bool {
	return v.Claimed && v.Confidence != ConfidenceLow && len(v.Issues) == 0
}

var (
	verdictLine    = regexp.MustCompile(`(?i)^\W*verdict\W*:\s*\**\s*(pass|fail)`)
	confidenceLine = regexp.MustCompile(`(?i)^\W*confidence\W*:\s*\**\s*(high|medium|low)`)
	issuesLine     = regexp.MustCompile(`(?i)^\W*issues\W*:\s*(.*)$`)
	noneIssue      = regexp.MustCompile(`(?i)^(none|n/?a|no issues?( found)?)\.?$`)
)

// parseVerdict reads VERDICT, CONFIDENCE and ISSUES from a review. Missing
// fields default to FAIL and LOW.
func parseVerdict(text string) Verdict {
	v := Verdict{Confidence: ConfidenceLow}
	inIssues := false
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case verdictLine.MatchString(line):
			inIssues = false
			v.Claimed = strings.EqualFold(verdictLine.FindStringSubmatch(line)[1], "pass")
		case confidenceLine.MatchString(line):
			inIssues = false
			v.Confidence = Confidence(strings.ToUpper(confidenceLine.FindStringSubmatch(line)[1]))
		case issuesLine.MatchString(line):
			inIssues = true
			if rest := strings.Trim(issuesLine.FindStringSubmatch(line)[1], "* "); rest != "" {
				v.addIssue(rest)
			}
		case inIssues:
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*") {
				v.addIssue(strings.TrimSpace(strings.TrimLeft(line, "-* ")))
				continue
			}
			inIssues = false
		}
	}
	return v
}

func (v *Verdict) addIssue(issue string) {
	if issue == "" || noneIssue.MatchString(issue) {
		return
	}
	v.Issues = append(v.Issues, issue)
}
