package service

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"text/template"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
)

//go:embed prompts/*.md.tmpl
var promptsFS embed.FS

// PromptRenderer renders delegation prompts from embedded templates.
type PromptRenderer struct {
	templates map[string]*template.Template
	mu        sync.RWMutex
}

// NewPromptRenderer creates a new prompt renderer.
func NewPromptRenderer() (*PromptRenderer, error) {
	r := &PromptRenderer{
		templates: make(map[string]*template.Template),
	}
	if err := r.loadTemplates(); err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}
	return r, nil
}

func (r *PromptRenderer) loadTemplates() error {
	return fs.WalkDir(promptsFS, "prompts", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md.tmpl") {
			return nil
		}

		content, err := promptsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		name := strings.TrimSuffix(strings.TrimPrefix(path, "prompts/"), ".md.tmpl")
		tmpl, err := template.New(name).Funcs(templateFuncs()).Parse(string(content))
		if err != nil {
			return fmt.Errorf("parsing template %s: %w", name, err)
		}
		r.templates[name] = tmpl
		return nil
	})
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"join":      strings.Join,
		"trimSpace": strings.TrimSpace,
		"upper":     strings.ToUpper,
		"add":       func(a, b int) int { return a + b },
	}
}

// FormatBrief implements core.BriefFormatter.
func (r *PromptRenderer) FormatBrief(b core.Brief) (string, error) {
	return r.render("delegation", b)
}

// VerificationParams feeds the verification template.
type VerificationParams struct {
	Task           string
	Intent         core.Intent
	Implementation string
	Checklist      []string
}

// RenderVerification renders the review brief.
func (r *PromptRenderer) RenderVerification(p VerificationParams) (string, error) {
	return r.render("verification", p)
}

// AssessmentParams feeds the assessment template.
type AssessmentParams struct {
	Request  string
	Intent   core.Intent
	Keywords []string
}

// RenderAssessment renders the read-only discovery query.
func (r *PromptRenderer) RenderAssessment(p AssessmentParams) (string, error) {
	return r.render("assessment", p)
}

// ExplorationParams feeds the exploration template. Kind is one of
// file_inspection, pattern_search, dependency_trace or usage_search.
type ExplorationParams struct {
	Request string
	Kind    string
	Target  string
	Context string
}

// RenderExploration renders one follow-up query.
func (r *PromptRenderer) RenderExploration(p ExplorationParams) (string, error) {
	return r.render("exploration", p)
}

// EscalationParams feeds the escalation report.
type EscalationParams struct {
	Request                string
	Reason                 string
	ImplementationAttempts int
	VerificationAttempts   int
	MaxAttempts            int
	Failures               []string
	RecoveryActions        []string
	LastError              string
	Recommendations        []string
}

// RenderEscalation renders the human-readable escalation report.
func (r *PromptRenderer) RenderEscalation(p EscalationParams) (string, error) {
	return r.render("escalation", p)
}

func (r *PromptRenderer) render(name string, data interface{}) (string, error) {
	r.mu.RLock()
	tmpl, ok := r.templates[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template not found: %s", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// HasTemplate reports whether name is loaded.
func (r *PromptRenderer) HasTemplate(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.templates[name]
	return ok
}

// ListTemplates returns the loaded template names.
func (r *PromptRenderer) ListTemplates() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	return names
}
