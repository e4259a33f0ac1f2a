package tui

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/events"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service/background"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service/loop"
)

// Printer writes command results in the selected output mode.
type Printer struct {
	w        io.Writer
	mode     OutputMode
	useColor bool
	width    int

	mu sync.Mutex
	md *glamour.TermRenderer
}

// NewPrinter creates a printer. Color is only applied in ModeRich.
func NewPrinter(w io.Writer, mode OutputMode, useColor bool) *Printer {
	return &Printer{
		w:        w,
		mode:     mode,
		useColor: useColor && mode == ModeRich,
		width:    80,
	}
}

// WithWidth sets the wrap width for rendered markdown.
func (p *Printer) WithWidth(width int) *Printer {
	if width > 0 {
		p.width = width
	}
	return p
}

// Mode returns the output mode.
func (p *Printer) Mode() OutputMode {
	return p.mode
}

// JSON writes v as indented JSON.
func (p *Printer) JSON(v interface{}) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Markdown renders text through glamour when colors are on, and returns it
// unchanged otherwise.
func (p *Printer) Markdown(text string) string {
	if !p.useColor || strings.TrimSpace(text) == "" {
		return text
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.md == nil {
		r, err := glamour.NewTermRenderer(
			glamour.WithStyles(styles.DarkStyleConfig),
			glamour.WithWordWrap(p.width),
		)
		if err != nil {
			return text
		}
		p.md = r
	}
	out, err := p.md.Render(text)
	if err != nil {
		return text
	}
	return out
}

func (p *Printer) style(s lipgloss.Style, text string) string {
	if !p.useColor {
		return text
	}
	return s.Render(text)
}

func (p *Printer) printf(format string, args ...interface{}) {
	fmt.Fprintf(p.w, format, args...)
}

func (p *Printer) title(text string) {
	p.printf("%s\n", p.style(TitleStyle, text))
}

func (p *Printer) field(label string, value interface{}) {
	p.printf("  %s %v\n", p.style(LabelStyle, fmt.Sprintf("%-12s", label+":")), value)
}

// WorkflowResult prints the outcome of one workflow execution.
func (p *Printer) WorkflowResult(r *core.WorkflowResult) error {
	switch p.mode {
	case ModeJSON:
		return p.JSON(r)
	case ModeQuiet:
		p.printf("%s\n", r.Output)
		return nil
	}

	status := p.style(CompletedStyle, "success")
	if !r.Success {
		status = p.style(FailedStyle, "failed")
	}
	if r.Escalated {
		status = p.style(CancelledStyle, "escalated")
	}

	p.title("Workflow " + r.ID)
	p.field("Status", status)
	p.field("Attempts", r.AttemptsMade)
	p.field("Duration", r.TotalTime.Round(time.Millisecond))
	p.field("Phases", p.phases(r.PhasesExecuted))
	if r.Error != "" {
		p.field("Error", p.style(FailedStyle, r.Error))
	}
	if r.Output != "" {
		p.printf("\n%s\n", p.Markdown(r.Output))
	}
	return nil
}

func (p *Printer) phases(phases []core.Phase) string {
	parts := make([]string, len(phases))
	for i, ph := range phases {
		parts[i] = string(ph)
		if p.useColor {
			parts[i] = PhaseBadgeStyle.Render(parts[i])
		}
	}
	sep := " -> "
	if p.useColor {
		sep = " "
	}
	return strings.Join(parts, sep)
}

// WorkflowContext prints the progress record of a running or finished
// workflow.
func (p *Printer) WorkflowContext(w *core.WorkflowContext) error {
	switch p.mode {
	case ModeJSON:
		return p.JSON(w)
	case ModeQuiet:
		p.printf("%s\n", w.ID)
		return nil
	}

	p.title("Workflow " + w.ID)
	p.field("Request", truncate(w.Request, 60))
	if w.Intent != "" {
		p.field("Intent", fmt.Sprintf("%s (%s)", w.Intent, w.Complexity))
	}
	p.field("Attempts", fmt.Sprintf("%d/%d, %d verification(s)", w.ImplementationAttempts, w.MaxAttempts, w.VerificationAttempts))
	if w.LastExpertUsed != "" {
		p.field("Last expert", w.LastExpertUsed)
	}
	phases := make([]core.Phase, len(w.PhaseHistory))
	for i, rec := range w.PhaseHistory {
		phases[i] = rec.Phase
	}
	p.field("Phases", p.phases(phases))
	if w.EscalationRequired {
		p.field("Escalated", p.style(CancelledStyle, w.EscalationReason))
	}
	if w.LastError != "" {
		p.field("Last error", p.style(FailedStyle, w.LastError))
	}
	return nil
}

// Task prints one background task in detail.
func (p *Printer) Task(t *core.BackgroundTask) error {
	switch p.mode {
	case ModeJSON:
		return p.JSON(t)
	case ModeQuiet:
		if t.Status == core.TaskStatusCompleted {
			p.printf("%s\n", t.Result)
		} else {
			p.printf("%s\n", t.Status)
		}
		return nil
	}

	p.title("Task " + t.ID)
	p.field("Status", p.style(StatusStyle(t.Status), string(t.Status)))
	p.field("Expert", t.ExpertID)
	if t.ActualID != "" && t.ActualID != t.ExpertID {
		p.field("Served by", t.ActualID)
	}
	p.field("Model", t.Provider+"/"+t.Model)
	p.field("Created", t.CreatedAt.Format(time.RFC3339))
	if d := t.Duration(); d > 0 {
		p.field("Duration", d.Round(time.Millisecond))
	}
	if t.Error != "" {
		p.field("Error", p.style(FailedStyle, t.Error))
	}
	if t.Result != "" {
		p.printf("\n%s\n", p.Markdown(t.Result))
	}
	return nil
}

// Tasks prints a task table.
func (p *Printer) Tasks(tasks []*core.BackgroundTask) error {
	if p.mode == ModeJSON {
		if tasks == nil {
			tasks = []*core.BackgroundTask{}
		}
		return p.JSON(tasks)
	}
	if len(tasks) == 0 {
		if p.mode != ModeQuiet {
			p.printf("%s\n", p.style(SubtleStyle, "No tasks."))
		}
		return nil
	}
	if p.mode == ModeQuiet {
		for _, t := range tasks {
			p.printf("%s\n", t.ID)
		}
		return nil
	}

	p.printf("%-36s  %-10s  %-14s  %s\n", "ID", "STATUS", "EXPERT", "PROMPT")
	for _, t := range tasks {
		status := fmt.Sprintf("%-10s", t.Status)
		p.printf("%-36s  %s  %-14s  %s\n", t.ID, p.style(StatusStyle(t.Status), status), t.ExpertID, truncate(t.Prompt, 40))
	}
	return nil
}

// Hooks prints the registered hooks in dispatch order.
func (p *Printer) Hooks(hooks []events.HookInfo) error {
	if p.mode == ModeJSON {
		if hooks == nil {
			hooks = []events.HookInfo{}
		}
		return p.JSON(hooks)
	}
	if p.mode == ModeQuiet {
		for _, h := range hooks {
			p.printf("%s\n", h.Name)
		}
		return nil
	}

	p.printf("%-24s  %-8s  %-8s  %-9s  %s\n", "NAME", "PRIORITY", "STATE", "SOURCE", "EVENTS")
	for _, h := range hooks {
		state := fmt.Sprintf("%-8s", "enabled")
		st := CompletedStyle
		if !h.Enabled {
			state = fmt.Sprintf("%-8s", "disabled")
			st = SubtleStyle
		}
		kinds := "all"
		if len(h.Kinds) > 0 {
			names := make([]string, len(h.Kinds))
			for i, k := range h.Kinds {
				names[i] = string(k)
			}
			kinds = strings.Join(names, ",")
		}
		p.printf("%-24s  %-8d  %s  %-9s  %s\n", h.Name, h.Priority, p.style(st, state), h.Source, kinds)
	}
	return nil
}

// LoopOutcome prints how a loop run ended.
func (p *Printer) LoopOutcome(o *loop.Outcome) error {
	switch p.mode {
	case ModeJSON:
		return p.JSON(o)
	case ModeQuiet:
		p.printf("%s\n", o.Kind)
		return nil
	}

	st := CompletedStyle
	if o.Kind != loop.OutcomeCompleted {
		st = CancelledStyle
	}
	p.title("Loop finished")
	p.field("Outcome", p.style(st, string(o.Kind)))
	p.field("Iterations", o.Iterations)
	if o.LastError != "" {
		p.field("Last error", p.style(FailedStyle, o.LastError))
	}
	if o.Response != "" {
		p.printf("\n%s\n", p.Markdown(o.Response))
	}
	return nil
}

// LoopState prints the persisted loop record, or a notice when none exists.
func (p *Printer) LoopState(s *core.LoopState) error {
	if p.mode == ModeJSON {
		if s == nil {
			return p.JSON(map[string]bool{"active": false})
		}
		return p.JSON(s)
	}
	if s == nil {
		p.printf("%s\n", p.style(SubtleStyle, "No loop state."))
		return nil
	}
	if p.mode == ModeQuiet {
		p.printf("%d/%d\n", s.Iteration, s.MaxIterations)
		return nil
	}

	active := "inactive"
	if s.Active {
		active = p.style(RunningStyle, "active")
	}
	p.title("Loop")
	p.field("State", active)
	p.field("Expert", s.ExpertID)
	p.field("Iteration", fmt.Sprintf("%d/%d", s.Iteration, s.MaxIterations))
	p.field("Promise", s.CompletionPromise)
	p.field("Prompt", truncate(s.Prompt, 60))
	p.field("Updated", s.UpdatedAt.Format(time.RFC3339))
	if s.LastError != "" {
		p.field("Last error", p.style(FailedStyle, s.LastError))
	}
	return nil
}

// StatsView groups the counters printed by Stats.
type StatsView struct {
	Router service.RouterStats `json:"router"`
	Tasks  background.Stats    `json:"tasks"`
}

// Stats prints router and task manager counters.
func (p *Printer) Stats(v StatsView) error {
	if p.mode == ModeJSON {
		return p.JSON(v)
	}
	r := v.Router

	p.title("Router")
	p.field("Calls", r.Calls)
	p.field("Cache hits", fmt.Sprintf("%d (%.0f%% of lookups, %d/%d entries)",
		r.CacheHits, r.Cache.HitRate()*100, r.Cache.Size, r.Cache.Capacity))
	p.field("Fallbacks", r.Fallbacks)
	p.field("Rate limits", r.RateLimitHits)
	p.field("Rejected", r.GateRejections)
	p.field("Failures", r.Failures)
	if r.LastError != "" {
		p.field("Last error", p.style(FailedStyle, r.LastError))
	}

	if len(r.ByExpert) > 0 {
		ids := make([]string, 0, len(r.ByExpert))
		for id := range r.ByExpert {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		p.printf("\n%s\n", p.style(TitleStyle, "Experts"))
		for _, id := range ids {
			es := r.ByExpert[id]
			p.printf("  %-16s calls=%d failures=%d\n", id, es.Calls, es.Failures)
		}
	}

	if len(r.RateLimited) > 0 {
		p.printf("\n%s\n", p.style(TitleStyle, "Rate limited"))
		for _, rl := range r.RateLimited {
			p.printf("  %-24s retry after %s\n", rl.Model, rl.RetryAfter)
		}
	}

	p.printf("\n%s\n", p.style(TitleStyle, "Tasks"))
	p.field("Total", v.Tasks.Total)
	p.field("Queued", v.Tasks.Queued)
	statuses := make([]string, 0, len(v.Tasks.ByStatus))
	for st := range v.Tasks.ByStatus {
		statuses = append(statuses, string(st))
	}
	sort.Strings(statuses)
	for _, st := range statuses {
		p.field(st, v.Tasks.ByStatus[core.TaskStatus(st)])
	}
	return nil
}

// Message prints an informational line, suppressed in JSON and quiet modes.
func (p *Printer) Message(format string, args ...interface{}) {
	if p.mode == ModeJSON || p.mode == ModeQuiet {
		return
	}
	p.printf(format+"\n", args...)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}
