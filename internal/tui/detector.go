// Package tui renders command output for terminals, pipes and scripts.
package tui

import (
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// OutputMode selects how results are rendered.
type OutputMode int

const (
	// ModeRich uses styled text and rendered markdown.
	ModeRich OutputMode = iota
	// ModePlain uses unstyled text.
	ModePlain
	// ModeJSON writes one JSON document per result.
	ModeJSON
	// ModeQuiet prints only the essential value.
	ModeQuiet
)

func (m OutputMode) String() string {
	switch m {
	case ModeRich:
		return "rich"
	case ModePlain:
		return "plain"
	case ModeJSON:
		return "json"
	case ModeQuiet:
		return "quiet"
	default:
		return "unknown"
	}
}

// ParseOutputMode parses a mode name. ok is false for unknown names.
func ParseOutputMode(s string) (mode OutputMode, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rich":
		return ModeRich, true
	case "plain", "text":
		return ModePlain, true
	case "json":
		return ModeJSON, true
	case "quiet":
		return ModeQuiet, true
	}
	return ModeRich, false
}

// Detector picks the output mode and color support for one writer.
// Precedence: ForceMode, SWITCHBOARD_OUTPUT, SWITCHBOARD_QUIET, CI, then
// whether the writer is a terminal.
type Detector struct {
	out     io.Writer
	forced  bool
	mode    OutputMode
	noColor bool
	getenv  func(string) string
	isTTY   func(io.Writer) bool
}

// NewDetector creates a detector for out.
func NewDetector(out io.Writer) *Detector {
	return &Detector{out: out, getenv: os.Getenv, isTTY: IsTerminal}
}

// ForceMode overrides detection.
func (d *Detector) ForceMode(mode OutputMode) *Detector {
	d.forced, d.mode = true, mode
	return d
}

// NoColor disables color regardless of the terminal.
func (d *Detector) NoColor(disable bool) *Detector {
	d.noColor = disable
	return d
}

// Detect returns the output mode.
func (d *Detector) Detect() OutputMode {
	if d.forced {
		return d.mode
	}
	if mode, ok := ParseOutputMode(d.getenv("SWITCHBOARD_OUTPUT")); ok {
		return mode
	}
	if d.getenv("SWITCHBOARD_QUIET") == "1" {
		return ModeQuiet
	}
	if d.getenv("CI") != "" || d.getenv("GITHUB_ACTIONS") != "" || !d.isTTY(d.out) {
		return ModePlain
	}
	return ModeRich
}

// ShouldUseColor honours --no-color, NO_COLOR and TERM=dumb.
func (d *Detector) ShouldUseColor() bool {
	if d.noColor || d.getenv("NO_COLOR") != "" || d.getenv("TERM") == "dumb" {
		return false
	}
	return d.isTTY(d.out)
}

// IsTerminal reports whether w is a terminal file.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// TerminalWidth returns the width of w, or 80 when w is not a terminal.
func TerminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return 80
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return 80
	}
	return width
}
