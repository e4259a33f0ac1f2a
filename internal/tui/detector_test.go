package tui

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutputMode_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		mode OutputMode
		want string
	}{
		{ModeRich, "rich"},
		{ModePlain, "plain"},
		{ModeJSON, "json"},
		{ModeQuiet, "quiet"},
		{OutputMode(999), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.mode.String())
	}
}

func TestParseOutputMode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want OutputMode
		ok   bool
	}{
		{"plain", ModePlain, true},
		{"TEXT", ModePlain, true},
		{" json ", ModeJSON, true},
		{"quiet", ModeQuiet, true},
		{"rich", ModeRich, true},
		{"", ModeRich, false},
		{"bogus", ModeRich, false},
	}
	for _, tt := range tests {
		got, ok := ParseOutputMode(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

// fakeDetector reads env from a map and treats the writer as a terminal
// when tty is set.
func fakeDetector(env map[string]string, tty bool) *Detector {
	d := NewDetector(io.Discard)
	d.getenv = func(k string) string { return env[k] }
	d.isTTY = func(io.Writer) bool { return tty }
	return d
}

func TestDetector_Detect(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		env  map[string]string
		tty  bool
		want OutputMode
	}{
		{name: "terminal", tty: true, want: ModeRich},
		{name: "pipe", tty: false, want: ModePlain},
		{name: "ci", env: map[string]string{"CI": "true"}, tty: true, want: ModePlain},
		{name: "github actions", env: map[string]string{"GITHUB_ACTIONS": "true"}, tty: true, want: ModePlain},
		{name: "json env", env: map[string]string{"SWITCHBOARD_OUTPUT": "json"}, tty: true, want: ModeJSON},
		{name: "rich env on a pipe", env: map[string]string{"SWITCHBOARD_OUTPUT": "rich"}, want: ModeRich},
		{name: "unknown env ignored", env: map[string]string{"SWITCHBOARD_OUTPUT": "fancy"}, tty: true, want: ModeRich},
		{name: "quiet env", env: map[string]string{"SWITCHBOARD_QUIET": "1"}, tty: true, want: ModeQuiet},
		{name: "output beats quiet", env: map[string]string{"SWITCHBOARD_QUIET": "1", "SWITCHBOARD_OUTPUT": "plain"}, tty: true, want: ModePlain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, fakeDetector(tt.env, tt.tty).Detect())
		})
	}
}

func TestDetector_ForceMode(t *testing.T) {
	t.Parallel()
	d := fakeDetector(map[string]string{"CI": "true", "SWITCHBOARD_OUTPUT": "plain"}, true).ForceMode(ModeJSON)
	assert.Equal(t, ModeJSON, d.Detect())
}

func TestDetector_ShouldUseColor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		env     map[string]string
		noColor bool
		tty     bool
		want    bool
	}{
		{name: "terminal", tty: true, want: true},
		{name: "pipe", tty: false, want: false},
		{name: "flag", noColor: true, tty: true, want: false},
		{name: "NO_COLOR", env: map[string]string{"NO_COLOR": "1"}, tty: true, want: false},
		{name: "dumb terminal", env: map[string]string{"TERM": "dumb"}, tty: true, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := fakeDetector(tt.env, tt.tty).NoColor(tt.noColor)
			assert.Equal(t, tt.want, d.ShouldUseColor())
		})
	}
}

func TestNonFileWriters(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	assert.False(t, IsTerminal(&buf))
	assert.Equal(t, 80, TerminalWidth(&buf))
}
