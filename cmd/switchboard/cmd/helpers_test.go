package cmd

import (
	"bytes"
	"context"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/switchboard/internal/config"
	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/logging"
)

// stubBackend answers every prompt with a fixed reply.
type stubBackend struct {
	name  string
	reply string

	mu      sync.Mutex
	prompts []string
}

func (b *stubBackend) Name() string { return b.name }

func (b *stubBackend) Chat(_ context.Context, req core.ChatRequest) (*core.ChatResponse, error) {
	b.mu.Lock()
	b.prompts = append(b.prompts, req.Prompt)
	b.mu.Unlock()
	return &core.ChatResponse{Text: b.reply, Model: req.Model}, nil
}

func (b *stubBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.prompts)
}

// setupCLI isolates a test from the developer's config, environment and
// flag values left behind by earlier tests. It returns the working directory
// and the stub every provider resolves to.
func setupCLI(t *testing.T) (string, *stubBackend) {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	for _, env := range []string{
		"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY",
		"SWITCHBOARD_OUTPUT", "SWITCHBOARD_QUIET", "CI", "GITHUB_ACTIONS",
	} {
		t.Setenv(env, "")
	}
	t.Setenv("NO_COLOR", "1")
	t.Setenv("SWITCHBOARD_LOG_LEVEL", "error")

	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	viper.Reset()
	resetFlags(rootCmd)
	t.Cleanup(func() {
		viper.Reset()
		resetFlags(rootCmd)
	})

	stub := &stubBackend{name: "stub", reply: "all good DONE"}
	backendFactory = func(_ *config.Config, experts []core.Expert, _ *logging.Logger) (map[string]core.Backend, error) {
		out := make(map[string]core.Backend)
		for _, e := range experts {
			out[e.Provider] = stub
		}
		return out, nil
	}
	t.Cleanup(func() { backendFactory = nil })

	return dir, stub
}

// resetFlags restores every flag to its default so values do not leak
// between Execute calls.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	_, err := rootCmd.ExecuteC()
	return out.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.TrimLeft(content, "\n")), 0o600); err != nil {
		t.Fatal(err)
	}
}
