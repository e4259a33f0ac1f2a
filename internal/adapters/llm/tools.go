package llm

import (
	"encoding/json"
	"strings"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
)

// toolSpec describes one tool advertised to models. Property names match
// the json tags of the core tool input records.
type toolSpec struct {
	Name        string
	Description string
	Properties  map[string]property
	Required    []string
}

type property struct {
	Type        string
	Description string
}

var builtinTools = []toolSpec{
	{
		Name:        "Read",
		Description: "Read a file from the workspace.",
		Properties: map[string]property{
			"file_path": {"string", "Path of the file to read"},
			"offset":    {"integer", "Line to start from"},
			"limit":     {"integer", "Number of lines to read"},
		},
		Required: []string{"file_path"},
	},
	{
		Name:        "Grep",
		Description: "Search file contents with a regular expression.",
		Properties: map[string]property{
			"pattern": {"string", "Regular expression"},
			"path":    {"string", "Directory or file to search"},
			"glob":    {"string", "File name filter"},
		},
		Required: []string{"pattern"},
	},
	{
		Name:        "Glob",
		Description: "Find files whose names match a glob pattern.",
		Properties: map[string]property{
			"pattern": {"string", "Glob pattern"},
			"path":    {"string", "Directory to search"},
		},
		Required: []string{"pattern"},
	},
	{
		Name:        "Bash",
		Description: "Run a shell command.",
		Properties: map[string]property{
			"command":     {"string", "Command line"},
			"description": {"string", "What the command does"},
			"timeout":     {"integer", "Timeout in milliseconds"},
		},
		Required: []string{"command"},
	},
	{
		Name:        "Edit",
		Description: "Replace text in a file.",
		Properties: map[string]property{
			"file_path":   {"string", "Path of the file to edit"},
			"old_string":  {"string", "Text to replace"},
			"new_string":  {"string", "Replacement text"},
			"replace_all": {"boolean", "Replace every occurrence"},
		},
		Required: []string{"file_path", "old_string", "new_string"},
	},
	{
		Name:        "Write",
		Description: "Overwrite a file with new content.",
		Properties: map[string]property{
			"file_path": {"string", "Path of the file to write"},
			"content":   {"string", "Full file content"},
		},
		Required: []string{"file_path", "content"},
	},
}

// wantsTools reports whether the request may advertise tools at all.
func wantsTools(c core.ToolChoice) bool {
	return c == core.ToolChoiceAuto || c == core.ToolChoiceAny
}

func (t toolSpec) schemaProperties() map[string]any {
	props := make(map[string]any, len(t.Properties))
	for name, p := range t.Properties {
		props[name] = map[string]any{"type": p.Type, "description": p.Description}
	}
	return props
}

func (t toolSpec) jsonSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": t.schemaProperties(),
		"required":   t.Required,
	}
}

// userText joins the shared context and the prompt into one user turn.
func userText(req core.ChatRequest) string {
	if strings.TrimSpace(req.Context) == "" {
		return req.Prompt
	}
	return "Context:\n" + req.Context + "\n\n" + req.Prompt
}

// rawArgs encodes provider argument values as the raw tool input.
func rawArgs(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return nil
	}
	return b
}
