package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ToolInput is the closed set of tool argument records. Consumers switch on
// the concrete type; UnknownInput covers tools outside the set.
type ToolInput interface {
	ToolName() string
	toolInput()
}

// ReadInput reads a file.
type ReadInput struct {
	FilePath string `json:"file_path"`
	Offset   int    `json:"offset,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// GrepInput searches file contents.
type GrepInput struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
	Glob    string `json:"glob,omitempty"`
}

// GlobInput matches file names.
type GlobInput struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

// BashInput runs a shell command.
type BashInput struct {
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	TimeoutMs   int    `json:"timeout,omitempty"`
}

// EditInput replaces text in a file.
type EditInput struct {
	FilePath   string `json:"file_path"`
	OldString  string `json:"old_string"`
	NewString  string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
}

// WriteInput overwrites a file.
type WriteInput struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

// UnknownInput keeps the raw arguments of an unrecognized tool.
type UnknownInput struct {
	Name string          `json:"-"`
	Raw  json.RawMessage `json:"raw,omitempty"`
}

func (ReadInput) ToolName() string { return "Read" }
func (GrepInput) ToolName() string { return "Grep" }
func (GlobInput) ToolName() string { return "Glob" }
func (BashInput) ToolName() string { return "Bash" }
func (EditInput) ToolName() string { return "Edit" }
func (WriteInput) ToolName() string { return "Write" }
func (u UnknownInput) ToolName() string { return u.Name }

func (ReadInput) toolInput() {}
func (GrepInput) toolInput() {}
func (GlobInput) toolInput() {}
func (BashInput) toolInput() {}
func (EditInput) toolInput() {}
func (WriteInput) toolInput() {}
func (UnknownInput) toolInput() {}

// ToolCall is one tool invocation requested by a backend.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Raw   json.RawMessage `json:"input,omitempty"`
	Input ToolInput       `json:"-"`
}

// ParseToolInput decodes raw arguments into the variant named by tool.
// Unknown fields are rejected for known tools.
func ParseToolInput(tool string, raw json.RawMessage) (ToolInput, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	switch tool {
	case "Read":
		var in ReadInput
		if err := decodeStrict(raw, &in); err != nil {
			return nil, invalidInput(tool, err)
		}
		if in.FilePath == "" {
			return nil, invalidInput(tool, fmt.Errorf("file_path is required"))
		}
		return in, nil
	case "Grep":
		var in GrepInput
		if err := decodeStrict(raw, &in); err != nil {
			return nil, invalidInput(tool, err)
		}
		if in.Pattern == "" {
			return nil, invalidInput(tool, fmt.Errorf("pattern is required"))
		}
		return in, nil
	case "Glob":
		var in GlobInput
		if err := decodeStrict(raw, &in); err != nil {
			return nil, invalidInput(tool, err)
		}
		if in.Pattern == "" {
			return nil, invalidInput(tool, fmt.Errorf("pattern is required"))
		}
		return in, nil
	case "Bash":
		var in BashInput
		if err := decodeStrict(raw, &in); err != nil {
			return nil, invalidInput(tool, err)
		}
		if in.Command == "" {
			return nil, invalidInput(tool, fmt.Errorf("command is required"))
		}
		return in, nil
	case "Edit":
		var in EditInput
		if err := decodeStrict(raw, &in); err != nil {
			return nil, invalidInput(tool, err)
		}
		if in.FilePath == "" {
			return nil, invalidInput(tool, fmt.Errorf("file_path is required"))
		}
		return in, nil
	case "Write":
		var in WriteInput
		if err := decodeStrict(raw, &in); err != nil {
			return nil, invalidInput(tool, err)
		}
		if in.FilePath == "" {
			return nil, invalidInput(tool, fmt.Errorf("file_path is required"))
		}
		return in, nil
	default:
		return UnknownInput{Name: tool, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

// TouchedPath returns the file a tool input reads or writes, if any.
func TouchedPath(in ToolInput) string {
	switch v := in.(type) {
	case ReadInput:
		return v.FilePath
	case EditInput:
		return v.FilePath
	case WriteInput:
		return v.FilePath
	case GrepInput:
		return v.Path
	case GlobInput:
		return v.Path
	case BashInput, UnknownInput:
		return ""
	default:
		return ""
	}
}

func decodeStrict(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func invalidInput(tool string, err error) error {
	return ErrValidation(CodeInvalidInput, fmt.Sprintf("%s: %v", tool, err)).WithCause(err)
}
