package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseToolInput_KnownTools(t *testing.T) {
	tests := []struct {
		tool string
		raw  string
		want ToolInput
	}{
		{"Read", `{"file_path":"a.go","limit":10}`, ReadInput{FilePath: "a.go", Limit: 10}},
		{"Grep", `{"pattern":"TODO","path":"internal"}`, GrepInput{Pattern: "TODO", Path: "internal"}},
		{"Glob", `{"pattern":"**/*.go"}`, GlobInput{Pattern: "**/*.go"}},
		{"Bash", `{"command":"ls"}`, BashInput{Command: "ls"}},
		{"Edit", `{"file_path":"a.go","old_string":"x","new_string":"y"}`, EditInput{FilePath: "a.go", OldString: "x", NewString: "y"}},
		{"Write", `{"file_path":"a.go","content":"package a"}`, WriteInput{FilePath: "a.go", Content: "package a"}},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			got, err := ParseToolInput(tt.tool, json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.tool, got.ToolName())
		})
	}
}

func TestParseToolInput_Rejects(t *testing.T) {
	_, err := ParseToolInput("Read", json.RawMessage(`{"path":"a.go"}`))
	require.Error(t, err)
	assert.True(t, IsCategory(err, ErrCatValidation))

	_, err = ParseToolInput("Bash", nil)
	require.Error(t, err, "missing command must be rejected")
}

func TestParseToolInput_Unknown(t *testing.T) {
	got, err := ParseToolInput("WebFetch", json.RawMessage(`{"url":"x"}`))
	require.NoError(t, err)
	u, ok := got.(UnknownInput)
	require.True(t, ok)
	assert.Equal(t, "WebFetch", u.ToolName())
	assert.JSONEq(t, `{"url":"x"}`, string(u.Raw))
}

func TestTouchedPath(t *testing.T) {
	assert.Equal(t, "a.go", TouchedPath(EditInput{FilePath: "a.go"}))
	assert.Equal(t, "", TouchedPath(BashInput{Command: "ls"}))
}
