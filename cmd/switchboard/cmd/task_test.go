package cmd

import (
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/switchboard/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/switchboard/internal/api"
	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
)

func TestTaskStart_Local(t *testing.T) {
	_, stub := setupCLI(t)

	out, err := execute(t, "task", "start", "--expert", "engineer", "--json", "write", "a", "haiku")
	require.NoError(t, err)

	var task core.BackgroundTask
	require.NoError(t, json.Unmarshal([]byte(out), &task))
	assert.Equal(t, core.TaskStatusCompleted, task.Status)
	assert.Equal(t, "engineer", task.ExpertID)
	assert.Equal(t, "all good DONE", task.Result)
	assert.Equal(t, 1, stub.calls())

	// The finished task is persisted and readable by later commands.
	out, err = execute(t, "task", "get", task.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Task "+task.ID)
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "all good DONE")

	out, err = execute(t, "task", "list", "--status", "completed")
	require.NoError(t, err)
	assert.Contains(t, out, task.ID)
	assert.Contains(t, out, "write a haiku")

	out, err = execute(t, "task", "list", "--expert", "reviewer")
	require.NoError(t, err)
	assert.Contains(t, out, "No tasks.")
}

func TestTaskStart_UnknownExpert(t *testing.T) {
	setupCLI(t)

	_, err := execute(t, "task", "start", "--expert", "ghost", "hello")
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestTaskList_InvalidStatus(t *testing.T) {
	setupCLI(t)

	_, err := execute(t, "task", "list", "--status", "sleeping")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown task status")
}

func TestTaskGet_NotFound(t *testing.T) {
	setupCLI(t)

	_, err := execute(t, "task", "get", "nope")
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestTaskCancel_RequiresServer(t *testing.T) {
	setupCLI(t)

	_, err := execute(t, "task", "cancel", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--server")
}

func TestTaskPrune(t *testing.T) {
	setupCLI(t)

	_, err := execute(t, "task", "start", "hello")
	require.NoError(t, err)

	out, err := execute(t, "task", "prune", "--older-than", "1h", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"deleted":0}`, out)

	_, err = execute(t, "task", "prune", "--older-than", "0s")
	require.Error(t, err)
}

func TestTaskCommands_Server(t *testing.T) {
	dir, _ := setupCLI(t)

	history, err := state.NewTaskHistory(filepath.Join(dir, "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = history.Close() })
	srv := httptest.NewServer(api.NewServer(api.Deps{History: history}).Handler())
	t.Cleanup(srv.Close)

	// Without a task manager the server answers 503 for live operations.
	_, err = execute(t, "task", "start", "--server", srv.URL, "hello")
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatTransient))

	out, err := execute(t, "task", "list", "--server", srv.URL, "--history", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)

	_, err = execute(t, "task", "get", "--server", srv.URL, "missing")
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestStats_RequiresServer(t *testing.T) {
	setupCLI(t)

	_, err := execute(t, "stats")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--server")
}

func TestStats_Server(t *testing.T) {
	setupCLI(t)
	srv := httptest.NewServer(api.NewServer(api.Deps{}).Handler())
	t.Cleanup(srv.Close)

	out, err := execute(t, "stats", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Router")
	assert.Contains(t, out, "Tasks")
}
