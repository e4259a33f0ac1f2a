package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/switchboard/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/switchboard/internal/api"
	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service/background"
	"github.com/hugo-lorenzo-mato/switchboard/internal/tui"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Delegate prompts to experts as background tasks",
	Long: `Background tasks run a single prompt against one expert under the
per-model and per-provider concurrency limits.

Without --server, "task start" runs the task in this process and waits for
it, and "task list" and "task get" read the persisted task history. With
--server the commands operate on a running "switchboard serve".`,
}

var taskStartCmd = &cobra.Command{
	Use:   "start <prompt>",
	Short: "Start a background task",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTaskStart,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Args:  cobra.NoArgs,
	RunE:  runTaskList,
}

var taskGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskGet,
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a pending or running task (requires --server)",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskCancel,
}

var taskPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete persisted tasks older than a cutoff",
	Args:  cobra.NoArgs,
	RunE:  runTaskPrune,
}

var (
	taskExpert     string
	taskListExpert string
	taskContext    string
	taskWait       bool
	taskStatus     string
	taskHistory    bool
	taskLimit      int
	taskOlderThan  time.Duration
)

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskStartCmd, taskListCmd, taskGetCmd, taskCancelCmd, taskPruneCmd)

	taskStartCmd.Flags().StringVarP(&taskExpert, "expert", "e", "engineer", "expert to delegate to")
	taskStartCmd.Flags().StringVar(&taskContext, "context", "", "additional context passed with the prompt")
	taskStartCmd.Flags().BoolVar(&taskWait, "wait", false, "with --server, poll until the task finishes")

	taskListCmd.Flags().StringVar(&taskStatus, "status", "", "filter by status (pending, running, completed, failed, cancelled)")
	taskListCmd.Flags().StringVarP(&taskListExpert, "expert", "e", "", "filter by expert")
	taskListCmd.Flags().BoolVar(&taskHistory, "history", false, "with --server, list persisted tasks instead of live ones")
	taskListCmd.Flags().IntVar(&taskLimit, "limit", 50, "maximum number of persisted tasks")

	taskPruneCmd.Flags().DurationVar(&taskOlderThan, "older-than", 30*24*time.Hour, "age of the tasks to delete")
}

func parseStatus(s string) (core.TaskStatus, error) {
	if s == "" {
		return "", nil
	}
	st := core.TaskStatus(strings.ToLower(s))
	switch st {
	case core.TaskStatusPending, core.TaskStatusRunning, core.TaskStatusCompleted,
		core.TaskStatusFailed, core.TaskStatusCancelled:
		return st, nil
	}
	return "", core.ErrValidation(core.CodeInvalidInput, "unknown task status: "+s)
}

// openHistory opens only the task history, for commands that read it.
func openHistory() (*state.TaskHistory, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.State.HistoryDB) == "" {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "task history is disabled (state.history_db is empty)")
	}
	stores, err := state.Open("", cfg.State.HistoryDB)
	if err != nil {
		return nil, fmt.Errorf("opening task history: %w", err)
	}
	return stores.History, nil
}

func runTaskStart(cmd *cobra.Command, args []string) error {
	req := background.StartRequest{
		ExpertID: taskExpert,
		Prompt:   strings.Join(args, " "),
		Context:  taskContext,
	}
	ctx, stop := signalContext(cmd.Context())
	defer stop()
	p := newPrinter(cmd)

	if serverURL != "" {
		c := api.NewClient(serverURL)
		task, err := c.StartTask(ctx, req)
		if err != nil {
			return err
		}
		if taskWait {
			task, err = pollTask(ctx, c, task.ID)
			if err != nil {
				return err
			}
		}
		return p.Task(task)
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer closeApp(a)

	started, err := a.tasks.Start(ctx, req)
	if err != nil {
		return err
	}
	task, err := a.tasks.Wait(ctx, started.ID)
	if err != nil {
		// Interrupted: cancel and report the last known state.
		task = started
		if cancelled, cerr := a.tasks.Cancel(started.ID); cerr == nil {
			task = cancelled
		}
	}
	if perr := p.Task(task); perr != nil {
		return perr
	}
	if task.Status == core.TaskStatusFailed {
		return fmt.Errorf("task %s failed", task.ID)
	}
	return err
}

// taskPollInterval is how often --wait checks a remote task.
var taskPollInterval = 500 * time.Millisecond

func pollTask(ctx context.Context, c *api.Client, id string) (*core.BackgroundTask, error) {
	ticker := time.NewTicker(taskPollInterval)
	defer ticker.Stop()
	for {
		task, err := c.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.Status.IsTerminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}

func runTaskList(cmd *cobra.Command, _ []string) error {
	status, err := parseStatus(taskStatus)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	p := newPrinter(cmd)

	if serverURL != "" {
		tasks, err := api.NewClient(serverURL).ListTasks(ctx, api.TaskListOptions{
			Status:   status,
			ExpertID: taskListExpert,
			History:  taskHistory,
			Limit:    taskLimit,
		})
		if err != nil {
			return err
		}
		return p.Tasks(tasks)
	}

	history, err := openHistory()
	if err != nil {
		return err
	}
	defer history.Close()
	tasks, err := history.List(ctx, state.HistoryFilter{Status: status, ExpertID: taskListExpert, Limit: taskLimit})
	if err != nil {
		return err
	}
	return p.Tasks(tasks)
}

func runTaskGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	var (
		task *core.BackgroundTask
		err  error
	)
	if serverURL != "" {
		task, err = api.NewClient(serverURL).GetTask(ctx, args[0])
	} else {
		var history *state.TaskHistory
		history, err = openHistory()
		if err != nil {
			return err
		}
		defer history.Close()
		task, err = history.GetTask(ctx, args[0])
	}
	if err != nil {
		return err
	}
	return newPrinter(cmd).Task(task)
}

func runTaskCancel(cmd *cobra.Command, args []string) error {
	if serverURL == "" {
		return core.ErrValidation(core.CodeInvalidInput, "task cancel needs --server: tasks only live inside a running server")
	}
	task, err := api.NewClient(serverURL).CancelTask(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return newPrinter(cmd).Task(task)
}

func runTaskPrune(cmd *cobra.Command, _ []string) error {
	if taskOlderThan <= 0 {
		return core.ErrValidation(core.CodeInvalidInput, "--older-than must be positive")
	}
	history, err := openHistory()
	if err != nil {
		return err
	}
	defer history.Close()

	n, err := history.Prune(cmd.Context(), time.Now().Add(-taskOlderThan))
	if err != nil {
		return err
	}
	p := newPrinter(cmd)
	if p.Mode() == tui.ModeJSON {
		return p.JSON(map[string]int64{"deleted": n})
	}
	p.Message("Deleted %d task(s) older than %s.", n, taskOlderThan)
	return nil
}
