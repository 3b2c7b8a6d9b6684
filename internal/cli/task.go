package cli

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dl-alexandre/cellsync/internal/sync/index"
	"github.com/dl-alexandre/cellsync/internal/utils"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage saved sync tasks",
	Long:  "Saved tasks pair a local folder with a remote folder and can repeat on an interval",
}

var taskAddCmd = &cobra.Command{
	Use:   "add <local-dir> <remote-path>",
	Short: "Save a sync task",
	Long: `Save a task that syncs a local folder into a remote folder. With
--every the task is re-run by 'cellsync run'.
` + excludeHelp,
	Args: cobra.ExactArgs(2),
	RunE:  runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved tasks",
	Args:  cobra.NoArgs,
	RunE:  runTaskList,
}

var taskRemoveCmd = &cobra.Command{
	Use:   "remove <task-id>",
	Short: "Stop and delete a saved task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskRemove,
}

var taskPauseCmd = &cobra.Command{
	Use:   "pause <task-id>",
	Short: "Pause scheduled runs of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTaskPaused("task.pause", args[0], true)
	},
}

var taskResumeCmd = &cobra.Command{
	Use:   "resume <task-id>",
	Short: "Resume scheduled runs of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTaskPaused("task.resume", args[0], false)
	},
}

var taskStartCmd = &cobra.Command{
	Use:   "start <task-id>",
	Short: "Run a saved task now and follow its progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskStart,
}

var (
	taskID          string
	taskEvery       time.Duration
	taskExclude     []string
	taskParallelism int
)

func init() {
	taskAddCmd.Flags().StringVar(&taskID, "id", "", "Task id (default: random)")
	taskAddCmd.Flags().DurationVar(&taskEvery, "every", 0, "Repeat interval, e.g. 30m (0 disables scheduling)")
	taskAddCmd.Flags().StringSliceVar(&taskExclude, "exclude", nil, "Patterns to exclude (repeatable or comma-separated)")
	taskAddCmd.Flags().IntVar(&taskParallelism, "parallelism", 0, "Concurrent uploads (0 uses the configured default)")

	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskRemoveCmd)
	taskCmd.AddCommand(taskPauseCmd)
	taskCmd.AddCommand(taskResumeCmd)
	taskCmd.AddCommand(taskStartCmd)
	rootCmd.AddCommand(taskCmd)
}

// taskTable renders saved tasks
type taskTable []index.TaskRecord

func (t taskTable) Headers() []string {
	return []string{"ID", "Local", "Remote", "Every", "Paused", "Last Sync"}
}

func (t taskTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, task := range t {
		every := "-"
		if task.RepeatInterval > 0 {
			every = task.Interval().String()
		}
		last := "never"
		if task.LastSyncTime > 0 {
			last = humanize.Time(time.Unix(task.LastSyncTime, 0))
		}
		rows = append(rows, []string{
			truncate(task.ID, 36),
			truncate(task.LocalRoot, 40),
			truncate(task.RemoteRoot, 40),
			every,
			strconv.FormatBool(task.Paused),
			last,
		})
	}
	return rows
}

func (t taskTable) EmptyMessage() string {
	return "No saved tasks"
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	localDir, err := filepath.Abs(args[0])
	if err != nil {
		return out.WriteError("task.add", utils.NewCLIError(utils.ErrCodeInvalidPath, err.Error()).Build())
	}
	if taskEvery != 0 && taskEvery < time.Second {
		return out.WriteError("task.add", utils.NewCLIError(utils.ErrCodeInvalidArgument,
			"Repeat interval must be at least one second").Build())
	}

	a, err := newApp(out)
	if err != nil {
		return out.WriteErr("task.add", err)
	}
	defer a.Close()

	task, err := a.SaveTask(context.Background(), index.TaskRecord{
		ID:             taskID,
		LocalRoot:      localDir,
		RemoteRoot:     strings.Trim(args[1], "/"),
		Ignores:        taskExclude,
		Parallelism:    taskParallelism,
		RepeatInterval: int64(taskEvery / time.Second),
	})
	if err != nil {
		return out.WriteErr("task.add", err)
	}
	out.Log("Saved task %s", task.ID)
	return out.WriteSuccess("task.add", taskTable{task})
}

func runTaskList(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	a, err := newApp(out)
	if err != nil {
		return out.WriteErr("task.list", err)
	}
	defer a.Close()

	tasks, err := a.Tasks(context.Background())
	if err != nil {
		return out.WriteErr("task.list", err)
	}
	return out.WriteSuccess("task.list", taskTable(tasks))
}

func runTaskRemove(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	a, err := newApp(out)
	if err != nil {
		return out.WriteErr("task.remove", err)
	}
	defer a.Close()

	if err := a.RemoveTask(context.Background(), args[0]); err != nil {
		return out.WriteErr("task.remove", err)
	}
	out.Log("Removed task %s", args[0])
	return out.WriteSuccess("task.remove", map[string]interface{}{
		"id":     args[0],
		"status": "removed",
	})
}

func setTaskPaused(command, id string, paused bool) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	a, err := newApp(out)
	if err != nil {
		return out.WriteErr(command, err)
	}
	defer a.Close()

	if err := a.SetTaskPaused(context.Background(), id, paused); err != nil {
		return out.WriteErr(command, err)
	}
	return out.WriteSuccess(command, map[string]interface{}{
		"id":     id,
		"paused": paused,
	})
}

func runTaskStart(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	a, err := newApp(out)
	if err != nil {
		return out.WriteErr("task.start", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	task, err := a.Task(ctx, args[0])
	if err != nil {
		return out.WriteErr("task.start", err)
	}
	if err := a.StartTask(ctx, *task); err != nil {
		return out.WriteErr("task.start", err)
	}
	return followJob(ctx, out, a, "task.start", task.ID)
}
