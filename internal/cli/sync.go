package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dl-alexandre/cellsync/internal/app"
	syncengine "github.com/dl-alexandre/cellsync/internal/sync"
	"github.com/dl-alexandre/cellsync/internal/types"
	"github.com/dl-alexandre/cellsync/internal/utils"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const progressInterval = 500 * time.Millisecond

const excludeHelp = `
Exclude patterns:
  name        any file or folder with that name, at any depth
  *.tmp       globs (*, ?, [abc]) match one name at a time
  build/      trailing slash: folders only
  docs/old    a slash anchors the pattern at the local root
  \[draft]    backslash escapes a glob character for a literal name

Patterns from --exclude are added to the globalIgnores setting.`

var syncCmd = &cobra.Command{
	Use:   "sync <local-dir> <remote-path>",
	Short: "Upload a local folder into a remote folder",
	Long: `Walk a local folder and upload every file whose content differs from
the remote copy. Progress is shown until the job finishes; Ctrl-C pauses
the job and a later run resumes by skipping files already uploaded.
` + excludeHelp,
	Args: cobra.ExactArgs(2),
	RunE: runSync,
}

var (
	syncExclude []string
	syncJobID   string
)

func init() {
	syncCmd.Flags().StringSliceVar(&syncExclude, "exclude", nil, "Patterns to exclude (repeatable or comma-separated)")
	syncCmd.Flags().StringVar(&syncJobID, "id", "", "Job id (default: random)")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	localDir, err := filepath.Abs(args[0])
	if err != nil {
		return out.WriteError("sync", utils.NewCLIError(utils.ErrCodeInvalidPath, err.Error()).Build())
	}
	jobID := syncJobID
	if jobID == "" {
		jobID = uuid.New().String()
	}

	a, err := newApp(out)
	if err != nil {
		return out.WriteErr("sync", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Sync(ctx, jobID, localDir, args[1], syncExclude); err != nil {
		return out.WriteErr("sync", err)
	}
	return followJob(ctx, out, a, "sync", jobID)
}

// followJob prints progress until the job ends or ctx is cancelled, in which
// case the job is paused
func followJob(ctx context.Context, out *OutputWriter, a *app.App, command, jobID string) error {
	done := a.Done(jobID)
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	started := time.Now()
	interactive := out.format == types.OutputFormatTable && !out.quiet

loop:
	for {
		select {
		case <-done:
			break loop
		case <-ctx.Done():
			a.Pause(jobID)
			<-done
			out.Log("\nSync paused")
			break loop
		case <-ticker.C:
			if !interactive {
				continue
			}
			p, err := a.Progress(jobID)
			if err != nil {
				continue
			}
			fmt.Fprintf(out.stderr, "\r%s", progressLine(p))
		}
	}
	if interactive {
		fmt.Fprintln(out.stderr)
	}

	summary, ok := a.Summary(jobID)
	if !ok {
		summary = syncengine.Summary{Cancelled: true}
	}
	out.Verbose("Job %s finished in %s", jobID, time.Since(started).Round(time.Millisecond))

	if summary.Error != "" && !summary.Cancelled {
		return out.WriteError(command, utils.NewCLIError(utils.ErrCodeSyncFailed, summary.Error).
			WithContext("jobId", jobID).Build())
	}
	if summary.Failed > 0 {
		out.AddWarning(utils.ErrCodeSyncFailed,
			fmt.Sprintf("%d file(s) could not be uploaded, see 'cellsync errors'", summary.Failed), "error")
	}
	if err := out.WriteSuccess(command, summary); err != nil {
		return err
	}
	if summary.Failed > 0 {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeSyncFailed, "some files failed to upload").Build())
	}
	return nil
}

func progressLine(p types.Progress) string {
	if p.Total == 0 {
		return "Scanning..."
	}
	return fmt.Sprintf("%s / %s files (%.2f%%)", humanize.Comma(p.Current), humanize.Comma(p.Total), p.Percent())
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run saved tasks on their interval",
	Long: `Run in the foreground, re-running every saved task with a repeat
interval when it is due. Tasks due at start run immediately.`,
	Args: cobra.NoArgs,
	RunE: runScheduler,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runScheduler(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	a, err := newApp(out)
	if err != nil {
		return out.WriteErr("run", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out.Log("Running scheduled tasks, press Ctrl-C to stop")
	if err := a.RunScheduled(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return out.WriteErr("run", err)
	}
	return out.WriteSuccess("run", map[string]interface{}{
		"status": "stopped",
	})
}
