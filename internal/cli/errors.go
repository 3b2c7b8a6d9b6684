package cli

import (
	"context"
	"strconv"

	"github.com/dl-alexandre/cellsync/internal/types"
	"github.com/spf13/cobra"
)

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "Show recorded sync errors, oldest first",
	Args:  cobra.NoArgs,
	RunE:  runErrorsList,
}

var errorsPopCmd = &cobra.Command{
	Use:   "pop",
	Short: "Print and remove the most recent error",
	Args:  cobra.NoArgs,
	RunE:  runErrorsPop,
}

var errorsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every recorded error",
	Args:  cobra.NoArgs,
	RunE:  runErrorsClear,
}

func init() {
	errorsCmd.AddCommand(errorsPopCmd)
	errorsCmd.AddCommand(errorsClearCmd)
	rootCmd.AddCommand(errorsCmd)
}

type errorTable []string

func (e errorTable) AsTableRenderer() types.TableRenderer {
	t := types.Table{Columns: []string{"#", "Message"}, Empty: "No errors recorded"}
	for i, msg := range e {
		t.Cells = append(t.Cells, []string{strconv.Itoa(i + 1), msg})
	}
	return t
}

func runErrorsList(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	a, err := newApp(out)
	if err != nil {
		return out.WriteErr("errors.list", err)
	}
	defer a.Close()

	entries, err := a.Errors(context.Background())
	if err != nil {
		return out.WriteErr("errors.list", err)
	}
	return out.WriteSuccess("errors.list", errorTable(entries))
}

func runErrorsPop(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	a, err := newApp(out)
	if err != nil {
		return out.WriteErr("errors.pop", err)
	}
	defer a.Close()

	msg, err := a.PopError(context.Background())
	if err != nil {
		return out.WriteErr("errors.pop", err)
	}
	popped := errorTable{}
	if msg != "" {
		popped = append(popped, msg)
	}
	return out.WriteSuccess("errors.pop", popped)
}

func runErrorsClear(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	a, err := newApp(out)
	if err != nil {
		return out.WriteErr("errors.clear", err)
	}
	defer a.Close()

	if err := a.ClearErrors(context.Background()); err != nil {
		return out.WriteErr("errors.clear", err)
	}
	out.Log("Error log cleared")
	return out.WriteSuccess("errors.clear", map[string]interface{}{
		"status": "cleared",
	})
}
