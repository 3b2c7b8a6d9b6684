package cli

import (
	"context"

	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:   "ls [remote-path]",
	Short: "List a remote folder",
	Long: `List the children of a remote folder. Without a path the workspaces
visible to the user are listed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLs,
}

func init() {
	rootCmd.AddCommand(lsCmd)
}

func runLs(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	remotePath := ""
	if len(args) == 1 {
		remotePath = args[0]
	}

	a, err := newApp(out)
	if err != nil {
		return out.WriteErr("ls", err)
	}
	defer a.Close()

	result, err := a.List(context.Background(), remotePath)
	if err != nil {
		return out.WriteErr("ls", err)
	}
	return out.WriteSuccess("ls", result)
}
