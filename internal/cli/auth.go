package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dl-alexandre/cellsync/internal/utils"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var loginCmd = &cobra.Command{
	Use:   "login <endpoint> <username>",
	Short: "Log in to a Cells server",
	Long: `Log in with a username and password. The credentials are kept in the
system keyring (or an encrypted file) so later commands and scheduled
runs can renew the session without prompting.`,
	Args: cobra.ExactArgs(2),
	RunE: runLogin,
}

var connectCmd = &cobra.Command{
	Use:   "connect <endpoint> <username>",
	Short: "Connect to a Cells server and show the user profile",
	Long: `Connect to a server with the stored credentials, or with a personal
access token passed through --token.`,
	Args: cobra.ExactArgs(2),
	RunE: runConnect,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored password",
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the current session",
	RunE:  runWhoami,
}

var (
	loginPasswordStdin bool
	connectToken       string
)

func init() {
	loginCmd.Flags().BoolVar(&loginPasswordStdin, "password-stdin", false, "Read the password from stdin")
	connectCmd.Flags().StringVar(&connectToken, "token", "", "Personal access token")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	password, err := readPassword(os.Stdin, loginPasswordStdin)
	if err != nil {
		return out.WriteError("login", utils.NewCLIError(utils.ErrCodeInvalidArgument, err.Error()).Build())
	}

	a, err := newApp(out)
	if err != nil {
		return out.WriteErr("login", err)
	}
	defer a.Close()

	session, err := a.Login(context.Background(), args[0], args[1], password)
	if err != nil {
		return out.WriteErr("login", err)
	}

	out.Log("Logged in to %s as %s", session.Endpoint, session.Login)
	return out.WriteSuccess("login", session)
}

func runConnect(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	a, err := newApp(out)
	if err != nil {
		return out.WriteErr("connect", err)
	}
	defer a.Close()

	user, err := a.Connect(context.Background(), args[0], args[1], connectToken)
	if err != nil {
		return out.WriteErr("connect", err)
	}
	return out.WriteSuccess("connect", user)
}

func runLogout(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	a, err := newApp(out)
	if err != nil {
		return out.WriteErr("logout", err)
	}
	defer a.Close()

	if err := a.Logout(); err != nil {
		return out.WriteErr("logout", err)
	}
	out.Log("Stored password removed")
	return out.WriteSuccess("logout", map[string]interface{}{
		"status": "logged_out",
	})
}

func runWhoami(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	a, err := newApp(out)
	if err != nil {
		return out.WriteErr("whoami", err)
	}
	defer a.Close()

	session, err := a.Session(context.Background())
	if err != nil {
		return out.WriteErr("whoami", err)
	}
	return out.WriteSuccess("whoami", session)
}

// readPassword prompts on a terminal, otherwise reads one line
func readPassword(in *os.File, fromStdin bool) (string, error) {
	fd := int(in.Fd())
	if !fromStdin && term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Password: ")
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}
	return readLine(in)
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("password is empty")
	}
	return line, nil
}
