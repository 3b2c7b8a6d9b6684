package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dl-alexandre/cellsync/internal/app"
	"github.com/dl-alexandre/cellsync/internal/auth"
	"github.com/dl-alexandre/cellsync/internal/config"
	"github.com/dl-alexandre/cellsync/internal/errlog"
	"github.com/dl-alexandre/cellsync/internal/logging"
	"github.com/dl-alexandre/cellsync/internal/sync/index"
	"github.com/dl-alexandre/cellsync/internal/types"
	"github.com/dl-alexandre/cellsync/internal/utils"
	"github.com/dl-alexandre/cellsync/pkg/version"
	"github.com/spf13/cobra"
)

var (
	globalFlags    types.GlobalFlags
	logger         logging.Logger
	debugTransport *logging.DebugTransport
	settings       *config.Store
)

var rootCmd = &cobra.Command{
	Use:   "cellsync",
	Short: "Pydio Cells sync - mirror local folders into a Cells workspace",
	Long: `cellsync uploads the content of local folders into Pydio Cells
workspaces, skipping files whose content is already present remotely.

Saved tasks can be re-run on an interval with 'cellsync run'.
All commands support JSON output for automation and scripting.`,
	Version:       version.Version,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if globalFlags.Config != "" {
			if err := os.Setenv(config.EnvPrefix+"CONFIG_DIR", globalFlags.Config); err != nil {
				return err
			}
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		settings = config.NewStore(cfg)

		if !cmd.Flags().Changed("output") && !globalFlags.JSON {
			globalFlags.OutputFormat = cfg.DefaultOutputFormat
		}
		if err := validateGlobalFlags(); err != nil {
			return err
		}

		level, err := logging.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logConfig := logging.DefaultLogConfig()
		logConfig.Level = level
		logConfig.OutputFile = cfg.LogFile
		logConfig.EnableConsole = !globalFlags.Quiet
		logConfig.EnableDebug = globalFlags.Debug
		logConfig.ColorEnabled = cfg.ColorOutput
		if globalFlags.LogFile != "" {
			logConfig.OutputFile = globalFlags.LogFile
		}
		if globalFlags.Verbose {
			logConfig.Level = logging.DEBUG
		}
		if globalFlags.OutputFormat == types.OutputFormatJSON && !globalFlags.Verbose && !globalFlags.Debug {
			logConfig.EnableConsole = false
		}

		logger, debugTransport, err = logging.NewDebugLoggerWithTransport(logConfig)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Close()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "Print the version, commit and build information of cellsync",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := NewOutputWriter(globalFlags.OutputFormat, globalFlags.Quiet, globalFlags.Verbose)
		info := version.Get()
		if globalFlags.OutputFormat == types.OutputFormatJSON {
			return out.WriteSuccess("version", info)
		}
		fmt.Println(info.String())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar((*string)(&globalFlags.OutputFormat), "output", "table", "Output format (json, table)")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.JSON, "json", false, "Output in JSON format (alias for --output json)")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Quiet, "quiet", "q", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.Debug, "debug", false, "Log every HTTP request")
	rootCmd.PersistentFlags().StringVar(&globalFlags.Config, "config", "", "Configuration directory")
	rootCmd.PersistentFlags().StringVar(&globalFlags.LogFile, "log-file", "", "Path to log file")

	rootCmd.AddCommand(versionCmd)
}

func validateGlobalFlags() error {
	// Handle --json flag as alias for --output json
	if globalFlags.JSON {
		globalFlags.OutputFormat = types.OutputFormatJSON
	}

	if globalFlags.OutputFormat != types.OutputFormatJSON && globalFlags.OutputFormat != types.OutputFormatTable {
		return fmt.Errorf("invalid output format: %s", globalFlags.OutputFormat)
	}
	return nil
}

// Execute runs the root command and exits with the code of the failure
func Execute() error {
	err := rootCmd.Execute()
	if err == nil {
		return nil
	}
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		os.Exit(utils.GetExitCode(appErr.CLIError.Code))
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(utils.ExitUnknown)
	return nil
}

// GetGlobalFlags returns the global flags
func GetGlobalFlags() types.GlobalFlags {
	return globalFlags
}

// GetLogger returns the global logger
func GetLogger() logging.Logger {
	if logger == nil {
		return logging.NewNoOpLogger()
	}
	return logger
}

func getConfigDir() string {
	dir, err := config.GetConfigDir()
	if err == nil {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", utils.AppID)
}

// newApp builds the application facade from the loaded settings. Callers
// must Close it.
func newApp(out *OutputWriter) (*app.App, error) {
	configDir := getConfigDir()
	secrets := auth.NewSecretStore(configDir, auth.StoreOptions{})
	if warning := secrets.Warning(); warning != "" && globalFlags.Verbose {
		out.Log("%s", warning)
	}

	opts := app.Options{
		Settings:  settings,
		Secrets:   secrets,
		IndexPath: index.DefaultPath(configDir),
		Notifier:  errlog.NewWriterNotifier(os.Stderr),
		Logger:    GetLogger(),
	}
	if debugTransport != nil {
		opts.Transport = debugTransport
	}
	return app.New(opts)
}
