package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/permaskills/skills/internal/apperr"
	"github.com/permaskills/skills/internal/branding"
	"github.com/permaskills/skills/internal/config"
	"github.com/permaskills/skills/internal/logging"
)

var (
	buildVersion string
	buildCommit  string
	buildDate    string
)

// Global flags and the state PersistentPreRunE builds from them.
var (
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   branding.CLIName(),
	Short: branding.Description(),
	Long: branding.DisplayName() + ` publishes, searches and installs skill bundles stored on a
content-addressed storage network. Package metadata lives in a registry
process; bundles are immutable and addressed by their content id.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/"+branding.HomeDir()+"/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return apperr.Wrap(err, apperr.KindValidation, apperr.CodeInvalidInput, "", "run with --help for usage")
	})
}

// setup loads configuration and builds the logger shared by every command.
func setup(cmd *cobra.Command, _ []string) error {
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Get(config.KeyLogLevel))
	if err != nil {
		return apperr.Wrap(err, apperr.KindConfiguration, apperr.CodeInvalidInput, "", "")
	}
	if verbose {
		level = slog.LevelDebug
	}
	format, err := logging.ParseFormat(cfg.Get(config.KeyLogFormat))
	if err != nil {
		return apperr.Wrap(err, apperr.KindConfiguration, apperr.CodeInvalidInput, "", "")
	}
	logger = logging.New(
		logging.WithLevel(level),
		logging.WithFormat(format),
		logging.WithOutput(cmd.ErrOrStderr()),
	)
	return nil
}

// Execute runs the root command with build info injected via ldflags. The
// returned error has already been printed; callers map it to an exit code
// with apperr.ExitCode.
func Execute(version, commit, date string) error {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		printError(rootCmd.ErrOrStderr(), err)
	}
	return err
}

func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
	if hint := apperr.HintOf(err); hint != "" {
		fmt.Fprintf(w, "Hint: %s\n", hint)
	}
}

// argsExactly wraps cobra.ExactArgs so a wrong argument count is a
// validation error.
func argsExactly(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return apperr.Wrap(err, apperr.KindValidation, apperr.CodeInvalidInput, "",
				fmt.Sprintf("usage: %s", cmd.UseLine()))
		}
		return nil
	}
}

// argsAtMost wraps cobra.MaximumNArgs the same way.
func argsAtMost(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.MaximumNArgs(n)(cmd, args); err != nil {
			return apperr.Wrap(err, apperr.KindValidation, apperr.CodeInvalidInput, "",
				fmt.Sprintf("usage: %s", cmd.UseLine()))
		}
		return nil
	}
}
