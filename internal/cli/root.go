// Package cli wires the root command, global flags and process exit codes.
package cli

import (
	"context"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/basecamp/authgate/internal/appctx"
	"github.com/basecamp/authgate/internal/commands"
	"github.com/basecamp/authgate/internal/config"
	"github.com/basecamp/authgate/internal/hostutil"
	"github.com/basecamp/authgate/internal/logging"
	"github.com/basecamp/authgate/internal/output"
	"github.com/basecamp/authgate/internal/version"
)

// NewRootCmd creates the root cobra command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	var flags appctx.GlobalFlags

	cmd := &cobra.Command{
		Use:   "authgate",
		Short: "Authenticated request gateway",
		Long: `authgate keeps an authenticated session for an HTTP API.

It attaches credentials and an anti-forgery token to every request, refreshes an
expired access token once for all concurrent callers, resends the failed
requests, and reports when the session can no longer be recovered.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip setup for help and version commands
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}

			cfg, err := config.Load(config.FlagOverrides{
				ConfigPath: flags.ConfigPath,
				BaseURL:    hostutil.Normalize(flags.BaseURL),
				Store:      flags.Store,
				Stats:      flags.Stats,
			})
			if err != nil {
				return output.ErrUsage(err.Error())
			}

			if err := logging.Setup(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile}); err != nil {
				return output.ErrUsageHint(err.Error(), "Set log_level to debug, info, warn or error")
			}

			app, err := appctx.NewApp(cfg)
			if err != nil {
				return err
			}
			app.Flags = flags
			app.ApplyFlags()

			cmd.SetContext(appctx.WithApp(cmd.Context(), app))
			return nil
		},
	}

	// Accept config-style spellings such as --base_url
	cmd.SetGlobalNormalizationFunc(normalizeFlagName)

	// Allow flags anywhere in the command line
	cmd.Flags().SetInterspersed(true)
	cmd.PersistentFlags().SetInterspersed(true)

	// Output format flags
	cmd.PersistentFlags().BoolVarP(&flags.JSON, "json", "j", false, "Output as JSON")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Output data only, no envelope")
	cmd.PersistentFlags().BoolVar(&flags.Styled, "styled", false, "Force styled output (ANSI colors)")

	// Context flags
	cmd.PersistentFlags().StringVar(&flags.BaseURL, "base-url", "", "API base URL (e.g., https://api.example.com)")
	cmd.PersistentFlags().StringVar(&flags.Store, "store", "", "Credential store: keyring, file, redis or memory")
	cmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "Config file (replaces the global config)")

	// Behavior flags
	cmd.PersistentFlags().CountVarP(&flags.Verbose, "verbose", "v", "Verbose output (-v for session events, -vv for requests)")
	cmd.PersistentFlags().BoolVar(&flags.Stats, "stats", false, "Show session statistics")

	cmd.AddCommand(
		commands.NewAuthCmd(),
		commands.NewRequestCmd(),
		commands.NewProxyCmd(),
		commands.NewConfigCmd(),
		commands.NewVersionCmd(),
	)

	return cmd
}

// Execute runs the root command and exits with the error's exit code.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, NewRootCmd())
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cmd *cobra.Command) int {
	executedCmd, err := cmd.ExecuteContextC(ctx)
	defer logging.Close()

	var app *appctx.App
	if executedCmd != nil {
		app = appctx.FromContext(executedCmd.Context())
	}
	if app != nil {
		defer app.Close()
	}

	if err == nil {
		return output.ExitOK
	}

	err = transformCobraError(err)
	apiErr := output.AsError(err)

	// Use app.Err() when available for --stats support
	if app != nil {
		_ = app.Err(err)
		return apiErr.ExitCode()
	}

	// Fallback: output error directly (app not available, e.g., during setup)
	_ = fallbackWriter(cmd).Err(err)
	return apiErr.ExitCode()
}

func fallbackWriter(cmd *cobra.Command) *output.Writer {
	pf := cmd.PersistentFlags()
	quiet, _ := pf.GetBool("quiet")
	jsonFlag, _ := pf.GetBool("json")
	styled, _ := pf.GetBool("styled")

	format := output.FormatAuto
	switch {
	case quiet:
		format = output.FormatQuiet
	case jsonFlag:
		format = output.FormatJSON
	case styled:
		format = output.FormatStyled
	}
	return output.New(output.Options{Format: format, Writer: cmd.OutOrStdout()})
}

func normalizeFlagName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

var shorthandFlagRe = regexp.MustCompile(`unknown shorthand flag: '.' in (-\w)`)

// transformCobraError turns cobra's parse errors into usage errors.
func transformCobraError(err error) error {
	msg := err.Error()

	switch {
	case strings.HasPrefix(msg, "flag needs an argument: "):
		flag := strings.TrimPrefix(msg, "flag needs an argument: ")
		return output.ErrUsage(flag + " requires a value")

	case strings.HasPrefix(msg, "unknown flag: "):
		return output.ErrUsage("Unknown option: " + strings.TrimPrefix(msg, "unknown flag: "))

	case strings.HasPrefix(msg, "unknown shorthand flag: "):
		if m := shorthandFlagRe.FindStringSubmatch(msg); len(m) > 1 {
			return output.ErrUsage("Unknown option: " + m[1])
		}
		return output.ErrUsage(msg)

	case strings.HasPrefix(msg, "unknown command "):
		return output.ErrUsageHint(msg, "Run: authgate --help")

	case strings.Contains(msg, "invalid argument"),
		strings.Contains(msg, "arg(s), received"):
		return output.ErrUsage(msg)
	}

	return err
}
