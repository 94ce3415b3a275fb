// Package appctx provides application context helpers.
package appctx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/basecamp/authgate/internal/api"
	"github.com/basecamp/authgate/internal/config"
	"github.com/basecamp/authgate/internal/credstore"
	"github.com/basecamp/authgate/internal/gateway"
	"github.com/basecamp/authgate/internal/issuer"
	"github.com/basecamp/authgate/internal/observability"
	"github.com/basecamp/authgate/internal/output"
)

// contextKey is a private type for context keys.
type contextKey string

const appKey contextKey = "app"

// App holds the shared application context for all commands.
type App struct {
	Config  *config.Config
	Backend credstore.Backend
	Store   *credstore.Store
	Issuer  issuer.Issuer
	Gateway *gateway.Gateway
	API     *api.Client
	Output  *output.Writer

	// Observability
	Collector *observability.SessionCollector
	Hooks     *observability.CLIHooks

	// Flags holds the global flag values
	Flags GlobalFlags

	// Stderr receives stats and prompts. Nil means os.Stderr.
	Stderr io.Writer
}

// GlobalFlags holds values for global CLI flags.
type GlobalFlags struct {
	// Output format flags
	JSON   bool
	Quiet  bool
	Styled bool // Force ANSI styled output (even when piped)

	// Context flags
	BaseURL    string
	Store      string
	ConfigPath string

	// Behavior flags
	Verbose int // 0=off, 1=session events, 2=session events+requests (stacks with -v -v or -vv)
	Stats   bool
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config) (*App, error) {
	backend, err := credstore.NewBackend(credstore.BackendOptions{
		Kind:     cfg.Store,
		Dir:      cfg.StoreDir,
		RedisURL: cfg.RedisURL,
	})
	if err != nil {
		return nil, output.ErrUsageHint(err.Error(), "Set store to keyring, file, redis or memory")
	}
	return NewAppWithBackend(cfg, backend), nil
}

// NewAppWithBackend creates an App that persists credentials in backend.
func NewAppWithBackend(cfg *config.Config, backend credstore.Backend) *App {
	store := credstore.NewStore(backend, cfg.Namespace())

	iss := issuer.NewOAuth2Issuer(issuer.Config{
		TokenURL:     cfg.TokenEndpoint(),
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       cfg.Scopes(),
		Timeout:      cfg.RequestTimeout,
	})

	// Collector always runs to gather stats; hooks control output verbosity.
	// Level 0 initially; ApplyFlags sets the actual level from -v flags.
	collector := observability.NewSessionCollector()
	hooks := observability.NewCLIHooks(0, collector, observability.NewTraceWriter())

	gw := gateway.New(gateway.Options{
		Store:             store,
		Issuer:            iss,
		CSRFHeader:        cfg.CSRFHeader,
		AuthStatuses:      cfg.AuthStatuses,
		ForbiddenStatuses: cfg.ForbiddenStatuses,
		RefreshTimeout:    cfg.RefreshTimeout,
		Hooks:             hooks,
	})

	client := api.NewClient(gw.HTTPClient(cfg.RequestTimeout), cfg.BaseURL)
	client.SetClassifier(gw.Classifier())

	return &App{
		Config:    cfg,
		Backend:   backend,
		Store:     store,
		Issuer:    iss,
		Gateway:   gw,
		API:       client,
		Collector: collector,
		Hooks:     hooks,
		Output: output.New(output.Options{
			Format: formatFromConfig(cfg.Format),
			Writer: os.Stdout,
		}),
	}
}

func formatFromConfig(format string) output.Format {
	switch format {
	case "json":
		return output.FormatJSON
	case "quiet":
		return output.FormatQuiet
	case "styled":
		return output.FormatStyled
	default:
		return output.FormatAuto
	}
}

// ApplyFlags applies global flag values to the app configuration.
func (a *App) ApplyFlags() {
	// Apply output format from flags (order matters: specific modes first)
	switch {
	case a.Flags.Quiet:
		a.Output = output.New(output.Options{Format: output.FormatQuiet, Writer: os.Stdout})
	case a.Flags.JSON:
		a.Output = output.New(output.Options{Format: output.FormatJSON, Writer: os.Stdout})
	case a.Flags.Styled:
		a.Output = output.New(output.Options{Format: output.FormatStyled, Writer: os.Stdout})
	}

	if a.Config != nil && a.Config.Stats {
		a.Flags.Stats = true
	}

	// Determine verbosity level from flags and AUTHGATE_DEBUG env var
	verboseLevel := a.Flags.Verbose
	if debugEnv := os.Getenv("AUTHGATE_DEBUG"); debugEnv != "" {
		// AUTHGATE_DEBUG can be "1", "2", or "true" (treated as 2 for full debug)
		if level, err := strconv.Atoi(debugEnv); err == nil {
			verboseLevel = max(verboseLevel, level)
		} else if debugEnv == "true" {
			verboseLevel = 2
		}
	}

	if a.Hooks != nil {
		a.Hooks.SetLevel(verboseLevel)
	}
}

// RequireAPI reports a usage error when the upstream API is not configured.
func (a *App) RequireAPI() error {
	if err := a.Config.Validate(); err != nil {
		return output.ErrUsageHint(err.Error(), "Set base_url in ~/.config/authgate/config.yaml or AUTHGATE_BASE_URL")
	}
	return nil
}

// OK outputs a success response, automatically including stats if --stats flag is set.
func (a *App) OK(data any, opts ...output.ResponseOption) error {
	if a.Flags.Stats && a.Collector != nil {
		opts = append(opts, output.WithMeta("stats", a.Collector.Summary().Map()))
	}
	return a.Output.OK(data, opts...)
}

// Err outputs an error response, printing stats to stderr if --stats flag is set.
func (a *App) Err(err error) error {
	if outputErr := a.Output.Err(err); outputErr != nil {
		return outputErr
	}

	// Quiet output is meant for programmatic consumption
	if a.Flags.Stats && a.Collector != nil && !a.isMachineOutput() {
		stats := a.Collector.Summary()
		a.printStatsToStderr(&stats)
	}
	return nil
}

// isMachineOutput returns true if the output mode is intended for programmatic consumption.
func (a *App) isMachineOutput() bool {
	if a.Flags.Quiet {
		return true
	}
	return a.Config != nil && a.Config.Format == "quiet"
}

func (a *App) stderr() io.Writer {
	if a.Stderr != nil {
		return a.Stderr
	}
	return os.Stderr
}

// printStatsToStderr outputs a compact stats line to stderr.
func (a *App) printStatsToStderr(stats *observability.SessionMetrics) {
	if stats == nil {
		return
	}

	var parts []string

	duration := stats.EndTime.Sub(stats.StartTime)
	if duration < time.Second {
		parts = append(parts, fmt.Sprintf("%dms", duration.Milliseconds()))
	} else {
		parts = append(parts, fmt.Sprintf("%.1fs", duration.Seconds()))
	}

	parts = appendCount(parts, stats.TotalRequests, "request", "requests")
	parts = appendCount(parts, stats.Replays, "replay", "replays")
	parts = appendCount(parts, stats.Refreshes, "refresh", "refreshes")
	if stats.FailedRefreshes > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", stats.FailedRefreshes))
	}
	if stats.Expirations > 0 {
		parts = append(parts, "session expired")
	}

	fmt.Fprintf(a.stderr(), "\nStats: %s\n", strings.Join(parts, " | "))
}

func appendCount(parts []string, n int, one, many string) []string {
	switch {
	case n == 1:
		return append(parts, "1 "+one)
	case n > 1:
		return append(parts, fmt.Sprintf("%d %s", n, many))
	default:
		return parts
	}
}

// Close persists pending session writes and releases resources held by the
// credential backend.
func (a *App) Close() error {
	if a.Store != nil {
		a.Store.Close()
	}
	if c, ok := a.Backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// IsInteractive returns true if stdout is a terminal and output is for humans.
func (a *App) IsInteractive() bool {
	if a.Flags.JSON || a.Flags.Quiet {
		return false
	}

	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// WithApp stores the app in the context.
func WithApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, appKey, app)
}

// FromContext retrieves the app from the context.
func FromContext(ctx context.Context) *App {
	app, _ := ctx.Value(appKey).(*App)
	return app
}
