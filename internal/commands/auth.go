// Package commands implements the CLI commands.
package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/basecamp/authgate/internal/appctx"
	"github.com/basecamp/authgate/internal/credstore"
	"github.com/basecamp/authgate/internal/gateway"
	"github.com/basecamp/authgate/internal/issuer"
	"github.com/basecamp/authgate/internal/output"
	"github.com/basecamp/authgate/internal/tui"
)

// NewAuthCmd creates the auth command group.
func NewAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the session",
		Long:  "Log in, log out, inspect and refresh the session used for API calls.",
	}

	cmd.AddCommand(
		newAuthLoginCmd(),
		newAuthLogoutCmd(),
		newAuthStatusCmd(),
		newAuthRefreshCmd(),
		newAuthTokenCmd(),
	)

	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var username string
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with a username and password",
		Long: `Exchange a username and password for a session.

In a terminal you are prompted for anything not given as a flag. In scripts,
pass the password on stdin:

  echo "$PASSWORD" | authgate auth login --username alice --password-stdin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			var password string
			switch {
			case passwordStdin:
				if username == "" {
					return output.ErrUsage("--username is required with --password-stdin")
				}
				password, err = readPassword(cmd.InOrStdin())
				if err != nil {
					return err
				}
			case tui.IsInteractive() && app.IsInteractive():
				creds, err := tui.LoginForm("Log in to "+app.Config.Namespace(), username)
				if errors.Is(err, tui.ErrCanceled) {
					return output.ErrUsage("Login canceled")
				}
				if err != nil {
					return err
				}
				username, password = creds.Username, creds.Password
			default:
				return output.ErrUsageHint("Password required", "Use --password-stdin when not attached to a terminal")
			}

			cred, err := app.Gateway.Login(cmd.Context(), username, password)
			if err != nil {
				return loginError(err)
			}

			return app.OK(sessionInfo(app, cred),
				output.WithSummary("Logged in as "+username),
			)
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")

	return cmd
}

func readPassword(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	password := strings.TrimRight(string(data), "\r\n")
	if password == "" {
		return "", output.ErrUsage("Empty password on stdin")
	}
	return password, nil
}

// loginError maps an exchange failure to a structured error.
func loginError(err error) error {
	var ie *issuer.Error
	if !errors.As(err, &ie) {
		return output.ErrUsage(err.Error())
	}
	if ie.Kind == issuer.InvalidGrant {
		e := output.ErrAuth("Login rejected")
		e.Hint = "Check the username and password"
		if ie.Description != "" {
			e.Hint = ie.Description
		}
		e.Cause = err
		return e
	}
	return output.ErrNetwork(err)
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored session",
		Long:  "Remove the stored credential and anti-forgery token for the configured API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}

			_, wasLoggedIn := app.Gateway.Credential()
			app.Gateway.Logout()

			summary := "Logged out"
			if !wasLoggedIn {
				summary = "Not logged in"
			}
			return app.OK(map[string]any{
				"status": "logged_out",
				"origin": app.Config.Namespace(),
			}, output.WithSummary(summary))
		},
	}
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session status",
		Long:  "Display the session state and credential expiry for the configured API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}

			cred, ok := app.Gateway.Credential()
			if !ok {
				return app.OK(map[string]any{
					"authenticated": false,
					"state":         app.Gateway.State().String(),
					"origin":        app.Config.Namespace(),
					"store":         app.Config.Store,
				}, output.WithSummary("Not logged in"))
			}

			status := sessionInfo(app, cred)
			summary := "Logged in"
			if expired, _ := status["expired"].(bool); expired {
				summary += " (access token past its advisory expiry)"
			}
			return app.OK(status, output.WithSummary(summary))
		},
	}
}

func newAuthRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the access token",
		Long:  "Exchange the refresh credential for a new access token now.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			cred, err := app.Gateway.Refresh(cmd.Context())
			if err != nil {
				return sessionError(err)
			}

			return app.OK(sessionInfo(app, cred),
				output.WithSummary("Access token refreshed"),
			)
		},
	}
}

func newAuthTokenCmd() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print the access token",
		Long: `Print the current access token to stdout for use with other tools.

Examples:
  curl -H "Authorization: Bearer $(authgate auth token)" ...

With --refresh, a token past its advisory expiry is refreshed first.

Output modes:
  authgate auth token           # Raw token (default, for shell substitution)
  authgate auth token --json    # JSON envelope with token in data field
  authgate auth token --stats   # Raw token + stats on stderr`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}

			cred, ok := app.Gateway.Credential()
			if !ok {
				return output.ErrAuth("Not logged in")
			}

			if refresh && cred.Expired(time.Now()) {
				if err := app.RequireAPI(); err != nil {
					return err
				}
				cred, err = app.Gateway.Refresh(cmd.Context())
				if err != nil {
					return sessionError(err)
				}
			}

			// Raw output by default for shell scripts. Only use the JSON
			// envelope when --json or --quiet is explicitly requested.
			if app.Flags.JSON || app.Flags.Quiet {
				return app.OK(map[string]string{"token": cred.AccessToken})
			}

			fmt.Fprintln(cmd.OutOrStdout(), cred.AccessToken)
			return nil
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "Refresh first if the token is past its advisory expiry")

	return cmd
}

// sessionInfo describes a credential without revealing it.
func sessionInfo(app *appctx.App, cred credstore.Credential) map[string]any {
	info := map[string]any{
		"authenticated": true,
		"state":         app.Gateway.State().String(),
		"origin":        app.Config.Namespace(),
		"store":         app.Config.Store,
		"token_type":    cred.TokenType,
		"can_refresh":   cred.CanRefresh(),
	}
	if !cred.ExpiresAt.IsZero() {
		expiresIn := time.Until(cred.ExpiresAt)
		info["expires_at"] = cred.ExpiresAt.UTC().Format(time.RFC3339)
		info["expires_in"] = expiresIn.Round(time.Second).String()
		info["expired"] = expiresIn < 0
	}
	return info
}

// sessionError maps a refresh failure to a structured error.
func sessionError(err error) error {
	if gateway.IsSessionExpired(err) {
		return output.ErrSessionExpired(err)
	}
	return err
}
