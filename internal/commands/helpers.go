package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/basecamp/authgate/internal/appctx"
)

var errNoApp = errors.New("app not initialized")

// appFrom returns the App installed by the root command.
func appFrom(cmd *cobra.Command) (*appctx.App, error) {
	app := appctx.FromContext(cmd.Context())
	if app == nil {
		return nil, errNoApp
	}
	return app, nil
}

// requireApp is appFrom for commands that talk to the API.
func requireApp(cmd *cobra.Command) (*appctx.App, error) {
	app, err := appFrom(cmd)
	if err != nil {
		return nil, err
	}
	if err := app.RequireAPI(); err != nil {
		return nil, err
	}
	return app, nil
}
