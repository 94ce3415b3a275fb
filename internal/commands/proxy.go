package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/basecamp/authgate/internal/credstore"
	"github.com/basecamp/authgate/internal/logging"
	"github.com/basecamp/authgate/internal/proxy"
)

// NewProxyCmd creates the proxy command.
func NewProxyCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Run a local authenticating proxy",
		Long: `Run a reverse proxy that forwards every request to the configured API
with the session's credentials attached.

Tools without auth support can point at the proxy instead of the API. Expired
access tokens are refreshed and the request resent without the client noticing.

Control endpoints:
  GET /_authgate/status   Session state and request statistics
  GET /_authgate/events   Server-sent events, including session_expired

With store: file, a login from another terminal is picked up without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			if listen == "" {
				listen = app.Config.ProxyListen
			}

			srv, err := proxy.New(proxy.Options{
				Listen:    listen,
				Upstream:  app.Config.BaseURL,
				Gateway:   app.Gateway,
				Collector: app.Collector,
			})
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(cmd.Context())
			if fb, ok := app.Backend.(*credstore.FileBackend); ok {
				if err := fb.Watch(gctx, func() { app.Gateway.Reload() }); err != nil {
					logging.For("proxy").WithError(err).Warn("cannot watch credential file, external logins need a restart")
				}
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Proxying %s on http://%s (Ctrl-C to stop)\n", app.Config.BaseURL, listen)
			g.Go(func() error { return srv.Run(gctx) })

			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Address to listen on (default from proxy_listen)")

	return cmd
}
