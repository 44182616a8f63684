package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Starts the export server",
		Long: `Opens one renderer window per component and serves exports on
POST /<component route>. GET /ping checks every window.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return appInstance.Serve(ctx)
		},
	}

	f := cmd.Flags()
	f.Int("port", 9091, "port to listen on")
	f.Int("max-windows", 50, "maximum number of open renderer windows")
	f.Int("request-timeout", 50, "per-request timeout in seconds")
	f.Bool("keep-alive", false, "relaunch the server after a fault")
	f.Bool("cors", false, "enable CORS headers")
	f.Int("request-limit", 0, "shut down after this many exports (0 is unlimited)")
	f.StringSlice("component", nil, "component descriptors to serve")
	f.String("plotly-js", "", "plotly.js source loaded in every window")
	f.String("mathjax", "", "MathJax source")
	f.String("topojson", "", "topojson source")
	f.String("mapbox-access-token", "", "mapbox access token injected into figure config")
	f.Bool("debug", false, "show the browser and log at debug level")

	bind(cmd, "port", "server.port")
	bind(cmd, "max-windows", "server.max_windows")
	bind(cmd, "request-timeout", "server.request_timeout_seconds")
	bind(cmd, "keep-alive", "server.keep_alive")
	bind(cmd, "cors", "server.cors")
	bind(cmd, "request-limit", "server.request_limit")
	bind(cmd, "component", "components")
	bind(cmd, "plotly-js", "renderer.plotly_js")
	bind(cmd, "mathjax", "renderer.mathjax")
	bind(cmd, "topojson", "renderer.topojson")
	bind(cmd, "mapbox-access-token", "renderer.mapbox_access_token")
	bind(cmd, "debug", "server.debug")
	return cmd
}
