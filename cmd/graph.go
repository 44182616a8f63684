package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newGraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph [items...]",
		Short: "Exports figures in one batch",
		Long: `Each item is a file path, a glob, an http(s) URL or literal JSON.
With no items the figure is read from standard input. Without --output-dir
or --output the image is written to standard output.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			code, err := appInstance.Graph(ctx, args)
			if err != nil {
				return err
			}
			if code != 0 {
				return exitError{code: code}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.String("output-dir", "", "directory for exported images")
	f.String("output", "", "output file name; its directory becomes a prefix")
	f.String("format", "png", "image format: png, jpeg, webp, svg, pdf or eps")
	f.Float64("scale", 1, "scale factor")
	f.Float64("width", 700, "default width when the figure has none")
	f.Float64("height", 500, "default height when the figure has none")
	f.Int("parallel-limit", 1, "number of exports in flight")
	f.StringSlice("component", nil, "component descriptor to export with")
	f.String("plotly-js", "", "plotly.js source loaded in the window")
	f.String("mapbox-access-token", "", "mapbox access token injected into figure config")
	f.Bool("debug", false, "show the browser and log at debug level")

	bind(cmd, "output-dir", "batch.output_dir")
	bind(cmd, "output", "batch.output")
	bind(cmd, "format", "batch.format")
	bind(cmd, "scale", "batch.scale")
	bind(cmd, "width", "batch.width")
	bind(cmd, "height", "batch.height")
	bind(cmd, "parallel-limit", "batch.parallel_limit")
	bind(cmd, "component", "components")
	bind(cmd, "plotly-js", "renderer.plotly_js")
	bind(cmd, "mapbox-access-token", "renderer.mapbox_access_token")
	bind(cmd, "debug", "batch.debug")
	return cmd
}
