package serve

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/orthovision/orthovision/internal/app"
	"github.com/orthovision/orthovision/internal/buildinfo"
	"github.com/orthovision/orthovision/internal/conf"
	"github.com/orthovision/orthovision/internal/logger"
)

// Command creates the serve command.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the detection service",
		Long: "Make the model artifacts current, load the classifier and detectors and " +
			"serve the HTTP API until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("host") {
				settings.WebServer.Host = host
			}
			if cmd.Flags().Changed("port") {
				settings.WebServer.Port = port
			}
			defer func() { _ = logger.Global().Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.Serve(ctx, settings, build)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Listen host (overrides webserver.host)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (overrides webserver.port)")

	return cmd
}
