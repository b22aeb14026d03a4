package cli

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/banshee-data/darkframes/internal/library"
	"github.com/banshee-data/darkframes/internal/monitoring"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve <library>",
		Short: "Serve the debug routes of a library",
		Long: `Serve the read-only debug routes of a library: a SQL browser over the
library file, a JSON listing of its entries and a download of the file.
The routes are only served to loopback clients.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := library.Open(args[0])
			if err != nil {
				return err
			}
			defer lib.Close()

			mux, err := newServeMux(lib)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdown := startServer(listen, mux)
			fmt.Fprintf(cmd.OutOrStdout(), "serving %s on http://%s/debug/\n", lib.Path(), listen)
			<-ctx.Done()
			monitoring.Logf("shutting down HTTP server...")
			shutdown()
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "localhost:8080", "address to listen on")

	return cmd
}

func newServeMux(lib *library.Library) (*http.ServeMux, error) {
	mux := http.NewServeMux()
	if err := lib.AttachAdminRoutes(mux); err != nil {
		return nil, err
	}
	return mux, nil
}
