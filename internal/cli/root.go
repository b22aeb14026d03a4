// Package cli implements the darkframes command line: capturing a dark
// frame library, querying it, reporting on it and serving its debug routes.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/banshee-data/darkframes/internal/monitoring"
	"github.com/banshee-data/darkframes/internal/version"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the darkframes CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "darkframes",
		Short: "Capture and query dark frame libraries",
		Long: `Capture dark frames over a grid of camera settings (exposure, gain,
sensor temperature, ...) and retrieve the stored frame that best matches
the settings of a light frame.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			monitoring.SetVerbose(opts.Verbose)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewInitConfigCommand(opts))
	cmd.AddCommand(NewCaptureCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewInfoCommand(opts))
	cmd.AddCommand(NewReportCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}
