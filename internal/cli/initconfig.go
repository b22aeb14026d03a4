package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/darkframes/internal/config"
	"github.com/banshee-data/darkframes/internal/frame"
)

type initConfigOptions struct {
	ROI  frame.ROI
	Type string
}

// NewInitConfigCommand creates the init-config command.
func NewInitConfigCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &initConfigOptions{}

	cmd := &cobra.Command{
		Use:   "init-config <path>",
		Short: "Write a default capture configuration",
		Long: `Write a TOML capture configuration sweeping Exposure, TargetTemp and Gain
over the default ranges. The file must not exist yet.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pt, err := frame.ParsePixelType(opts.Type)
			if err != nil {
				return err
			}
			opts.ROI.Type = pt
			if err := config.Generate(args[0], opts.ROI); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.ROI.StartX, "start-x", 0, "ROI start column")
	cmd.Flags().IntVar(&opts.ROI.StartY, "start-y", 0, "ROI start row")
	cmd.Flags().IntVar(&opts.ROI.Width, "width", 640, "ROI width in pixels")
	cmd.Flags().IntVar(&opts.ROI.Height, "height", 480, "ROI height in pixels")
	cmd.Flags().IntVar(&opts.ROI.Bins, "bins", 1, "binning factor")
	cmd.Flags().StringVar(&opts.Type, "type", string(frame.Raw16), "pixel type (raw8|raw16|rgb24|y8)")

	return cmd
}
