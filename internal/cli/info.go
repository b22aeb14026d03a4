package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/darkframes/internal/controls"
	"github.com/banshee-data/darkframes/internal/library"
)

// NewInfoCommand creates the info command.
func NewInfoCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info <library>",
		Short: "Describe a dark frame library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(rootOpts, args[0], cmd.OutOrStdout())
		},
	}
}

type infoResult struct {
	Path        string         `json:"path"`
	SessionID   string         `json:"session_id"`
	CreatedAt   time.Time      `json:"created_at"`
	PixelType   string         `json:"pixel_type"`
	Width       int            `json:"width"`
	Height      int            `json:"height"`
	AverageOver int            `json:"average_over"`
	Parameters  controls.Space `json:"parameters"`
	Entries     int            `json:"entries"`
	GridPoints  int            `json:"grid_points"`
}

func runInfo(rootOpts *RootOptions, path string, out io.Writer) error {
	lib, err := library.Open(path)
	if err != nil {
		return err
	}
	defer lib.Close()

	n, err := lib.Len()
	if err != nil {
		return err
	}
	h := lib.Header()
	res := infoResult{
		Path:        lib.Path(),
		SessionID:   h.SessionID,
		CreatedAt:   h.CreatedAt,
		PixelType:   string(h.PixelType),
		Width:       h.Width,
		Height:      h.Height,
		AverageOver: h.AverageOver,
		Parameters:  h.Space,
		Entries:     n,
		GridPoints:  h.Space.Count(),
	}
	if rootOpts.Format == "json" {
		return writeJSON(out, res)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "library:\t%s\n", res.Path)
	fmt.Fprintf(tw, "session:\t%s\n", res.SessionID)
	fmt.Fprintf(tw, "created:\t%s\n", res.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(tw, "frames:\t%s %dx%d, averaged over %d\n", res.PixelType, res.Width, res.Height, res.AverageOver)
	fmt.Fprintf(tw, "entries:\t%d of %d grid points\n", res.Entries, res.GridPoints)
	fmt.Fprintln(tw, "controls:\tmin\tmax\tstep\tthreshold\ttimeout")
	for _, r := range h.Space.Ranges() {
		fmt.Fprintf(tw, "  %s\t%d\t%d\t%d\t%d\t%s\n", r.Name, r.Min, r.Max, r.Step, r.Threshold, r.Timeout)
	}
	return tw.Flush()
}
