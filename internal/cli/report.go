package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/banshee-data/darkframes/internal/library"
	"github.com/banshee-data/darkframes/internal/report"
)

type reportOptions struct {
	Dim  string
	PNG  string
	HTML string
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &reportOptions{}

	cmd := &cobra.Command{
		Use:   "report <library>",
		Short: "Summarise the dark levels stored in a library",
		Long: `Print the mean, standard deviation and range of every stored frame and
optionally plot the mean level against one control, one line per
combination of the other controls.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(rootOpts, opts, args[0], cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Dim, "dim", "", "control on the x axis of the plots (default: the first control)")
	cmd.Flags().StringVar(&opts.PNG, "png", "", "write a static plot to this file")
	cmd.Flags().StringVar(&opts.HTML, "html", "", "write an interactive chart to this file")

	return cmd
}

func runReport(rootOpts *RootOptions, opts *reportOptions, path string, out io.Writer) error {
	lib, err := library.Open(path)
	if err != nil {
		return err
	}
	defer lib.Close()

	stats, err := report.Collect(lib)
	if err != nil {
		return err
	}
	space := lib.Params()

	if opts.PNG != "" || opts.HTML != "" {
		dim := opts.Dim
		if dim == "" {
			dim = space.Names()[0]
		}
		series, err := report.SeriesAlong(stats, space, dim)
		if err != nil {
			return err
		}
		if opts.PNG != "" {
			if err := report.WritePNG(opts.PNG, dim, series); err != nil {
				return err
			}
		}
		if opts.HTML != "" {
			if err := writeHTMLReport(opts.HTML, filepath.Base(path), dim, series); err != nil {
				return err
			}
		}
	}

	if rootOpts.Format == "json" {
		return writeJSON(out, stats)
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, name := range space.Names() {
		fmt.Fprintf(tw, "%s\t", name)
	}
	fmt.Fprintln(tw, "mean\tstddev\tmin\tmax")
	for _, s := range stats {
		for _, name := range space.Names() {
			fmt.Fprintf(tw, "%d\t", s.Achieved[name])
		}
		fmt.Fprintf(tw, "%.3f\t%.3f\t%.0f\t%.0f\n", s.Mean, s.StdDev, s.Min, s.Max)
	}
	return tw.Flush()
}

func writeHTMLReport(path, title, dim string, series []report.Series) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.WriteHTML(f, title, dim, series); err != nil {
		f.Close()
		return fmt.Errorf("failed to render %s: %w", path, err)
	}
	return f.Close()
}
