package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/banshee-data/darkframes/internal/device"
	"github.com/banshee-data/darkframes/internal/frame"
	"github.com/banshee-data/darkframes/internal/library"
)

type getOptions struct {
	Set   []string
	PNG   string
	Scale float64
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &getOptions{}

	cmd := &cobra.Command{
		Use:   "get <library>",
		Short: "Retrieve the dark frame nearest to a set of control values",
		Long: `Retrieve the stored dark frame nearest to the given control values. Every
swept control of the library must be given with --set. The nearest value is
chosen one control at a time, in the library's control order.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(rootOpts, opts, args[0], cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Set, "set", "s", nil, "control value to match, name=value (repeatable)")
	cmd.Flags().StringVar(&opts.PNG, "png", "", "write the frame to this image file")
	cmd.Flags().Float64Var(&opts.Scale, "scale", 1, "resize factor of the written image")

	return cmd
}

func runGet(rootOpts *RootOptions, opts *getOptions, path string, out io.Writer) error {
	query, err := parseQuery(opts.Set)
	if err != nil {
		return err
	}
	lib, err := library.Open(path)
	if err != nil {
		return err
	}
	defer lib.Close()

	entry, err := lib.Get(query)
	if err != nil {
		return err
	}
	if opts.PNG != "" {
		if err := frame.SavePNG(opts.PNG, entry.Frame, opts.Scale); err != nil {
			return err
		}
	}

	if rootOpts.Format == "json" {
		return writeJSON(out, getResult{
			Query:    query,
			Achieved: entry.Achieved,
			Mean:     entry.Frame.Mean(),
			Snapshot: entry.Snapshot,
			Image:    opts.PNG,
		})
	}
	fmt.Fprintf(out, "nearest entry: %s\n", formatValues(lib.Params().Names(), entry.Achieved))
	fmt.Fprintf(out, "mean level:    %.3f\n", entry.Frame.Mean())
	fmt.Fprintf(out, "camera config: %s\n", formatValues(slices.Sorted(maps.Keys(entry.Snapshot.Controls)), entry.Snapshot.Controls))
	fmt.Fprintf(out, "ROI:           %s\n", entry.Snapshot.ROI)
	if opts.PNG != "" {
		fmt.Fprintf(out, "wrote %s\n", opts.PNG)
	}
	return nil
}

type getResult struct {
	Query    map[string]int  `json:"query"`
	Achieved map[string]int  `json:"achieved"`
	Mean     float64         `json:"mean"`
	Snapshot device.Snapshot `json:"snapshot"`
	Image    string          `json:"image,omitempty"`
}

// parseQuery parses name=value pairs into a query.
func parseQuery(pairs []string) (map[string]int, error) {
	query := make(map[string]int, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid control value %q: expected name=value", p)
		}
		v, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("invalid value for control %s: %w", name, err)
		}
		query[name] = v
	}
	return query, nil
}

func formatValues(names []string, values map[string]int) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%s=%d", n, values[n])
	}
	return strings.Join(parts, " ")
}
