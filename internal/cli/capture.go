package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/darkframes/internal/capture"
	"github.com/banshee-data/darkframes/internal/config"
	"github.com/banshee-data/darkframes/internal/controls"
	"github.com/banshee-data/darkframes/internal/library"
	"github.com/banshee-data/darkframes/internal/monitoring"
	"github.com/banshee-data/darkframes/internal/settle"
)

type captureOptions struct {
	Config        string
	Out           string
	Device        deviceOptions
	Sweep         []string
	Overwrite     bool
	NoProgress    bool
	MetricsListen string
}

// NewCaptureCommand creates the capture command.
func NewCaptureCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &captureOptions{}

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture a dark frame library",
		Long: `Capture a dark frame library over every combination of the configured
control values. At each grid point the controls are settled, the configured
number of frames is averaged and the result is stored under the control
values actually reached.

An interrupted capture (Ctrl-C or a device error) leaves the entries stored
so far readable in the library file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runCapture(ctx, rootOpts, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "darkframes.toml", "capture configuration file")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "darkframes.db", "library file to write")
	cmd.Flags().StringVar(&opts.Device.Serial, "serial", "", "serial port of the camera controller")
	cmd.Flags().IntVar(&opts.Device.Baud, "baud", 115200, "serial baud rate")
	cmd.Flags().BoolVar(&opts.Device.Simulate, "simulate", false, "capture from a simulated camera")
	cmd.Flags().StringArrayVar(&opts.Sweep, "sweep", nil, "override a swept range, name=min:max:step (repeatable)")
	cmd.Flags().BoolVar(&opts.Overwrite, "overwrite", false, "replace an existing library file")
	cmd.Flags().BoolVar(&opts.NoProgress, "no-progress", false, "do not draw the progress bar")
	cmd.Flags().StringVar(&opts.MetricsListen, "metrics-listen", "", "serve Prometheus metrics on this address during the capture")

	return cmd
}

func runCapture(ctx context.Context, rootOpts *RootOptions, opts *captureOptions, out, errOut io.Writer) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return err
	}
	space, err := cfg.Space()
	if err != nil {
		return err
	}
	if space, err = applySweeps(space, opts.Sweep); err != nil {
		return err
	}

	if _, err := os.Stat(opts.Out); err == nil && !opts.Overwrite {
		return fmt.Errorf("library %s already exists (pass --overwrite to replace it)", opts.Out)
	}

	dev, closer, err := openDevice(opts.Device, cfg.ROI)
	if err != nil {
		return err
	}
	defer closer.Close()

	roi, err := dev.ROI()
	if err != nil {
		return fmt.Errorf("failed to read ROI: %w", err)
	}
	est, err := capture.Plan(dev, space, cfg.AverageOver)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "capturing %d entries (%d frames) over %s, estimated exposure %s\n",
		space.Count(), est.Frames, space, est.Duration)

	w, err := library.Create(opts.Out, library.Header{
		Space:       space,
		PixelType:   roi.Type,
		Width:       roi.Width,
		Height:      roi.Height,
		AverageOver: cfg.AverageOver,
	})
	if err != nil {
		return err
	}
	defer w.Close()

	metrics := monitoring.NewMetrics()
	if opts.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		stopMetrics := startServer(opts.MetricsListen, mux)
		defer stopMetrics()
	}

	ctrl := settle.New(dev)
	ctrl.Observer = metrics
	progress := capture.Multi{metrics}
	if !opts.NoProgress && rootOpts.Format == "text" {
		progress = append(progress, monitoring.NewBar(errOut, "darkframes", est.Duration))
	}

	seq := &capture.Sequencer{
		Device:   dev,
		Settler:  ctrl,
		Writer:   w,
		AvgOver:  cfg.AverageOver,
		Progress: progress,
	}
	res, runErr := seq.Run(ctx, space)

	summary := captureSummary{
		Library:  opts.Out,
		Stored:   res.Stored,
		Expected: space.Count(),
		Frames:   res.Frames,
		Timeouts: res.Timeouts,
		Elapsed:  res.Elapsed.Round(time.Millisecond).String(),
	}
	if runErr != nil {
		summary.Error = runErr.Error()
	}
	if rootOpts.Format == "json" {
		if err := writeJSON(out, summary); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "stored %d/%d entries (%d frames, %d settle timeouts) in %s to %s\n",
			summary.Stored, summary.Expected, summary.Frames, summary.Timeouts, summary.Elapsed, summary.Library)
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return fmt.Errorf("capture interrupted, %d entries kept in %s", res.Stored, opts.Out)
		}
		return runErr
	}
	return nil
}

type captureSummary struct {
	Library  string `json:"library"`
	Stored   int    `json:"stored"`
	Expected int    `json:"expected"`
	Frames   int    `json:"frames"`
	Timeouts int    `json:"timeouts"`
	Elapsed  string `json:"elapsed"`
	Error    string `json:"error,omitempty"`
}

// applySweeps overrides the bounds and step of ranges from name=min:max:step
// specs. A control not in space is appended with a zero threshold and the
// default timeout.
func applySweeps(space controls.Space, specs []string) (controls.Space, error) {
	if len(specs) == 0 {
		return space, nil
	}
	ranges := space.Ranges()
	for _, s := range specs {
		name, spec, ok := strings.Cut(s, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return controls.Space{}, fmt.Errorf("invalid sweep %q: expected name=min:max:step", s)
		}
		name = strings.TrimSpace(name)
		r, err := controls.ParseRangeSpec(name, spec)
		if err != nil {
			return controls.Space{}, fmt.Errorf("invalid sweep %q: %w", s, err)
		}
		if i := space.Index(name); i >= 0 {
			r.Threshold = ranges[i].Threshold
			r.Timeout = ranges[i].Timeout
			ranges[i] = r
			continue
		}
		ranges = append(ranges, r)
	}
	return controls.NewSpace(ranges...)
}
