// Package capture runs a capture session: it walks the parameter space,
// settles the device at every grid point, averages repeated frames and
// stores them keyed by the achieved control values.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/darkframes/internal/controls"
	"github.com/banshee-data/darkframes/internal/device"
	"github.com/banshee-data/darkframes/internal/frame"
	"github.com/banshee-data/darkframes/internal/monitoring"
	"github.com/banshee-data/darkframes/internal/timeutil"
)

// Settler drives one control to a target value.
type Settler interface {
	Apply(ctx context.Context, r controls.Range, target int) (achieved int, timedOut bool, err error)
}

// Writer stores averaged frames.
type Writer interface {
	Put(achieved []int, f frame.Frame, snap device.Snapshot) error
}

// Sequencer captures one library. Device errors are not retried: the
// session stops at the first one and whatever was already written stays
// in the library.
type Sequencer struct {
	Device   device.Device
	Settler  Settler
	Writer   Writer
	AvgOver  int
	Progress Progress
	Clock    timeutil.Clock
}

// Result summarises a finished session.
type Result struct {
	Stored   int
	Frames   int
	Timeouts int
	Elapsed  time.Duration
}

// session is the state of one Run.
type session struct {
	*Sequencer
	space    controls.Space
	names    []string
	roi      frame.ROI
	estimate Estimate
	exposure func(p controls.Point) time.Duration
	result   Result
}

// Run captures every grid point of space in enumeration order. The result
// is valid also when an error is returned. A cancelled ctx stops the session like a
// device error.
func (s *Sequencer) Run(ctx context.Context, space controls.Space) (Result, error) {
	if s.AvgOver < 1 {
		return Result{}, fmt.Errorf("average over must be at least 1, got %d", s.AvgOver)
	}
	if s.Progress == nil {
		s.Progress = NopProgress{}
	}
	if s.Clock == nil {
		s.Clock = timeutil.RealClock{}
	}

	sess, err := s.newSession(space)
	if err != nil {
		return Result{}, err
	}
	start := s.Clock.Now()
	monitoring.Logf("capturing %d configurations × %d frames over %s (estimated exposure %v)",
		space.Count(), s.AvgOver, space, sess.estimate.Duration)

	var prev controls.Point
	for point := range space.Points() {
		if err := ctx.Err(); err != nil {
			return sess.finish(start), fmt.Errorf("capture interrupted after %d entries: %w", sess.result.Stored, err)
		}
		if prev, err = sess.step(ctx, point, prev); err != nil {
			return sess.finish(start), err
		}
	}

	res := sess.finish(start)
	monitoring.Logf("stored %d entries (%d frames, %d settle timeouts) in %v",
		res.Stored, res.Frames, res.Timeouts, res.Elapsed.Round(time.Millisecond))
	return res, nil
}

func (s *Sequencer) newSession(space controls.Space) (*session, error) {
	roi, err := s.Device.ROI()
	if err != nil {
		return nil, fmt.Errorf("failed to read ROI: %w", err)
	}

	sess := &session{Sequencer: s, space: space, names: space.Names(), roi: roi}

	fixed, err := fixedExposure(s.Device, space)
	if err != nil {
		return nil, err
	}
	sess.estimate = EstimateSession(space, s.AvgOver, fixed)
	if idx := space.Index(device.Exposure); idx >= 0 {
		sess.exposure = func(p controls.Point) time.Duration {
			return time.Duration(p[idx]) * exposureUnit
		}
	} else {
		sess.exposure = func(controls.Point) time.Duration { return fixed }
	}
	return sess, nil
}

func (sess *session) finish(start time.Time) Result {
	sess.result.Elapsed = sess.Clock.Since(start)
	return sess.result
}

// step captures and stores one grid point. prev is the point handled just
// before, nil for the first; controls whose target did not change since
// prev are not set again. The returned point is the prev of the next step.
func (sess *session) step(ctx context.Context, point, prev controls.Point) (controls.Point, error) {
	for i, r := range sess.space.Ranges() {
		if prev != nil && prev[i] == point[i] {
			continue
		}
		_, timedOut, err := sess.Settler.Apply(ctx, r, point[i])
		if err != nil {
			return prev, err
		}
		if timedOut {
			sess.result.Timeouts++
		}
	}

	achieved, err := device.ReadAll(sess.Device, sess.names)
	if err != nil {
		return prev, err
	}

	acc, err := frame.NewAccumulator(sess.roi.Type, sess.roi.Width, sess.roi.Height)
	if err != nil {
		return prev, err
	}
	exposure := sess.exposure(point)
	for range sess.AvgOver {
		if err := ctx.Err(); err != nil {
			return prev, err
		}
		raw, err := sess.Device.Capture()
		if err != nil {
			return prev, fmt.Errorf("failed to capture frame %d: %w", sess.result.Frames+1, err)
		}
		if err := acc.AddRaw(raw); err != nil {
			return prev, err
		}
		sess.result.Frames++
		sess.Progress.Advance(exposure, sess.result.Frames, sess.estimate.Frames)
	}
	mean, err := acc.Mean()
	if err != nil {
		return prev, err
	}

	snap, err := device.TakeSnapshot(sess.Device)
	if err != nil {
		return prev, err
	}
	if err := sess.Writer.Put(achieved, mean, snap); err != nil {
		return prev, fmt.Errorf("failed to store %v: %w", controls.Point(achieved).Map(sess.space), err)
	}
	sess.result.Stored++
	return point, nil
}

// ErrNothingToCapture is returned by Plan for an empty parameter space.
var ErrNothingToCapture = errors.New("parameter space has no grid points")

// Plan returns the session estimate for space, reading the fixed exposure
// from dev when Exposure is not swept.
func Plan(dev device.Device, space controls.Space, avgOver int) (Estimate, error) {
	if space.Count() == 0 {
		return Estimate{}, ErrNothingToCapture
	}
	fixed, err := fixedExposure(dev, space)
	if err != nil {
		return Estimate{}, err
	}
	return EstimateSession(space, avgOver, fixed), nil
}

// fixedExposure reads the device exposure when it is not a swept control.
func fixedExposure(dev device.Device, space controls.Space) (time.Duration, error) {
	if space.Index(device.Exposure) >= 0 {
		return 0, nil
	}
	values, err := dev.Controls()
	if err != nil {
		return 0, fmt.Errorf("failed to read controls: %w", err)
	}
	v, ok := values[device.Exposure]
	if !ok {
		return 0, fmt.Errorf("device does not report control %q and it is not swept", device.Exposure)
	}
	return time.Duration(v) * exposureUnit, nil
}
