// Package settle drives one device control to a target value and waits for
// it to converge.
package settle

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/darkframes/internal/controls"
	"github.com/banshee-data/darkframes/internal/device"
	"github.com/banshee-data/darkframes/internal/monitoring"
	"github.com/banshee-data/darkframes/internal/timeutil"
)

// DefaultPollInterval is how often the device is read while settling.
const DefaultPollInterval = 10 * time.Millisecond

// Observer receives the outcome of every settle.
type Observer interface {
	ObserveSettle(name string, elapsed time.Duration, timedOut bool)
}

// Controller sets controls and polls them until they are within the
// range threshold of the target or the range timeout has elapsed.
type Controller struct {
	Device       device.Device
	Clock        timeutil.Clock
	PollInterval time.Duration
	Observer     Observer
}

// New returns a Controller on the real clock.
func New(dev device.Device) *Controller {
	return &Controller{
		Device:       dev,
		Clock:        timeutil.RealClock{},
		PollInterval: DefaultPollInterval,
	}
}

// Apply issues a single Set for r.Name and polls until the measured value
// is within r.Threshold of target or r.Timeout has passed since the Set.
// The value current when polling stops is returned. Reaching the timeout
// is reported through timedOut and is not an error; errors come only from
// the device or from ctx.
func (c *Controller) Apply(ctx context.Context, r controls.Range, target int) (achieved int, timedOut bool, err error) {
	clock := c.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	interval := c.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	if err := c.Device.Set(r.Name, target); err != nil {
		return 0, false, fmt.Errorf("failed to set %s=%d: %w", r.Name, target, err)
	}
	start := clock.Now()

	for {
		if err := ctx.Err(); err != nil {
			return 0, false, err
		}
		values, err := c.Device.Controls()
		if err != nil {
			return 0, false, fmt.Errorf("failed to read %s while settling: %w", r.Name, err)
		}
		current, ok := device.Measure(values, r.Name)
		if !ok {
			return 0, false, fmt.Errorf("device does not report control %q", r.Name)
		}

		elapsed := clock.Since(start)
		if abs(current-target) <= r.Threshold {
			c.observe(r.Name, elapsed, false)
			monitoring.Debugf("settled %s=%d (target %d) after %v", r.Name, current, target, elapsed)
			return current, false, nil
		}
		if elapsed >= r.Timeout {
			c.observe(r.Name, elapsed, true)
			monitoring.Logf("warning: %s did not settle within %v: target %d, achieved %d",
				r.Name, r.Timeout, target, current)
			return current, true, nil
		}
		clock.Sleep(min(interval, r.Timeout-elapsed))
	}
}

func (c *Controller) observe(name string, elapsed time.Duration, timedOut bool) {
	if c.Observer != nil {
		c.Observer.ObserveSettle(name, elapsed, timedOut)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
