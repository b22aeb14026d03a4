package settle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/darkframes/internal/controls"
	"github.com/banshee-data/darkframes/internal/device"
	"github.com/banshee-data/darkframes/internal/frame"
	"github.com/banshee-data/darkframes/internal/monitoring"
	"github.com/banshee-data/darkframes/internal/timeutil"
)

type settleRecord struct {
	name     string
	elapsed  time.Duration
	timedOut bool
}

type recordingObserver struct {
	records []settleRecord
}

func (o *recordingObserver) ObserveSettle(name string, elapsed time.Duration, timedOut bool) {
	o.records = append(o.records, settleRecord{name, elapsed, timedOut})
}

func newTestController(t *testing.T) (*Controller, *device.MockDevice, *timeutil.MockClock, *recordingObserver) {
	t.Helper()
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	dev := device.NewMockDevice(frame.ROI{Width: 8, Height: 2, Bins: 1, Type: frame.Raw8})
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	obs := &recordingObserver{}
	return &Controller{Device: dev, Clock: clock, PollInterval: 10 * time.Millisecond, Observer: obs}, dev, clock, obs
}

func mustRange(t *testing.T, name string, threshold int, timeout time.Duration) controls.Range {
	t.Helper()
	r, err := controls.NewRange(name, 0, 1000, 1, threshold, timeout)
	require.NoError(t, err)
	return r
}

func TestApplyImmediate(t *testing.T) {
	c, dev, clock, obs := newTestController(t)

	got, timedOut, err := c.Apply(context.Background(), mustRange(t, "Gain", 0, time.Second), 200)
	require.NoError(t, err)
	assert.Equal(t, 200, got)
	assert.False(t, timedOut)
	assert.Equal(t, 1, dev.SetCount("Gain"))
	assert.Empty(t, clock.Sleeps())
	require.Len(t, obs.records, 1)
	assert.False(t, obs.records[0].timedOut)
}

func TestApplyPollsUntilWithinThreshold(t *testing.T) {
	c, dev, clock, _ := newTestController(t)
	dev.SetLag("Gain", 30)

	// readings: 30, 60, 90, 100 -> 90 is within 10 of 100
	got, timedOut, err := c.Apply(context.Background(), mustRange(t, "Gain", 10, time.Second), 100)
	require.NoError(t, err)
	assert.False(t, timedOut)
	assert.Equal(t, 90, got)
	assert.Equal(t, 3, dev.ControlsCalls)
	assert.Equal(t, 20*time.Millisecond, clock.TotalSlept())
	assert.Equal(t, 1, dev.SetCount("Gain"), "set is issued once per apply")
}

func TestApplyTimeoutReturnsLastReading(t *testing.T) {
	c, dev, clock, obs := newTestController(t)
	dev.SetLag("Gain", 1)

	got, timedOut, err := c.Apply(context.Background(), mustRange(t, "Gain", 0, 50*time.Millisecond), 500)
	require.NoError(t, err)
	assert.True(t, timedOut)
	assert.Less(t, got, 500)
	assert.Equal(t, 50*time.Millisecond, clock.TotalSlept())
	// reads at 0, 10, 20, 30, 40, 50 ms
	assert.Equal(t, 6, dev.ControlsCalls)
	assert.Equal(t, 6, got)
	require.Len(t, obs.records, 1)
	assert.True(t, obs.records[0].timedOut)
	assert.Equal(t, 50*time.Millisecond, obs.records[0].elapsed)
}

func TestApplyZeroTimeoutChecksOnce(t *testing.T) {
	c, dev, clock, _ := newTestController(t)
	dev.SetLag("Gain", 5)

	got, timedOut, err := c.Apply(context.Background(), mustRange(t, "Gain", 0, 0), 100)
	require.NoError(t, err)
	assert.True(t, timedOut)
	assert.Equal(t, 5, got)
	assert.Equal(t, 1, dev.ControlsCalls)
	assert.Empty(t, clock.Sleeps())
}

func TestApplyTemperatureInWholeDegrees(t *testing.T) {
	c, dev, _, _ := newTestController(t)
	dev.ThermalStep = 20
	dev.Force(device.Temperature, 250)

	r, err := controls.NewRange(device.TargetTemp, -15, 15, 3, 1, 30*time.Second)
	require.NoError(t, err)

	// 230, 210, 190, 170, 150, 130, 110 tenths -> 11 degrees is within 1 of 10
	got, timedOut, err := c.Apply(context.Background(), r, 10)
	require.NoError(t, err)
	assert.False(t, timedOut)
	assert.Equal(t, 11, got)
	assert.Equal(t, 7, dev.ControlsCalls)
}

func TestApplyDeviceErrors(t *testing.T) {
	boom := errors.New("usb reset")

	t.Run("set", func(t *testing.T) {
		c, dev, _, _ := newTestController(t)
		dev.SetErr = boom
		_, _, err := c.Apply(context.Background(), mustRange(t, "Gain", 0, time.Second), 1)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("read", func(t *testing.T) {
		c, dev, _, _ := newTestController(t)
		dev.ControlsErr = boom
		_, _, err := c.Apply(context.Background(), mustRange(t, "Gain", 0, time.Second), 1)
		assert.ErrorIs(t, err, boom)
	})
}

func TestApplyCancelled(t *testing.T) {
	c, dev, clock, _ := newTestController(t)
	dev.SetLag("Gain", 1)

	ctx, cancel := context.WithCancel(context.Background())
	clock.OnSleep(func(time.Time) {
		if len(clock.Sleeps()) == 3 {
			cancel()
		}
	})

	_, _, err := c.Apply(ctx, mustRange(t, "Gain", 0, time.Minute), 100)
	assert.ErrorIs(t, err, context.Canceled)
}
