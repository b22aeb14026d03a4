package capture

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/darkframes/internal/controls"
	"github.com/banshee-data/darkframes/internal/device"
	"github.com/banshee-data/darkframes/internal/frame"
	"github.com/banshee-data/darkframes/internal/library"
	"github.com/banshee-data/darkframes/internal/monitoring"
	"github.com/banshee-data/darkframes/internal/settle"
	"github.com/banshee-data/darkframes/internal/timeutil"
)

var testROI = frame.ROI{Width: 8, Height: 2, Bins: 1, Type: frame.Raw8}

func init() {
	monitoring.SetLogger(nil)
}

type memWriter struct {
	keys   [][]int
	frames []frame.Frame
	snaps  []device.Snapshot
}

func (w *memWriter) Put(achieved []int, f frame.Frame, snap device.Snapshot) error {
	w.keys = append(w.keys, append([]int(nil), achieved...))
	w.frames = append(w.frames, f)
	w.snaps = append(w.snaps, snap)
	return nil
}

type progressCall struct {
	elapsed        time.Duration
	current, total int
}

type recordingProgress struct {
	calls []progressCall
}

func (p *recordingProgress) Advance(elapsed time.Duration, current, total int) {
	p.calls = append(p.calls, progressCall{elapsed, current, total})
}

func mustRange(t *testing.T, name string, min, max, step, threshold int, timeout time.Duration) controls.Range {
	t.Helper()
	r, err := controls.NewRange(name, min, max, step, threshold, timeout)
	require.NoError(t, err)
	return r
}

func abcSpace(t *testing.T) controls.Space {
	t.Helper()
	space, err := controls.NewSpace(
		mustRange(t, "a", 0, 10, 5, 0, controls.DefaultTimeout),
		mustRange(t, "b", 0, 3, 1, 0, controls.DefaultTimeout),
		mustRange(t, "c", 0, 6, 3, 0, controls.DefaultTimeout),
	)
	require.NoError(t, err)
	return space
}

func newSequencer(dev *device.MockDevice, w Writer, avgOver int) (*Sequencer, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	settler := &settle.Controller{Device: dev, Clock: clock, PollInterval: 10 * time.Millisecond}
	return &Sequencer{
		Device:  dev,
		Settler: settler,
		Writer:  w,
		AvgOver: avgOver,
		Clock:   clock,
	}, clock
}

func TestRunBuildsLibrary(t *testing.T) {
	space := abcSpace(t)
	dev := device.NewMockDevice(testROI)
	path := filepath.Join(t.TempDir(), "darks.db")

	w, err := library.Create(path, library.Header{
		Space: space, PixelType: testROI.Type, Width: testROI.Width, Height: testROI.Height, AverageOver: 2,
	})
	require.NoError(t, err)
	seq, _ := newSequencer(dev, w, 2)

	res, err := seq.Run(context.Background(), space)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, 36, res.Stored)
	assert.Equal(t, 72, res.Frames)
	assert.Zero(t, res.Timeouts)

	lib, err := library.Open(path)
	require.NoError(t, err)
	defer lib.Close()

	n, err := lib.Len()
	require.NoError(t, err)
	assert.Equal(t, 36, n)

	e, err := lib.Get(map[string]int{"a": 5, "b": 1, "c": 6})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 5, "b": 1, "c": 6}, e.Achieved)
	assert.Equal(t, 100000, e.Snapshot.Controls[device.Exposure], "snapshot includes non-swept controls")
	assert.Equal(t, testROI, e.Snapshot.ROI)
}

func TestRunSkipsUnchangedControls(t *testing.T) {
	space := abcSpace(t)
	dev := device.NewMockDevice(testROI)
	seq, _ := newSequencer(dev, &memWriter{}, 1)

	_, err := seq.Run(context.Background(), space)
	require.NoError(t, err)

	// a changes 3 times, b at every new (a, b) pair, c at every point.
	assert.Equal(t, 3, dev.SetCount("a"))
	assert.Equal(t, 12, dev.SetCount("b"))
	assert.Equal(t, 36, dev.SetCount("c"))
}

func TestRunStoresAchievedInOrder(t *testing.T) {
	space := abcSpace(t)
	dev := device.NewMockDevice(testROI)
	w := &memWriter{}
	seq, _ := newSequencer(dev, w, 1)

	_, err := seq.Run(context.Background(), space)
	require.NoError(t, err)

	var want [][]int
	for p := range space.Points() {
		want = append(want, []int(p))
	}
	if diff := cmp.Diff(want, w.keys); diff != "" {
		t.Errorf("stored keys mismatch (-want +got):\n%s", diff)
	}
}

func TestRunAveragesFrames(t *testing.T) {
	space, err := controls.NewSpace(mustRange(t, "Gain", 0, 2, 1, 0, controls.DefaultTimeout))
	require.NoError(t, err)
	dev := device.NewMockDevice(testROI)
	dev.FrameFunc = func(_ map[string]int, n int) []byte {
		raw := make([]byte, testROI.Type.FrameBytes(testROI.Width, testROI.Height))
		for i := range raw {
			raw[i] = byte(2 * n)
		}
		return raw
	}
	w := &memWriter{}
	seq, _ := newSequencer(dev, w, 2)

	_, err = seq.Run(context.Background(), space)
	require.NoError(t, err)
	require.Len(t, w.frames, 3)
	// captures 0,2 | 4,6 | 8,10
	for i, want := range []float64{1, 5, 9} {
		assert.Equal(t, want, w.frames[i].Mean(), "entry %d", i)
		assert.Equal(t, want, w.frames[i].Pix[0])
	}
}

func TestRunKeysTargetTempBySetPoint(t *testing.T) {
	space, err := controls.NewSpace(mustRange(t, device.TargetTemp, -10, -10, 1, 0, 30*time.Millisecond))
	require.NoError(t, err)
	dev := device.NewMockDevice(testROI)
	dev.ThermalStep = 10
	dev.Force(device.Temperature, 0)
	w := &memWriter{}
	seq, _ := newSequencer(dev, w, 1)

	res, err := seq.Run(context.Background(), space)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Timeouts)
	// settle reads -1..-4 and gives up; the key is the set point and the
	// snapshot after the capture holds the measured -6.0 degrees
	require.Len(t, w.keys, 1)
	assert.Equal(t, []int{-10}, w.keys[0])
	assert.Equal(t, -10, w.snaps[0].Controls[device.TargetTemp])
	assert.Equal(t, -60, w.snaps[0].Controls[device.Temperature])
}

func TestRunThermalSweepWithTimeoutsStoresEveryPoint(t *testing.T) {
	space, err := controls.NewSpace(
		mustRange(t, device.TargetTemp, -15, 15, 3, 1, 20*time.Millisecond),
		mustRange(t, "Gain", 0, 1, 1, 0, controls.DefaultTimeout),
	)
	require.NoError(t, err)
	dev := device.NewMockDevice(testROI)
	dev.ThermalStep = 1
	dev.Force(device.Temperature, 0)
	path := filepath.Join(t.TempDir(), "thermal.db")

	w, err := library.Create(path, library.Header{
		Space: space, PixelType: testROI.Type, Width: testROI.Width, Height: testROI.Height, AverageOver: 1,
	})
	require.NoError(t, err)
	seq, _ := newSequencer(dev, w, 1)

	res, err := seq.Run(context.Background(), space)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, space.Count(), res.Stored)
	assert.Positive(t, res.Timeouts)

	lib, err := library.Open(path)
	require.NoError(t, err)
	defer lib.Close()
	n, err := lib.Len()
	require.NoError(t, err)
	assert.Equal(t, 22, n)

	e, err := lib.Get(map[string]int{device.TargetTemp: 9, "Gain": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{device.TargetTemp: 9, "Gain": 1}, e.Achieved)
	assert.Less(t, e.Snapshot.Controls[device.Temperature], 90, "the cooler never got there")
}

func TestRunNeedsExposureWhenNotSwept(t *testing.T) {
	space, err := controls.NewSpace(mustRange(t, "Gain", 0, 1, 1, 0, controls.DefaultTimeout))
	require.NoError(t, err)
	dev := device.NewMockDevice(testROI)
	dev.Remove(device.Exposure)
	w := &memWriter{}
	seq, _ := newSequencer(dev, w, 1)

	_, err = seq.Run(context.Background(), space)
	assert.ErrorContains(t, err, `"Exposure"`)
	assert.Empty(t, w.keys)
	assert.Zero(t, dev.CaptureCalls)
}

func TestRunDeviceErrorAborts(t *testing.T) {
	space := abcSpace(t)
	dev := device.NewMockDevice(testROI)
	dev.FailCaptureAt = 7
	path := filepath.Join(t.TempDir(), "partial.db")

	w, err := library.Create(path, library.Header{
		Space: space, PixelType: testROI.Type, Width: testROI.Width, Height: testROI.Height,
	})
	require.NoError(t, err)
	seq, _ := newSequencer(dev, w, 2)

	res, err := seq.Run(context.Background(), space)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frame 7")
	assert.Equal(t, 3, res.Stored)
	assert.Equal(t, 7, dev.CaptureCalls, "no retry after a failed capture")
	require.NoError(t, w.Close())

	lib, err := library.Open(path)
	require.NoError(t, err)
	defer lib.Close()
	n, err := lib.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, n, "entries written before the failure remain")
}

func TestRunSettleErrorAborts(t *testing.T) {
	dev := device.NewMockDevice(testROI)
	boom := errors.New("control rejected")
	dev.SetErr = boom
	w := &memWriter{}
	seq, _ := newSequencer(dev, w, 1)

	_, err := seq.Run(context.Background(), abcSpace(t))
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, w.keys)
	assert.Zero(t, dev.CaptureCalls)
}

func TestRunCancelled(t *testing.T) {
	dev := device.NewMockDevice(testROI)
	seq, _ := newSequencer(dev, &memWriter{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := seq.Run(ctx, abcSpace(t))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.Stored)
}

func TestRunRejectsBadAverage(t *testing.T) {
	seq, _ := newSequencer(device.NewMockDevice(testROI), &memWriter{}, 0)
	_, err := seq.Run(context.Background(), abcSpace(t))
	assert.Error(t, err)
}

func TestRunReportsProgress(t *testing.T) {
	space, err := controls.NewSpace(
		mustRange(t, device.Exposure, 1000, 2000, 1000, 0, controls.DefaultTimeout),
		mustRange(t, "Gain", 0, 1, 1, 0, controls.DefaultTimeout),
	)
	require.NoError(t, err)
	dev := device.NewMockDevice(testROI)
	progress := &recordingProgress{}
	seq, _ := newSequencer(dev, &memWriter{}, 2)
	seq.Progress = Multi{progress, NopProgress{}}

	_, err = seq.Run(context.Background(), space)
	require.NoError(t, err)

	require.Len(t, progress.calls, 8)
	for i, c := range progress.calls {
		assert.Equal(t, i+1, c.current)
		assert.Equal(t, 8, c.total)
	}
	assert.Equal(t, time.Millisecond, progress.calls[0].elapsed)
	assert.Equal(t, 2*time.Millisecond, progress.calls[7].elapsed)
}
