package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/darkframes/internal/controls"
	"github.com/banshee-data/darkframes/internal/device"
	"github.com/banshee-data/darkframes/internal/frame"
	"github.com/banshee-data/darkframes/internal/library"
	"github.com/banshee-data/darkframes/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

func testSpace(t *testing.T) controls.Space {
	t.Helper()
	exp, err := controls.NewRange("Exposure", 100, 300, 100, 0, controls.DefaultTimeout)
	require.NoError(t, err)
	gain, err := controls.NewRange("Gain", 0, 1, 1, 0, controls.DefaultTimeout)
	require.NoError(t, err)
	space, err := controls.NewSpace(exp, gain)
	require.NoError(t, err)
	return space
}

// buildLibrary stores a 2x1 raw8 frame per point with samples
// Exposure/100 + 10*Gain and one more than that.
func buildLibrary(t *testing.T, space controls.Space) *library.Library {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lib.db")
	w, err := library.Create(path, library.Header{
		Space:       space,
		PixelType:   frame.Raw8,
		Width:       2,
		Height:      1,
		AverageOver: 1,
	})
	require.NoError(t, err)
	for p := range space.Points() {
		base := float64(p[0]/100 + 10*p[1])
		f := frame.Frame{Type: frame.Raw8, Width: 2, Height: 1, Pix: []float64{base, base + 1}}
		snap := device.Snapshot{Controls: p.Map(space), ROI: frame.ROI{Width: 2, Height: 1, Bins: 1, Type: frame.Raw8}}
		require.NoError(t, w.Put(p, f, snap))
	}
	require.NoError(t, w.Close())

	lib, err := library.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { lib.Close() })
	return lib
}

func TestCollect(t *testing.T) {
	space := testSpace(t)
	stats, err := Collect(buildLibrary(t, space))
	require.NoError(t, err)
	require.Len(t, stats, 6)

	first := stats[0]
	assert.Equal(t, map[string]int{"Exposure": 100, "Gain": 0}, first.Achieved)
	assert.InDelta(t, 1.5, first.Mean, 1e-9)
	assert.InDelta(t, 0.7071, first.StdDev, 1e-3)
	assert.Equal(t, 1.0, first.Min)
	assert.Equal(t, 2.0, first.Max)

	last := stats[5]
	assert.Equal(t, map[string]int{"Exposure": 300, "Gain": 1}, last.Achieved)
	assert.InDelta(t, 13.5, last.Mean, 1e-9)
}

func TestSeriesAlong(t *testing.T) {
	space := testSpace(t)
	stats, err := Collect(buildLibrary(t, space))
	require.NoError(t, err)

	series, err := SeriesAlong(stats, space, "Exposure")
	require.NoError(t, err)
	want := []Series{
		{Label: "Gain=0", Points: []Point{{100, 1.5}, {200, 2.5}, {300, 3.5}}},
		{Label: "Gain=1", Points: []Point{{100, 11.5}, {200, 12.5}, {300, 13.5}}},
	}
	if diff := cmp.Diff(want, series); diff != "" {
		t.Errorf("SeriesAlong mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []int{100, 200, 300}, Xs(series))

	series, err = SeriesAlong(stats, space, "Gain")
	require.NoError(t, err)
	require.Len(t, series, 3)
	assert.Equal(t, "Exposure=100", series[0].Label)

	_, err = SeriesAlong(stats, space, "Offset")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "supported: Exposure, Gain")
}

func TestSeriesAlongSingleDimension(t *testing.T) {
	exp, err := controls.NewRange("Exposure", 1, 3, 1, 0, 0)
	require.NoError(t, err)
	space, err := controls.NewSpace(exp)
	require.NoError(t, err)
	stats := []Stat{
		{Achieved: map[string]int{"Exposure": 3}, Mean: 30},
		{Achieved: map[string]int{"Exposure": 1}, Mean: 10},
	}
	series, err := SeriesAlong(stats, space, "Exposure")
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, "Exposure", series[0].Label)
	assert.Equal(t, []Point{{1, 10}, {3, 30}}, series[0].Points)
}

func TestWritePNG(t *testing.T) {
	space := testSpace(t)
	stats, err := Collect(buildLibrary(t, space))
	require.NoError(t, err)
	series, err := SeriesAlong(stats, space, "Exposure")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "levels.png")
	require.NoError(t, WritePNG(path, "Exposure", series))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")), "expected a PNG header")

	err = WritePNG(filepath.Join(t.TempDir(), "missing", "levels.png"), "Exposure", series)
	assert.Error(t, err)
}

func TestWriteHTML(t *testing.T) {
	series := []Series{
		{Label: "Gain=0", Points: []Point{{100, 1.5}, {300, 3.5}}},
		{Label: "Gain=1", Points: []Point{{200, 12.5}}},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteHTML(&buf, "lib.db", "Exposure", series))
	out := buf.String()
	assert.Contains(t, out, "<html")
	assert.Contains(t, out, "Gain=0")
	assert.Contains(t, out, "Gain=1")
	assert.Contains(t, out, "mean dark level vs Exposure")
}
