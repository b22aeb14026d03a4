// Package device defines the boundary to the imaging hardware: setting a
// named control, reading back every control, capturing one raw frame and
// describing the region of interest. Implementations are synchronous and
// each call is treated as atomic.
package device

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"

	"github.com/banshee-data/darkframes/internal/frame"
)

// Control names with special meaning to the capture engine.
const (
	// Exposure is the exposure time, in microseconds.
	Exposure = "Exposure"
	// TargetTemp is the cooler set point, in whole degrees Celsius.
	TargetTemp = "TargetTemp"
	// Temperature is the measured sensor temperature, in tenths of a degree.
	Temperature = "Temperature"
)

// Device is the hardware boundary used by a capture session.
type Device interface {
	// Set requests control name to take value.
	Set(name string, value int) error

	// Controls returns the current value of every control.
	Controls() (map[string]int, error)

	// Capture takes one raw frame in the current ROI's pixel type.
	Capture() ([]byte, error)

	// ROI returns the current region of interest.
	ROI() (frame.ROI, error)
}

// ROISetter is implemented by devices whose region of interest can be
// configured.
type ROISetter interface {
	SetROI(roi frame.ROI) error
}

// InfoProvider is implemented by devices that can describe their sensor.
type InfoProvider interface {
	Info() (frame.SensorInfo, error)
}

// Measure returns the value of control name as compared against the target
// while settling. TargetTemp is measured from the sensor Temperature,
// reported in tenths of a degree and rounded to the nearest whole degree;
// without a Temperature reading the set point itself is used.
func Measure(values map[string]int, name string) (int, bool) {
	if name == TargetTemp {
		if tenths, ok := values[Temperature]; ok {
			return int(math.Round(float64(tenths) / 10)), true
		}
	}
	v, ok := values[name]
	return v, ok
}

// ReadAll returns the readback of every named control from one reading.
// These are the achieved values a grid point is stored under. TargetTemp
// reads back its set point, so targets the cooler did not reach still get
// distinct keys; the sensor Temperature stays in the Snapshot.
func ReadAll(dev Device, names []string) ([]int, error) {
	values, err := dev.Controls()
	if err != nil {
		return nil, fmt.Errorf("failed to read controls: %w", err)
	}
	out := make([]int, len(names))
	for i, name := range names {
		v, ok := values[name]
		if !ok {
			return nil, fmt.Errorf("device does not report control %q", name)
		}
		out[i] = v
	}
	return out, nil
}

// Snapshot is the complete device configuration at capture time, stored
// with each library entry for provenance.
type Snapshot struct {
	Controls map[string]int `json:"controls"`
	ROI      frame.ROI      `json:"roi"`
}

// TakeSnapshot reads every control and the ROI.
func TakeSnapshot(dev Device) (Snapshot, error) {
	values, err := dev.Controls()
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read controls: %w", err)
	}
	roi, err := dev.ROI()
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read ROI: %w", err)
	}
	return Snapshot{Controls: maps.Clone(values), ROI: roi}, nil
}

func (s Snapshot) String() string {
	names := slices.Sorted(maps.Keys(s.Controls))
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%s=%d", n, s.Controls[n])
	}
	return fmt.Sprintf("{%s} roi=%s", strings.Join(parts, " "), s.ROI)
}
