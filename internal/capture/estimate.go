package capture

import (
	"time"

	"github.com/banshee-data/darkframes/internal/controls"
	"github.com/banshee-data/darkframes/internal/device"
)

// Estimate is the expected cost of a capture session.
type Estimate struct {
	// Duration is the summed exposure time of every frame.
	Duration time.Duration
	// Frames is the number of frames that will be captured.
	Frames int
}

// Exposure control values are in microseconds.
const exposureUnit = time.Microsecond

// EstimateSession computes the expected exposure time and frame count for
// capturing avgOver frames at every point of space. When Exposure is a
// swept control its per-point value is used, otherwise fixedExposure.
// Settle time is not included.
func EstimateSession(space controls.Space, avgOver int, fixedExposure time.Duration) Estimate {
	count := space.Count()
	est := Estimate{Frames: count * avgOver}

	idx := space.Index(device.Exposure)
	if idx < 0 {
		est.Duration = time.Duration(count*avgOver) * fixedExposure
		return est
	}
	for p := range space.Points() {
		est.Duration += time.Duration(p[idx]) * exposureUnit * time.Duration(avgOver)
	}
	return est
}

// Remaining returns the part of the estimate left after done frames
// totalling elapsed exposure.
func (e Estimate) Remaining(elapsed time.Duration) time.Duration {
	if elapsed >= e.Duration {
		return 0
	}
	return e.Duration - elapsed
}
