package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/banshee-data/darkframes/internal/device"
	"github.com/banshee-data/darkframes/internal/frame"
	"github.com/banshee-data/darkframes/internal/monitoring"
)

// deviceOptions selects the device a capture runs against.
type deviceOptions struct {
	Serial   string
	Baud     int
	Simulate bool
}

// openDevice opens the configured device and applies roi to it. The
// returned closer releases the device.
func openDevice(opts deviceOptions, roi frame.ROI) (device.Device, io.Closer, error) {
	var (
		dev    device.Device
		closer io.Closer = nopCloser{}
	)
	switch {
	case opts.Simulate:
		monitoring.Logf("using a simulated device")
		dev = device.NewMockDevice(roi)
	case opts.Serial != "":
		sd, err := device.OpenSerial(opts.Serial, device.PortOptions{BaudRate: opts.Baud})
		if err != nil {
			return nil, nil, err
		}
		dev, closer = sd, sd
	default:
		return nil, nil, fmt.Errorf("no device: pass --serial <port> or --simulate")
	}

	if err := prepareDevice(dev, roi); err != nil {
		closer.Close()
		return nil, nil, err
	}
	return dev, closer, nil
}

// prepareDevice checks roi against the sensor and configures it where the
// device supports that.
func prepareDevice(dev device.Device, roi frame.ROI) error {
	if ip, ok := dev.(device.InfoProvider); ok {
		info, err := ip.Info()
		if err != nil {
			return fmt.Errorf("failed to read sensor info: %w", err)
		}
		if issues := roi.Check(info); len(issues) > 0 {
			return fmt.Errorf("failed to set ROI %s: %s", roi, strings.Join(issues, "; "))
		}
	}
	if rs, ok := dev.(device.ROISetter); ok {
		if err := rs.SetROI(roi); err != nil {
			return fmt.Errorf("failed to set ROI %s: %w", roi, err)
		}
	}
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
