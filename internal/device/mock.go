package device

import (
	"fmt"
	"maps"
	"sync"

	"github.com/banshee-data/darkframes/internal/frame"
)

// SetCall records one Set request made to a MockDevice.
type SetCall struct {
	Name  string
	Value int
}

// MockDevice is an in-memory Device for tests and dry runs. Controls take
// their value immediately unless a lag is configured, in which case each
// Controls read moves them one step toward the requested value.
type MockDevice struct {
	mu sync.Mutex

	values  map[string]int
	targets map[string]int
	lag     map[string]int
	roi     frame.ROI
	info    frame.SensorInfo

	// ThermalStep is how many tenths of a degree Temperature moves toward
	// the TargetTemp set point per Controls read. Zero means it follows
	// immediately.
	ThermalStep int

	// FrameFunc builds the raw frame for the n-th capture (0-based). The
	// default fills the frame with n + the sum of the control values.
	FrameFunc func(values map[string]int, n int) []byte

	// Error injection. A non-nil error is returned by every matching call.
	SetErr      error
	ControlsErr error
	CaptureErr  error
	// FailCaptureAt makes the capture with this 1-based index fail when > 0.
	FailCaptureAt int

	SetCalls      []SetCall
	ControlsCalls int
	CaptureCalls  int
}

// NewMockDevice returns a MockDevice with the given ROI and a default
// Exposure of 100ms.
func NewMockDevice(roi frame.ROI) *MockDevice {
	return &MockDevice{
		values:  map[string]int{Exposure: 100000},
		targets: make(map[string]int),
		lag:     make(map[string]int),
		roi:     roi,
	}
}

// SetLag makes control name move by step per Controls read after a Set.
func (m *MockDevice) SetLag(name string, step int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lag[name] = step
}

// SetInfo sets the sensor description returned by Info.
func (m *MockDevice) SetInfo(info frame.SensorInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info = info
}

// Force sets a control value directly, bypassing lag and call recording.
func (m *MockDevice) Force(name string, value int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] = value
	delete(m.targets, name)
}

// Remove makes the device stop reporting control name.
func (m *MockDevice) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, name)
	delete(m.targets, name)
}

// Set implements Device.
func (m *MockDevice) Set(name string, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SetCalls = append(m.SetCalls, SetCall{Name: name, Value: value})
	if m.SetErr != nil {
		return m.SetErr
	}

	if name == TargetTemp {
		m.values[TargetTemp] = value
		if m.ThermalStep <= 0 {
			m.values[Temperature] = value * 10
		} else {
			if _, ok := m.values[Temperature]; !ok {
				m.values[Temperature] = 0
			}
			m.targets[Temperature] = value * 10
		}
		return nil
	}

	if step := m.lag[name]; step > 0 {
		if _, ok := m.values[name]; !ok {
			m.values[name] = 0
		}
		m.targets[name] = value
		return nil
	}
	m.values[name] = value
	return nil
}

// Controls implements Device.
func (m *MockDevice) Controls() (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ControlsCalls++
	if m.ControlsErr != nil {
		return nil, m.ControlsErr
	}

	for name, target := range m.targets {
		step := m.lag[name]
		if name == Temperature {
			step = m.ThermalStep
		}
		m.values[name] = approach(m.values[name], target, step)
		if m.values[name] == target {
			delete(m.targets, name)
		}
	}
	return maps.Clone(m.values), nil
}

func approach(current, target, step int) int {
	switch {
	case step <= 0:
		return target
	case current < target:
		return min(current+step, target)
	case current > target:
		return max(current-step, target)
	}
	return current
}

// Capture implements Device.
func (m *MockDevice) Capture() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CaptureCalls++
	if m.CaptureErr != nil {
		return nil, m.CaptureErr
	}
	if m.FailCaptureAt > 0 && m.CaptureCalls == m.FailCaptureAt {
		return nil, fmt.Errorf("mock capture %d failed", m.CaptureCalls)
	}

	n := m.CaptureCalls - 1
	if m.FrameFunc != nil {
		return m.FrameFunc(maps.Clone(m.values), n), nil
	}

	sum := n
	for _, v := range m.values {
		sum += v
	}
	raw := make([]byte, m.roi.Type.FrameBytes(m.roi.Width, m.roi.Height))
	for i := range raw {
		raw[i] = byte(sum)
	}
	return raw, nil
}

// ROI implements Device.
func (m *MockDevice) ROI() (frame.ROI, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roi, nil
}

// SetROI implements ROISetter.
func (m *MockDevice) SetROI(roi frame.ROI) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roi = roi
	return nil
}

// Info implements InfoProvider.
func (m *MockDevice) Info() (frame.SensorInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info, nil
}

// SetCount returns how many times control name was set.
func (m *MockDevice) SetCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.SetCalls {
		if c.Name == name {
			n++
		}
	}
	return n
}
