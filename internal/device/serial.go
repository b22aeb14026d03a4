package device

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/banshee-data/darkframes/internal/frame"
	"github.com/banshee-data/darkframes/internal/monitoring"
)

// SerialDevice drives a camera controller speaking a newline-terminated
// ASCII protocol over a serial line:
//
//	SET <name> <value>  -> OK
//	GET                 -> {"Gain":100,...}
//	ROI                 -> {"start_x":0,...}
//	SETROI <json>       -> OK
//	INFO                -> {"max_width":...}
//	CAPTURE             -> FRAME <nbytes>, then one base64 line
//
// Any command may be answered with "ERR <message>".
type SerialDevice struct {
	mu     sync.Mutex
	port   io.ReadWriteCloser
	reader *bufio.Reader
}

// ErrDevice wraps an ERR reply from the controller.
var ErrDevice = errors.New("device error")

// NewSerialDevice wraps an already opened port.
func NewSerialDevice(port io.ReadWriteCloser) *SerialDevice {
	return &SerialDevice{
		port:   port,
		reader: bufio.NewReader(port),
	}
}

// OpenSerial opens the serial port at path and returns a SerialDevice.
func OpenSerial(path string, opts PortOptions) (*SerialDevice, error) {
	normalized, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	mode, err := normalized.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	if err := port.SetReadTimeout(normalized.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", path, err)
	}
	monitoring.Logf("opened device on %s (%d baud)", path, normalized.BaudRate)
	return NewSerialDevice(port), nil
}

// Close closes the underlying port.
func (d *SerialDevice) Close() error {
	return d.port.Close()
}

// roundTrip sends one command line and returns the first reply line.
// The caller holds d.mu.
func (d *SerialDevice) roundTrip(cmd string) (string, error) {
	if _, err := io.WriteString(d.port, cmd+"\n"); err != nil {
		return "", fmt.Errorf("failed to send %q: %w", firstWord(cmd), err)
	}
	return d.readLine(cmd)
}

func (d *SerialDevice) readLine(cmd string) (string, error) {
	line, err := d.reader.ReadString('\n')
	if err != nil {
		if line == "" || !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("failed to read reply to %q: %w", firstWord(cmd), err)
		}
	}
	line = strings.TrimRight(line, "\r\n")
	if msg, ok := strings.CutPrefix(line, "ERR"); ok {
		return "", fmt.Errorf("%w: %s: %s", ErrDevice, firstWord(cmd), strings.TrimSpace(msg))
	}
	return line, nil
}

func firstWord(cmd string) string {
	word, _, _ := strings.Cut(cmd, " ")
	return word
}

func (d *SerialDevice) expectOK(cmd string) error {
	reply, err := d.roundTrip(cmd)
	if err != nil {
		return err
	}
	if reply != "OK" {
		return fmt.Errorf("unexpected reply to %s: %q", firstWord(cmd), reply)
	}
	return nil
}

func (d *SerialDevice) queryJSON(cmd string, v any) error {
	reply, err := d.roundTrip(cmd)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(reply), v); err != nil {
		return fmt.Errorf("failed to parse reply to %s: %w", cmd, err)
	}
	return nil
}

// Set implements Device.
func (d *SerialDevice) Set(name string, value int) error {
	if strings.ContainsAny(name, " \n") {
		return fmt.Errorf("invalid control name %q", name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.expectOK(fmt.Sprintf("SET %s %d", name, value))
}

// Controls implements Device.
func (d *SerialDevice) Controls() (map[string]int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	values := make(map[string]int)
	if err := d.queryJSON("GET", &values); err != nil {
		return nil, err
	}
	return values, nil
}

// ROI implements Device.
func (d *SerialDevice) ROI() (frame.ROI, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var roi frame.ROI
	if err := d.queryJSON("ROI", &roi); err != nil {
		return frame.ROI{}, err
	}
	return roi, nil
}

// SetROI implements ROISetter.
func (d *SerialDevice) SetROI(roi frame.ROI) error {
	data, err := json.Marshal(roi)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.expectOK("SETROI " + string(data))
}

// Info implements InfoProvider.
func (d *SerialDevice) Info() (frame.SensorInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var info frame.SensorInfo
	if err := d.queryJSON("INFO", &info); err != nil {
		return frame.SensorInfo{}, err
	}
	return info, nil
}

// Capture implements Device.
func (d *SerialDevice) Capture() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	header, err := d.roundTrip("CAPTURE")
	if err != nil {
		return nil, err
	}
	sizeField, ok := strings.CutPrefix(header, "FRAME ")
	if !ok {
		return nil, fmt.Errorf("unexpected reply to CAPTURE: %q", header)
	}
	size, err := strconv.Atoi(strings.TrimSpace(sizeField))
	if err != nil || size < 0 {
		return nil, fmt.Errorf("invalid frame size %q", sizeField)
	}

	payload, err := d.readLine("CAPTURE")
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	if len(raw) != size {
		return nil, fmt.Errorf("frame truncated: got %d bytes, announced %d", len(raw), size)
	}
	return raw, nil
}
