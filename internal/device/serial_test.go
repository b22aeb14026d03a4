package device

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/banshee-data/darkframes/internal/frame"
)

// scriptedPort answers protocol commands from an in-memory MockDevice.
type scriptedPort struct {
	dev      *MockDevice
	pending  bytes.Buffer
	replies  bytes.Buffer
	commands []string
	closed   bool
	corrupt  bool
}

func newScriptedPort() *scriptedPort {
	return &scriptedPort{dev: NewMockDevice(testROI)}
}

func (p *scriptedPort) Write(b []byte) (int, error) {
	p.pending.Write(b)
	for {
		line, err := p.pending.ReadString('\n')
		if err != nil {
			// put back the partial line
			rest := line + p.pending.String()
			p.pending.Reset()
			p.pending.WriteString(rest)
			break
		}
		p.handle(strings.TrimSpace(line))
	}
	return len(b), nil
}

func (p *scriptedPort) handle(cmd string) {
	p.commands = append(p.commands, cmd)
	word, rest, _ := strings.Cut(cmd, " ")
	switch word {
	case "SET":
		var name string
		var value int
		if _, err := fmt.Sscanf(rest, "%s %d", &name, &value); err != nil {
			p.replies.WriteString("ERR bad SET\n")
			return
		}
		if name == "Locked" {
			p.replies.WriteString("ERR control is read-only\n")
			return
		}
		p.dev.Set(name, value)
		p.replies.WriteString("OK\n")
	case "GET":
		values, _ := p.dev.Controls()
		data, _ := json.Marshal(values)
		p.replies.Write(append(data, '\n'))
	case "ROI":
		roi, _ := p.dev.ROI()
		data, _ := json.Marshal(roi)
		p.replies.Write(append(data, '\n'))
	case "SETROI":
		var roi frame.ROI
		if err := json.Unmarshal([]byte(rest), &roi); err != nil {
			p.replies.WriteString("ERR bad roi\n")
			return
		}
		p.dev.SetROI(roi)
		p.replies.WriteString("OK\n")
	case "INFO":
		p.replies.WriteString(`{"max_width":640,"max_height":480,"supported_bins":[1,2],"supported_types":["raw8","raw16"]}` + "\n")
	case "CAPTURE":
		raw, _ := p.dev.Capture()
		size := len(raw)
		if p.corrupt {
			size++
		}
		fmt.Fprintf(&p.replies, "FRAME %d\n%s\n", size, base64.StdEncoding.EncodeToString(raw))
	default:
		p.replies.WriteString("ERR unknown command\n")
	}
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	return p.replies.Read(b)
}

func (p *scriptedPort) Close() error {
	p.closed = true
	return nil
}

func TestSerialDeviceRoundTrip(t *testing.T) {
	port := newScriptedPort()
	dev := NewSerialDevice(port)

	require.NoError(t, dev.Set("Gain", 250))
	values, err := dev.Controls()
	require.NoError(t, err)
	assert.Equal(t, 250, values["Gain"])

	roi, err := dev.ROI()
	require.NoError(t, err)
	assert.Equal(t, testROI, roi)

	newROI := frame.ROI{Width: 16, Height: 4, Bins: 1, Type: frame.Raw16}
	require.NoError(t, dev.SetROI(newROI))
	roi, err = dev.ROI()
	require.NoError(t, err)
	assert.Equal(t, newROI, roi)

	info, err := dev.Info()
	require.NoError(t, err)
	assert.Equal(t, 640, info.MaxWidth)
	assert.Empty(t, newROI.Check(info))

	raw, err := dev.Capture()
	require.NoError(t, err)
	assert.Len(t, raw, newROI.Type.FrameBytes(16, 4))

	require.NoError(t, dev.Close())
	assert.True(t, port.closed)
	assert.Equal(t, "SET Gain 250", port.commands[0])
}

func TestSerialDeviceErrors(t *testing.T) {
	port := newScriptedPort()
	dev := NewSerialDevice(port)

	err := dev.Set("Locked", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDevice))
	assert.Contains(t, err.Error(), "read-only")

	assert.Error(t, dev.Set("bad name", 1))

	port.corrupt = true
	_, err = dev.Capture()
	assert.ErrorContains(t, err, "truncated")
}

func TestPortOptionsSerialMode(t *testing.T) {
	mode, err := PortOptions{}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, 115200, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
	assert.Equal(t, serial.NoParity, mode.Parity)

	mode, err = PortOptions{BaudRate: 9600, StopBits: 2, Parity: "even"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.EvenParity, mode.Parity)

	_, err = PortOptions{DataBits: 9}.SerialMode()
	assert.Error(t, err)
	_, err = PortOptions{Parity: "mark"}.SerialMode()
	assert.Error(t, err)

	opts, err := PortOptions{}.Normalize()
	require.NoError(t, err)
	assert.NotZero(t, opts.ReadTimeout)
}
