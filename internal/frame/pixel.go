// Package frame holds the pixel-level types shared by the capture and
// library code: pixel types, the sensor region of interest, decoded frames
// and the averaging of repeated captures.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownPixelType is returned for a pixel type name that is not supported.
var ErrUnknownPixelType = errors.New("unknown pixel type")

// PixelType identifies the layout of a raw frame as delivered by the sensor.
type PixelType string

const (
	Raw8  PixelType = "raw8"
	Raw16 PixelType = "raw16"
	RGB24 PixelType = "rgb24"
	Y8    PixelType = "y8"
)

// PixelTypes lists the supported pixel types.
var PixelTypes = []PixelType{Raw8, Raw16, RGB24, Y8}

// ParsePixelType parses a pixel type name, case-insensitively.
func ParsePixelType(s string) (PixelType, error) {
	p := PixelType(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q (supported: raw8, raw16, rgb24, y8)", ErrUnknownPixelType, s)
	}
	return p, nil
}

// Valid reports whether p is a supported pixel type.
func (p PixelType) Valid() bool {
	switch p {
	case Raw8, Raw16, RGB24, Y8:
		return true
	}
	return false
}

// BytesPerPixel returns the raw size of one pixel.
func (p PixelType) BytesPerPixel() int {
	switch p {
	case Raw8, Y8:
		return 1
	case Raw16:
		return 2
	case RGB24:
		return 3
	}
	return 0
}

// SamplesPerPixel returns the number of channels stored per pixel.
func (p PixelType) SamplesPerPixel() int {
	if p == RGB24 {
		return 3
	}
	if p.Valid() {
		return 1
	}
	return 0
}

// FrameBytes returns the raw buffer size of a width x height frame.
func (p PixelType) FrameBytes(width, height int) int {
	return width * height * p.BytesPerPixel()
}

// Decoder converts a raw sensor buffer into one float64 sample per channel.
type Decoder func(raw []byte) ([]float64, error)

// Decoder returns the decoding strategy for frames of the given size.
func (p PixelType) Decoder(width, height int) (Decoder, error) {
	want := p.FrameBytes(width, height)
	check := func(raw []byte) error {
		if len(raw) != want {
			return fmt.Errorf("%s frame %dx%d: got %d bytes, want %d", p, width, height, len(raw), want)
		}
		return nil
	}

	switch p {
	case Raw8, Y8, RGB24:
		return func(raw []byte) ([]float64, error) {
			if err := check(raw); err != nil {
				return nil, err
			}
			out := make([]float64, len(raw))
			for i, b := range raw {
				out[i] = float64(b)
			}
			return out, nil
		}, nil
	case Raw16:
		return func(raw []byte) ([]float64, error) {
			if err := check(raw); err != nil {
				return nil, err
			}
			out := make([]float64, len(raw)/2)
			for i := range out {
				out[i] = float64(binary.LittleEndian.Uint16(raw[2*i:]))
			}
			return out, nil
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPixelType, string(p))
}
