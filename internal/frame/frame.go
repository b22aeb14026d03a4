package frame

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Frame is a decoded image: one float64 per channel sample, row-major.
// RGB24 frames keep the sensor's B, G, R channel order.
type Frame struct {
	Type   PixelType
	Width  int
	Height int
	Pix    []float64
}

// New allocates a zeroed frame.
func New(p PixelType, width, height int) Frame {
	return Frame{
		Type:   p,
		Width:  width,
		Height: height,
		Pix:    make([]float64, width*height*p.SamplesPerPixel()),
	}
}

// Samples returns the expected sample count of the frame.
func (f Frame) Samples() int {
	return f.Width * f.Height * f.Type.SamplesPerPixel()
}

// Validate checks that Pix matches the declared shape.
func (f Frame) Validate() error {
	if !f.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownPixelType, string(f.Type))
	}
	if len(f.Pix) != f.Samples() {
		return fmt.Errorf("%s frame %dx%d: %d samples, want %d", f.Type, f.Width, f.Height, len(f.Pix), f.Samples())
	}
	return nil
}

// Mean returns the arithmetic mean of all samples.
func (f Frame) Mean() float64 {
	if len(f.Pix) == 0 {
		return 0
	}
	return floats.Sum(f.Pix) / float64(len(f.Pix))
}

// Sub returns f - other, sample by sample.
func (f Frame) Sub(other Frame) (Frame, error) {
	if f.Type != other.Type || f.Width != other.Width || f.Height != other.Height {
		return Frame{}, fmt.Errorf("cannot subtract %s %dx%d from %s %dx%d",
			other.Type, other.Width, other.Height, f.Type, f.Width, f.Height)
	}
	out := Frame{Type: f.Type, Width: f.Width, Height: f.Height, Pix: make([]float64, len(f.Pix))}
	floats.SubTo(out.Pix, f.Pix, other.Pix)
	return out, nil
}

// Accumulator averages repeated captures of the same shape.
type Accumulator struct {
	typ    PixelType
	width  int
	height int
	decode Decoder
	sum    []float64
	n      int
}

// NewAccumulator returns an Accumulator for raw frames of the given shape.
func NewAccumulator(p PixelType, width, height int) (*Accumulator, error) {
	decode, err := p.Decoder(width, height)
	if err != nil {
		return nil, err
	}
	return &Accumulator{
		typ:    p,
		width:  width,
		height: height,
		decode: decode,
		sum:    make([]float64, width*height*p.SamplesPerPixel()),
	}, nil
}

// AddRaw decodes a raw sensor buffer and adds it to the running sum.
func (a *Accumulator) AddRaw(raw []byte) error {
	samples, err := a.decode(raw)
	if err != nil {
		return err
	}
	return a.add(samples)
}

// Add adds an already decoded frame to the running sum.
func (a *Accumulator) Add(f Frame) error {
	if f.Type != a.typ || f.Width != a.width || f.Height != a.height {
		return fmt.Errorf("frame %s %dx%d does not match accumulator %s %dx%d",
			f.Type, f.Width, f.Height, a.typ, a.width, a.height)
	}
	return a.add(f.Pix)
}

func (a *Accumulator) add(samples []float64) error {
	if len(samples) != len(a.sum) {
		return fmt.Errorf("frame has %d samples, want %d", len(samples), len(a.sum))
	}
	floats.Add(a.sum, samples)
	a.n++
	return nil
}

// Count returns the number of frames added.
func (a *Accumulator) Count() int { return a.n }

// Mean returns the element-wise mean of the frames added so far.
func (a *Accumulator) Mean() (Frame, error) {
	if a.n == 0 {
		return Frame{}, fmt.Errorf("no frames to average")
	}
	pix := make([]float64, len(a.sum))
	copy(pix, a.sum)
	floats.Scale(1/float64(a.n), pix)
	return Frame{Type: a.typ, Width: a.width, Height: a.height, Pix: pix}, nil
}

// MarshalPix encodes samples as little-endian float64 values.
func MarshalPix(pix []float64) []byte {
	buf := make([]byte, 8*len(pix))
	for i, v := range pix {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return buf
}

// UnmarshalPix decodes a buffer written by MarshalPix.
func UnmarshalPix(buf []byte) ([]float64, error) {
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("pixel buffer length %d is not a multiple of 8", len(buf))
	}
	pix := make([]float64, len(buf)/8)
	for i := range pix {
		pix[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return pix, nil
}

// Image converts the frame to a standard library image, rounding and
// clamping samples to the pixel type's range.
func (f Frame) Image() (image.Image, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	rect := image.Rect(0, 0, f.Width, f.Height)
	switch f.Type {
	case Raw8, Y8:
		img := image.NewGray(rect)
		for i, v := range f.Pix {
			img.Pix[i] = clamp8(v)
		}
		return img, nil
	case Raw16:
		img := image.NewGray16(rect)
		for y := 0; y < f.Height; y++ {
			for x := 0; x < f.Width; x++ {
				img.SetGray16(x, y, color.Gray16{Y: clamp16(f.Pix[y*f.Width+x])})
			}
		}
		return img, nil
	case RGB24:
		img := image.NewNRGBA(rect)
		for i := 0; i < f.Width*f.Height; i++ {
			b, g, r := f.Pix[3*i], f.Pix[3*i+1], f.Pix[3*i+2]
			img.Pix[4*i] = clamp8(r)
			img.Pix[4*i+1] = clamp8(g)
			img.Pix[4*i+2] = clamp8(b)
			img.Pix[4*i+3] = 0xff
		}
		return img, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPixelType, string(f.Type))
}

func clamp8(v float64) uint8 {
	return uint8(math.Max(0, math.Min(math.MaxUint8, math.Round(v))))
}

func clamp16(v float64) uint16 {
	return uint16(math.Max(0, math.Min(math.MaxUint16, math.Round(v))))
}
