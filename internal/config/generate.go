package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/banshee-data/darkframes/internal/frame"
)

// DefaultAverageOver is the averaging count written by Generate.
const DefaultAverageOver = 10

// DefaultControllables are the ranges written by Generate.
var DefaultControllables = []Controllable{
	{Name: "Exposure", Min: 1000000, Max: 30000000, Step: 5000000, Threshold: 1, Timeout: 100 * time.Millisecond},
	{Name: "TargetTemp", Min: -15, Max: 15, Step: 3, Threshold: 1, Timeout: 30 * time.Second},
	{Name: "Gain", Min: 200, Max: 400, Step: 100, Threshold: 1, Timeout: 100 * time.Millisecond},
}

// Default returns a configuration for roi with the default ranges.
func Default(roi frame.ROI) *Config {
	return &Config{
		AverageOver:   DefaultAverageOver,
		ROI:           roi,
		Controllables: append([]Controllable(nil), DefaultControllables...),
	}
}

// Generate writes a default TOML configuration for roi to path, to be
// edited before a capture. The parent directory must exist and an
// existing file is not overwritten.
func Generate(path string, roi frame.ROI) error {
	dir := filepath.Dir(path)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("can not generate the configuration file %s: directory %s not found", path, dir)
	}
	var buf bytes.Buffer
	if err := Default(roi).WriteTOML(&buf); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("configuration file %s already exists", path)
		}
		return err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

type rangeDoc struct {
	Min       int     `toml:"min"`
	Max       int     `toml:"max"`
	Step      int     `toml:"step"`
	Threshold int     `toml:"threshold"`
	Timeout   float64 `toml:"timeout"`
}

type headerDoc struct {
	AverageOver int       `toml:"average_over"`
	ROI         frame.ROI `toml:"ROI"`
}

var bareKey = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// WriteTOML writes the configuration as TOML. Controllables are written as
// one table each so their order survives a reload.
func (c *Config) WriteTOML(w io.Writer) error {
	enc := toml.NewEncoder(w)
	if err := enc.Encode(headerDoc{AverageOver: c.AverageOver, ROI: c.ROI}); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	for _, ctl := range c.Controllables {
		name := ctl.Name
		if !bareKey.MatchString(name) {
			name = strconv.Quote(name)
		}
		if _, err := fmt.Fprintf(w, "\n[%s.%s]\n", keyControllables, name); err != nil {
			return err
		}
		doc := rangeDoc{
			Min:       ctl.Min,
			Max:       ctl.Max,
			Step:      ctl.Step,
			Threshold: ctl.Threshold,
			Timeout:   ctl.Timeout.Seconds(),
		}
		if err := toml.NewEncoder(w).Encode(doc); err != nil {
			return fmt.Errorf("failed to encode controllable %s: %w", ctl.Name, err)
		}
	}
	return nil
}
