// Package config loads the capture configuration file: the averaging
// count, the region of interest and the swept controls. TOML, YAML and
// JSON files are accepted; the order in which controls are declared is
// kept and becomes the dimension order of the library.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/banshee-data/darkframes/internal/controls"
	"github.com/banshee-data/darkframes/internal/frame"
)

// maxFileSize bounds the configuration file size.
const maxFileSize = 1 * 1024 * 1024 // 1MB

// Top-level keys of the configuration document.
const (
	keyAverageOver   = "average_over"
	keyROI           = "ROI"
	keyControllables = "controllables"
)

var (
	roiKeys   = []string{"start_x", "start_y", "width", "height", "bins", "type"}
	rangeKeys = []string{"min", "max", "step", "threshold", "timeout"}
)

// Config is a validated capture configuration.
type Config struct {
	Path          string         `toml:"-"`
	AverageOver   int            `toml:"average_over" validate:"gte=1"`
	ROI           frame.ROI      `toml:"ROI"`
	Controllables []Controllable `toml:"-" validate:"gt=0"`
}

// Controllable is one swept control as declared in the file.
type Controllable struct {
	Name      string        `toml:"-" validate:"required"`
	Min       int           `toml:"min"`
	Max       int           `toml:"max"`
	Step      int           `toml:"step" validate:"gt=0"`
	Threshold int           `toml:"threshold" validate:"gte=0"`
	Timeout   time.Duration `toml:"-" validate:"gte=0"`
}

// Range converts the controllable to a controls.Range.
func (c Controllable) Range() (controls.Range, error) {
	return controls.NewRange(c.Name, c.Min, c.Max, c.Step, c.Threshold, c.Timeout)
}

// Space returns the parameter space in declaration order.
func (c *Config) Space() (controls.Space, error) {
	ranges := make([]controls.Range, len(c.Controllables))
	for i, ctl := range c.Controllables {
		r, err := ctl.Range()
		if err != nil {
			return controls.Space{}, &Error{Path: c.Path, Section: sectionOf(ctl.Name), Err: err}
		}
		ranges[i] = r
	}
	space, err := controls.NewSpace(ranges...)
	if err != nil {
		return controls.Space{}, &Error{Path: c.Path, Section: keyControllables, Err: err}
	}
	return space, nil
}

// Error is a configuration error naming the file and, where known, the
// section and field at fault.
type Error struct {
	Path    string
	Section string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "error with configuration file %s", e.Path)
	if e.Section != "" {
		fmt.Fprintf(&b, ", %s", e.Section)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ", field %q", e.Field)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// ErrMissing is wrapped by errors for required keys that are absent.
var ErrMissing = errors.New("missing required key")

func sectionOf(controllable string) string {
	return "controllable " + controllable
}

// Load reads and validates the configuration file at path. The format is
// chosen by extension: .toml, .yaml/.yml or .json.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	format, err := formatFor(cleanPath)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.IsDir() {
		return nil, &Error{Path: path, Err: errors.New("is a directory")}
	}
	if fileInfo.Size() > maxFileSize {
		return nil, &Error{Path: path, Err: fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)}
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(path, format, data)
}

// Parse decodes and validates a configuration document. path is used in
// error messages only.
func Parse(path string, format Format, data []byte) (*Config, error) {
	doc, order, err := format.decode(data)
	if err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("failed to parse %s: %w", format, err)}
	}
	cfg, err := build(path, doc, order)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// build casts the generic document into a Config, failing on the first
// missing or non-integer field.
func build(path string, doc map[string]any, order []string) (*Config, error) {
	for _, key := range []string{keyROI, keyAverageOver, keyControllables} {
		if _, ok := lookup(doc, key); !ok {
			return nil, &Error{Path: path, Field: key, Err: ErrMissing}
		}
	}

	cfg := &Config{Path: path}

	raw, _ := lookup(doc, keyAverageOver)
	avg, err := toInt(raw)
	if err != nil {
		return nil, &Error{Path: path, Field: keyAverageOver, Err: err}
	}
	cfg.AverageOver = avg

	raw, _ = lookup(doc, keyROI)
	if cfg.ROI, err = buildROI(path, raw); err != nil {
		return nil, err
	}

	raw, _ = lookup(doc, keyControllables)
	table, ok := raw.(map[string]any)
	if !ok {
		return nil, &Error{Path: path, Field: keyControllables, Err: fmt.Errorf("expected a table, got %T", raw)}
	}
	for _, name := range orderedNames(table, order) {
		ctl, err := buildControllable(path, name, table[name])
		if err != nil {
			return nil, err
		}
		cfg.Controllables = append(cfg.Controllables, ctl)
	}
	return cfg, nil
}

// lookup finds a top-level key, also accepting its lower-case spelling.
func lookup(doc map[string]any, key string) (any, bool) {
	if v, ok := doc[key]; ok {
		return v, true
	}
	v, ok := doc[strings.ToLower(key)]
	return v, ok
}

func buildROI(path string, raw any) (frame.ROI, error) {
	table, ok := raw.(map[string]any)
	if !ok {
		return frame.ROI{}, &Error{Path: path, Section: keyROI, Err: fmt.Errorf("expected a table, got %T", raw)}
	}
	var missing []string
	for _, k := range roiKeys {
		if _, ok := table[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return frame.ROI{}, &Error{Path: path, Section: keyROI, Field: strings.Join(missing, ", "), Err: ErrMissing}
	}

	var roi frame.ROI
	ints := []*int{&roi.StartX, &roi.StartY, &roi.Width, &roi.Height, &roi.Bins}
	for i, dst := range ints {
		v, err := toInt(table[roiKeys[i]])
		if err != nil {
			return frame.ROI{}, &Error{Path: path, Section: keyROI, Field: roiKeys[i], Err: err}
		}
		*dst = v
	}
	typ, ok := table["type"].(string)
	if !ok {
		return frame.ROI{}, &Error{Path: path, Section: keyROI, Field: "type", Err: fmt.Errorf("expected a string, got %T", table["type"])}
	}
	pt, err := frame.ParsePixelType(typ)
	if err != nil {
		return frame.ROI{}, &Error{Path: path, Section: keyROI, Field: "type", Err: err}
	}
	roi.Type = pt
	return roi, nil
}

func buildControllable(path, name string, raw any) (Controllable, error) {
	section := sectionOf(name)
	table, ok := raw.(map[string]any)
	if !ok {
		return Controllable{}, &Error{Path: path, Section: section, Err: fmt.Errorf("expected a table, got %T", raw)}
	}
	for _, k := range rangeKeys {
		if _, ok := table[k]; !ok {
			return Controllable{}, &Error{Path: path, Section: section, Field: k, Err: ErrMissing}
		}
	}

	ctl := Controllable{Name: name}
	ints := []*int{&ctl.Min, &ctl.Max, &ctl.Step, &ctl.Threshold}
	for i, dst := range ints {
		v, err := toInt(table[rangeKeys[i]])
		if err != nil {
			return Controllable{}, &Error{Path: path, Section: section, Field: rangeKeys[i], Err: err}
		}
		*dst = v
	}
	timeout, err := toDuration(table["timeout"])
	if err != nil {
		return Controllable{}, &Error{Path: path, Section: section, Field: "timeout", Err: err}
	}
	ctl.Timeout = timeout
	return ctl, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("toml"), ",")
		if name == "" || name == "-" {
			return strings.ToLower(fld.Name)
		}
		return name
	})
	v.RegisterValidation("pixeltype", func(fl validator.FieldLevel) bool {
		return frame.PixelType(fl.Field().String()).Valid()
	})
	return v
}

// Validate checks value constraints that casting alone does not catch.
func (c *Config) Validate() error {
	if err := validate.Struct(c.ROI); err != nil {
		return c.translate(keyROI, err)
	}
	for _, ctl := range c.Controllables {
		if err := validate.Struct(ctl); err != nil {
			return c.translate(sectionOf(ctl.Name), err)
		}
	}
	if err := validate.Struct(c); err != nil {
		return c.translate("", err)
	}
	if _, err := c.Space(); err != nil {
		return err
	}
	return nil
}

func (c *Config) translate(section string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &Error{Path: c.Path, Section: section, Err: err}
	}
	fe := verrs[0]
	return &Error{
		Path:    c.Path,
		Section: section,
		Field:   fe.Field(),
		Err:     fmt.Errorf("value %v fails %q%s", fe.Value(), fe.Tag(), paramSuffix(fe.Param())),
	}
}

func paramSuffix(param string) string {
	if param == "" {
		return ""
	}
	return " " + param
}
