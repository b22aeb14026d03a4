package frame

import (
	"fmt"
	"slices"
	"strings"
)

// ROI is the sensor region of interest: the window, binning and pixel type
// of the frames the device delivers.
type ROI struct {
	StartX int       `json:"start_x" toml:"start_x" yaml:"start_x" validate:"gte=0"`
	StartY int       `json:"start_y" toml:"start_y" yaml:"start_y" validate:"gte=0"`
	Width  int       `json:"width" toml:"width" yaml:"width" validate:"gt=0"`
	Height int       `json:"height" toml:"height" yaml:"height" validate:"gt=0"`
	Bins   int       `json:"bins" toml:"bins" yaml:"bins" validate:"gte=1"`
	Type   PixelType `json:"type" toml:"type" yaml:"type" validate:"pixeltype"`
}

// SensorInfo describes the capabilities a ROI is checked against.
type SensorInfo struct {
	MaxWidth       int         `json:"max_width"`
	MaxHeight      int         `json:"max_height"`
	SupportedBins  []int       `json:"supported_bins"`
	SupportedTypes []PixelType `json:"supported_types"`
}

// Check returns the reasons the ROI cannot be used on a sensor described by
// info. An empty result means the ROI is usable.
func (r ROI) Check(info SensorInfo) []string {
	var issues []string

	if len(info.SupportedBins) > 0 && !slices.Contains(info.SupportedBins, r.Bins) {
		bins := make([]string, len(info.SupportedBins))
		for i, b := range info.SupportedBins {
			bins[i] = fmt.Sprint(b)
		}
		issues = append(issues, fmt.Sprintf("%d bin(s) not supported (supported: %s)", r.Bins, strings.Join(bins, ",")))
	}

	if !r.Type.Valid() || (len(info.SupportedTypes) > 0 && !slices.Contains(info.SupportedTypes, r.Type)) {
		types := make([]string, len(info.SupportedTypes))
		for i, t := range info.SupportedTypes {
			types[i] = string(t)
		}
		issues = append(issues, fmt.Sprintf("image type %q not supported (supported: %s)", r.Type, strings.Join(types, ",")))
	}

	if r.Width <= 0 {
		issues = append(issues, "width must be positive")
	}
	if r.Height <= 0 {
		issues = append(issues, "height must be positive")
	}
	if info.MaxWidth > 0 && r.Width > info.MaxWidth {
		issues = append(issues, fmt.Sprintf("width %d is bigger than the maximal supported width %d", r.Width, info.MaxWidth))
	}
	if info.MaxHeight > 0 && r.Height > info.MaxHeight {
		issues = append(issues, fmt.Sprintf("height %d is bigger than the maximal supported height %d", r.Height, info.MaxHeight))
	}
	if r.Width%8 != 0 {
		issues = append(issues, fmt.Sprintf("width %d is not a multiple of 8", r.Width))
	}
	if r.Height%2 != 0 {
		issues = append(issues, fmt.Sprintf("height %d is not a multiple of 2", r.Height))
	}

	if r.Bins > 0 {
		if info.MaxWidth > 0 && r.StartX+r.Width > info.MaxWidth/r.Bins {
			issues = append(issues, "ROI and start position larger than binned sensor width")
		}
		if info.MaxHeight > 0 && r.StartY+r.Height > info.MaxHeight/r.Bins {
			issues = append(issues, "ROI and start position larger than binned sensor height")
		}
	}

	return issues
}

func (r ROI) String() string {
	return fmt.Sprintf("%dx%d+%d+%d bin%d %s", r.Width, r.Height, r.StartX, r.StartY, r.Bins, r.Type)
}
