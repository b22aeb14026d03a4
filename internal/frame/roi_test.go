package frame

import (
	"strings"
	"testing"
)

func TestROICheck(t *testing.T) {
	info := SensorInfo{
		MaxWidth:       640,
		MaxHeight:      480,
		SupportedBins:  []int{1, 2},
		SupportedTypes: []PixelType{Raw8, Raw16},
	}

	testCases := []struct {
		name    string
		roi     ROI
		wantSub string
	}{
		{"valid", ROI{Width: 320, Height: 240, Bins: 1, Type: Raw16}, ""},
		{"bins", ROI{Width: 320, Height: 240, Bins: 4, Type: Raw8}, "bin(s) not supported"},
		{"type", ROI{Width: 320, Height: 240, Bins: 1, Type: RGB24}, "not supported"},
		{"width_multiple", ROI{Width: 321, Height: 240, Bins: 1, Type: Raw8}, "multiple of 8"},
		{"height_multiple", ROI{Width: 320, Height: 241, Bins: 1, Type: Raw8}, "multiple of 2"},
		{"too_wide", ROI{Width: 1024, Height: 240, Bins: 1, Type: Raw8}, "maximal supported width"},
		{"binned_bounds", ROI{StartX: 200, Width: 200, Height: 240, Bins: 2, Type: Raw8}, "binned sensor width"},
		{"zero_height", ROI{Width: 320, Height: 0, Bins: 1, Type: Raw8}, "height must be positive"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			issues := tc.roi.Check(info)
			if tc.wantSub == "" {
				if len(issues) != 0 {
					t.Errorf("expected no issues, got %v", issues)
				}
				return
			}
			joined := strings.Join(issues, "; ")
			if !strings.Contains(joined, tc.wantSub) {
				t.Errorf("issues %q do not mention %q", joined, tc.wantSub)
			}
		})
	}
}
