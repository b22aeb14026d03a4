package frame

import (
	"fmt"

	"github.com/disintegration/imaging"
)

// SavePNG writes the frame to path, format chosen by extension. A scale
// other than 0 or 1 resizes the output, keeping the aspect ratio.
func SavePNG(path string, f Frame, scale float64) error {
	img, err := f.Image()
	if err != nil {
		return err
	}
	if scale > 0 && scale != 1 {
		w := int(float64(f.Width) * scale)
		if w < 1 {
			w = 1
		}
		img = imaging.Resize(img, w, 0, imaging.Lanczos)
	}
	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("failed to save frame to %s: %w", path, err)
	}
	return nil
}
