// Package loader reads image sources and decodes them.
package loader

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// ErrUnavailable is wrapped by every error returned from Fetch: source could
// not be read, was too large or could not be decoded.
var ErrUnavailable = errors.New("image unavailable")

// Image is decoded image with its native dimensions. Once returned it must
// be treated as read-only, it is shared between cache and placements.
type Image struct {
	Img     image.Image
	Format  string
	Width   int
	Height  int
	Size    int64 // decoded pixel buffer size in bytes
	Cost    int64 // Size in configured cost units
	Quality int   // detected JPEG quality, 0 when unknown
}

func (i *Image) String() string {
	if i == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s %dx%d cost[%d]", i.Format, i.Width, i.Height, i.Cost)
}

// Cost is used as cache cost function.
func Cost(i *Image) int64 {
	if i == nil {
		return 0
	}
	return i.Cost
}

// bytesPerPixel approximates memory used by decoded pixel of a color model.
func bytesPerPixel(m color.Model) int64 {
	switch m {
	case color.GrayModel, color.AlphaModel:
		return 1
	case color.Gray16Model, color.Alpha16Model:
		return 2
	case color.RGBA64Model, color.NRGBA64Model:
		return 8
	default:
		return 4
	}
}

func pixelSize(img image.Image) int64 {
	b := img.Bounds()
	return int64(b.Dx()) * int64(b.Dy()) * bytesPerPixel(img.ColorModel())
}
