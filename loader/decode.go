package loader

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/h2non/filetype"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"imgspan/jpegquality"
	"imgspan/utils/images"
)

const (
	// maxImageDimension caps width/height reported by image headers so
	// corrupted or hostile sources could not trigger huge allocations.
	maxImageDimension = 32768
)

// maxImagePixels bounds total pixel count of a source (roughly 64MP).
var maxImagePixels int64 = 64 * 1024 * 1024

func validateBounds(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("image bounds invalid (%d x %d)", width, height)
	}
	if width > maxImageDimension || height > maxImageDimension {
		return fmt.Errorf("image dimension exceeds limit (%d x %d)", width, height)
	}
	if pixels := int64(width) * int64(height); pixels > maxImagePixels {
		return fmt.Errorf("image pixel count %d exceeds limit %d", pixels, maxImagePixels)
	}
	return nil
}

type decoder struct {
	log *zap.Logger
}

// decode turns raw source data into Image. SVG documents are rasterized at
// their intrinsic size, everything else goes through registered decoders
// with EXIF orientation applied.
func (d *decoder) decode(data []byte) (*Image, error) {
	if images.IsSVG(data) {
		img, err := images.RasterizeSVG(data, 0, 0)
		if err != nil {
			return nil, fmt.Errorf("unable to rasterize svg: %w", err)
		}
		return newImage(img, "svg"), nil
	}

	if !filetype.IsImage(data) {
		kind, _ := filetype.Match(data)
		return nil, fmt.Errorf("unsupported content type %q", kind.MIME.Value)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unable to read image header: %w", err)
	}
	if err := validateBounds(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("unable to decode %s image: %w", format, err)
	}

	res := newImage(img, format)
	if format == "jpeg" {
		if qr, err := jpegquality.NewWithBytes(data); err == nil {
			res.Quality = qr.Quality()
		} else {
			d.log.Debug("Unable to detect JPEG quality level", zap.Error(err))
		}
	}
	return res, nil
}

func newImage(img image.Image, format string) *Image {
	b := img.Bounds()
	return &Image{
		Img:    img,
		Format: format,
		Width:  b.Dx(),
		Height: b.Dy(),
		Size:   pixelSize(img),
	}
}
