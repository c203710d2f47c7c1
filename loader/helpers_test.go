package loader

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
	"time"

	"imgspan/config"
)

func testConfig() *config.ImagesConfig {
	return &config.ImagesConfig{
		ScaleFactor: 1.0,
		Cache: config.CacheConfig{
			Fraction: 0.125,
			CostUnit: config.CostUnitBytes,
		},
		Transport: config.TransportConfig{
			Timeout:         5 * time.Second,
			UserAgent:       "imgspan-test",
			MaxResponseSize: 1 << 20,
			AllowPrivate:    true,
		},
	}
}

func colorImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.NRGBA{R: uint8(x * 20), G: uint8(y * 20), B: 128, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image, quality int) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		t.Fatalf("failed to encode jpeg: %v", err)
	}
	return buf.Bytes()
}

const testSVG = `<?xml version="1.0"?>
<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 50"><rect width="100" height="50" fill="red"/></svg>`
