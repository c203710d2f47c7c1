package images

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// defaultSVGSize is used for SVG documents without usable viewBox.
const defaultSVGSize = 1024

// maxRasterDim limits pixel dimension of rasterized SVG, so enormous viewBox
// values could not exhaust memory.
var maxRasterDim = 8192

// IsSVG reports whether data looks like SVG document: leading XML prolog,
// comments and doctype are skipped and first element must be svg.
func IsSVG(data []byte) bool {
	rest := bytes.TrimSpace(data)
	for len(rest) > 0 {
		switch {
		case bytes.HasPrefix(rest, []byte("<?")):
			rest = skipPast(rest, "?>")
		case bytes.HasPrefix(rest, []byte("<!--")):
			rest = skipPast(rest, "-->")
		case bytes.HasPrefix(rest, []byte("<!")):
			rest = skipPast(rest, ">")
		default:
			return bytes.HasPrefix(rest, []byte("<svg"))
		}
		rest = bytes.TrimSpace(rest)
	}
	return false
}

func skipPast(data []byte, marker string) []byte {
	if i := bytes.Index(data, []byte(marker)); i >= 0 {
		return data[i+len(marker):]
	}
	return nil
}

// RasterizeSVG rasterizes SVG to an RGBA image on white background.
//
// Rules:
//   - if targetW == 0 && targetH == 0: use SVG viewBox dimensions (fallback to defaultSVGSize)
//   - if only one of targetW/targetH is > 0: scale by that dimension keeping aspect ratio
//   - if both targetW and targetH are > 0: fit into that box keeping aspect ratio
func RasterizeSVG(svgData []byte, targetW, targetH int) (image.Image, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svgData))
	if err != nil {
		return nil, err
	}

	intrW := int(math.Ceil(icon.ViewBox.W))
	intrH := int(math.Ceil(icon.ViewBox.H))
	if intrW <= 0 {
		intrW = defaultSVGSize
	}
	if intrH <= 0 {
		intrH = defaultSVGSize
	}

	w, h := fitBox(intrW, intrH, targetW, targetH)

	icon.SetTarget(0, 0, float64(w), float64(h))

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.RGBA{255, 255, 255, 255}}, image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(w, h, dst, dst.Bounds())
	dasher := rasterx.NewDasher(w, h, scanner)
	icon.Draw(dasher, 1.0)
	return dst, nil
}

func fitBox(intrW, intrH, targetW, targetH int) (w, h int) {
	w, h = intrW, intrH
	switch {
	case targetW <= 0 && targetH <= 0:
		// intrinsic size
	case targetH <= 0:
		w = targetW
		h = int(math.Round(float64(w) * float64(intrH) / float64(intrW)))
	case targetW <= 0:
		h = targetH
		w = int(math.Round(float64(h) * float64(intrW) / float64(intrH)))
	default:
		scale := math.Min(float64(targetW)/float64(intrW), float64(targetH)/float64(intrH))
		w = int(math.Round(float64(intrW) * scale))
		h = int(math.Round(float64(intrH) * scale))
	}
	w, h = max(w, 1), max(h, 1)

	if w > maxRasterDim || h > maxRasterDim {
		s := min(float64(maxRasterDim)/float64(w), float64(maxRasterDim)/float64(h))
		w = max(int(math.Round(float64(w)*s)), 1)
		h = max(int(math.Round(float64(h)*s)), 1)
	}
	return w, h
}
