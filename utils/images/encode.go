// Package images holds image helpers shared by loader and renderer.
package images

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"
)

type DpiType uint8

const (
	DpiNoUnits DpiType = iota
	DpiPxPerInch
	DpiPxPerSm
)

// Format is output image format.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

// Ext returns file extension for the format including leading dot.
func (f Format) Ext() string {
	if f == FormatPNG {
		return ".png"
	}
	return ".jpg"
}

// MediaType returns MIME type of the format.
func (f Format) MediaType() string {
	if f == FormatPNG {
		return "image/png"
	}
	return "image/jpeg"
}

var (
	soi  = [2]byte{0xFF, 0xD8}
	app0 = [2]byte{0xFF, 0xE0}
)

// jfifHeader is APP0 segment payload following the marker.
type jfifHeader struct {
	Length     uint16
	Identifier [5]byte
	Version    [2]byte
	Units      DpiType
	XDensity   uint16
	YDensity   uint16
	ThumbW     uint8
	ThumbH     uint8
}

// EnsureJFIFAPP0 inserts JFIF APP0 marker segment right after SOI if it is
// missing. Returned flag reports whether data was changed.
func EnsureJFIFAPP0(data []byte, dpit DpiType, xdensity, ydensity int16) ([]byte, bool, error) {
	if len(data) < 4 {
		return nil, false, errors.New("jpeg too small")
	}
	if [2]byte(data[:2]) != soi {
		return nil, false, errors.New("not a jpeg")
	}
	if [2]byte(data[2:4]) == app0 {
		return data, false, nil
	}

	hdr := jfifHeader{
		Length:     16,
		Identifier: [5]byte{'J', 'F', 'I', 'F', 0},
		Version:    [2]byte{1, 2},
		Units:      dpit,
		XDensity:   uint16(xdensity),
		YDensity:   uint16(ydensity),
	}

	buf := bytes.NewBuffer(make([]byte, 0, len(data)+18))
	buf.Write(soi[:])
	buf.Write(app0[:])
	_ = binary.Write(buf, binary.BigEndian, hdr)
	buf.Write(data[2:])
	return buf.Bytes(), true, nil
}

// Encode serializes img in requested format. JPEG output always carries
// JFIF APP0 segment with 300 dpi density.
func Encode(img image.Image, format Format, quality int) ([]byte, error) {
	buf := new(bytes.Buffer)
	switch format {
	case FormatPNG:
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(buf, img); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatJPEG:
		if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, err
		}
		out, _, err := EnsureJFIFAPP0(buf.Bytes(), DpiPxPerInch, 300, 300)
		return out, err
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

// IsGrayscale reports whether img is grayscale (all pixels have R==G==B).
func IsGrayscale(img image.Image) bool {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return true
	}

	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if c.R != c.G || c.G != c.B {
				return false
			}
		}
	}
	return true
}

// ToGray converts img to 8-bit grayscale.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	src := imaging.Grayscale(img)
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := range b.Dy() {
		for x := range b.Dx() {
			// channels are equal after imaging.Grayscale
			dst.Pix[y*dst.Stride+x] = src.Pix[y*src.Stride+x*4]
		}
	}
	return dst
}
