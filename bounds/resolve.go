// Package bounds calculates final pixel size of an embedded image.
package bounds

import (
	"math"
	"strconv"

	"imgspan/style"
)

// DefaultScale is used when requested scale is not a positive number.
const DefaultScale = 1.0

// Resolve returns width and height an image should be placed with.
//
// For each axis pixel value from style wins, then explicit attribute when it
// parses as 32-bit integer, then native image size less one. Chosen value is
// multiplied by scale, truncated toward zero and never negative.
func Resolve(snap style.Snapshot, attrWidth, attrHeight string, nativeWidth, nativeHeight int, scale float64) (width, height int) {
	scale = normalizeScale(scale)

	w, wok := snap.Width()
	h, hok := snap.Height()

	width = apply(pick(w, wok, attrWidth, nativeWidth), scale)
	height = apply(pick(h, hok, attrHeight, nativeHeight), scale)
	return width, height
}

func pick(dim style.Dimension, set bool, attr string, native int) int {
	if set {
		if px, ok := dim.Pixels(); ok {
			return px
		}
	}
	if n, err := strconv.ParseInt(attr, 10, 32); err == nil {
		return int(n)
	}
	return native - 1
}

func apply(v int, scale float64) int {
	f := math.Trunc(float64(v) * scale)
	switch {
	case f <= 0:
		return 0
	case f >= math.MaxInt32:
		return math.MaxInt32
	}
	return int(f)
}

func normalizeScale(scale float64) float64 {
	if math.IsNaN(scale) || math.IsInf(scale, 0) || scale <= 0 {
		return DefaultScale
	}
	return scale
}
