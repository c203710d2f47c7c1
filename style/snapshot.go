// Package style extracts image sizing information from inline style
// attributes.
package style

import (
	"fmt"
	"strconv"
)

// Unit of a style dimension. Only UnitPx is honored when sizing images, the
// rest are recognized so that declarations using them are not mistaken for
// pixels.
type Unit int

const (
	UnitUnknown Unit = iota
	UnitPx
	UnitEm
	UnitPercent
	UnitPt
)

func (u Unit) String() string {
	switch u {
	case UnitPx:
		return "px"
	case UnitEm:
		return "em"
	case UnitPercent:
		return "%"
	case UnitPt:
		return "pt"
	default:
		return ""
	}
}

func unitFromCSS(s string) Unit {
	switch s {
	case "px":
		return UnitPx
	case "em":
		return UnitEm
	case "%":
		return UnitPercent
	case "pt":
		return UnitPt
	default:
		return UnitUnknown
	}
}

// Dimension is a magnitude tagged with its unit.
type Dimension struct {
	Unit      Unit
	Magnitude float64
}

// Pixels returns dimension as a positive pixel count.
func (d Dimension) Pixels() (int, bool) {
	if d.Unit != UnitPx || d.Magnitude <= 0 {
		return 0, false
	}
	return int(d.Magnitude), true
}

func (d Dimension) String() string {
	return strconv.FormatFloat(d.Magnitude, 'f', -1, 64) + d.Unit.String()
}

type optDimension struct {
	dim Dimension
	set bool
}

// Snapshot holds style properties relevant to image sizing. It is a value
// type and is never modified in place, zero value has nothing set.
type Snapshot struct {
	width  optDimension
	height optDimension
}

func (s Snapshot) Width() (Dimension, bool) {
	return s.width.dim, s.width.set
}

func (s Snapshot) Height() (Dimension, bool) {
	return s.height.dim, s.height.set
}

// WithWidth returns copy of the snapshot with width replaced.
func (s Snapshot) WithWidth(d Dimension) Snapshot {
	s.width = optDimension{dim: d, set: true}
	return s
}

// WithHeight returns copy of the snapshot with height replaced.
func (s Snapshot) WithHeight(d Dimension) Snapshot {
	s.height = optDimension{dim: d, set: true}
	return s
}

// IsZero reports whether nothing is set.
func (s Snapshot) IsZero() bool {
	return !s.width.set && !s.height.set
}

func (s Snapshot) String() string {
	f := func(o optDimension) string {
		if !o.set {
			return "-"
		}
		return o.dim.String()
	}
	return fmt.Sprintf("width[%s] height[%s]", f(s.width), f(s.height))
}
