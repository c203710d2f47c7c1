package config

import "math"

// CostUnit specifies units cache entries are weighted in.
type CostUnit string

const (
	CostUnitBytes     CostUnit = "bytes"
	CostUnitKilobytes CostUnit = "kilobytes"
)

// Cost converts size in bytes to cost units rounding up. Non-empty sizes
// never cost less than one unit.
func (u CostUnit) Cost(size int64) int64 {
	if size <= 0 {
		return 0
	}
	switch u {
	case CostUnitKilobytes:
		return int64(math.Ceil(float64(size) / 1024))
	default:
		return size
	}
}
