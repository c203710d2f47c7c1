package style

import (
	"imgspan/css"
)

// updater applies single recognized declaration value to a snapshot.
type updater func(Snapshot, css.Value) Snapshot

type updaterKey struct {
	property string
	unit     Unit
}

// updaters lists every recognized (property, unit) combination. Anything not
// in this table is ignored.
var updaters = map[updaterKey]updater{
	{"width", UnitPx}:       pixels(Snapshot.WithWidth),
	{"width", UnitEm}:       relative(Snapshot.WithWidth),
	{"width", UnitPercent}:  relative(Snapshot.WithWidth),
	{"width", UnitPt}:       relative(Snapshot.WithWidth),
	{"height", UnitPx}:      pixels(Snapshot.WithHeight),
	{"height", UnitEm}:      relative(Snapshot.WithHeight),
	{"height", UnitPercent}: relative(Snapshot.WithHeight),
	{"height", UnitPt}:      relative(Snapshot.WithHeight),
}

// lookupUpdater classifies value and finds updater for the declaration.
func lookupUpdater(key, value string) (updater, css.Value, bool) {
	v := css.ParseValue(value)
	if !v.IsNumeric() || v.Unit == "" {
		return nil, v, false
	}
	fn, ok := updaters[updaterKey{property: key, unit: unitFromCSS(v.Unit)}]
	return fn, v, ok
}

// pixels accepts positive integers only, anything else leaves snapshot as is.
func pixels(set func(Snapshot, Dimension) Snapshot) updater {
	return func(s Snapshot, v css.Value) Snapshot {
		n, ok := v.Int()
		if !ok || n <= 0 {
			return s
		}
		return set(s, Dimension{Unit: UnitPx, Magnitude: float64(n)})
	}
}

func relative(set func(Snapshot, Dimension) Snapshot) updater {
	return func(s Snapshot, v css.Value) Snapshot {
		return set(s, Dimension{Unit: unitFromCSS(v.Unit), Magnitude: v.Value})
	}
}
