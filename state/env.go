// Package state defines shared program state.
package state

import (
	"context"
	"math"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/encoding"

	"imgspan/config"
)

// fallbackBudget is used when neither configuration nor runtime specify
// memory limit.
const fallbackBudget = 512 << 20

type envKey struct{}

// LocalEnv keeps everything program needs in a single place.
type LocalEnv struct {
	Cfg *config.Config
	Rpt *config.Report
	Log *zap.Logger

	// forced input encoding, nil means detect
	CodePage encoding.Encoding
	// base locator for relative image sources
	Base string
	// used by render subcommand
	Overwrite bool

	start         time.Time
	restoreStdLog func()
}

func EnvFromContext(ctx context.Context) *LocalEnv {
	if env, ok := ctx.Value(envKey{}).(*LocalEnv); ok {
		return env
	}
	// this should never happen
	panic("localenv not found in context")
}

func ContextWithEnv(ctx context.Context) context.Context {
	return context.WithValue(ctx, envKey{}, newLocalEnv())
}

func (e *LocalEnv) Uptime() time.Duration {
	return time.Since(e.start)
}

// MemoryBudget returns total memory budget in bytes decoded images cache
// capacity is computed from.
func (e *LocalEnv) MemoryBudget() int64 {
	if e.Cfg != nil && e.Cfg.Images.Cache.MemoryBudgetMB > 0 {
		return e.Cfg.Images.Cache.MemoryBudgetMB << 20
	}
	// negative input only reads current limit
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
		return limit
	}
	return fallbackBudget
}

func (e *LocalEnv) RedirectStdLog() {
	if e.Log == nil {
		return
	}
	e.restoreStdLog = zap.RedirectStdLog(e.Log)
}

func (e *LocalEnv) RestoreStdLog() {
	if e.Log != nil {
		_ = e.Log.Sync()
	}
	if e.restoreStdLog != nil {
		e.restoreStdLog()
	}
}
