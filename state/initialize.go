package state

import (
	"time"

	"go.uber.org/zap"
)

// newLocalEnv creates a new LocalEnv instance with default values
func newLocalEnv() *LocalEnv {
	return &LocalEnv{
		Log:   zap.NewNop(),
		start: time.Now(),
	}
}
