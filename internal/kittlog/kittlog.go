// Package kittlog initializes the process-wide structured logger every
// other package logs through via github.com/livekit/protocol/logger.
package kittlog

import (
	"github.com/livekit/protocol/logger"
)

// Init configures the global logger at the given level ("debug", "info",
// "warn", "error"; defaults to "info" when empty).
func Init(level string) {
	if level == "" {
		level = "info"
	}
	logger.InitFromConfig(&logger.Config{Level: level}, "kitt")
}
