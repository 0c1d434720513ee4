package kittlog

import "testing"

func TestInitDoesNotPanicOnKnownLevels(t *testing.T) {
	for _, level := range []string{"", "debug", "info", "warn", "error"} {
		Init(level)
	}
}
