//go:build !windows

// Package local picks the platform backend for the host operating system.
package local

import (
	"go.uber.org/zap"

	"github.com/anden3/volume-sync/internal/platform"
	"github.com/anden3/volume-sync/internal/platform/poller"
)

// New returns the portable polling backend. It tracks the system output
// mixer as a single fixed device and detects external changes by sampling.
func New(logger *zap.Logger) platform.System {
	return poller.New(logger)
}
