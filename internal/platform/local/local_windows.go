//go:build windows

// Package local picks the platform backend for the host operating system.
package local

import (
	"go.uber.org/zap"

	"github.com/anden3/volume-sync/internal/platform"
	"github.com/anden3/volume-sync/internal/platform/wasapi"
)

// New returns the Windows Core Audio backend.
func New(logger *zap.Logger) platform.System {
	return wasapi.New(logger)
}
