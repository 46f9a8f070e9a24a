// Package monitor keeps one live subscription to the default output
// device's volume and publishes the latest observed level.
//
// A single goroutine owns all device resources: it acquires the platform
// audio subsystem on a locked OS thread, processes an inbound command queue
// serially, and is the only place device handles are touched. Platform
// notifications arriving on other threads are translated into commands (or
// a watch publish) and nothing else.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/anden3/volume-sync/internal/platform"
	"github.com/anden3/volume-sync/internal/watch"
)

// DefaultMaxLevel caps outbound volume writes. The ceiling is deliberately
// far below full scale so a runaway or mistyped request cannot blast the
// user's ears.
const DefaultMaxLevel = 0.3

const commandQueueSize = 64

// echoTag marks volume writes issued by this monitor so the resulting
// platform notification can be recognized as self-caused and dropped.
// The value itself is arbitrary but must stay distinct from anything the
// platform or other applications use.
var echoTag = uuid.MustParse("dc1b615d-6d18-4f6e-af33-488e23d0dc6a")

// Volume is the published state of the default output device. Available is
// false when no output device is present; Level is meaningless then.
type Volume struct {
	Level     float32
	Available bool
}

type command interface {
	name() string
}

type newDefaultDevice struct{ id platform.DeviceID }
type deviceRemoved struct{ id platform.DeviceID }
type setVolume struct{ level float32 }

func (newDefaultDevice) name() string { return "newDefaultDevice" }
func (deviceRemoved) name() string    { return "deviceRemoved" }
func (setVolume) name() string        { return "setVolume" }

// Monitor owns the subscription to the current default output device.
type Monitor struct {
	logger   *zap.Logger
	sys      platform.System
	maxLevel float32

	cmds  chan command
	vol   *watch.Value[Volume]
	ready chan struct{}

	// current is owned exclusively by the Run goroutine.
	current *activeSubscription
}

type activeSubscription struct {
	id  platform.DeviceID
	sub platform.Subscription
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithMaxLevel overrides the outbound volume ceiling. Values above 1 are
// treated as 1.
func WithMaxLevel(level float32) Option {
	return func(m *Monitor) { m.maxLevel = level }
}

// New creates a Monitor for the given audio subsystem. Run must be called
// before the monitor does anything.
func New(logger *zap.Logger, sys platform.System, opts ...Option) *Monitor {
	m := &Monitor{
		logger:   logger,
		sys:      sys,
		maxLevel: DefaultMaxLevel,
		cmds:     make(chan command, commandQueueSize),
		vol:      watch.New(Volume{}),
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.maxLevel > 1 {
		m.maxLevel = 1
	}
	return m
}

// Volume returns the latest published volume state.
func (m *Monitor) Volume() Volume {
	return m.vol.Get()
}

// Watch returns a receiver that observes published volume transitions.
func (m *Monitor) Watch() *watch.Receiver[Volume] {
	return m.vol.Subscribe()
}

// SetVolume requests a volume change. Fire and forget: the level is clamped
// by the monitor, and the request is dropped silently when no device is
// available.
func (m *Monitor) SetVolume(level float32) {
	m.enqueue(setVolume{level: level})
}

// Ready is closed once the monitor has registered for device notifications
// and published its initial state.
func (m *Monitor) Ready() <-chan struct{} {
	return m.ready
}

// Run executes the monitor until ctx is cancelled or a platform contract
// violation makes the subscription state untrustworthy. It must be the only
// goroutine that ever touches the subsystem.
func (m *Monitor) Run(ctx context.Context) error {
	// Device handles are thread-affine; keep this goroutine pinned for
	// its whole life.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	release, err := m.sys.Acquire()
	if err != nil {
		return fmt.Errorf("acquire audio subsystem: %w", err)
	}
	defer release()

	stop, err := m.sys.Listen(platform.DeviceEvents{
		DefaultChanged: func(id platform.DeviceID) { m.enqueue(newDefaultDevice{id: id}) },
		Removed:        func(id platform.DeviceID) { m.enqueue(deviceRemoved{id: id}) },
	})
	if err != nil {
		return fmt.Errorf("register device notifications: %w", err)
	}
	defer func() {
		if err := stop(); err != nil {
			m.logger.Error("failed to unregister device notifications", zap.Error(err))
		}
	}()

	defer func() {
		if err := m.dropSubscription(); err != nil {
			m.logger.Error("failed to drop subscription on shutdown", zap.Error(err))
		}
	}()

	if err := m.seedDefault(); err != nil {
		return err
	}
	close(m.ready)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-m.cmds:
			if err := m.handle(cmd); err != nil {
				return err
			}
		}
	}
}

// seedDefault resolves and subscribes the current default device before the
// monitor reports ready, so observers see an initial value instead of
// waiting for the first device change.
func (m *Monitor) seedDefault() error {
	ep, err := m.sys.DefaultEndpoint()
	switch {
	case err == nil:
		id := ep.ID()
		if cerr := ep.Close(); cerr != nil {
			return fmt.Errorf("release endpoint %q: %w", id, cerr)
		}
		return m.switchDevice(id)
	case errors.Is(err, platform.ErrNoDevice):
		m.logger.Info("no output device present at startup")
		return nil
	default:
		return fmt.Errorf("resolve default output device: %w", err)
	}
}

// enqueue pushes a command without blocking. Platform callbacks call this
// from arbitrary threads and must return immediately, so a full queue drops
// the command; a later notification is the recovery path.
func (m *Monitor) enqueue(cmd command) {
	select {
	case m.cmds <- cmd:
	default:
		m.logger.Warn("command queue full, dropping command", zap.String("command", cmd.name()))
	}
}

func (m *Monitor) handle(cmd command) error {
	switch c := cmd.(type) {
	case newDefaultDevice:
		return m.switchDevice(c.id)

	case deviceRemoved:
		if m.current == nil || m.current.id != c.id {
			// Stale or irrelevant removal.
			return nil
		}
		m.logger.Info("output device removed", zap.String("device", string(c.id)))
		if err := m.dropSubscription(); err != nil {
			return err
		}
		m.vol.Set(Volume{})
		return nil

	case setVolume:
		if m.current == nil {
			m.logger.Debug("volume request dropped, no output device",
				zap.Float32("level", c.level))
			return nil
		}
		level := clampLevel(c.level, m.maxLevel)
		if err := m.current.sub.SetVolume(level, echoTag); err != nil {
			// An in-range write was rejected; registration state can no
			// longer be trusted.
			return fmt.Errorf("set volume on device %q: %w", m.current.id, err)
		}
		// Publish the write directly; the platform echo of this change is
		// suppressed so it cannot overwrite us with a stale snapshot.
		m.vol.Set(Volume{Level: level, Available: true})
		return nil
	}
	return nil
}

// switchDevice tears down any existing subscription before the new one is
// established, so two registrations never coexist.
func (m *Monitor) switchDevice(id platform.DeviceID) error {
	if err := m.dropSubscription(); err != nil {
		return err
	}

	ep, err := m.sys.Endpoint(id)
	if err != nil {
		if errors.Is(err, platform.ErrNoDevice) {
			m.logger.Info("default output device not found", zap.String("device", string(id)))
			m.vol.Set(Volume{})
			return nil
		}
		return fmt.Errorf("resolve device %q: %w", id, err)
	}
	// A successful Subscribe hands the device to the subscription and this
	// Close becomes a no-op; on every other path it releases the handle.
	defer func() {
		if cerr := ep.Close(); cerr != nil {
			m.logger.Error("failed to release device handle",
				zap.String("device", string(id)), zap.Error(cerr))
		}
	}()

	sub, err := ep.Subscribe(m.onVolumeEvent)
	if err != nil {
		if errors.Is(err, platform.ErrNoDevice) {
			m.logger.Info("output device invalidated before subscription",
				zap.String("device", string(id)))
			m.vol.Set(Volume{})
			return nil
		}
		return fmt.Errorf("subscribe to device %q: %w", id, err)
	}

	level, err := sub.Volume()
	if err != nil {
		// Lost between subscribing and the first read; unwind and report
		// unavailable until the next device notification.
		if cerr := sub.Close(); cerr != nil {
			return fmt.Errorf("unregister volume callback for %q: %w", id, cerr)
		}
		m.logger.Info("output device lost before first read",
			zap.String("device", string(id)), zap.Error(err))
		m.vol.Set(Volume{})
		return nil
	}

	m.current = &activeSubscription{id: id, sub: sub}
	m.vol.Set(Volume{Level: level, Available: true})
	m.logger.Info("subscribed to default output device",
		zap.String("device", string(id)), zap.Float32("level", level))
	return nil
}

func (m *Monitor) dropSubscription() error {
	if m.current == nil {
		return nil
	}
	id, sub := m.current.id, m.current.sub
	m.current = nil
	if err := sub.Close(); err != nil {
		return fmt.Errorf("unregister volume callback for %q: %w", id, err)
	}
	return nil
}

// onVolumeEvent runs on an arbitrary platform thread. Publishing to the
// watch cell is its only permitted side effect.
func (m *Monitor) onVolumeEvent(ev platform.VolumeEvent) {
	if ev.Tag == echoTag {
		// Our own write; already published by the direct path.
		return
	}
	m.vol.Set(Volume{Level: ev.Level, Available: true})
}

func clampLevel(level, ceiling float32) float32 {
	if level < 0 {
		return 0
	}
	if level > ceiling {
		return ceiling
	}
	return level
}
