// Package poller is a portable platform.System for hosts without usable
// device notifications. It exposes the system mixer as a single synthetic
// output device and detects external volume changes by polling.
//
// Limitations compared to the native implementations: there are no device
// topology events (the synthetic device never changes or disappears while
// the mixer responds), and change detection is bounded by the polling
// interval.
package poller

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	volume "github.com/itchyny/volume-go"
	"go.uber.org/zap"

	"github.com/anden3/volume-sync/internal/platform"
)

// DeviceID is the identity of the single synthetic output device.
const DeviceID = platform.DeviceID("system-output")

const defaultInterval = 500 * time.Millisecond

var _ platform.System = (*System)(nil)

// System polls the system mixer through volume-go.
type System struct {
	logger   *zap.Logger
	interval time.Duration

	// get/set are replaceable in tests.
	get func() (int, error)
	set func(int) error

	mu         sync.Mutex
	subscribed bool
}

// Option configures a System.
type Option func(*System)

// WithInterval overrides the polling interval.
func WithInterval(d time.Duration) Option {
	return func(s *System) { s.interval = d }
}

func New(logger *zap.Logger, opts ...Option) *System {
	s := &System{
		logger:   logger,
		interval: defaultInterval,
		get:      volume.GetVolume,
		set:      volume.SetVolume,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Acquire is a no-op: the mixer commands used by volume-go need no
// per-thread subsystem initialization.
func (s *System) Acquire() (func(), error) {
	return func() {}, nil
}

// Listen accepts the handlers but never fires them; this backend cannot
// observe device topology changes.
func (s *System) Listen(events platform.DeviceEvents) (func() error, error) {
	s.logger.Info("device change notifications unavailable on this platform")
	return func() error { return nil }, nil
}

func (s *System) DefaultEndpoint() (platform.Endpoint, error) {
	if _, err := s.get(); err != nil {
		return nil, fmt.Errorf("probe system mixer: %w (%w)", err, platform.ErrNoDevice)
	}
	return &endpoint{sys: s}, nil
}

func (s *System) Endpoint(id platform.DeviceID) (platform.Endpoint, error) {
	if id != DeviceID {
		return nil, fmt.Errorf("device %q: %w", id, platform.ErrNoDevice)
	}
	return s.DefaultEndpoint()
}

type endpoint struct {
	sys *System
}

func (e *endpoint) ID() platform.DeviceID { return DeviceID }

// Close is a no-op; the synthetic device has no handle to release.
func (e *endpoint) Close() error { return nil }

func (e *endpoint) Subscribe(onChange func(platform.VolumeEvent)) (platform.Subscription, error) {
	s := e.sys

	s.mu.Lock()
	if s.subscribed {
		s.mu.Unlock()
		return nil, fmt.Errorf("synthetic device already subscribed")
	}
	s.subscribed = true
	s.mu.Unlock()

	initial, err := s.get()
	if err != nil {
		s.mu.Lock()
		s.subscribed = false
		s.mu.Unlock()
		return nil, fmt.Errorf("read system volume: %w (%w)", err, platform.ErrNoDevice)
	}

	sub := &subscription{
		sys:      s,
		onChange: onChange,
		last:     initial,
		stop:     make(chan struct{}),
	}
	go sub.poll()
	return sub, nil
}

type subscription struct {
	sys      *System
	onChange func(platform.VolumeEvent)
	stop     chan struct{}

	mu     sync.Mutex
	closed bool
	last   int // last observed percentage
}

// poll emulates the change notifications native backends get for free,
// following the same compare-last-value loop the mixer allows.
func (sub *subscription) poll() {
	ticker := time.NewTicker(sub.sys.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sub.stop:
			return
		case <-ticker.C:
		}

		percent, err := sub.sys.get()
		if err != nil {
			continue
		}

		sub.mu.Lock()
		if percent == sub.last {
			sub.mu.Unlock()
			continue
		}
		sub.last = percent
		closed := sub.closed
		sub.mu.Unlock()

		// Anything the poll loop notices was changed by someone else;
		// this backend's own writes update last before the next tick.
		if !closed {
			sub.onChange(platform.VolumeEvent{Level: float32(percent) / 100, Tag: uuid.Nil})
		}
	}
}

func (sub *subscription) Volume() (float32, error) {
	percent, err := sub.sys.get()
	if err != nil {
		return 0, fmt.Errorf("read system volume: %w (%w)", err, platform.ErrNoDevice)
	}
	return float32(percent) / 100, nil
}

func (sub *subscription) SetVolume(level float32, tag uuid.UUID) error {
	percent := int(level*100 + 0.5)

	// Claim the value before writing so a poll tick racing the write can
	// never report it as an external change.
	sub.mu.Lock()
	prev := sub.last
	sub.last = percent
	sub.mu.Unlock()

	if err := sub.sys.set(percent); err != nil {
		sub.mu.Lock()
		sub.last = prev
		sub.mu.Unlock()
		return fmt.Errorf("set system volume to %d%%: %w", percent, err)
	}
	return nil
}

func (sub *subscription) Close() error {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return fmt.Errorf("synthetic device: already unsubscribed")
	}
	sub.closed = true
	sub.mu.Unlock()

	close(sub.stop)

	s := sub.sys
	s.mu.Lock()
	s.subscribed = false
	s.mu.Unlock()
	return nil
}
