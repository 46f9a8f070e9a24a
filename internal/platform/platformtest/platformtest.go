// Package platformtest provides an in-memory platform.System for tests.
// Devices are scripted by the test, every callback registration and removal
// is recorded so tests can assert on subscription lifecycles, and the
// FailNext hooks inject one-shot errors to exercise failure handling.
package platformtest

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/anden3/volume-sync/internal/platform"
)

// System is a scripted audio subsystem. All methods are safe for concurrent
// use; notification handlers are invoked synchronously on the caller's
// goroutine, mimicking platform callback threads.
type System struct {
	mu        sync.Mutex
	devices   map[platform.DeviceID]*device
	defaultID platform.DeviceID
	events    platform.DeviceEvents
	listening bool

	acquires    int
	releases    int
	active      int
	maxActive   int
	openHandles int
	ledger      []string

	// One-shot injected failures, consumed by the next matching call.
	failSubscribe error
	failVolume    error
	failSetVolume error
	failClose     error
}

type device struct {
	level    float32
	onChange func(platform.VolumeEvent)
}

var _ platform.System = (*System)(nil)

func New() *System {
	return &System{devices: make(map[platform.DeviceID]*device)}
}

// AddDevice makes a device with the given volume level available.
func (s *System) AddDevice(id platform.DeviceID, level float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[id] = &device{level: level}
}

// SetDefault marks id as the default output device and fires the
// default-changed notification. The device does not have to exist, matching
// platforms that announce defaults that resolve to nothing.
func (s *System) SetDefault(id platform.DeviceID) {
	s.mu.Lock()
	s.defaultID = id
	handler := s.events.DefaultChanged
	listening := s.listening
	s.mu.Unlock()

	if listening && handler != nil {
		handler(id)
	}
}

// RemoveDevice unplugs a device and fires the removal notification. Firing
// for an already-absent device is allowed; platforms may notify repeatedly.
func (s *System) RemoveDevice(id platform.DeviceID) {
	s.mu.Lock()
	if dev, ok := s.devices[id]; ok {
		if dev.onChange != nil {
			s.active--
			s.ledger = append(s.ledger, "orphan "+string(id))
		}
		delete(s.devices, id)
	}
	if s.defaultID == id {
		s.defaultID = ""
	}
	handler := s.events.Removed
	listening := s.listening
	s.mu.Unlock()

	if listening && handler != nil {
		handler(id)
	}
}

// PushVolume simulates an external volume change on a device, delivering a
// notification to its subscriber if one is registered.
func (s *System) PushVolume(id platform.DeviceID, level float32, tag uuid.UUID) {
	s.mu.Lock()
	dev, ok := s.devices[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	dev.level = level
	handler := dev.onChange
	s.mu.Unlock()

	if handler != nil {
		handler(platform.VolumeEvent{Level: level, Tag: tag})
	}
}

// DeviceLevel returns a device's current volume level.
func (s *System) DeviceLevel(id platform.DeviceID) float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dev, ok := s.devices[id]; ok {
		return dev.level
	}
	return 0
}

// ActiveRegistrations returns the number of currently registered volume
// callbacks.
func (s *System) ActiveRegistrations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// MaxActiveRegistrations returns the highest number of volume callbacks
// that were ever registered at the same time.
func (s *System) MaxActiveRegistrations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxActive
}

// Ledger returns the ordered register/unregister history.
func (s *System) Ledger() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ledger...)
}

// Acquires and Releases report subsystem lifecycle calls.
func (s *System) Acquires() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquires
}

func (s *System) Releases() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releases
}

// Listening reports whether a device notification handler is registered.
func (s *System) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening
}

// OpenDeviceHandles returns the number of resolved device handles that have
// been neither released nor closed via their owning subscription.
func (s *System) OpenDeviceHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openHandles
}

// FailNextSubscribe makes the next Subscribe call fail with err.
func (s *System) FailNextSubscribe(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSubscribe = err
}

// FailNextVolume makes the next Volume read fail with err.
func (s *System) FailNextVolume(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failVolume = err
}

// FailNextSetVolume makes the next SetVolume call fail with err.
func (s *System) FailNextSetVolume(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSetVolume = err
}

// FailNextClose makes the next subscription Close fail with err, leaving
// the registration in place like a real unregister failure would.
func (s *System) FailNextClose(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failClose = err
}

func (s *System) Acquire() (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquires++
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.releases++
	}, nil
}

func (s *System) Listen(events platform.DeviceEvents) (func() error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listening {
		return nil, fmt.Errorf("device notifications already registered")
	}
	s.events = events
	s.listening = true
	return func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.listening = false
		s.events = platform.DeviceEvents{}
		return nil
	}, nil
}

func (s *System) DefaultEndpoint() (platform.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.defaultID == "" {
		return nil, platform.ErrNoDevice
	}
	if _, ok := s.devices[s.defaultID]; !ok {
		return nil, platform.ErrNoDevice
	}
	s.openHandles++
	return &endpoint{sys: s, id: s.defaultID}, nil
}

func (s *System) Endpoint(id platform.DeviceID) (platform.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[id]; !ok {
		return nil, fmt.Errorf("device %q: %w", id, platform.ErrNoDevice)
	}
	s.openHandles++
	return &endpoint{sys: s, id: id}, nil
}

type endpoint struct {
	sys      *System
	id       platform.DeviceID
	released bool
}

func (e *endpoint) ID() platform.DeviceID { return e.id }

func (e *endpoint) Close() error {
	s := e.sys
	s.mu.Lock()
	defer s.mu.Unlock()
	if !e.released {
		e.released = true
		s.openHandles--
	}
	return nil
}

func (e *endpoint) Subscribe(onChange func(platform.VolumeEvent)) (platform.Subscription, error) {
	s := e.sys
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failSubscribe != nil {
		err := s.failSubscribe
		s.failSubscribe = nil
		return nil, err
	}

	dev, ok := s.devices[e.id]
	if !ok {
		// Invalidated between resolution and activation.
		return nil, fmt.Errorf("device %q invalidated: %w", e.id, platform.ErrNoDevice)
	}
	if dev.onChange != nil {
		return nil, fmt.Errorf("device %q already has a registered callback", e.id)
	}

	dev.onChange = onChange
	s.active++
	if s.active > s.maxActive {
		s.maxActive = s.active
	}
	s.ledger = append(s.ledger, "register "+string(e.id))

	// The device handle moves to the subscription; the endpoint's Close
	// becomes a no-op.
	e.released = true
	return &subscription{sys: s, id: e.id}, nil
}

type subscription struct {
	sys    *System
	id     platform.DeviceID
	closed bool
}

func (sub *subscription) Volume() (float32, error) {
	s := sub.sys
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failVolume != nil {
		err := s.failVolume
		s.failVolume = nil
		return 0, err
	}
	dev, ok := s.devices[sub.id]
	if !ok {
		return 0, fmt.Errorf("device %q: %w", sub.id, platform.ErrNoDevice)
	}
	return dev.level, nil
}

func (sub *subscription) SetVolume(level float32, tag uuid.UUID) error {
	s := sub.sys
	s.mu.Lock()
	if s.failSetVolume != nil {
		err := s.failSetVolume
		s.failSetVolume = nil
		s.mu.Unlock()
		return err
	}
	dev, ok := s.devices[sub.id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("device %q: %w", sub.id, platform.ErrNoDevice)
	}
	if level < 0 || level > 1 {
		s.mu.Unlock()
		return fmt.Errorf("level %v out of range", level)
	}
	dev.level = level
	handler := dev.onChange
	s.mu.Unlock()

	// Real platforms notify the registered callback about every change,
	// including ones made through this very handle.
	if handler != nil {
		handler(platform.VolumeEvent{Level: level, Tag: tag})
	}
	return nil
}

func (sub *subscription) Close() error {
	s := sub.sys
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failClose != nil {
		err := s.failClose
		s.failClose = nil
		return err
	}
	if sub.closed {
		return fmt.Errorf("device %q: callback already unregistered", sub.id)
	}
	sub.closed = true
	s.openHandles--
	if dev, ok := s.devices[sub.id]; ok && dev.onChange != nil {
		dev.onChange = nil
		s.active--
	}
	s.ledger = append(s.ledger, "unregister "+string(sub.id))
	return nil
}
