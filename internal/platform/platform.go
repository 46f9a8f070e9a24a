// Package platform defines the boundary between the device volume monitor
// and the host audio subsystem. Implementations live in subpackages: wasapi
// (Windows), poller (portable fallback) and platformtest (in-memory fake).
//
// The underlying device APIs are not safe to use from multiple threads.
// Every method except the notification handlers must be called from the
// single goroutine that called Acquire, with its OS thread locked.
// Notification handlers run on arbitrary platform threads and must return
// near-instantly: their only permitted side effects are enqueuing a message
// or updating a lock-protected cell. They must never call back into the
// subsystem or release a subscription.
package platform

import (
	"errors"

	"github.com/google/uuid"
)

// ErrNoDevice reports an expected absence: no output device is present, the
// requested device does not exist, or it was invalidated mid-operation.
// Callers treat it as "unavailable", never as a failure.
var ErrNoDevice = errors.New("no output device")

// DeviceID identifies an output device. It is opaque and only compared for
// equality.
type DeviceID string

// VolumeEvent is a device volume-change notification. Tag correlates the
// change with its originator: writes made through Subscription.SetVolume
// carry the writer's tag so their own notifications can be recognized.
type VolumeEvent struct {
	Level float32
	Tag   uuid.UUID
}

// DeviceEvents receives device topology notifications. Either handler may
// be nil. Both are invoked on arbitrary platform threads and are bound by
// the non-blocking constraints in the package comment.
type DeviceEvents struct {
	// DefaultChanged fires when the default output device changes.
	DefaultChanged func(id DeviceID)
	// Removed fires when a device is removed from the system.
	Removed func(id DeviceID)
}

// System is a host audio subsystem.
type System interface {
	// Acquire initializes the subsystem on the calling goroutine's thread.
	// The returned release function must be called on the same thread on
	// every exit path. If the subsystem was already initialized by someone
	// else, Acquire succeeds and the release function owes no teardown.
	Acquire() (release func(), err error)

	// Listen registers for device topology notifications. The returned stop
	// function unregisters; a stop failure is a contract violation.
	Listen(events DeviceEvents) (stop func() error, err error)

	// DefaultEndpoint resolves the current default output device. Returns
	// ErrNoDevice when no output device is present.
	DefaultEndpoint() (Endpoint, error)

	// Endpoint resolves a device by ID. Returns ErrNoDevice when no device
	// with that ID exists.
	Endpoint(id DeviceID) (Endpoint, error)
}

// Endpoint is a resolved output device whose volume interface has not been
// activated yet. Resolution holds a device handle: callers must either
// Subscribe successfully, which transfers the handle to the Subscription,
// or Close the endpoint.
type Endpoint interface {
	ID() DeviceID

	// Subscribe activates the device's volume interface and registers
	// onChange for its change notifications, as a single unit. Returns
	// ErrNoDevice if the device was invalidated since resolution. On
	// success the device handle belongs to the returned Subscription.
	Subscribe(onChange func(VolumeEvent)) (Subscription, error)

	// Close releases the device handle. After a successful Subscribe it is
	// a no-op; calling it on every path is safe.
	Close() error
}

// Subscription is an active volume-control handle paired 1:1 with its
// change-notification registration: it exists if and only if the
// registration is live. Close unregisters; after Close no further
// notifications are delivered.
type Subscription interface {
	// Volume returns the device's master volume on a normalized [0,1] scale.
	Volume() (float32, error)

	// SetVolume writes a normalized level, already validated by the caller,
	// tagging the change with tag. Rejection of an in-range level is a
	// contract violation.
	SetVolume(level float32, tag uuid.UUID) error

	// Close unregisters the change notification and releases the handle.
	// A Close failure means registration state can no longer be trusted.
	Close() error
}
