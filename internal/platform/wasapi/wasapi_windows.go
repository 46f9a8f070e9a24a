//go:build windows

// Package wasapi implements the platform boundary on top of the Windows
// Core Audio APIs (MMDevice + EndpointVolume) via go-wca.
package wasapi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/go-ole/go-ole"
	"github.com/google/uuid"
	"github.com/moutend/go-wca/pkg/wca"
	"go.uber.org/zap"

	"github.com/anden3/volume-sync/internal/platform"
)

// HRESULTs classified as expected absence rather than failure.
const (
	hresultErrorNotFound     = 0x80070490 // ERROR_NOT_FOUND as HRESULT
	hresultDeviceInvalidated = 0x88890004 // AUDCLNT_E_DEVICE_INVALIDATED
	hresultSFalse            = 0x00000001 // S_FALSE from CoInitializeEx
)

var _ platform.System = (*System)(nil)

// System talks to the Windows audio subsystem. All methods must run on the
// thread that called Acquire.
type System struct {
	logger *zap.Logger
	enum   *wca.IMMDeviceEnumerator
}

func New(logger *zap.Logger) *System {
	return &System{logger: logger}
}

// Acquire initializes COM for the calling thread and creates the device
// enumerator. If COM was already initialized by something else on this
// thread, this acquisition owes no CoUninitialize.
func (s *System) Acquire() (func(), error) {
	owed := true
	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED|ole.COINIT_DISABLE_OLE1DDE); err != nil {
		var oleErr *ole.OleError
		if errors.As(err, &oleErr) && uint32(oleErr.Code()) == hresultSFalse {
			s.logger.Info("COM already initialized on this thread")
			owed = false
		} else {
			return nil, fmt.Errorf("initialize COM: %w", err)
		}
	}

	var enum *wca.IMMDeviceEnumerator
	if err := wca.CoCreateInstance(wca.CLSID_MMDeviceEnumerator, 0, wca.CLSCTX_ALL, wca.IID_IMMDeviceEnumerator, &enum); err != nil {
		if owed {
			ole.CoUninitialize()
		}
		return nil, fmt.Errorf("create device enumerator: %w", err)
	}
	s.enum = enum

	return func() {
		s.enum.Release()
		s.enum = nil
		if owed {
			ole.CoUninitialize()
		}
	}, nil
}

// Listen registers an endpoint notification client. Only render-flow
// console-role defaults are relevant to this monitor; everything else is
// filtered here so platform concepts do not leak into the core.
func (s *System) Listen(events platform.DeviceEvents) (func() error, error) {
	client := wca.NewIMMNotificationClient(wca.IMMNotificationClientCallback{
		OnDefaultDeviceChanged: func(flow wca.EDataFlow, role wca.ERole, deviceID string) error {
			if flow != wca.ERender || role != wca.EConsole {
				return nil
			}
			if events.DefaultChanged != nil {
				events.DefaultChanged(platform.DeviceID(deviceID))
			}
			return nil
		},
		OnDeviceRemoved: func(deviceID string) error {
			if events.Removed != nil {
				events.Removed(platform.DeviceID(deviceID))
			}
			return nil
		},
	})

	if err := s.enum.RegisterEndpointNotificationCallback(client); err != nil {
		return nil, fmt.Errorf("register endpoint notifications: %w", err)
	}
	return func() error {
		if err := s.enum.UnregisterEndpointNotificationCallback(client); err != nil {
			return fmt.Errorf("unregister endpoint notifications: %w", err)
		}
		return nil
	}, nil
}

func (s *System) DefaultEndpoint() (platform.Endpoint, error) {
	var dev *wca.IMMDevice
	if err := s.enum.GetDefaultAudioEndpoint(wca.ERender, wca.EConsole, &dev); err != nil {
		if isAbsence(err) {
			return nil, fmt.Errorf("no default output device: %w", platform.ErrNoDevice)
		}
		return nil, fmt.Errorf("get default audio endpoint: %w", err)
	}
	return newEndpoint(dev)
}

func (s *System) Endpoint(id platform.DeviceID) (platform.Endpoint, error) {
	var dev *wca.IMMDevice
	if err := s.enum.GetDevice(string(id), &dev); err != nil {
		if isAbsence(err) {
			return nil, fmt.Errorf("device %q: %w", id, platform.ErrNoDevice)
		}
		return nil, fmt.Errorf("get device %q: %w", id, err)
	}
	return newEndpoint(dev)
}

type endpoint struct {
	dev *wca.IMMDevice
	id  platform.DeviceID
}

func newEndpoint(dev *wca.IMMDevice) (*endpoint, error) {
	var id string
	if err := dev.GetId(&id); err != nil {
		dev.Release()
		return nil, fmt.Errorf("get device ID: %w", err)
	}
	return &endpoint{dev: dev, id: platform.DeviceID(id)}, nil
}

func (e *endpoint) ID() platform.DeviceID { return e.id }

// Close releases the device reference unless a successful Subscribe already
// handed it to the subscription.
func (e *endpoint) Close() error {
	if e.dev != nil {
		e.dev.Release()
		e.dev = nil
	}
	return nil
}

func (e *endpoint) Subscribe(onChange func(platform.VolumeEvent)) (platform.Subscription, error) {
	var aev *wca.IAudioEndpointVolume
	if err := e.dev.Activate(wca.IID_IAudioEndpointVolume, wca.CLSCTX_ALL, nil, &aev); err != nil {
		if isAbsence(err) {
			return nil, fmt.Errorf("device %q invalidated: %w", e.id, platform.ErrNoDevice)
		}
		return nil, fmt.Errorf("activate endpoint volume for %q: %w", e.id, err)
	}

	cb := newVolumeCallback(onChange)
	if err := registerControlChangeNotify(aev, cb); err != nil {
		aev.Release()
		return nil, fmt.Errorf("register volume change callback for %q: %w", e.id, err)
	}

	sub := &subscription{id: e.id, dev: e.dev, aev: aev, cb: cb}
	e.dev = nil
	return sub, nil
}

type subscription struct {
	id  platform.DeviceID
	dev *wca.IMMDevice
	aev *wca.IAudioEndpointVolume
	cb  *volumeCallback
}

func (sub *subscription) Volume() (float32, error) {
	var level float32
	if err := sub.aev.GetMasterVolumeLevelScalar(&level); err != nil {
		if isAbsence(err) {
			return 0, fmt.Errorf("device %q: %w", sub.id, platform.ErrNoDevice)
		}
		return 0, fmt.Errorf("get master volume for %q: %w", sub.id, err)
	}
	return level, nil
}

func (sub *subscription) SetVolume(level float32, tag uuid.UUID) error {
	if err := sub.aev.SetMasterVolumeLevelScalar(level, toOleGUID(tag)); err != nil {
		return fmt.Errorf("set master volume on %q: %w", sub.id, err)
	}
	return nil
}

func (sub *subscription) Close() error {
	err := unregisterControlChangeNotify(sub.aev, sub.cb)
	sub.aev.Release()
	sub.dev.Release()
	if err != nil {
		return fmt.Errorf("unregister volume change callback for %q: %w", sub.id, err)
	}
	return nil
}

func isAbsence(err error) bool {
	var oleErr *ole.OleError
	if !errors.As(err, &oleErr) {
		return false
	}
	switch uint32(oleErr.Code()) {
	case hresultErrorNotFound, hresultDeviceInvalidated:
		return true
	}
	return false
}

func toOleGUID(tag uuid.UUID) *ole.GUID {
	return ole.NewGUID("{" + strings.ToUpper(tag.String()) + "}")
}

func tagFromGUID(g ole.GUID) uuid.UUID {
	var b [16]byte
	binary.BigEndian.PutUint32(b[0:4], g.Data1)
	binary.BigEndian.PutUint16(b[4:6], g.Data2)
	binary.BigEndian.PutUint16(b[6:8], g.Data3)
	copy(b[8:], g.Data4[:])
	return uuid.UUID(b)
}
