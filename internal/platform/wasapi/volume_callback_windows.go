//go:build windows

package wasapi

import (
	"sync/atomic"
	"syscall"
	"unsafe"

	"github.com/go-ole/go-ole"
	"github.com/moutend/go-wca/pkg/wca"

	"github.com/anden3/volume-sync/internal/platform"
)

// audioVolumeNotificationData mirrors AUDIO_VOLUME_NOTIFICATION_DATA from
// endpointvolume.h. Per-channel volumes follow Channels and are not read.
type audioVolumeNotificationData struct {
	EventContext ole.GUID
	Muted        int32
	MasterVolume float32
	Channels     uint32
}

// volumeCallback is a minimal COM object implementing
// IAudioEndpointVolumeCallback. The vtable is process-wide; per-instance
// state lives after it so the callbacks can recover the receiver from the
// first argument.
type volumeCallback struct {
	vtbl     *volumeCallbackVtbl
	refs     int32
	onChange func(platform.VolumeEvent)
}

type volumeCallbackVtbl struct {
	queryInterface uintptr
	addRef         uintptr
	release        uintptr
	onNotify       uintptr
}

var sharedCallbackVtbl = &volumeCallbackVtbl{
	queryInterface: syscall.NewCallback(callbackQueryInterface),
	addRef:         syscall.NewCallback(callbackAddRef),
	release:        syscall.NewCallback(callbackRelease),
	onNotify:       syscall.NewCallback(callbackOnNotify),
}

var iidIAudioEndpointVolumeCallback = ole.NewGUID("{657804FA-D6AD-4496-8A60-352752AF4F89}")

const (
	hresultOK          = 0x00000000
	hresultNoInterface = 0x80004002
)

func newVolumeCallback(onChange func(platform.VolumeEvent)) *volumeCallback {
	return &volumeCallback{vtbl: sharedCallbackVtbl, refs: 1, onChange: onChange}
}

func callbackQueryInterface(this *volumeCallback, iid *ole.GUID, obj *unsafe.Pointer) uintptr {
	if ole.IsEqualGUID(iid, ole.IID_IUnknown) || ole.IsEqualGUID(iid, iidIAudioEndpointVolumeCallback) {
		callbackAddRef(this)
		*obj = unsafe.Pointer(this)
		return hresultOK
	}
	*obj = nil
	return hresultNoInterface
}

func callbackAddRef(this *volumeCallback) uintptr {
	return uintptr(atomic.AddInt32(&this.refs, 1))
}

func callbackRelease(this *volumeCallback) uintptr {
	return uintptr(atomic.AddInt32(&this.refs, -1))
}

// callbackOnNotify runs on an audio service thread. It must not block and
// must not call back into the endpoint volume interface.
func callbackOnNotify(this *volumeCallback, data *audioVolumeNotificationData) uintptr {
	this.onChange(platform.VolumeEvent{
		Level: data.MasterVolume,
		Tag:   tagFromGUID(data.EventContext),
	})
	return hresultOK
}

// endpointVolumeVtbl names the two IAudioEndpointVolume slots that follow
// IUnknown in endpointvolume.h; go-wca wraps the rest of the interface but
// not these.
type endpointVolumeVtbl struct {
	queryInterface                uintptr
	addRef                        uintptr
	release                       uintptr
	registerControlChangeNotify   uintptr
	unregisterControlChangeNotify uintptr
}

func registerControlChangeNotify(aev *wca.IAudioEndpointVolume, cb *volumeCallback) error {
	vtbl := (*endpointVolumeVtbl)(unsafe.Pointer(aev.RawVTable))
	hr, _, _ := syscall.SyscallN(vtbl.registerControlChangeNotify,
		uintptr(unsafe.Pointer(aev)),
		uintptr(unsafe.Pointer(cb)))
	if hr != hresultOK {
		return ole.NewError(hr)
	}
	return nil
}

func unregisterControlChangeNotify(aev *wca.IAudioEndpointVolume, cb *volumeCallback) error {
	vtbl := (*endpointVolumeVtbl)(unsafe.Pointer(aev.RawVTable))
	hr, _, _ := syscall.SyscallN(vtbl.unregisterControlChangeNotify,
		uintptr(unsafe.Pointer(aev)),
		uintptr(unsafe.Pointer(cb)))
	if hr != hresultOK {
		return ole.NewError(hr)
	}
	return nil
}
