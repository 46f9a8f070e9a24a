package poller

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"github.com/anden3/volume-sync/internal/platform"
)

// mixerStub stands in for the system mixer commands.
type mixerStub struct {
	mu      sync.Mutex
	percent int
	err     error
}

func (m *mixerStub) get() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.percent, m.err
}

func (m *mixerStub) set(percent int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.percent = percent
	return nil
}

func newTestSystem(t *testing.T, mixer *mixerStub) *System {
	s := New(zaptest.NewLogger(t), WithInterval(10*time.Millisecond))
	s.get = mixer.get
	s.set = mixer.set
	return s
}

func TestSystem_DefaultEndpointProbesMixer(t *testing.T) {
	mixer := &mixerStub{percent: 50}
	s := newTestSystem(t, mixer)

	ep, err := s.DefaultEndpoint()
	if err != nil {
		t.Fatalf("DefaultEndpoint failed: %v", err)
	}
	if ep.ID() != DeviceID {
		t.Errorf("expected synthetic device ID, got %q", ep.ID())
	}
}

func TestSystem_DefaultEndpointUnavailableMixer(t *testing.T) {
	mixer := &mixerStub{err: errors.New("no mixer")}
	s := newTestSystem(t, mixer)

	if _, err := s.DefaultEndpoint(); !errors.Is(err, platform.ErrNoDevice) {
		t.Errorf("expected ErrNoDevice, got %v", err)
	}
}

func TestSystem_UnknownEndpointID(t *testing.T) {
	s := newTestSystem(t, &mixerStub{percent: 50})
	if _, err := s.Endpoint("spk9"); !errors.Is(err, platform.ErrNoDevice) {
		t.Errorf("expected ErrNoDevice for unknown ID, got %v", err)
	}
}

func TestSubscription_ReadsAndWrites(t *testing.T) {
	mixer := &mixerStub{percent: 40}
	s := newTestSystem(t, mixer)

	ep, err := s.DefaultEndpoint()
	if err != nil {
		t.Fatalf("DefaultEndpoint failed: %v", err)
	}
	sub, err := ep.Subscribe(func(platform.VolumeEvent) {})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	level, err := sub.Volume()
	if err != nil {
		t.Fatalf("Volume failed: %v", err)
	}
	if level != 0.4 {
		t.Errorf("expected 0.4, got %v", level)
	}

	if err := sub.SetVolume(0.25, uuid.New()); err != nil {
		t.Fatalf("SetVolume failed: %v", err)
	}
	if got, _ := mixer.get(); got != 25 {
		t.Errorf("expected mixer at 25%%, got %d%%", got)
	}
}

func TestSubscription_DetectsExternalChange(t *testing.T) {
	mixer := &mixerStub{percent: 40}
	s := newTestSystem(t, mixer)

	events := make(chan platform.VolumeEvent, 1)
	ep, _ := s.DefaultEndpoint()
	sub, err := ep.Subscribe(func(ev platform.VolumeEvent) {
		select {
		case events <- ev:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	mixer.set(70)

	select {
	case ev := <-events:
		if ev.Level != 0.7 {
			t.Errorf("expected level 0.7, got %v", ev.Level)
		}
		if ev.Tag != uuid.Nil {
			t.Errorf("external change must carry no writer tag, got %v", ev.Tag)
		}
	case <-time.After(time.Second):
		t.Fatal("external change was never observed")
	}
}

func TestSubscription_OwnWritesAreNotReported(t *testing.T) {
	mixer := &mixerStub{percent: 40}
	s := newTestSystem(t, mixer)

	events := make(chan platform.VolumeEvent, 4)
	ep, _ := s.DefaultEndpoint()
	sub, err := ep.Subscribe(func(ev platform.VolumeEvent) { events <- ev })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	if err := sub.SetVolume(0.2, uuid.New()); err != nil {
		t.Fatalf("SetVolume failed: %v", err)
	}

	select {
	case ev := <-events:
		t.Fatalf("own write reported as change: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscription_SingleSubscriber(t *testing.T) {
	s := newTestSystem(t, &mixerStub{percent: 40})

	ep, _ := s.DefaultEndpoint()
	sub, err := ep.Subscribe(func(platform.VolumeEvent) {})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if _, err := ep.Subscribe(func(platform.VolumeEvent) {}); err == nil {
		t.Error("second concurrent subscription should fail")
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	sub2, err := ep.Subscribe(func(platform.VolumeEvent) {})
	if err != nil {
		t.Fatalf("re-subscribe after Close failed: %v", err)
	}
	sub2.Close()
}

func TestSubscription_CloseIsNotIdempotent(t *testing.T) {
	s := newTestSystem(t, &mixerStub{percent: 40})
	ep, _ := s.DefaultEndpoint()
	sub, _ := ep.Subscribe(func(platform.VolumeEvent) {})

	if err := sub.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := sub.Close(); err == nil {
		t.Error("second Close should report the double unregister")
	}
}
