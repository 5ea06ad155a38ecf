package device

import (
	"context"
	"testing"
	"time"
)

func TestManagerRegisterGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	d := m.Register("dev-1", "u1", "0.3.0")
	if d.Status != StatusOnline {
		t.Fatalf("status = %q, want %q", d.Status, StatusOnline)
	}

	got, err := m.Get("dev-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UserID != "u1" || got.AgentVersion != "0.3.0" {
		t.Fatalf("unexpected device state: %+v", got)
	}

	ended, err := m.End("dev-1")
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusOffline {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusOffline)
	}
}

func TestManagerReRegisterKeepsIdentity(t *testing.T) {
	m := NewManager(time.Minute)
	m.Register("dev-1", "u1", "0.3.0")
	if _, err := m.End("dev-1"); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	d := m.Register("dev-1", "", "")
	if d.Status != StatusOnline {
		t.Fatalf("status = %q, want %q", d.Status, StatusOnline)
	}
	if d.UserID != "u1" || d.AgentVersion != "0.3.0" {
		t.Fatalf("reconnect lost identity: %+v", d)
	}
	if m.OnlineCount() != 1 {
		t.Fatalf("OnlineCount() = %d, want 1", m.OnlineCount())
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	m.Register("dev-1", "u1", "")

	expired := make(chan string, 1)
	m.SetExpireHook(func(d *Device) { expired <- d.ID })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case id := <-expired:
		if id != "dev-1" {
			t.Fatalf("expired device = %q, want dev-1", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("device never expired")
	}

	got, err := m.Get("dev-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusOffline {
		t.Fatalf("status = %q, want %q", got.Status, StatusOffline)
	}
}

func TestManagerGetUnknown(t *testing.T) {
	m := NewManager(time.Minute)
	if _, err := m.Get("nope"); err != ErrNotFound {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}
