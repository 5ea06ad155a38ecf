package device

import (
	"context"
	"errors"
	"sync"
	"time"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

var ErrNotFound = errors.New("device not found")

// Device is one connected local-agent instance. The device id is
// chosen by the agent and stable across reconnects.
type Device struct {
	ID           string    `json:"device_id"`
	UserID       string    `json:"user_id"`
	AgentVersion string    `json:"agent_version,omitempty"`
	Status       Status    `json:"status"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastSeenAt   time.Time `json:"last_seen_at"`
}

// Manager tracks device presence. A device that goes silent past the
// inactivity timeout is marked offline and the expire hook fires so
// the caller can cancel its tasks.
type Manager struct {
	mu                sync.RWMutex
	devices           map[string]*Device
	inactivityTimeout time.Duration
	onExpire          func(*Device)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 5 * time.Minute
	}
	return &Manager{
		devices:           make(map[string]*Device),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(*Device)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Register marks a device online, creating the record on first
// contact and refreshing it on reconnect.
func (m *Manager) Register(deviceID, userID, agentVersion string) *Device {
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceID]
	if !ok {
		d = &Device{ID: deviceID, ConnectedAt: now}
		m.devices[deviceID] = d
	}
	if userID != "" {
		d.UserID = userID
	}
	if agentVersion != "" {
		d.AgentVersion = agentVersion
	}
	if d.Status != StatusOnline {
		d.ConnectedAt = now
	}
	d.Status = StatusOnline
	d.LastSeenAt = now
	return clone(d)
}

func (m *Manager) Get(deviceID string) (*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(d), nil
}

func (m *Manager) Touch(deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceID]
	if !ok {
		return ErrNotFound
	}
	d.LastSeenAt = time.Now().UTC()
	return nil
}

// End marks a device offline, e.g. when its websocket closes.
func (m *Manager) End(deviceID string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	d.Status = StatusOffline
	d.LastSeenAt = time.Now().UTC()
	return clone(d), nil
}

func (m *Manager) List() []*Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, clone(d))
	}
	return out
}

func (m *Manager) OnlineCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, d := range m.devices {
		if d.Status == StatusOnline {
			count++
		}
	}
	return count
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Device

	m.mu.Lock()
	for _, d := range m.devices {
		if d.Status != StatusOnline {
			continue
		}
		if now.Sub(d.LastSeenAt) < m.inactivityTimeout {
			continue
		}
		d.Status = StatusOffline
		d.LastSeenAt = now
		expired = append(expired, clone(d))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, d := range expired {
			hook(d)
		}
	}
}

func clone(d *Device) *Device {
	c := *d
	return &c
}
