// Package schedule holds standing orders: recurring prompts that fire
// into the normal message intake on a cron cadence.
package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	cronlib "github.com/robfig/cron/v3"
)

var ErrNotFound = errors.New("schedule not found")

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

type Entry struct {
	ID        string     `json:"id"`
	DeviceID  string     `json:"device_id"`
	UserID    string     `json:"user_id,omitempty"`
	Prompt    string     `json:"prompt"`
	CronExpr  string     `json:"cron_expr"`
	Enabled   bool       `json:"enabled"`
	NextRun   time.Time  `json:"next_run"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Table is the in-memory schedule store.
type Table struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewTable() *Table {
	return &Table{entries: make(map[string]*Entry)}
}

// Add validates the cron expression and registers a new entry.
func (t *Table) Add(deviceID, userID, prompt, cronExpr string) (Entry, error) {
	deviceID = strings.TrimSpace(deviceID)
	prompt = strings.TrimSpace(prompt)
	cronExpr = strings.TrimSpace(cronExpr)
	if deviceID == "" || prompt == "" {
		return Entry{}, errors.New("device_id and prompt are required")
	}
	next, err := NextRunTime(cronExpr, time.Now().UTC())
	if err != nil {
		return Entry{}, err
	}

	e := &Entry{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		UserID:    strings.TrimSpace(userID),
		Prompt:    prompt,
		CronExpr:  cronExpr,
		Enabled:   true,
		NextRun:   next,
		CreatedAt: time.Now().UTC(),
	}

	t.mu.Lock()
	t.entries[e.ID] = e
	t.mu.Unlock()
	return *e, nil
}

func (t *Table) Remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; !ok {
		return false
	}
	delete(t.entries, id)
	return true
}

func (t *Table) SetEnabled(id string, enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.Enabled = enabled
	return nil
}

func (t *Table) List() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Due returns the enabled entries whose next run is at or before now.
func (t *Table) Due(now time.Time) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Entry
	for _, e := range t.entries {
		if e.Enabled && !e.NextRun.After(now) {
			out = append(out, *e)
		}
	}
	return out
}

// MarkFired stamps the last run and advances the next run past now.
func (t *Table) MarkFired(id string, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return ErrNotFound
	}
	next, err := NextRunTime(e.CronExpr, now)
	if err != nil {
		return err
	}
	fired := now
	e.LastRun = &fired
	e.NextRun = next
	return nil
}

// NextRunTime computes the next firing after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(strings.TrimSpace(cronExpr))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return sched.Next(after), nil
}
