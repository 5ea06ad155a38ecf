// Package worklog is the crash-recovery journal for agent tasks:
// spawned prompts, step notes, and outcomes are appended from inside
// the work function so a restarted server can reconstruct what each
// device was doing. The task registry itself never writes here.
package worklog

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("worklog entry not found")

type Kind string

const (
	KindSpawned Kind = "spawned"
	KindStep    Kind = "step"
	KindBlocked Kind = "blocked"
	KindOutcome Kind = "outcome"
)

type Entry struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	DeviceID  string    `json:"device_id"`
	UserID    string    `json:"user_id"`
	Kind      Kind      `json:"kind"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type Store interface {
	Append(ctx context.Context, entry Entry) error
	ListByTask(ctx context.Context, taskID string) ([]Entry, error)
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]Entry, error)
	Close() error
}
