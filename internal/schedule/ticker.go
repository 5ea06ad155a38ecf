package schedule

import (
	"context"
	"log"
	"sync"
	"time"
)

// FireFunc delivers one due standing order into the message intake.
type FireFunc func(ctx context.Context, entry Entry)

// Ticker periodically fires due schedule entries.
type Ticker struct {
	table    *Table
	fire     FireFunc
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTicker(table *Table, fire FireFunc, interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Ticker{table: table, fire: fire, interval: interval}
}

func (t *Ticker) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	t.wg.Add(1)
	go t.loop(ctx)
	log.Printf("schedule: ticker started, interval %s", t.interval)
}

func (t *Ticker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
}

func (t *Ticker) loop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

func (t *Ticker) tick(ctx context.Context) {
	now := time.Now().UTC()
	for _, e := range t.table.Due(now) {
		if err := t.table.MarkFired(e.ID, now); err != nil {
			log.Printf("schedule: mark fired %s: %v", e.ID, err)
			continue
		}
		t.fire(ctx, e)
	}
}
