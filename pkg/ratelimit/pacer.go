package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Pacer spaces calls at least interval apart. Callers reserve slots in order, so N workers
// sharing one Pacer together never exceed the configured rate.
type Pacer struct {
	interval time.Duration
	next     time.Time
	mu       sync.Mutex
	now      func() time.Time
}

// NewPacer creates a pacer allowing ratePerMinute calls per minute.
func NewPacer(ratePerMinute float64) (*Pacer, error) {
	interval, err := DelayFor(ratePerMinute)
	if err != nil {
		return nil, err
	}
	return &Pacer{interval: interval, now: time.Now}, nil
}

// Interval returns the spacing enforced between calls.
func (p *Pacer) Interval() time.Duration {
	return p.interval
}

// Allow takes the next slot if it is already due.
func (p *Pacer) Allow() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if now.Before(p.next) {
		return false
	}
	p.next = now.Add(p.interval)
	return true
}

// Wait reserves the next slot and sleeps until it is due. A cancelled wait gives the slot back
// when no later reservation was made on top of it.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	now := p.now()
	slot := p.next
	if slot.Before(now) {
		slot = now
	}
	p.next = slot.Add(p.interval)
	reserved := p.next
	p.mu.Unlock()

	if err := sleep(ctx, slot.Sub(now)); err != nil {
		p.mu.Lock()
		if p.next.Equal(reserved) {
			p.next = slot
		}
		p.mu.Unlock()
		return err
	}
	return nil
}

// Reset forgets any reserved slots.
func (p *Pacer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.next = time.Time{}
}
