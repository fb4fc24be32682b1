package utils

import (
	"context"
	"time"
)

// Pacer enforces a minimum interval between remote calls. Processing is
// strictly sequential, so this is a plain timestamp check, not a token
// bucket.
type Pacer struct {
	interval time.Duration
	lastCall time.Time
}

// NewPacer creates a Pacer with the given minimum interval between
// calls. A zero or negative interval disables pacing.
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{interval: interval}
}

// Wait blocks until the minimum interval since the previous call has
// elapsed, or until the context is cancelled. The first call never
// blocks.
func (p *Pacer) Wait(ctx context.Context) error {
	if p.interval <= 0 {
		p.lastCall = time.Now()
		return nil
	}

	if !p.lastCall.IsZero() {
		if remaining := p.interval - time.Since(p.lastCall); remaining > 0 {
			timer := time.NewTimer(remaining)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	p.lastCall = time.Now()
	return nil
}
