// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package ratex paces repeated calls to remote services.
package ratex

import (
	"context"
	"time"
)

// MinDelay is the shortest delay Backoff returns.
const MinDelay = 100 * time.Millisecond

// Backoff yields exponentially growing delays between polls of a
// long-running remote operation. It is not safe for concurrent use.
type Backoff struct {
	// Minimum is the first delay. Values below MinDelay are raised to it.
	Minimum time.Duration
	// Maximum caps the delay. Zero leaves it unbounded.
	// Values below MinDelay are raised to it.
	Maximum time.Duration

	current time.Duration
}

// Next returns the next delay. Each delay is a third longer than the previous one.
func (b *Backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = max(b.Minimum, MinDelay)
	} else {
		b.current = b.current * 4 / 3
	}
	if ceil := max(b.Maximum, MinDelay); b.Maximum > 0 && b.current > ceil {
		b.current = ceil
	}
	return b.current
}

// Reset restarts the sequence at Minimum.
func (b *Backoff) Reset() {
	b.current = 0
}

// Wait blocks for the next delay.
// If ctx becomes Done(), Wait will return an error.
func (b *Backoff) Wait(ctx context.Context) error {
	t := time.NewTimer(b.Next())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
