// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package ratex

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestBackoffNext(t *testing.T) {
	tests := []struct {
		name string
		b    Backoff
		want []time.Duration
	}{
		{
			name: "capped",
			b:    Backoff{Minimum: 300 * time.Millisecond, Maximum: time.Second},
			want: []time.Duration{300 * time.Millisecond, 400 * time.Millisecond, 533333333, 711111110, 948148146, time.Second},
		},
		{
			name: "zero minimum",
			b:    Backoff{Maximum: 200 * time.Millisecond},
			want: []time.Duration{MinDelay, 133333333, 177777777, 200 * time.Millisecond, 200 * time.Millisecond, 200 * time.Millisecond},
		},
		{
			name: "maximum below floor",
			b:    Backoff{Minimum: time.Millisecond, Maximum: time.Millisecond},
			want: []time.Duration{MinDelay, MinDelay, MinDelay},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []time.Duration
			for range len(tt.want) {
				got = append(got, tt.b.Next())
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Next() mismatch (-want +got):\n%s", diff)
			}
			tt.b.Reset()
			if d := tt.b.Next(); d != tt.want[0] {
				t.Errorf("Next() after Reset = %v, want %v", d, tt.want[0])
			}
		})
	}
}

func TestBackoffWaitCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := Backoff{Minimum: time.Hour}
	if err := b.Wait(ctx); err != context.Canceled {
		t.Errorf("Wait() = %v, want context.Canceled", err)
	}
}

func TestBackoffWaitZero(t *testing.T) {
	var b Backoff
	start := time.Now()
	if err := b.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	if elapsed := time.Since(start); elapsed < MinDelay {
		t.Errorf("Wait() returned after %v, want at least %v", elapsed, MinDelay)
	}
}
