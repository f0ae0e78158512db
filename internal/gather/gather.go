// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package gather runs batches of independent calls concurrently.
//
// Settle waits for every member and reports each outcome separately, which
// lets callers tell "no data" apart from "unreachable". All aborts on the
// first failure.
package gather

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultLimit bounds the number of in-flight calls per batch.
const DefaultLimit = 16

// Result is the outcome of one batch member.
type Result[T any] struct {
	Value T
	Err   error
}

// OK reports whether the call succeeded.
func (r Result[T]) OK() bool { return r.Err == nil }

// Settle runs fn for every input and returns one Result per input, in input order.
// Failures never cancel the other members.
func Settle[I, T any](ctx context.Context, inputs []I, fn func(context.Context, I) (T, error)) []Result[T] {
	results := make([]Result[T], len(inputs))
	var g errgroup.Group
	g.SetLimit(DefaultLimit)
	for i, in := range inputs {
		g.Go(func() error {
			v, err := fn(ctx, in)
			results[i] = Result[T]{Value: v, Err: err}
			return nil
		})
	}
	g.Wait()
	return results
}

// All runs fn for every input and returns the outputs in input order.
// The first error cancels the context passed to the remaining calls and is returned.
func All[I, T any](ctx context.Context, inputs []I, fn func(context.Context, I) (T, error)) ([]T, error) {
	out := make([]T, len(inputs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultLimit)
	for i, in := range inputs {
		g.Go(func() error {
			v, err := fn(ctx, in)
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Each is All for calls without a result value.
func Each[I any](ctx context.Context, inputs []I, fn func(context.Context, I) error) error {
	_, err := All(ctx, inputs, func(ctx context.Context, in I) (struct{}, error) {
		return struct{}{}, fn(ctx, in)
	})
	return err
}

