// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package iterx

import (
	"errors"
	"iter"
)

type iterish[T any] interface {
	Next() (T, error)
}

// ToSeq2 converts a Next()-style iterator into an iter.Seq2.
// Iteration ends cleanly on sentinel and after yielding any other error.
func ToSeq2[T any](it iterish[T], sentinel error) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			val, err := it.Next()
			if errors.Is(err, sentinel) {
				return
			}
			if !yield(val, err) || err != nil {
				return
			}
		}
	}
}

// CollectMap drains seq, converting each value with fn.
// The first error from either seq or fn is returned.
func CollectMap[T, U any](seq iter.Seq2[T, error], fn func(T) (U, error)) ([]U, error) {
	var out []U
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		u, err := fn(v)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}
