// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package api serves act actions as JSON over HTTP and calls them remotely.
//
// Failures travel as grpc statuses. A handler maps the status code onto the
// HTTP status and returns an ErrorBody, which a Stub turns back into the
// same status.
package api

import (
	"context"

	"github.com/google/uuid"
	"github.com/m10k/albs-web-server/pkg/act"
)

type InitDeps[D act.Deps] func(context.Context) (D, error)
type HandlerFunc[I act.Input, O any, D act.Deps] func(context.Context, I, D) (*O, error)
type StubFunc[I act.Input, O any] func(context.Context, I) (*O, error)

// RequestIDHeader carries the id correlating a call across services.
const RequestIDHeader = "X-Request-Id"

type requestIDKey struct{}

// WithRequestID returns ctx carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id of the request being served, or "" outside of one.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestID(header string) string {
	if header != "" {
		return header
	}
	return uuid.New().String()
}
