// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package act defines actions independently of the transport running them.
// The same action backs an HTTP handler in cmd/api and a command in tools/ctl.
package act

import "context"

// Input is a request or command configuration that can check itself.
type Input interface {
	Validate() error
}

// Deps is a marker type for dependency containers.
type Deps any

// InitDeps builds the dependencies of an action.
type InitDeps[D Deps] func(context.Context) (D, error)

// Action is a transport-agnostic operation.
type Action[I Input, O any, D Deps] func(context.Context, I, D) (*O, error)

// NoOutput is the output of actions that only report through their IO.
type NoOutput struct{}
