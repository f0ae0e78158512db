// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package cli runs act actions as cobra commands.
package cli

import (
	"strconv"

	"github.com/m10k/albs-web-server/pkg/act"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Deps receives the streams of the running command.
type Deps interface {
	SetIO(IO)
}

// ParseArgs populates an Input from positional arguments.
type ParseArgs[I act.Input] func(in *I, args []string) error

// SkipArgs is a ParseArgs for commands without positional arguments.
func SkipArgs[I act.Input](*I, []string) error {
	return nil
}

// ParseID parses a positive record id named name.
func ParseID(arg, name string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing %s", name)
	}
	if id <= 0 {
		return 0, errors.Errorf("%s must be positive, got %d", name, id)
	}
	return id, nil
}

// RunE builds a cobra RunE that parses and validates cfg, then runs action.
// Usage is only printed for argument errors, not for failures of the action.
func RunE[I act.Input, O any, D Deps](
	cfg *I,
	parseArgs ParseArgs[I],
	initDeps act.InitDeps[D],
	action act.Action[I, O, D],
) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := parseArgs(cfg, args); err != nil {
			return err
		}
		if err := (*cfg).Validate(); err != nil {
			return errors.Wrap(err, "invalid arguments")
		}
		cmd.SilenceUsage = true
		ctx := cmd.Context()
		deps, err := initDeps(ctx)
		if err != nil {
			return errors.Wrap(err, "initializing dependencies")
		}
		deps.SetIO(IO{In: cmd.InOrStdin(), Out: cmd.OutOrStdout(), Err: cmd.ErrOrStderr()})
		_, err = action(ctx, *cfg, deps)
		return errors.Wrapf(err, "%s", cmd.Name())
	}
}
