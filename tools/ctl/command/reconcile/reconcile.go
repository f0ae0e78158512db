// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"context"
	"flag"
	"fmt"
	"net/url"

	"github.com/m10k/albs-web-server/pkg/act/api"
	"github.com/m10k/albs-web-server/pkg/act/cli"
	"github.com/m10k/albs-web-server/pkg/noarch"
	"github.com/m10k/albs-web-server/pkg/schema"
	"github.com/m10k/albs-web-server/tools/ctl/backend"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Config holds all configuration for the reconcile command.
type Config struct {
	Backend backend.Config
	// API is the base URL of a server to run on instead of the backend.
	API    string
	TaskID int64
	Format cli.Format
}

// Validate ensures the configuration is valid.
func (c Config) Validate() error {
	if c.TaskID <= 0 {
		return errors.New("task id must be positive")
	}
	if c.API != "" {
		_, err := url.Parse(c.API)
		return errors.Wrap(err, "parsing --api")
	}
	return c.Backend.Validate()
}

// Deps holds dependencies for the command.
type Deps struct {
	IO cli.IO
}

func (d *Deps) SetIO(cio cli.IO) { d.IO = cio }

// InitDeps initializes Deps.
func InitDeps(context.Context) (*Deps, error) {
	return &Deps{}, nil
}

func parseArgs(cfg *Config, args []string) error {
	if len(args) != 1 {
		return errors.New("expected exactly 1 argument: task id")
	}
	var err error
	cfg.TaskID, err = cli.ParseID(args[0], "task id")
	return err
}

// result prints the records created by a reconciliation.
type result struct {
	*noarch.Result
}

func (r result) WriteText(cio cli.IO) error {
	if len(r.Artifacts) == 0 {
		_, err := fmt.Fprintln(cio.Out, "noarch packages up to date")
		return err
	}
	for _, a := range r.Artifacts {
		if _, err := fmt.Fprintf(cio.Out, "artifact %d: %s for task %d -> %s\n", a.ID, a.Name, a.TaskID, a.Href); err != nil {
			return err
		}
	}
	for _, b := range r.BinaryRPMs {
		if _, err := fmt.Fprintf(cio.Out, "binary rpm %d: artifact %d of build %d\n", b.ID, b.ArtifactID, b.BuildID); err != nil {
			return err
		}
	}
	return nil
}

// Handler shares the noarch packages of the task's build index.
func Handler(ctx context.Context, cfg Config, deps *Deps) (*noarch.Result, error) {
	run := local
	if cfg.API != "" {
		run = remote
	}
	res, err := run(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := cli.Print(deps.IO, cfg.Format, result{res}); err != nil {
		return nil, err
	}
	return res, nil
}

func local(ctx context.Context, cfg Config) (*noarch.Result, error) {
	b, err := backend.Open(ctx, cfg.Backend)
	if err != nil {
		return nil, err
	}
	r := &noarch.Reconciler{Store: b.Store, Repos: b.Repos}
	res, err := r.Reconcile(ctx, cfg.TaskID)
	if err != nil {
		return nil, err
	}
	return res, b.Close()
}

func remote(ctx context.Context, cfg Config) (*noarch.Result, error) {
	u, err := url.Parse(cfg.API)
	if err != nil {
		return nil, errors.Wrap(err, "parsing --api")
	}
	stub := api.Stub[schema.NoarchReconcileRequest, noarch.Result](backend.HTTPClient, u.JoinPath("noarch/reconcile"))
	return stub(ctx, schema.NoarchReconcileRequest{TaskID: cfg.TaskID})
}

// Command creates a new reconcile command instance.
func Command() *cobra.Command {
	cfg := Config{}
	cmd := &cobra.Command{
		Use:   "reconcile-noarch (--api <url> | (--fixture <file> | --project <id>) --pulp-host <url>) <task-id>",
		Short: "Share noarch packages across the sibling tasks of a build",
		Args:  cobra.ExactArgs(1),
		RunE: cli.RunE(
			&cfg,
			parseArgs,
			InitDeps,
			Handler,
		),
	}
	cmd.Flags().AddGoFlagSet(flagSet(cmd.Name(), &cfg))
	return cmd
}

// flagSet returns the command-line flags for the Config struct.
func flagSet(name string, cfg *Config) *flag.FlagSet {
	set := flag.NewFlagSet(name, flag.ContinueOnError)
	cfg.Backend.RegisterFlags(set)
	set.StringVar(&cfg.API, "api", "", "base URL of an api server to run on instead of the local backend")
	set.Var(&cfg.Format, "format", "format of the output (text, json or yaml)")
	return set
}
