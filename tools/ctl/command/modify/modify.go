// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package modify

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"strings"

	"github.com/m10k/albs-web-server/pkg/act/api"
	"github.com/m10k/albs-web-server/pkg/act/cli"
	"github.com/m10k/albs-web-server/pkg/productsync"
	"github.com/m10k/albs-web-server/pkg/schema"
	"github.com/m10k/albs-web-server/tools/ctl/backend"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Config holds all configuration for the modify command.
type Config struct {
	Backend backend.Config
	// API is the base URL of a server to run on instead of the backend.
	API          string
	BuildID      int64
	ProductID    int64
	Modification productsync.Modification
	Format       cli.Format
}

// Validate ensures the configuration is valid.
func (c Config) Validate() error {
	if c.BuildID <= 0 || c.ProductID <= 0 {
		return errors.New("build id and product id must be positive")
	}
	if _, err := productsync.ParseModification(string(c.Modification)); err != nil {
		return err
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
	if len(args) != 3 {
		return errors.New("expected exactly 3 arguments: add|remove, build id and product id")
	}
	cfg.Modification = productsync.Modification(args[0])
	var err error
	if cfg.BuildID, err = cli.ParseID(args[1], "build id"); err != nil {
		return err
	}
	cfg.ProductID, err = cli.ParseID(args[2], "product id")
	return err
}

// report prints a completed modification.
type report struct {
	*productsync.Report
}

func (r report) WriteText(cio cli.IO) error {
	if len(r.Mutations) == 0 {
		_, err := fmt.Fprintln(cio.Out, "product repositories unchanged")
		return err
	}
	for _, m := range r.Mutations {
		if _, err := fmt.Fprintf(cio.Out, "%s: +%d -%d\n", m.Repo, len(m.Add), len(m.Remove)); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(cio.Out, "published %s\n", strings.Join(r.Published, ", "))
	if err == nil && len(r.Linked) > 0 {
		_, err = fmt.Fprintf(cio.Out, "linked %d repositories to their platform\n", len(r.Linked))
	}
	return err
}

// Handler attaches a build to or detaches it from a product.
func Handler(ctx context.Context, cfg Config, deps *Deps) (*productsync.Report, error) {
	run := local
	if cfg.API != "" {
		run = remote
	}
	rep, err := run(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := cli.Print(deps.IO, cfg.Format, report{rep}); err != nil {
		return nil, err
	}
	return rep, nil
}

func local(ctx context.Context, cfg Config) (*productsync.Report, error) {
	b, err := backend.Open(ctx, cfg.Backend)
	if err != nil {
		return nil, err
	}
	s := &productsync.Synchronizer{Store: b.Store, Repos: b.Repos}
	rep, err := s.Modify(ctx, cfg.BuildID, cfg.ProductID, cfg.Modification)
	if err != nil {
		return nil, err
	}
	return rep, b.Close()
}

func remote(ctx context.Context, cfg Config) (*productsync.Report, error) {
	u, err := url.Parse(cfg.API)
	if err != nil {
		return nil, errors.Wrap(err, "parsing --api")
	}
	stub := api.Stub[schema.ProductModifyRequest, productsync.Report](backend.HTTPClient, u.JoinPath("products/modify"))
	return stub(ctx, schema.ProductModifyRequest{BuildID: cfg.BuildID, ProductID: cfg.ProductID, Modification: string(cfg.Modification)})
}

// Command creates a new modify command instance.
func Command() *cobra.Command {
	cfg := Config{}
	cmd := &cobra.Command{
		Use:   "modify-product (--api <url> | (--fixture <file> | --project <id>) --pulp-host <url>) add|remove <build-id> <product-id>",
		Short: "Add a build's packages to a product or remove them",
		Args:  cobra.ExactArgs(3),
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
