// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package importstore

import (
	"context"
	"flag"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/m10k/albs-web-server/pkg/act"
	"github.com/m10k/albs-web-server/pkg/act/cli"
	"github.com/m10k/albs-web-server/pkg/store/fsstore"
	"github.com/m10k/albs-web-server/pkg/store/memstore"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Config holds all configuration for the import command.
type Config struct {
	Fixture string
	Project string
}

// Validate ensures the configuration is valid.
func (c Config) Validate() error {
	if c.Fixture == "" {
		return errors.New("fixture is required")
	}
	if c.Project == "" {
		return errors.New("--project is required")
	}
	return nil
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
		return errors.New("expected exactly 1 argument: fixture")
	}
	cfg.Fixture = args[0]
	return nil
}

// Handler copies a JSON store snapshot into Firestore.
func Handler(ctx context.Context, cfg Config, deps *Deps) (*act.NoOutput, error) {
	f, err := os.Open(cfg.Fixture)
	if err != nil {
		return nil, errors.Wrap(err, "opening fixture")
	}
	defer f.Close()
	mem, err := memstore.Load(f)
	if err != nil {
		return nil, errors.Wrap(err, "loading fixture")
	}
	client, err := firestore.NewClient(ctx, cfg.Project)
	if err != nil {
		return nil, errors.Wrap(err, "creating firestore client")
	}
	defer client.Close()
	data := mem.Snapshot()
	if err := fsstore.New(client).Import(ctx, data); err != nil {
		return nil, err
	}
	fmt.Fprintf(deps.IO.Out, "imported %d builds, %d tasks, %d artifacts into %s\n", len(data.Builds), len(data.Tasks), len(data.Artifacts), cfg.Project)
	return &act.NoOutput{}, nil
}

// Command creates a new import command instance.
func Command() *cobra.Command {
	cfg := Config{}
	cmd := &cobra.Command{
		Use:   "import --project <id> <fixture>",
		Short: "Load a JSON store snapshot into Firestore",
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
	set.StringVar(&cfg.Project, "project", "", "GCP Project ID of the Firestore database")
	return set
}
