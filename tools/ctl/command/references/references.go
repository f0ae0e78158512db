// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package references

import (
	"context"
	"flag"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"

	"github.com/m10k/albs-web-server/internal/httpx"
	"github.com/m10k/albs-web-server/pkg/act/cli"
	"github.com/m10k/albs-web-server/pkg/registry/beholder"
	"github.com/m10k/albs-web-server/pkg/rpm"
	"github.com/m10k/albs-web-server/tools/ctl/backend"
	"github.com/m10k/albs-web-server/tools/ctl/command/preview"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Config holds all configuration for the references command.
type Config struct {
	PlatformConfig string
	// Module is name:stream. Empty lists projects instead.
	Module        string
	Arches        string
	BeholderHost  string
	BeholderToken string
	Format        cli.Format
}

// Validate ensures the configuration is valid.
func (c Config) Validate() error {
	if c.PlatformConfig == "" {
		return errors.New("--platform-config is required")
	}
	if c.BeholderHost == "" {
		return errors.New("--beholder-host is required")
	}
	if c.Module != "" {
		if _, _, ok := strings.Cut(c.Module, ":"); !ok {
			return errors.Errorf("module %q is not name:stream", c.Module)
		}
		if c.Arches == "" {
			return errors.New("--arches is required with a module")
		}
	}
	return nil
}

// Deps holds dependencies for the command.
type Deps struct {
	IO     cli.IO
	Client httpx.BasicClient
}

func (d *Deps) SetIO(cio cli.IO) { d.IO = cio }

// InitDeps initializes Deps.
func InitDeps(context.Context) (*Deps, error) {
	return &Deps{Client: backend.HTTPClient}, nil
}

// Listing summarizes one reference response.
type Listing struct {
	Distribution beholder.Distribution `json:"distribution"`
	Priority     int                   `json:"priority"`
	Sources      int                   `json:"sources"`
}

// Report is the reference data known for a platform.
type Report struct {
	// Listings are ordered by descending priority.
	Listings []Listing `json:"listings"`
	// Artifacts maps arch, module and source package name to the packages
	// built from it on the platform itself.
	Artifacts map[string]map[string]map[string][]rpm.Package `json:"artifacts,omitempty"`
}

func (r *Report) WriteText(cio cli.IO) error {
	for _, l := range r.Listings {
		fmt.Fprintf(cio.Out, "%s %s (priority %d): %d source packages\n", l.Distribution.Name, l.Distribution.Version, l.Priority, l.Sources)
	}
	for _, arch := range slices.Sorted(maps.Keys(r.Artifacts)) {
		for _, module := range slices.Sorted(maps.Keys(r.Artifacts[arch])) {
			srcs := r.Artifacts[arch][module]
			fmt.Fprintf(cio.Out, "%s %s:\n", arch, module)
			for _, src := range slices.Sorted(maps.Keys(srcs)) {
				var nevras []string
				for _, p := range srcs[src] {
					nevras = append(nevras, p.NEVRA())
				}
				fmt.Fprintf(cio.Out, "  %s: %s\n", src, strings.Join(nevras, " "))
			}
		}
	}
	return nil
}

func parseArgs(cfg *Config, args []string) error {
	if len(args) > 1 {
		return errors.New("expected at most 1 argument: module name:stream")
	}
	if len(args) == 1 {
		cfg.Module = args[0]
	}
	return nil
}

// Handler lists the reference data of the platform and its reference platforms.
func Handler(ctx context.Context, cfg Config, deps *Deps) (*Report, error) {
	pc, err := preview.ReadPlatformConfig(cfg.PlatformConfig)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(cfg.BeholderHost)
	if err != nil {
		return nil, errors.Wrap(err, "parsing beholder host")
	}
	c := &beholder.HTTPClient{
		Client: &httpx.WithBearerToken{BasicClient: deps.Client, Token: cfg.BeholderToken},
		Host:   u,
	}
	var name, stream string
	var arches []string
	if cfg.Module != "" {
		name, stream, _ = strings.Cut(cfg.Module, ":")
		for _, a := range strings.Split(cfg.Arches, ",") {
			arches = append(arches, rpm.QueryArch(a))
		}
		slices.Sort(arches)
		arches = slices.Compact(arches)
	}
	report := &Report{}
	for _, resp := range beholder.RetrieveResponses(ctx, c, pc.Platform, name, stream, arches) {
		report.Listings = append(report.Listings, Listing{Distribution: resp.Distribution, Priority: resp.Priority, Sources: len(resp.Artifacts)})
	}
	if cfg.Module != "" {
		report.Artifacts = map[string]map[string]map[string][]rpm.Package{}
		distro := rpm.CleanDistName(pc.Platform.Name)
		for _, arch := range arches {
			report.Artifacts[arch] = beholder.ModuleArtifacts(ctx, c, distro, pc.Platform.DistrVersion, name, stream, arch)
		}
	}
	if err := cli.Print(deps.IO, cfg.Format, report); err != nil {
		return nil, err
	}
	return report, nil
}

// Command creates a new references command instance.
func Command() *cobra.Command {
	cfg := Config{}
	cmd := &cobra.Command{
		Use:   "references --platform-config <file> --beholder-host <url> [--arches <a,b> <name:stream>]",
		Short: "Show the reference package data available for a platform",
		Args:  cobra.MaximumNArgs(1),
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
	set.StringVar(&cfg.PlatformConfig, "platform-config", "", "YAML file describing the platform and its reference platforms")
	set.StringVar(&cfg.Arches, "arches", "", "comma-separated target architectures of the module")
	set.StringVar(&cfg.BeholderHost, "beholder-host", "", "base URL of the reference package metadata service")
	set.StringVar(&cfg.BeholderToken, "beholder-token", "", "bearer token for the reference package metadata service")
	set.Var(&cfg.Format, "format", "format of the output (text, json or yaml)")
	return set
}
