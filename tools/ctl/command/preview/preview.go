// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package preview

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/m10k/albs-web-server/internal/httpx"
	"github.com/m10k/albs-web-server/pkg/act/cli"
	"github.com/m10k/albs-web-server/pkg/assets"
	"github.com/m10k/albs-web-server/pkg/model"
	"github.com/m10k/albs-web-server/pkg/modref"
	"github.com/m10k/albs-web-server/pkg/registry/beholder"
	"github.com/m10k/albs-web-server/pkg/source"
	"github.com/m10k/albs-web-server/pkg/source/gitea"
	"github.com/m10k/albs-web-server/pkg/source/gitremote"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// PlatformConfig is the YAML document naming the platform to preview against.
type PlatformConfig struct {
	Platform model.Platform          `yaml:"platform"`
	Flavours []model.PlatformFlavour `yaml:"flavours"`
}

// Config holds all configuration for the preview command.
type Config struct {
	ModuleURL      string
	GitRef         string
	RefType        string
	PlatformConfig string
	Arches         string
	GiteaHost      string
	GitBaseURL     string
	BeholderHost   string
	BeholderToken  string
	Output         string
	Format         cli.Format
}

// Validate ensures the configuration is valid.
func (c Config) Validate() error {
	if c.ModuleURL == "" || c.GitRef == "" {
		return errors.New("module url and git ref are required")
	}
	if c.PlatformConfig == "" {
		return errors.New("--platform-config is required")
	}
	if c.Arches == "" {
		return errors.New("--arches is required")
	}
	if _, err := source.ParseRefType(c.RefType); err != nil {
		return err
	}
	_, err := cli.ParseFormat(string(c.Format))
	return err
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
	if len(args) != 2 {
		return errors.New("expected exactly 2 arguments: module url and git ref")
	}
	cfg.ModuleURL = args[0]
	cfg.GitRef = args[1]
	return nil
}

// ReadPlatformConfig decodes a platform YAML document.
func ReadPlatformConfig(path string) (*PlatformConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening platform config")
	}
	defer f.Close()
	var pc PlatformConfig
	if err := yaml.NewDecoder(f).Decode(&pc); err != nil {
		return nil, errors.Wrap(err, "decoding platform config")
	}
	return &pc, nil
}

func resolver(cfg Config) (*modref.Resolver, error) {
	r := &modref.Resolver{HTTP: http.DefaultClient}
	if cfg.GitBaseURL != "" {
		r.Source = &gitremote.Client{Open: gitremote.CloneFrom(cfg.GitBaseURL)}
	} else {
		u, err := url.Parse(cfg.GiteaHost)
		if err != nil {
			return nil, errors.Wrap(err, "parsing gitea host")
		}
		r.Source = &gitea.Client{Client: http.DefaultClient, Host: u}
	}
	if cfg.BeholderHost != "" {
		u, err := url.Parse(cfg.BeholderHost)
		if err != nil {
			return nil, errors.Wrap(err, "parsing beholder host")
		}
		r.Reference = &beholder.HTTPClient{
			Client: &httpx.WithBearerToken{BasicClient: http.DefaultClient, Token: cfg.BeholderToken},
			Host:   u,
		}
	}
	return r, nil
}

// Handler contains the business logic for previewing a module build.
func Handler(ctx context.Context, cfg Config, deps *Deps) (*modref.Preview, error) {
	pc, err := ReadPlatformConfig(cfg.PlatformConfig)
	if err != nil {
		return nil, err
	}
	r, err := resolver(cfg)
	if err != nil {
		return nil, err
	}
	refType, _ := source.ParseRefType(cfg.RefType)
	p, err := r.Resolve(ctx, modref.Request{
		Ref:      modref.TaskRef{URL: cfg.ModuleURL, GitRef: cfg.GitRef, RefType: refType},
		Platform: pc.Platform,
		Flavours: pc.Flavours,
		Arches:   strings.Split(cfg.Arches, ","),
	})
	if err != nil {
		return nil, err
	}
	if cfg.Output != "" {
		s, err := assets.FromURL(ctx, cfg.Output)
		if err != nil {
			return nil, err
		}
		a := assets.Asset{Type: assets.ModulesYAML, Module: p.ModuleName, Stream: p.ModuleStream, RequestID: uuid.New().String()}
		if err := assets.Put(ctx, s, a, []byte(p.ModulesYAML)); err != nil {
			return nil, err
		}
		deps.IO.Logf("wrote %s", s.URL(a))
	}
	if err := cli.Print(deps.IO, cfg.Format, summary{p}); err != nil {
		return nil, err
	}
	return p, nil
}

// summary prints one line per component.
type summary struct {
	*modref.Preview
}

func (s summary) WriteText(w cli.IO) error {
	p := s.Preview
	fmt.Fprintf(w.Out, "%s:%s (%s)\n", p.ModuleName, p.ModuleStream, p.GitRef)
	for _, ref := range p.Refs {
		var state string
		switch {
		case !ref.Exist:
			state = color.RedString("missing")
		case !ref.Enabled:
			state = color.YellowString("reused %d", len(ref.AddedArtifacts))
		default:
			state = color.GreenString("build")
		}
		fmt.Fprintf(w.Out, "  %-40s %-24s %s\n", ref.URL, ref.GitRef, state)
	}
	for _, u := range p.Unreachable {
		w.Logf("%s %s", color.RedString("unreachable:"), u)
	}
	return nil
}

// Command creates a new preview command instance.
func Command() *cobra.Command {
	cfg := Config{}
	cmd := &cobra.Command{
		Use:   "preview --platform-config <file> --arches <a,b> <module-url> <git-ref>",
		Short: "Resolve the component refs of a module build",
		Args:  cobra.ExactArgs(2),
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
	set.StringVar(&cfg.RefType, "ref-type", source.GitBranch.String(), "kind of the git ref (git_branch, git_tag, git_ref)")
	set.StringVar(&cfg.PlatformConfig, "platform-config", "", "YAML file describing the platform and flavours")
	set.StringVar(&cfg.Arches, "arches", "", "comma-separated target architectures")
	set.StringVar(&cfg.GiteaHost, "gitea-host", "https://git.almalinux.org/", "base URL of the git hosting service")
	set.StringVar(&cfg.GitBaseURL, "git-base-url", "", "clone repositories from this base URL instead of using the hosting API")
	set.StringVar(&cfg.BeholderHost, "beholder-host", "", "base URL of the reference package metadata service. Empty disables reuse")
	set.StringVar(&cfg.BeholderToken, "beholder-token", "", "bearer token for the reference package metadata service")
	set.StringVar(&cfg.Output, "output", "", "asset store URL (file:///dir, gs://bucket/prefix) to write modules.yaml to")
	set.Var(&cfg.Format, "format", "format of the output (text, json or yaml)")
	return set
}
