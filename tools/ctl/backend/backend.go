// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package backend opens the store and repository service a ctl command works on.
package backend

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"net/url"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m10k/albs-web-server/internal/httpx"
	"github.com/m10k/albs-web-server/pkg/model"
	"github.com/m10k/albs-web-server/pkg/registry/pulp"
	"github.com/m10k/albs-web-server/pkg/store/fsstore"
	"github.com/m10k/albs-web-server/pkg/store/memstore"
	"github.com/pkg/errors"
)

// HTTPClient is used for every outgoing request of a ctl command.
var HTTPClient httpx.BasicClient = &httpx.WithUserAgent{BasicClient: http.DefaultClient, UserAgent: "albs-ctl"}

// Config selects the store and the repository service.
type Config struct {
	// Fixture is a JSON store snapshot used instead of Firestore.
	Fixture string
	// Save writes the fixture back after the command succeeds.
	Save         bool
	Project      string
	PulpHost     string
	PulpUser     string
	PulpPassword string
}

// Validate checks that exactly one store is selected.
func (c Config) Validate() error {
	if (c.Fixture == "") == (c.Project == "") {
		return errors.New("exactly one of --fixture and --project is required")
	}
	if c.Save && c.Fixture == "" {
		return errors.New("--save requires --fixture")
	}
	if c.PulpHost == "" {
		return errors.New("--pulp-host is required")
	}
	return nil
}

// RegisterFlags adds the backend flags to set.
func (c *Config) RegisterFlags(set *flag.FlagSet) {
	set.StringVar(&c.Fixture, "fixture", "", "path to a JSON store snapshot to use instead of Firestore")
	set.BoolVar(&c.Save, "save", false, "write the updated snapshot back to --fixture")
	set.StringVar(&c.Project, "project", "", "GCP Project ID of the Firestore database")
	set.StringVar(&c.PulpHost, "pulp-host", "", "base URL of the package repository service")
	set.StringVar(&c.PulpUser, "pulp-user", "", "user for the package repository service")
	set.StringVar(&c.PulpPassword, "pulp-password", "", "password for the package repository service")
}

// Backend is an opened store and repository client.
type Backend struct {
	Store model.Store
	Repos pulp.Client

	cfg Config
	mem *memstore.Store
}

// Open connects to the configured services.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	b := &Backend{cfg: cfg}
	if cfg.Fixture != "" {
		f, err := os.Open(cfg.Fixture)
		if err != nil {
			return nil, errors.Wrap(err, "opening fixture")
		}
		defer f.Close()
		if b.mem, err = memstore.Load(f); err != nil {
			return nil, errors.Wrap(err, "loading fixture")
		}
		b.Store = b.mem
	} else {
		client, err := firestore.NewClient(ctx, cfg.Project)
		if err != nil {
			return nil, errors.Wrap(err, "creating firestore client")
		}
		b.Store = fsstore.New(client)
	}
	u, err := url.Parse(cfg.PulpHost)
	if err != nil {
		return nil, errors.Wrap(err, "parsing pulp host")
	}
	b.Repos = &pulp.HTTPClient{
		Client:       &httpx.WithBasicAuth{BasicClient: HTTPClient, User: cfg.PulpUser, Password: cfg.PulpPassword},
		Host:         u,
		PollInterval: time.Second,
	}
	return b, nil
}

// Close persists the fixture when requested.
func (b *Backend) Close() error {
	if b.mem == nil || !b.cfg.Save {
		return nil
	}
	out, err := json.MarshalIndent(b.mem.Snapshot(), "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding fixture")
	}
	return errors.Wrap(os.WriteFile(b.cfg.Fixture, out, 0644), "writing fixture")
}
