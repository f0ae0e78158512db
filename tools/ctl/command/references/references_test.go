// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package references

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/m10k/albs-web-server/internal/httpx/httpxtest"
	"github.com/m10k/albs-web-server/pkg/act/cli"
	"github.com/m10k/albs-web-server/pkg/registry/beholder"
	"github.com/m10k/albs-web-server/pkg/rpm"
)

const host = "https://beholder.example.com"

const platformYAML = `platform:
  name: AlmaLinux-8
  distr_version: "8.6"
  reference_platforms:
    - name: RHEL-8
      distr_version: "8"
      priority: 20
`

const goToolset = `{"distribution": {"name": "almalinux", "version": "8.6"}, "artifacts": [
	{"sourcerpm": {"name": "golang", "version": "1.16.7", "release": "1", "epoch": 0},
	 "packages": [{"name": "golang-bin", "epoch": 2, "version": "1.16.7", "release": "1", "arch": "x86_64"}]}
]}`

func TestConfigValidate(t *testing.T) {
	valid := Config{PlatformConfig: "platform.yaml", BeholderHost: host}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "projects", mutate: func(*Config) {}},
		{name: "module", mutate: func(c *Config) { c.Module, c.Arches = "go-toolset:rhel8", "x86_64" }},
		{name: "module without stream", mutate: func(c *Config) { c.Module, c.Arches = "go-toolset", "x86_64" }, wantErr: true},
		{name: "module without arches", mutate: func(c *Config) { c.Module = "go-toolset:rhel8" }, wantErr: true},
		{name: "missing host", mutate: func(c *Config) { c.BeholderHost = "" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestHandler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "platform.yaml")
	if err := os.WriteFile(path, []byte(platformYAML), 0644); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name     string
		module   string
		arches   string
		routes   map[string]httpxtest.Route
		want     *Report
		wantLine string
	}{
		{
			name: "projects",
			routes: map[string]httpxtest.Route{
				"GET " + host + "/api/v1/distros/rhel/8/projects/": {
					Body: `{"distribution": {"name": "rhel", "version": "8"}, "artifacts": [{"sourcerpm": {"name": "bash"}, "packages": []}]}`,
				},
				"GET " + host + "/api/v1/distros/almalinux/8.6/projects/": {
					Body: `{"distribution": {"name": "almalinux", "version": "8.6"}, "artifacts": []}`,
				},
			},
			want: &Report{Listings: []Listing{
				{Distribution: beholder.Distribution{Name: "rhel", Version: "8"}, Priority: 20, Sources: 1},
				{Distribution: beholder.Distribution{Name: "almalinux", Version: "8.6"}, Priority: beholder.LowestPriority, Sources: 0},
			}},
			wantLine: "rhel 8 (priority 20): 1 source packages",
		},
		{
			name:   "module",
			module: "go-toolset:rhel8",
			arches: "x86_64,i686",
			routes: map[string]httpxtest.Route{
				// The reference platform has no such module and is skipped.
				"GET " + host + "/api/v1/distros/almalinux/8.6/module/go-toolset/rhel8/x86_64/":              {Body: goToolset},
				"GET " + host + "/api/v1/distros/almalinux/8.6/module/go-toolset/rhel8/x86_64/?match=closest": {Body: goToolset},
			},
			want: &Report{
				Listings: []Listing{
					{Distribution: beholder.Distribution{Name: "almalinux", Version: "8.6"}, Priority: beholder.LowestPriority, Sources: 1},
				},
				Artifacts: map[string]map[string]map[string][]rpm.Package{
					"x86_64": {"go-toolset": {"golang": {
						{Name: "golang-bin", Epoch: "2", Version: "1.16.7", Release: "1", Arch: "x86_64"},
						{Name: "golang", Epoch: "2", Version: "1.16.7", Release: "1", Arch: "src"},
					}}},
				},
			},
			wantLine: "x86_64 go-toolset:",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			deps := &Deps{IO: cli.IO{Out: &out}, Client: &httpxtest.RoutedClient{Routes: tt.routes}}
			cfg := Config{PlatformConfig: path, BeholderHost: host, Module: tt.module, Arches: tt.arches}
			got, err := Handler(context.Background(), cfg, deps)
			if err != nil {
				t.Fatalf("Handler() = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Handler() mismatch (-want +got):\n%s", diff)
			}
			if !strings.Contains(out.String(), tt.wantLine+"\n") {
				t.Errorf("output = %q, want line %q", out.String(), tt.wantLine)
			}
		})
	}
}
