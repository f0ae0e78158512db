// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package beholder

import (
	"context"
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/m10k/albs-web-server/internal/httpx/httpxtest"
	"github.com/m10k/albs-web-server/internal/urlx"
	"github.com/m10k/albs-web-server/pkg/model"
	"github.com/m10k/albs-web-server/pkg/rpm"
)

const host = "https://beholder.example.com"

func TestCreateEndpoints(t *testing.T) {
	platforms := []model.Platform{
		{Name: "CentOS-8", DistrVersion: "8"},
		{Name: "AlmaLinux-8", DistrVersion: "8.6"},
	}
	for _, tc := range []struct {
		name   string
		module string
		stream string
		arches []string
		want   []string
	}{
		{
			name: "projects",
			want: []string{
				"/api/v1/distros/centos/8/projects/",
				"/api/v1/distros/almalinux/8.6/projects/",
			},
		},
		{
			name:   "modules",
			module: "go-toolset",
			stream: "rhel8",
			arches: []string{"x86_64", "aarch64"},
			want: []string{
				"/api/v1/distros/centos/8/module/go-toolset/rhel8/x86_64/",
				"/api/v1/distros/centos/8/module/go-toolset/rhel8/aarch64/",
				"/api/v1/distros/almalinux/8.6/module/go-toolset/rhel8/x86_64/",
				"/api/v1/distros/almalinux/8.6/module/go-toolset/rhel8/aarch64/",
			},
		},
		{
			name:   "module without arches falls back to projects",
			module: "go-toolset",
			stream: "rhel8",
			want: []string{
				"/api/v1/distros/centos/8/projects/",
				"/api/v1/distros/almalinux/8.6/projects/",
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := CreateEndpoints(platforms, tc.module, tc.stream, tc.arches)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("CreateEndpoints() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHTTPClientGet(t *testing.T) {
	client := &httpxtest.MockClient{
		Calls: []httpxtest.Call{
			{
				URL: host + "/api/v1/distros/almalinux/8.6/module/go-toolset/rhel8/x86_64/?match=closest",
				Response: httpxtest.JSON(`{
					"distribution": {"name": "AlmaLinux", "version": "8.6"},
					"artifacts": [{
						"sourcerpm": {"name": "golang", "version": "1.16.7", "release": "1.module_el8", "epoch": null},
						"packages": [{"name": "golang", "epoch": 0, "version": "1.16.7", "release": "1.module_el8", "arch": "x86_64"}]
					}]
				}`),
			},
			{
				URL:      host + "/api/v1/distros/almalinux/8.6/projects/",
				Response: httpxtest.Status(500),
			},
		},
		URLValidator: httpxtest.NewURLValidator(t),
	}
	c := &HTTPClient{Client: client, Host: urlx.MustParse(host)}
	ctx := context.Background()
	got, err := c.Get(ctx, ModuleEndpoint("almalinux", "8.6", "go-toolset", "rhel8", "x86_64"), url.Values{"match": {"closest"}})
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	want := &Response{
		Distribution: Distribution{Name: "AlmaLinux", Version: "8.6"},
		Artifacts: []Artifact{{
			SourceRPM: &Package{Name: "golang", Version: "1.16.7", Release: "1.module_el8"},
			Packages:  []Package{{Name: "golang", Epoch: "0", Version: "1.16.7", Release: "1.module_el8", Arch: "x86_64"}},
		}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Get() mismatch (-want +got):\n%s", diff)
	}
	if _, err := c.Get(ctx, ProjectsEndpoint("almalinux", "8.6"), nil); err == nil {
		t.Error("Get() on a 500 succeeded")
	}
}

func TestRetrieveResponses(t *testing.T) {
	client := &httpxtest.RoutedClient{Routes: map[string]httpxtest.Route{
		"GET " + host + "/api/v1/distros/centos/8/projects/": {
			Body: `{"distribution": {"name": "centos", "version": "8"}, "artifacts": []}`,
		},
		"GET " + host + "/api/v1/distros/rhel/8/projects/": {
			Body: `{"distribution": {"name": "rhel", "version": "8"}, "artifacts": []}`,
		},
		"GET " + host + "/api/v1/distros/almalinux/8.6/projects/": {
			Body: `{"distribution": {"name": "almalinux", "version": "8.6"}, "artifacts": []}`,
		},
		// oraclelinux is unreachable and falls through to a 404.
	}}
	platform := model.Platform{
		Name:         "AlmaLinux-8",
		DistrVersion: "8.6",
		ReferencePlatforms: []model.Platform{
			{Name: "OracleLinux-8", DistrVersion: "8", Priority: 30},
			{Name: "CentOS-8", DistrVersion: "8", Priority: 5},
			{Name: "RHEL-8", DistrVersion: "8", Priority: 20},
		},
	}
	c := &HTTPClient{Client: client, Host: urlx.MustParse(host)}
	got := RetrieveResponses(context.Background(), c, platform, "", "", nil)
	var order []string
	var prio []int
	for _, r := range got {
		order = append(order, r.Distribution.Name)
		prio = append(prio, r.Priority)
	}
	if diff := cmp.Diff([]string{"rhel", "almalinux", "centos"}, order); diff != "" {
		t.Errorf("response order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{20, LowestPriority, 5}, prio); diff != "" {
		t.Errorf("priorities mismatch (-want +got):\n%s", diff)
	}
}

func TestModuleArtifacts(t *testing.T) {
	base := host + "/api/v1/distros/almalinux/8.6/module/"
	client := &httpxtest.RoutedClient{Routes: map[string]httpxtest.Route{
		"GET " + base + "go-toolset/rhel8/x86_64/?match=closest": {
			Body: `{"distribution": {"name": "almalinux", "version": "8.6"}, "artifacts": [
				{"sourcerpm": {"name": "golang", "version": "1.16.7", "release": "1", "epoch": 0},
				 "packages": [{"name": "golang-bin", "epoch": 2, "version": "1.16.7", "release": "1", "arch": "x86_64"}]},
				{"sourcerpm": {"name": "empty", "version": "1", "release": "1"}, "packages": []},
				{"packages": [{"name": "orphan", "version": "1", "release": "1", "arch": "x86_64"}]}
			]}`,
		},
	}}
	c := &HTTPClient{Client: client, Host: urlx.MustParse(host)}
	got := ModuleArtifacts(context.Background(), c, "almalinux", "8.6", "go-toolset", "rhel8", "x86_64")
	want := map[string]map[string][]rpm.Package{
		"go-toolset": {
			"golang": {
				{Name: "golang-bin", Epoch: "2", Version: "1.16.7", Release: "1", Arch: "x86_64"},
				{Name: "golang", Epoch: "2", Version: "1.16.7", Release: "1", Arch: "src"},
			},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ModuleArtifacts() mismatch (-want +got):\n%s", diff)
	}
}
