// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package beholder is a client for the reference package metadata service.
package beholder

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/m10k/albs-web-server/internal/gather"
	"github.com/m10k/albs-web-server/internal/httpx"
	"github.com/m10k/albs-web-server/internal/urlx"
	"github.com/m10k/albs-web-server/pkg/model"
	"github.com/m10k/albs-web-server/pkg/rpm"
	"github.com/pkg/errors"
)

// LowestPriority is assigned to responses from platforms without a configured priority.
const LowestPriority = 10

// Epoch accepts both numeric and string epochs.
type Epoch string

func (e *Epoch) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if string(b) == "null" {
		*e = ""
		return nil
	}
	if _, err := strconv.Atoi(string(b)); err != nil && len(b) > 0 {
		return errors.Errorf("invalid epoch %q", b)
	}
	*e = Epoch(b)
	return nil
}

// Package is a package record as published by the service.
type Package struct {
	Name    string `json:"name"`
	Epoch   Epoch  `json:"epoch"`
	Version string `json:"version"`
	Release string `json:"release"`
	Arch    string `json:"arch"`
}

// RPM converts the record to an rpm.Package.
func (p Package) RPM() rpm.Package {
	return rpm.Package{Name: p.Name, Epoch: string(p.Epoch), Version: p.Version, Release: p.Release, Arch: p.Arch}
}

// Artifact is one source package and the binaries built from it.
type Artifact struct {
	SourceRPM *Package  `json:"sourcerpm"`
	Packages  []Package `json:"packages"`
}

// Distribution identifies the distro a response describes.
type Distribution struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Response is a module or project listing.
type Response struct {
	Distribution Distribution `json:"distribution"`
	Artifacts    []Artifact   `json:"artifacts"`
	// Priority is set by RetrieveResponses.
	Priority int `json:"-"`
}

// ModuleEndpoint returns the path of a module listing.
func ModuleEndpoint(distro, version, name, stream, arch string) string {
	return fmt.Sprintf("/api/v1/distros/%s/%s/module/%s/%s/%s/", distro, version, name, stream, arch)
}

// ProjectsEndpoint returns the path of a distro project listing.
func ProjectsEndpoint(distro, version string) string {
	return fmt.Sprintf("/api/v1/distros/%s/%s/projects/", distro, version)
}

// CreateEndpoints returns the endpoints to query for the given platforms.
// Module endpoints are returned when a module name, stream, and arches are
// all given. Otherwise project endpoints are returned.
func CreateEndpoints(platforms []model.Platform, name, stream string, arches []string) []string {
	var out []string
	for _, p := range platforms {
		distro := rpm.CleanDistName(p.Name)
		if name == "" || stream == "" || len(arches) == 0 {
			out = append(out, ProjectsEndpoint(distro, p.DistrVersion))
			continue
		}
		for _, arch := range arches {
			out = append(out, ModuleEndpoint(distro, p.DistrVersion, name, stream, arch))
		}
	}
	return out
}

// Client is the reference metadata service.
type Client interface {
	Get(ctx context.Context, endpoint string, query url.Values) (*Response, error)
}

// HTTPClient is a Client using the service's HTTP API.
type HTTPClient struct {
	Client httpx.BasicClient
	Host   *url.URL
}

var _ Client = &HTTPClient{}

// Get fetches and decodes one endpoint.
func (c *HTTPClient) Get(ctx context.Context, endpoint string, query url.Values) (*Response, error) {
	u := urlx.Join(c.Host, query, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %s", endpoint)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrap(httpx.NewStatusError(resp), "beholder error")
	}
	var r Response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", endpoint)
	}
	return &r, nil
}

// RetrieveResponses queries the platform and its reference platforms and
// returns the reachable responses ordered by descending platform priority.
// Unreachable endpoints are logged and skipped.
func RetrieveResponses(ctx context.Context, c Client, platform model.Platform, name, stream string, arches []string) []Response {
	platforms := append(slices.Clone(platform.ReferencePlatforms), platform)
	endpoints := CreateEndpoints(platforms, name, stream, arches)
	results := gather.Settle(ctx, endpoints, func(ctx context.Context, endpoint string) (*Response, error) {
		return c.Get(ctx, endpoint, nil)
	})
	var out []Response
	for i, r := range results {
		if !r.OK() {
			log.Printf("cannot retrieve reference info from %s, trying next reference platform: %v", endpoints[i], r.Err)
			continue
		}
		resp := *r.Value
		resp.Priority = priorityOf(platforms, resp.Distribution)
		out = append(out, resp)
	}
	slices.SortStableFunc(out, func(a, b Response) int { return cmp.Compare(b.Priority, a.Priority) })
	return out
}

func priorityOf(platforms []model.Platform, d Distribution) int {
	for _, p := range platforms {
		if strings.HasPrefix(strings.ToLower(p.Name), strings.ToLower(d.Name)) && p.DistrVersion == d.Version {
			if p.Priority != 0 {
				return p.Priority
			}
			break
		}
	}
	return LowestPriority
}

// ModuleArtifacts returns, for the module and its devel companion, the
// packages of every source package keyed by source package name. The source
// package itself is included with arch src and the epoch of its binaries.
// Modules that cannot be fetched are absent from the result.
func ModuleArtifacts(ctx context.Context, c Client, distro, version, name, stream, arch string) map[string]map[string][]rpm.Package {
	out := make(map[string]map[string][]rpm.Package)
	for _, m := range []string{name, name + "-devel"} {
		resp, err := c.Get(ctx, ModuleEndpoint(distro, version, m, stream, arch), url.Values{"match": {"closest"}})
		if err != nil {
			log.Printf("no reference artifacts for module %s:%s: %v", m, stream, err)
			continue
		}
		arts := make(map[string][]rpm.Package)
		for _, a := range resp.Artifacts {
			if a.SourceRPM == nil || len(a.Packages) == 0 {
				continue
			}
			var pkgs []rpm.Package
			for _, p := range a.Packages {
				pkgs = append(pkgs, p.RPM())
			}
			src := a.SourceRPM.RPM()
			src.Epoch = pkgs[0].Epoch
			src.Arch = rpm.ArchSource
			arts[src.Name] = append(pkgs, src)
		}
		out[m] = arts
	}
	return out
}
