// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package modref resolves the components of a module build to git refs and
// decides which components can reuse packages already published upstream.
package modref

import (
	"context"
	"log"
	"net/http"
	"regexp"
	"slices"
	"strings"

	"github.com/m10k/albs-web-server/internal/gather"
	"github.com/m10k/albs-web-server/internal/httpx"
	"github.com/m10k/albs-web-server/pkg/model"
	"github.com/m10k/albs-web-server/pkg/modulemd"
	"github.com/m10k/albs-web-server/pkg/registry/beholder"
	"github.com/m10k/albs-web-server/pkg/rpm"
	"github.com/m10k/albs-web-server/pkg/source"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// TemplatePath is the module template location inside a module repository.
const TemplatePath = "SOURCES/modulemd.src.txt"

var betaFlavour = regexp.MustCompile(`(?i)-beta$`)

// TaskRef points at the module repository a build was requested for.
type TaskRef struct {
	URL     string         `json:"url"`
	GitRef  string         `json:"git_ref"`
	RefType source.RefType `json:"ref_type"`
}

// ModuleStream returns the stream encoded in the git ref.
// "c8-stream-rhel8" yields "rhel8". Refs without a stream marker are returned whole.
func (r TaskRef) ModuleStream() string {
	if i := strings.LastIndex(r.GitRef, "stream-"); i >= 0 {
		return r.GitRef[i+len("stream-"):]
	}
	return r.GitRef
}

// Request is one module preview.
type Request struct {
	Ref      TaskRef
	Platform model.Platform
	Flavours []model.PlatformFlavour
	Arches   []string
}

// MockOptions are the mock settings for building one component.
type MockOptions struct {
	Definitions map[string]string `json:"definitions"`
}

// ModuleRef is the resolution of one module component.
type ModuleRef struct {
	URL            string         `json:"url"`
	GitRef         string         `json:"git_ref"`
	CommitID       string         `json:"git_commit_hash,omitempty"`
	Exist          bool           `json:"exist"`
	Enabled        bool           `json:"enabled"`
	AddedArtifacts []string       `json:"added_artifacts"`
	MockOptions    MockOptions    `json:"mock_options"`
	RefType        source.RefType `json:"ref_type"`
}

// Preview is the resolver output for a module build.
type Preview struct {
	Refs           []ModuleRef             `json:"refs"`
	ModulesYAML    string                  `json:"modules_yaml"`
	ModuleName     string                  `json:"module_name"`
	ModuleStream   string                  `json:"module_stream"`
	EnabledModules modulemd.EnabledModules `json:"enabled_modules"`
	GitRef         string                  `json:"git_ref"`
	// Unreachable lists reference endpoints that could not be queried.
	Unreachable []string `json:"unreachable,omitempty"`
}

// Resolver computes module previews.
type Resolver struct {
	Source source.Client
	// Reference is nil when reference lookups are disabled.
	Reference beholder.Client
	// HTTP fetches the platform's modified package list.
	HTTP httpx.BasicClient
}

// referenceData is one reference listing tagged with the arch and module it was queried for.
type referenceData struct {
	Arch      string
	Devel     bool
	Artifacts []beholder.Artifact
}

type query struct {
	Endpoint string
	Arch     string
	Devel    bool
}

// candidate is a reusable upstream package.
type candidate struct {
	Package rpm.Package
	Devel   bool
}

// Resolve runs a module preview.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Preview, error) {
	repo, err := source.RepoFromURL(req.Ref.URL)
	if err != nil {
		return nil, err
	}
	name, err := source.RepoName(req.Ref.URL)
	if err != nil {
		return nil, err
	}
	stream := req.Ref.ModuleStream()
	modified, err := r.modifiedList(ctx, req.Platform.Modularity)
	if err != nil {
		return nil, err
	}
	template, err := r.Source.RawFile(ctx, repo, req.Ref.RefType, req.Ref.GitRef, TemplatePath)
	if err != nil {
		return nil, errors.Wrap(err, "downloading module template")
	}
	module, err := modulemd.FromTemplate(template, name, stream)
	if err != nil {
		return nil, err
	}
	var devel *modulemd.Descriptor
	if !module.IsDevel() {
		if devel, err = modulemd.FromTemplate(template, modulemd.DevelName(name), stream); err != nil {
			return nil, err
		}
	}
	data, unreachable := r.collectReferenceData(ctx, req, module, devel)
	prefix := req.Platform.Modularity.GitTagPrefix
	for _, f := range req.Flavours {
		if f.GitTagPrefix != nil {
			prefix = *f.GitTagPrefix
		}
	}
	cr := componentResolver{
		source:      r.Source,
		modified:    modified,
		prefix:      prefix,
		packagesGit: req.Platform.Modularity.PackagesGit,
		module:      module,
		devel:       devel,
		data:        data,
	}
	refs, err := gather.All(ctx, module.Components(), cr.resolve)
	if err != nil {
		return nil, err
	}
	var docs []string
	for _, d := range []*modulemd.Descriptor{module, devel} {
		if d == nil {
			continue
		}
		doc, err := d.Render()
		if err != nil {
			return nil, errors.Wrapf(err, "rendering %s", d.Name())
		}
		docs = append(docs, doc)
	}
	return &Preview{
		Refs:           refs,
		ModulesYAML:    strings.Join(docs, "\n"),
		ModuleName:     module.Name(),
		ModuleStream:   module.Stream(),
		EnabledModules: module.BuildDeps(),
		GitRef:         req.Ref.GitRef,
		Unreachable:    unreachable,
	}, nil
}

// collectReferenceData queries upstream listings for every arch and module variant.
// Failed queries are logged and reported as unreachable.
func (r *Resolver) collectReferenceData(ctx context.Context, req Request, module, devel *modulemd.Descriptor) ([]referenceData, []string) {
	if r.Reference == nil {
		return nil, nil
	}
	distro := rpm.CleanDistName(req.Platform.Name)
	namespaces := []string{distro}
	if slices.ContainsFunc(req.Flavours, func(f model.PlatformFlavour) bool { return betaFlavour.MatchString(f.Name) }) {
		namespaces = append(namespaces, distro+"-beta")
	}
	var queries []query
	for _, arch := range req.Arches {
		for _, d := range []*modulemd.Descriptor{module, devel} {
			if d == nil {
				continue
			}
			// A devel module built on its own has no companion to receive devel packages.
			isDevel := d.IsDevel() && devel != nil
			for _, ns := range namespaces {
				queries = append(queries, query{
					Endpoint: beholder.ModuleEndpoint(ns, req.Platform.DistrVersion, d.Name(), d.Stream(), rpm.QueryArch(arch)),
					Arch:     arch,
					Devel:    isDevel,
				})
			}
		}
	}
	results := gather.Settle(ctx, queries, func(ctx context.Context, q query) (*beholder.Response, error) {
		return r.Reference.Get(ctx, q.Endpoint, nil)
	})
	var data []referenceData
	var unreachable []string
	for i, res := range results {
		if !res.OK() {
			log.Printf("cannot get module info from %s: %v", queries[i].Endpoint, res.Err)
			unreachable = append(unreachable, queries[i].Endpoint)
			continue
		}
		data = append(data, referenceData{Arch: queries[i].Arch, Devel: queries[i].Devel, Artifacts: res.Value.Artifacts})
	}
	return data, unreachable
}

type modifiedDoc struct {
	ModifiedPackages []string `yaml:"modified_packages"`
}

// modifiedList returns the static modified packages joined with the ones listed at ModifiedPackagesURL.
func (r *Resolver) modifiedList(ctx context.Context, m model.Modularity) ([]string, error) {
	out := slices.Clone(m.ModifiedPackages)
	if m.ModifiedPackagesURL == "" {
		return out, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.ModifiedPackagesURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.HTTP.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetching modified packages")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrap(httpx.NewStatusError(resp), "fetching modified packages")
	}
	var doc modifiedDoc
	if err := yaml.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "decoding modified packages")
	}
	for _, p := range doc.ModifiedPackages {
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out, nil
}

type componentResolver struct {
	source      source.Client
	modified    []string
	prefix      model.GitTagPrefix
	packagesGit string
	module      *modulemd.Descriptor
	devel       *modulemd.Descriptor
	data        []referenceData
}

func (c *componentResolver) resolve(ctx context.Context, component string) (ModuleRef, error) {
	prefix := c.prefix.NonModified
	if slices.Contains(c.modified, component) {
		prefix = c.prefix.Modified
	}
	branch := prefix + "-stream-" + c.module.Stream()
	repo := source.PackageRepo(component)
	ref := ModuleRef{
		URL:            c.packagesGit + source.HostName(component) + ".git",
		GitRef:         branch,
		Exist:          true,
		Enabled:        true,
		AddedArtifacts: []string{},
		RefType:        source.GitBranch,
		MockOptions:    MockOptions{Definitions: c.module.MockDefinitions()},
	}
	commit, err := c.source.Branch(ctx, repo, branch)
	if errors.Is(err, source.ErrNotFound) {
		ref.Exist = false
	} else if err != nil {
		return ModuleRef{}, errors.Wrapf(err, "looking up %s@%s", repo, branch)
	}
	ref.CommitID = commit
	var candidates []candidate
	if commit != "" {
		tags, err := c.source.Tags(ctx, repo)
		if err != nil {
			return ModuleRef{}, errors.Wrapf(err, "listing tags of %s", repo)
		}
		if i := slices.IndexFunc(tags, func(t source.Tag) bool { return t.Target() == commit }); i >= 0 {
			// Tags look like imports/c8-stream-rhel8/golang-1.16.7-1.module+el8.5.0+12+1aae3f.
			name := tags[i].Name
			tag := rpm.CleanRelease(name[strings.LastIndex(name, "/")+1:])
			candidates = matchReference(component, c.data, tag)
			ref.Enabled = len(candidates) == 0
		}
	}
	seen := make(map[string]bool)
	for _, cand := range candidates {
		target := c.module
		if cand.Devel {
			if c.devel == nil {
				continue
			}
			target = c.devel
		}
		target.AddArtifact(cand.Package, cand.Devel)
		if nevra := cand.Package.NEVRA(); !seen[nevra] {
			seen[nevra] = true
			ref.AddedArtifacts = append(ref.AddedArtifacts, nevra)
		}
	}
	if err := c.module.SetComponentRef(component, commit); err != nil {
		return ModuleRef{}, err
	}
	if c.devel != nil {
		if err := c.devel.SetComponentRef(component, commit); err != nil {
			return ModuleRef{}, err
		}
	}
	log.Printf("resolved component %s: branch=%s exist=%v enabled=%v reused=%d", component, branch, ref.Exist, ref.Enabled, len(ref.AddedArtifacts))
	return ref, nil
}

// matchReference returns the packages of every reference listing whose build
// of component renders to tag once dist-tag noise is stripped.
func matchReference(component string, data []referenceData, tag string) []candidate {
	var out []candidate
	for _, d := range data {
		i := slices.IndexFunc(d.Artifacts, func(a beholder.Artifact) bool {
			return a.SourceRPM != nil && a.SourceRPM.Name == component
		})
		if i < 0 {
			continue
		}
		a := d.Artifacts[i]
		if rpm.CleanRelease(a.SourceRPM.RPM().NVR()) != tag {
			continue
		}
		for _, p := range a.Packages {
			out = append(out, candidate{Package: p.RPM(), Devel: d.Devel})
		}
	}
	return out
}
