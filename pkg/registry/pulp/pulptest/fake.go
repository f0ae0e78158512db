// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package pulptest provides an in-memory pulp.Client.
package pulptest

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/m10k/albs-web-server/pkg/registry/pulp"
	"github.com/pkg/errors"
)

// Modification is one recorded ModifyRepository call.
type Modification struct {
	Repo   string
	Add    []string
	Remove []string
}

// Fake keeps repository contents in memory and records every call.
// Add and Remove on a Modification are sorted.
type Fake struct {
	mu sync.Mutex
	// Repos maps repository hrefs to their packages.
	Repos map[string][]pulp.Package
	// Units resolves content hrefs added to a repository. Unknown hrefs are
	// added as bare packages.
	Units map[string]pulp.Package

	Modifications []Modification
	Publications  []string

	// Errors fails calls for the given repository href.
	Errors map[string]error
}

var _ pulp.Client = &Fake{}

func (f *Fake) fail(href string) error {
	if err, ok := f.Errors[href]; ok {
		return err
	}
	return nil
}

func (f *Fake) ListPackages(_ context.Context, repoHref string, _ ...string) ([]pulp.Package, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(repoHref); err != nil {
		return nil, err
	}
	pkgs, ok := f.Repos[repoHref]
	if !ok {
		return nil, errors.Errorf("repository %s not found", repoHref)
	}
	return slices.Clone(pkgs), nil
}

func (f *Fake) ModifyRepository(_ context.Context, repoHref string, add, remove []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(repoHref); err != nil {
		return err
	}
	if f.Repos == nil {
		f.Repos = make(map[string][]pulp.Package)
	}
	m := Modification{Repo: repoHref, Add: slices.Clone(add), Remove: slices.Clone(remove)}
	slices.Sort(m.Add)
	slices.Sort(m.Remove)
	f.Modifications = append(f.Modifications, m)
	pkgs := slices.DeleteFunc(f.Repos[repoHref], func(p pulp.Package) bool {
		return slices.Contains(remove, p.PulpHref)
	})
	for _, href := range add {
		if slices.ContainsFunc(pkgs, func(p pulp.Package) bool { return p.PulpHref == href }) {
			continue
		}
		unit, ok := f.Units[href]
		if !ok {
			unit = pulp.Package{PulpHref: href}
		}
		pkgs = append(pkgs, unit)
	}
	f.Repos[repoHref] = pkgs
	return nil
}

func (f *Fake) CreatePublication(_ context.Context, repoHref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(repoHref); err != nil {
		return err
	}
	f.Publications = append(f.Publications, repoHref)
	return nil
}

// Recorded returns the modifications and publications sorted by repository.
func (f *Fake) Recorded() ([]Modification, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mods := slices.Clone(f.Modifications)
	slices.SortStableFunc(mods, func(a, b Modification) int { return strings.Compare(a.Repo, b.Repo) })
	pubs := slices.Clone(f.Publications)
	slices.Sort(pubs)
	return mods, pubs
}

// Reset forgets recorded calls but keeps repository contents.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Modifications = nil
	f.Publications = nil
}
