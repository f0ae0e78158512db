// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package productsync attaches builds to and detaches them from products by
// mirroring build repository content into the product repositories.
package productsync

import (
	"context"
	"log"
	"maps"
	"slices"

	"github.com/m10k/albs-web-server/internal/gather"
	"github.com/m10k/albs-web-server/internal/syncx"
	"github.com/m10k/albs-web-server/pkg/model"
	"github.com/m10k/albs-web-server/pkg/registry/pulp"
	"github.com/m10k/albs-web-server/pkg/rpm"
	"github.com/pkg/errors"
)

// Modification selects whether a build is attached or detached.
type Modification string

const (
	Add    Modification = "add"
	Remove Modification = "remove"
)

// ParseModification validates a modification name.
func ParseModification(s string) (Modification, error) {
	switch m := Modification(s); m {
	case Add, Remove:
		return m, nil
	default:
		return "", errors.Errorf("unknown modification %q", s)
	}
}

// Mutation is the change applied to one product repository.
type Mutation struct {
	Repo   string   `json:"repo"`
	Add    []string `json:"add,omitempty"`
	Remove []string `json:"remove,omitempty"`
}

// Report describes a completed modification.
type Report struct {
	Mutations []Mutation `json:"mutations"`
	// Published lists the repositories published after mutation.
	Published []string `json:"published"`
	// Linked lists repositories whose platform was backfilled.
	Linked []int64 `json:"linked,omitempty"`
}

type pair struct {
	Build, Product int64
}

// Synchronizer applies product modifications.
type Synchronizer struct {
	Store model.Store
	Repos pulp.Client

	locks syncx.KeyedMutex[pair]
}

type repoKey struct {
	Arch     string
	Debug    bool
	Platform string
}

// sourcePair is a build repository and the product repository it feeds.
type sourcePair struct {
	Build, Product model.Repository
}

// Modify attaches or detaches build buildID on product productID.
//
// The records are read in a read-only transaction. Repository mutations and
// publications then complete outside of any transaction, and the association
// is committed last in a transaction that fails with model.ErrStale when a
// record read earlier changed meanwhile. Mutations are not undone when the
// commit fails and are safe to repeat. Calls for the same build and product
// are serialized.
func (s *Synchronizer) Modify(ctx context.Context, buildID, productID int64, mod Modification) (*Report, error) {
	if _, err := ParseModification(string(mod)); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(pair{buildID, productID})
	defer unlock()
	report, err := s.modify(ctx, buildID, productID, mod)
	if err != nil {
		return nil, errors.Wrapf(err, "%s build %d on product %d", mod, buildID, productID)
	}
	log.Printf("%s build %d on product %d: mutated=%d", mod, buildID, productID, len(report.Mutations))
	return report, nil
}

func (s *Synchronizer) modify(ctx context.Context, buildID, productID int64, mod Modification) (*Report, error) {
	var (
		st    *state
		reads model.ReadSet
	)
	err := s.Store.RunInTx(ctx, func(ctx context.Context, tx model.Tx) error {
		var err error
		st, err = load(ctx, tx, buildID, productID)
		return err
	}, model.ReadOnly(&reads))
	if err != nil {
		return nil, err
	}
	links, err := st.resolveLinks()
	if err != nil {
		return nil, err
	}
	var blacklist map[string]bool
	if mod == Add {
		blacklist = st.blacklist()
		if len(blacklist) > 0 {
			log.Printf("build %d: blacklisted source packages of failed ref groups: %v", buildID, slices.Sorted(maps.Keys(blacklist)))
		}
	}
	muts, err := s.plan(ctx, st, mod, blacklist)
	if err != nil {
		return nil, err
	}
	if err := gather.Each(ctx, muts, func(ctx context.Context, m Mutation) error {
		return errors.Wrapf(s.Repos.ModifyRepository(ctx, m.Repo, m.Add, m.Remove), "modifying %s", m.Repo)
	}); err != nil {
		return nil, err
	}
	published := make([]string, len(muts))
	for i, m := range muts {
		published[i] = m.Repo
	}
	if err := gather.Each(ctx, published, func(ctx context.Context, href string) error {
		return errors.Wrapf(s.Repos.CreatePublication(ctx, href), "publishing %s", href)
	}); err != nil {
		return nil, err
	}
	report := &Report{Mutations: muts, Published: published}
	err = s.Store.RunInTx(ctx, func(ctx context.Context, tx model.Tx) error {
		report.Linked = nil
		for _, l := range links {
			if err := tx.SetRepositoryPlatform(ctx, l.Repo, l.Platform); err != nil {
				return errors.Wrapf(err, "linking repository %d", l.Repo)
			}
			report.Linked = append(report.Linked, l.Repo)
		}
		if mod == Add {
			return tx.AttachBuild(ctx, productID, buildID)
		}
		return tx.DetachBuild(ctx, productID, buildID)
	}, model.IfUnchanged(reads))
	if err != nil {
		return nil, err
	}
	return report, nil
}

// state is everything a modification reads from the store.
type state struct {
	product      *model.Product
	build        *model.Build
	platforms    map[int64]model.Platform
	productRepos []model.Repository
	buildRepos   []model.Repository
	tasks        []model.BuildTask
	artifacts    []model.Artifact
}

// load performs every read a modification needs.
func load(ctx context.Context, tx model.Tx, buildID, productID int64) (*state, error) {
	st := &state{platforms: map[int64]model.Platform{}}
	var err error
	if st.product, err = tx.Product(ctx, productID); err != nil {
		return nil, err
	}
	if st.build, err = tx.Build(ctx, buildID); err != nil {
		return nil, err
	}
	if st.productRepos, err = tx.Repositories(ctx, st.product.RepositoryIDs); err != nil {
		return nil, errors.Wrap(err, "loading product repositories")
	}
	if st.buildRepos, err = tx.Repositories(ctx, st.build.RepositoryIDs); err != nil {
		return nil, errors.Wrap(err, "loading build repositories")
	}
	if st.tasks, err = tx.Tasks(ctx, buildID, model.AllIndexes); err != nil {
		return nil, errors.Wrap(err, "loading build tasks")
	}
	ids := make([]int64, len(st.tasks))
	for i, t := range st.tasks {
		ids[i] = t.ID
	}
	if st.artifacts, err = tx.Artifacts(ctx, ids); err != nil {
		return nil, errors.Wrap(err, "loading artifacts")
	}
	platformIDs := slices.Clone(st.product.PlatformIDs)
	for _, t := range st.tasks {
		platformIDs = append(platformIDs, t.PlatformID)
	}
	for _, r := range slices.Concat(st.productRepos, st.buildRepos) {
		if r.PlatformID != 0 {
			platformIDs = append(platformIDs, r.PlatformID)
		}
	}
	slices.Sort(platformIDs)
	for _, id := range slices.Compact(platformIDs) {
		p, err := tx.Platform(ctx, id)
		if err != nil {
			return nil, errors.Wrapf(err, "loading platform %d", id)
		}
		st.platforms[id] = *p
	}
	return st, nil
}

func (st *state) platformsOf(ids []int64) []model.Platform {
	var out []model.Platform
	for _, id := range ids {
		if p, ok := st.platforms[id]; ok && !slices.ContainsFunc(out, func(o model.Platform) bool { return o.ID == id }) {
			out = append(out, p)
		}
	}
	return out
}

// resolveLinks backfills missing repository platforms from repository names.
// Only rpm build repositories are considered.
func (st *state) resolveLinks() ([]link, error) {
	links, err := resolveLinks("product", st.productRepos, st.platformsOf(st.product.PlatformIDs),
		func(p model.Platform, r model.Repository) string { return productRepoName(st.product, p, r) })
	if err != nil {
		return nil, err
	}
	var taskPlatforms []int64
	for _, t := range st.tasks {
		taskPlatforms = append(taskPlatforms, t.PlatformID)
	}
	var rpmRepos []model.Repository
	for _, r := range st.buildRepos {
		if r.Type == model.TypeRPM {
			rpmRepos = append(rpmRepos, r)
		}
	}
	buildLinks, err := resolveLinks("build", rpmRepos, st.platformsOf(taskPlatforms),
		func(p model.Platform, r model.Repository) string { return buildRepoName(st.build, p, r) })
	if err != nil {
		return nil, err
	}
	st.buildRepos = rpmRepos
	return append(links, buildLinks...), nil
}

// blacklist returns the source package hrefs of tasks whose ref group has no completed task.
func (st *state) blacklist() map[string]bool {
	completed := map[int64]bool{}
	for _, t := range st.tasks {
		if t.Status == model.TaskCompleted {
			completed[t.RefID] = true
		}
	}
	out := map[string]bool{}
	for _, a := range st.artifacts {
		i := slices.IndexFunc(st.tasks, func(t model.BuildTask) bool { return t.ID == a.TaskID })
		if i < 0 || completed[st.tasks[i].RefID] {
			continue
		}
		if a.Type == model.TypeRPM && rpm.IsSource(a.Name) {
			out[a.Href] = true
		}
	}
	return out
}

// plan lists both sides of every matched repository pair and computes the mutations.
// Empty mutations are dropped.
func (s *Synchronizer) plan(ctx context.Context, st *state, mod Modification, blacklist map[string]bool) ([]Mutation, error) {
	dest := map[repoKey]model.Repository{}
	for _, r := range st.productRepos {
		dest[repoKey{r.Arch, r.Debug, st.platforms[r.PlatformID].Name}] = r
	}
	var pairs []sourcePair
	for _, r := range st.buildRepos {
		if d, ok := dest[repoKey{r.Arch, r.Debug, st.platforms[r.PlatformID].Name}]; ok {
			pairs = append(pairs, sourcePair{Build: r, Product: d})
		}
	}
	hrefs, err := gather.All(ctx, pairs, func(ctx context.Context, p sourcePair) ([]string, error) {
		return s.packages(ctx, p, mod, blacklist)
	})
	if err != nil {
		return nil, err
	}
	byRepo := map[string][]string{}
	var order []string
	push := func(repo string, hs ...string) {
		if _, ok := byRepo[repo]; !ok {
			order = append(order, repo)
			byRepo[repo] = nil
		}
		for _, h := range hs {
			if !slices.Contains(byRepo[repo], h) {
				byRepo[repo] = append(byRepo[repo], h)
			}
		}
	}
	for i, p := range pairs {
		push(p.Product.Href, hrefs[i]...)
	}
	for _, t := range st.tasks {
		if t.Status != model.TaskCompleted || t.RPMModule == nil {
			continue
		}
		d, ok := dest[repoKey{t.Arch, false, st.platforms[t.PlatformID].Name}]
		if !ok {
			continue
		}
		push(d.Href, t.RPMModule.Href)
	}
	var out []Mutation
	for _, repo := range order {
		hs := byRepo[repo]
		if len(hs) == 0 {
			continue
		}
		m := Mutation{Repo: repo}
		if mod == Add {
			m.Add = hs
		} else {
			m.Remove = hs
		}
		out = append(out, m)
	}
	return out, nil
}

// packages returns the hrefs to add to or remove from the product side of p.
func (s *Synchronizer) packages(ctx context.Context, p sourcePair, mod Modification, blacklist map[string]bool) ([]string, error) {
	existing, err := s.Repos.ListPackages(ctx, p.Product.Href, pulp.PackageFields...)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", p.Product.Name)
	}
	present := map[string]bool{}
	for _, pkg := range existing {
		present[pkg.PulpHref] = true
	}
	built, err := s.Repos.ListPackages(ctx, p.Build.Href, pulp.PackageFields...)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", p.Build.Name)
	}
	built = slices.DeleteFunc(built, func(pkg pulp.Package) bool { return !rpm.ArchApplies(pkg.Arch, p.Product.Arch) })
	var out []string
	if mod == Add {
		seen := map[string]bool{}
		for _, pkg := range built {
			if seen[pkg.LocationHref] || blacklist[pkg.PulpHref] {
				continue
			}
			seen[pkg.LocationHref] = true
			if !present[pkg.PulpHref] {
				out = append(out, pkg.PulpHref)
			}
		}
	} else {
		for _, pkg := range built {
			if present[pkg.PulpHref] {
				out = append(out, pkg.PulpHref)
			}
		}
	}
	log.Printf("%s %s -> %s: %d of %d packages", mod, p.Build.Name, p.Product.Name, len(out), len(built))
	return out, nil
}
