// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package noarch collapses architecture-independent packages built by the
// per-arch tasks of one build index onto a single shared copy.
package noarch

import (
	"context"
	"log"
	"slices"

	"github.com/m10k/albs-web-server/internal/gather"
	"github.com/m10k/albs-web-server/pkg/model"
	"github.com/m10k/albs-web-server/pkg/registry/pulp"
	"github.com/m10k/albs-web-server/pkg/rpm"
	"github.com/pkg/errors"
)

type bucket int

const (
	regular bucket = iota
	debug
)

func bucketOf(name string) bucket {
	if rpm.IsDebug(name) {
		return debug
	}
	return regular
}

// retained is the copy of a package kept for every task.
type retained struct {
	Href    string
	CASHash string
}

// Result lists the records created by a reconciliation.
type Result struct {
	Artifacts  []model.Artifact  `json:"artifacts"`
	BinaryRPMs []model.BinaryRPM `json:"binary_rpms"`
}

// Mutation is a pending change to one repository.
type Mutation struct {
	Repo   string
	Add    []string
	Remove []string
}

// Reconciler shares noarch packages across sibling tasks.
type Reconciler struct {
	Store model.Store
	Repos pulp.Client
}

// Reconcile runs once every task sharing the build index of taskID has
// finished. Until then it returns an empty Result.
//
// Records are read in a read-only transaction and the repository mutations
// are issued outside of any transaction. New rows are written afterwards in
// a transaction that fails with model.ErrStale if any record read earlier
// changed in the meantime. Rows are only written once every mutation
// succeeded; the mutations are idempotent so a failed run can be repeated.
func (r *Reconciler) Reconcile(ctx context.Context, taskID int64) (*Result, error) {
	var (
		task  *model.BuildTask
		p     changes
		ready bool
		reads model.ReadSet
	)
	err := r.Store.RunInTx(ctx, func(ctx context.Context, tx model.Tx) error {
		var err error
		task, p, ready, err = load(ctx, tx, taskID)
		return err
	}, model.ReadOnly(&reads))
	if err != nil {
		return nil, err
	}
	res := &Result{}
	if !ready {
		return res, nil
	}
	if len(p.updates) == 0 && len(p.creates) == 0 {
		log.Printf("noarch packages of build %d index %d are up to date", task.BuildID, task.Index)
		return res, nil
	}
	if err := gather.Each(ctx, p.mutations, func(ctx context.Context, m Mutation) error {
		return errors.Wrapf(r.Repos.ModifyRepository(ctx, m.Repo, m.Add, m.Remove), "modifying %s", m.Repo)
	}); err != nil {
		return nil, err
	}
	err = r.Store.RunInTx(ctx, func(ctx context.Context, tx model.Tx) error {
		res = &Result{}
		for _, a := range p.updates {
			if err := tx.UpdateArtifact(ctx, a); err != nil {
				return errors.Wrapf(err, "updating artifact %d", a.ID)
			}
		}
		for _, c := range p.creates {
			a := c.Artifact
			if err := tx.CreateArtifact(ctx, &a); err != nil {
				return errors.Wrapf(err, "creating artifact %s for task %d", a.Name, a.TaskID)
			}
			res.Artifacts = append(res.Artifacts, a)
			if !c.Linked {
				continue
			}
			b := model.BinaryRPM{ArtifactID: a.ID, BuildID: task.BuildID}
			if err := tx.CreateBinaryRPM(ctx, &b); err != nil {
				return errors.Wrapf(err, "linking artifact %d", a.ID)
			}
			res.BinaryRPMs = append(res.BinaryRPMs, b)
		}
		return nil
	}, model.IfUnchanged(reads))
	if err != nil {
		return nil, errors.Wrapf(err, "recording noarch packages of build %d index %d", task.BuildID, task.Index)
	}
	log.Printf("processed noarch packages of build %d index %d: updated=%d created=%d repositories=%d",
		task.BuildID, task.Index, len(p.updates), len(p.creates), len(p.mutations))
	return res, nil
}

// load reads the task and its siblings and plans the changes. ready is false
// while a sibling is still running.
func load(ctx context.Context, tx model.Tx, taskID int64) (task *model.BuildTask, p changes, ready bool, err error) {
	task, err = tx.Task(ctx, taskID)
	if err != nil {
		return nil, p, false, err
	}
	siblings, err := tx.Tasks(ctx, task.BuildID, task.Index)
	if err != nil {
		return nil, p, false, errors.Wrap(err, "listing sibling tasks")
	}
	if i := slices.IndexFunc(siblings, func(t model.BuildTask) bool { return !t.Status.Finished() }); i >= 0 {
		log.Printf("task %d is %s, deferring noarch processing of build %d index %d", siblings[i].ID, siblings[i].Status, task.BuildID, task.Index)
		return task, p, false, nil
	}
	build, err := tx.Build(ctx, task.BuildID)
	if err != nil {
		return nil, p, false, err
	}
	repos, err := tx.Repositories(ctx, build.RepositoryIDs)
	if err != nil {
		return nil, p, false, errors.Wrap(err, "loading build repositories")
	}
	ids := make([]int64, len(siblings))
	for i, t := range siblings {
		ids[i] = t.ID
	}
	artifacts, err := tx.Artifacts(ctx, ids)
	if err != nil {
		return nil, p, false, errors.Wrap(err, "loading artifacts")
	}
	return task, plan(task.ID, siblings, artifacts, repos), true, nil
}

type creation struct {
	Artifact model.Artifact
	// Linked is set for tasks other than the originating one.
	Linked bool
}

type changes struct {
	updates   []model.Artifact
	creates   []creation
	mutations []Mutation
}

// plan computes the row changes and repository mutations for a finished set of siblings.
func plan(origin int64, siblings []model.BuildTask, artifacts []model.Artifact, repos []model.Repository) changes {
	keep := map[bucket]map[string]retained{regular: {}, debug: {}}
	var order []string
	for _, a := range artifacts {
		if a.Type != model.TypeRPM || !rpm.IsNoarch(a.Name) {
			continue
		}
		b := keep[bucketOf(a.Name)]
		if _, ok := b[a.Name]; ok {
			continue
		}
		b[a.Name] = retained{Href: a.Href, CASHash: a.CASHash}
		order = append(order, a.Name)
	}
	var c changes
	if len(order) == 0 {
		return c
	}
	add := map[bucket][]string{}
	for _, name := range order {
		bk := bucketOf(name)
		add[bk] = append(add[bk], keep[bk][name].Href)
	}
	type key struct {
		Task   int64
		Bucket bucket
	}
	removals := map[key][]string{}
	changed := map[key]bool{}
	for _, t := range siblings {
		if !t.Status.Usable() {
			continue
		}
		present := map[string]bool{}
		for _, a := range artifacts {
			if a.TaskID != t.ID || a.Type != model.TypeRPM || !rpm.IsNoarch(a.Name) {
				continue
			}
			bk := bucketOf(a.Name)
			want := keep[bk][a.Name]
			present[a.Name] = true
			if a.Href == want.Href && a.CASHash == want.CASHash {
				continue
			}
			if a.Href != want.Href {
				k := key{t.ID, bk}
				removals[k] = append(removals[k], a.Href)
				changed[k] = true
			}
			a.Href, a.CASHash = want.Href, want.CASHash
			c.updates = append(c.updates, a)
		}
		for _, name := range order {
			if present[name] {
				continue
			}
			bk := bucketOf(name)
			want := keep[bk][name]
			changed[key{t.ID, bk}] = true
			c.creates = append(c.creates, creation{
				Artifact: model.Artifact{TaskID: t.ID, Name: name, Type: model.TypeRPM, Href: want.Href, CASHash: want.CASHash},
				Linked:   t.ID != origin,
			})
		}
	}
	byRepo := map[string]*Mutation{}
	var hrefs []string
	for _, t := range siblings {
		for _, repo := range repos {
			if repo.Type != model.TypeRPM || repo.Arch == rpm.ArchSource || repo.Arch != t.Arch {
				continue
			}
			bk := regular
			if repo.Debug {
				bk = debug
			}
			k := key{t.ID, bk}
			if !changed[k] {
				continue
			}
			m, ok := byRepo[repo.Href]
			if !ok {
				m = &Mutation{Repo: repo.Href}
				byRepo[repo.Href] = m
				hrefs = append(hrefs, repo.Href)
			}
			m.Add = union(m.Add, add[bk])
			m.Remove = union(m.Remove, removals[k])
		}
	}
	for _, href := range hrefs {
		m := byRepo[href]
		m.Remove = slices.DeleteFunc(m.Remove, func(h string) bool { return slices.Contains(m.Add, h) })
		c.mutations = append(c.mutations, *m)
	}
	return c
}

func union(dst, src []string) []string {
	for _, s := range src {
		if !slices.Contains(dst, s) {
			dst = append(dst, s)
		}
	}
	return dst
}
