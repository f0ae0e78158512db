// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package memstore is an in-memory model.Store.
//
// Each transaction works on a private copy of the records and publishes it on
// commit. A commit fails when another transaction committed in between.
package memstore

import (
	"cmp"
	"context"
	"encoding/json"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/m10k/albs-web-server/pkg/model"
	"github.com/pkg/errors"
)

// ErrConflict is returned when a concurrent transaction committed first.
var ErrConflict = errors.New("transaction conflict")

// Data is the full record set held by a Store.
type Data struct {
	Platforms    map[int64]model.Platform        `json:"platforms"`
	Flavours     map[int64]model.PlatformFlavour `json:"flavours"`
	Builds       map[int64]model.Build           `json:"builds"`
	Tasks        map[int64]model.BuildTask       `json:"tasks"`
	Artifacts    map[int64]model.Artifact        `json:"artifacts"`
	BinaryRPMs   map[int64]model.BinaryRPM       `json:"binary_rpms"`
	Repositories map[int64]model.Repository      `json:"repositories"`
	Products     map[int64]model.Product         `json:"products"`
	NextID       int64                           `json:"next_id"`
}

func (d *Data) init() {
	if d.Platforms == nil {
		d.Platforms = map[int64]model.Platform{}
	}
	if d.Flavours == nil {
		d.Flavours = map[int64]model.PlatformFlavour{}
	}
	if d.Builds == nil {
		d.Builds = map[int64]model.Build{}
	}
	if d.Tasks == nil {
		d.Tasks = map[int64]model.BuildTask{}
	}
	if d.Artifacts == nil {
		d.Artifacts = map[int64]model.Artifact{}
	}
	if d.BinaryRPMs == nil {
		d.BinaryRPMs = map[int64]model.BinaryRPM{}
	}
	if d.Repositories == nil {
		d.Repositories = map[int64]model.Repository{}
	}
	if d.Products == nil {
		d.Products = map[int64]model.Product{}
	}
}

func (d *Data) clone() *Data {
	return &Data{
		Platforms:    maps.Clone(d.Platforms),
		Flavours:     maps.Clone(d.Flavours),
		Builds:       maps.Clone(d.Builds),
		Tasks:        maps.Clone(d.Tasks),
		Artifacts:    maps.Clone(d.Artifacts),
		BinaryRPMs:   maps.Clone(d.BinaryRPMs),
		Repositories: maps.Clone(d.Repositories),
		Products:     maps.Clone(d.Products),
		NextID:       d.NextID,
	}
}

// newID returns an id above every id already in use.
func (d *Data) newID() int64 {
	if d.NextID == 0 {
		for _, m := range []map[int64]struct{}{
			keys(d.Platforms), keys(d.Flavours), keys(d.Builds), keys(d.Tasks),
			keys(d.Artifacts), keys(d.BinaryRPMs), keys(d.Repositories), keys(d.Products),
		} {
			for id := range m {
				d.NextID = max(d.NextID, id)
			}
		}
	}
	d.NextID++
	return d.NextID
}

func keys[V any](m map[int64]V) map[int64]struct{} {
	out := make(map[int64]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

// Record kinds, used as the collection part of ReadSet keys.
const (
	platforms    = "platforms"
	flavours     = "flavours"
	builds       = "builds"
	tasks        = "tasks"
	artifacts    = "artifacts"
	binaryRPMs   = "binary_rpms"
	repositories = "repositories"
	products     = "products"
)

func recordKey(kind string, id int64) string {
	return kind + "/" + strconv.FormatInt(id, 10)
}

// has reports whether the record named by a ReadSet key exists.
func (d *Data) has(key string) bool {
	kind, idStr, _ := strings.Cut(key, "/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return false
	}
	var ok bool
	switch kind {
	case platforms:
		_, ok = d.Platforms[id]
	case flavours:
		_, ok = d.Flavours[id]
	case builds:
		_, ok = d.Builds[id]
	case tasks:
		_, ok = d.Tasks[id]
	case artifacts:
		_, ok = d.Artifacts[id]
	case binaryRPMs:
		_, ok = d.BinaryRPMs[id]
	case repositories:
		_, ok = d.Repositories[id]
	case products:
		_, ok = d.Products[id]
	}
	return ok
}

// Store is a model.Store backed by process memory. The zero value is empty and ready to use.
type Store struct {
	mu      sync.Mutex
	data    *Data
	version int
	// versions counts the committed writes of each record.
	versions map[string]int
	// CommitErr, when set, fails every commit with the given error.
	CommitErr error
}

var _ model.Store = &Store{}

// New returns a Store seeded with d.
func New(d Data) *Store {
	c := d.clone()
	c.init()
	return &Store{data: c}
}

// Load returns a Store seeded from a JSON encoding of Data.
func Load(r io.Reader) (*Store, error) {
	var d Data
	if err := json.NewDecoder(r).Decode(&d); err != nil {
		return nil, errors.Wrap(err, "decoding store data")
	}
	return New(d), nil
}

func (s *Store) initLocked() {
	if s.data == nil {
		s.data = &Data{}
		s.data.init()
	}
	if s.versions == nil {
		s.versions = map[string]int{}
	}
}

// Snapshot returns a copy of the committed records.
func (s *Store) Snapshot() Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initLocked()
	return *s.data.clone()
}

// versionOf returns the ReadSet version of key. Callers hold s.mu.
func (s *Store) versionOf(key string) string {
	if !s.data.has(key) {
		return ""
	}
	return strconv.Itoa(s.versions[key])
}

// RunInTx implements model.Store.
//
// Read-only transactions never commit and so never fail with ErrConflict or
// CommitErr.
func (s *Store) RunInTx(ctx context.Context, fn func(context.Context, model.Tx) error, opts ...model.TxOption) error {
	o := model.ApplyTxOptions(opts...)
	s.mu.Lock()
	s.initLocked()
	base := s.version
	tx := &tx{d: s.data.clone(), versions: maps.Clone(s.versions), readOnly: o.ReadOnly, written: map[string]bool{}}
	if o.Reads != nil {
		tx.reads = model.ReadSet{}
	}
	s.mu.Unlock()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if o.ReadOnly {
		if o.Reads != nil {
			*o.Reads = tx.reads
		}
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CommitErr != nil {
		return s.CommitErr
	}
	if s.version != base {
		return ErrConflict
	}
	for key, v := range o.Guard {
		if s.versionOf(key) != v {
			return errors.Wrap(model.ErrStale, key)
		}
	}
	s.data = tx.d
	for key := range tx.written {
		s.versions[key]++
	}
	s.version++
	return nil
}

type tx struct {
	d        *Data
	versions map[string]int
	readOnly bool
	// reads is nil unless the caller asked for the ReadSet.
	reads   model.ReadSet
	written map[string]bool
}

var _ model.Tx = &tx{}

func (t *tx) read(kind string, id int64, exists bool) {
	if t.reads == nil {
		return
	}
	key := recordKey(kind, id)
	if exists {
		t.reads[key] = strconv.Itoa(t.versions[key])
	} else {
		t.reads[key] = ""
	}
}

func (t *tx) write(kind string, id int64) error {
	if t.readOnly {
		return errors.Wrap(model.ErrReadOnly, recordKey(kind, id))
	}
	t.written[recordKey(kind, id)] = true
	return nil
}

func lookup[V any](t *tx, m map[int64]V, kind string, id int64) (*V, error) {
	v, ok := m[id]
	t.read(kind, id, ok)
	if !ok {
		return nil, errors.Wrap(model.ErrNotFound, recordKey(kind, id))
	}
	return &v, nil
}

func (t *tx) Build(_ context.Context, id int64) (*model.Build, error) {
	return lookup(t, t.d.Builds, builds, id)
}

func (t *tx) Product(_ context.Context, id int64) (*model.Product, error) {
	return lookup(t, t.d.Products, products, id)
}

func (t *tx) Platform(_ context.Context, id int64) (*model.Platform, error) {
	return lookup(t, t.d.Platforms, platforms, id)
}

func (t *tx) PlatformByName(_ context.Context, name string) (*model.Platform, error) {
	for _, p := range t.d.Platforms {
		if p.Name == name {
			t.read(platforms, p.ID, true)
			return &p, nil
		}
	}
	return nil, errors.Wrapf(model.ErrNotFound, "platform %q", name)
}

func (t *tx) Flavours(_ context.Context, ids []int64) ([]model.PlatformFlavour, error) {
	var out []model.PlatformFlavour
	for _, id := range ids {
		f, err := lookup(t, t.d.Flavours, flavours, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, nil
}

func (t *tx) Task(_ context.Context, id int64) (*model.BuildTask, error) {
	return lookup(t, t.d.Tasks, tasks, id)
}

func (t *tx) Tasks(_ context.Context, buildID int64, index int) ([]model.BuildTask, error) {
	var out []model.BuildTask
	for _, task := range t.d.Tasks {
		if task.BuildID == buildID && (index == model.AllIndexes || task.Index == index) {
			t.read(tasks, task.ID, true)
			out = append(out, task)
		}
	}
	slices.SortFunc(out, func(a, b model.BuildTask) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *tx) Artifacts(_ context.Context, taskIDs []int64) ([]model.Artifact, error) {
	var out []model.Artifact
	for _, a := range t.d.Artifacts {
		if slices.Contains(taskIDs, a.TaskID) {
			t.read(artifacts, a.ID, true)
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b model.Artifact) int {
		return cmp.Or(cmp.Compare(a.TaskID, b.TaskID), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (t *tx) Repositories(_ context.Context, ids []int64) ([]model.Repository, error) {
	out := make([]model.Repository, 0, len(ids))
	for _, id := range ids {
		r, err := lookup(t, t.d.Repositories, repositories, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

func (t *tx) CreateArtifact(_ context.Context, a *model.Artifact) error {
	if _, err := lookup(t, t.d.Tasks, tasks, a.TaskID); err != nil {
		return err
	}
	if t.readOnly {
		return errors.Wrap(model.ErrReadOnly, "creating artifact")
	}
	a.ID = t.d.newID()
	t.d.Artifacts[a.ID] = *a
	return t.write(artifacts, a.ID)
}

func (t *tx) UpdateArtifact(_ context.Context, a model.Artifact) error {
	if _, ok := t.d.Artifacts[a.ID]; !ok {
		return errors.Wrapf(model.ErrNotFound, "artifact %d", a.ID)
	}
	if err := t.write(artifacts, a.ID); err != nil {
		return err
	}
	t.d.Artifacts[a.ID] = a
	return nil
}

func (t *tx) CreateBinaryRPM(_ context.Context, b *model.BinaryRPM) error {
	if _, ok := t.d.Artifacts[b.ArtifactID]; !ok {
		return errors.Wrapf(model.ErrNotFound, "artifact %d", b.ArtifactID)
	}
	if t.readOnly {
		return errors.Wrap(model.ErrReadOnly, "creating binary rpm")
	}
	b.ID = t.d.newID()
	t.d.BinaryRPMs[b.ID] = *b
	return t.write(binaryRPMs, b.ID)
}

func (t *tx) SetRepositoryPlatform(_ context.Context, repoID, platformID int64) error {
	r, ok := t.d.Repositories[repoID]
	if !ok {
		return errors.Wrapf(model.ErrNotFound, "repository %d", repoID)
	}
	if err := t.write(repositories, repoID); err != nil {
		return err
	}
	r.PlatformID = platformID
	t.d.Repositories[repoID] = r
	return nil
}

func (t *tx) AttachBuild(_ context.Context, productID, buildID int64) error {
	p, b, err := t.association(productID, buildID)
	if err != nil {
		return err
	}
	if !slices.Contains(p.BuildIDs, buildID) {
		p.BuildIDs = append(slices.Clone(p.BuildIDs), buildID)
	}
	if !slices.Contains(b.ProductIDs, productID) {
		b.ProductIDs = append(slices.Clone(b.ProductIDs), productID)
	}
	t.d.Products[productID] = p
	t.d.Builds[buildID] = b
	return nil
}

func (t *tx) DetachBuild(_ context.Context, productID, buildID int64) error {
	p, b, err := t.association(productID, buildID)
	if err != nil {
		return err
	}
	p.BuildIDs = slices.DeleteFunc(slices.Clone(p.BuildIDs), func(id int64) bool { return id == buildID })
	b.ProductIDs = slices.DeleteFunc(slices.Clone(b.ProductIDs), func(id int64) bool { return id == productID })
	t.d.Products[productID] = p
	t.d.Builds[buildID] = b
	return nil
}

// association returns the product and build whose link is about to change.
func (t *tx) association(productID, buildID int64) (model.Product, model.Build, error) {
	p, ok := t.d.Products[productID]
	if !ok {
		return p, model.Build{}, errors.Wrapf(model.ErrNotFound, "product %d", productID)
	}
	b, ok := t.d.Builds[buildID]
	if !ok {
		return p, b, errors.Wrapf(model.ErrNotFound, "build %d", buildID)
	}
	if err := t.write(products, productID); err != nil {
		return p, b, err
	}
	return p, b, t.write(builds, buildID)
}
