// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package fsstore is a model.Store backed by Firestore.
//
// Every record kind lives in its own top-level collection keyed by the
// decimal record id. Firestore transactions must finish all reads before the
// first write, so writes are buffered and applied when the transaction body
// returns. Reads therefore do not observe writes made earlier in the same
// transaction.
//
// Transactions run a single attempt. Callers that talk to other services
// between reading and writing read in a ReadOnly transaction, leave it, and
// write in a second transaction guarded by IfUnchanged. A record's version is
// its document update time, so the guard fails on any concurrent write to a
// record that was read. Queries are not guarded against records added later.
package fsstore

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"strconv"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m10k/albs-web-server/internal/iterx"
	"github.com/m10k/albs-web-server/pkg/model"
	"github.com/m10k/albs-web-server/pkg/store/memstore"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Collection names.
const (
	Platforms    = "platforms"
	Flavours     = "flavours"
	Builds       = "builds"
	Tasks        = "tasks"
	Artifacts    = "artifacts"
	BinaryRPMs   = "binary_rpms"
	Repositories = "repositories"
	Products     = "products"
	counters     = "counters"
)

// inLimit is the maximum number of values in a Firestore "in" filter.
const inLimit = 30

// Store is a model.Store on a Firestore database.
type Store struct {
	Client *firestore.Client
}

var _ model.Store = &Store{}

// New returns a Store using client.
func New(client *firestore.Client) *Store {
	return &Store{Client: client}
}

// RunInTx implements model.Store.
func (s *Store) RunInTx(ctx context.Context, fn func(context.Context, model.Tx) error, opts ...model.TxOption) error {
	o := model.ApplyTxOptions(opts...)
	fopts := []firestore.TransactionOption{firestore.MaxAttempts(1)}
	if o.ReadOnly {
		fopts = append(fopts, firestore.ReadOnly)
	}
	var reads model.ReadSet
	err := s.Client.RunTransaction(ctx, func(ctx context.Context, t *firestore.Transaction) error {
		tx := &tx{c: s.Client, t: t, readOnly: o.ReadOnly}
		if o.Reads != nil {
			tx.reads = model.ReadSet{}
		}
		if err := tx.check(o.Guard); err != nil {
			return err
		}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		reads = tx.reads
		return tx.flush()
	}, fopts...)
	if err == nil && o.Reads != nil {
		*o.Reads = reads
	}
	return err
}

// Import writes every record of d, replacing records with the same ids.
func (s *Store) Import(ctx context.Context, d memstore.Data) error {
	bw := s.Client.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob
	set := func(coll string, id int64, v any) error {
		j, err := bw.Set(s.Client.Collection(coll).Doc(docID(id)), v)
		if err != nil {
			return errors.Wrapf(err, "queueing %s/%d", coll, id)
		}
		jobs = append(jobs, j)
		return nil
	}
	if err := setAll(set, Platforms, d.Platforms); err != nil {
		return err
	}
	if err := setAll(set, Flavours, d.Flavours); err != nil {
		return err
	}
	if err := setAll(set, Builds, d.Builds); err != nil {
		return err
	}
	if err := setAll(set, Tasks, d.Tasks); err != nil {
		return err
	}
	if err := setAll(set, Artifacts, d.Artifacts); err != nil {
		return err
	}
	if err := setAll(set, BinaryRPMs, d.BinaryRPMs); err != nil {
		return err
	}
	if err := setAll(set, Repositories, d.Repositories); err != nil {
		return err
	}
	if err := setAll(set, Products, d.Products); err != nil {
		return err
	}
	next := d.NextID
	for _, ids := range [][]int64{
		keys(d.Platforms), keys(d.Flavours), keys(d.Builds), keys(d.Tasks),
		keys(d.Artifacts), keys(d.BinaryRPMs), keys(d.Repositories), keys(d.Products),
	} {
		for _, id := range ids {
			next = max(next, id)
		}
	}
	j, err := bw.Set(s.Client.Collection(counters).Doc("ids"), idCounter{Next: next})
	if err != nil {
		return errors.Wrap(err, "queueing id counter")
	}
	jobs = append(jobs, j)
	bw.End()
	for _, j := range jobs {
		if _, err := j.Results(); err != nil {
			return errors.Wrap(err, "importing records")
		}
	}
	return nil
}

func setAll[V any](set func(string, int64, any) error, coll string, m map[int64]V) error {
	for id, v := range m {
		if err := set(coll, id, v); err != nil {
			return err
		}
	}
	return nil
}

func keys[V any](m map[int64]V) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func docID(id int64) string {
	return strconv.FormatInt(id, 10)
}

type idCounter struct {
	Next int64 `firestore:"next"`
}

type tx struct {
	c        *firestore.Client
	t        *firestore.Transaction
	readOnly bool
	// reads is nil unless the caller asked for the ReadSet.
	reads  model.ReadSet
	writes []func(*firestore.Transaction) error
	// next is the last allocated id, loaded on first use.
	next   int64
	loaded bool
}

var _ model.Tx = &tx{}

func (t *tx) doc(coll string, id int64) *firestore.DocumentRef {
	return t.c.Collection(coll).Doc(docID(id))
}

// readKey names ref in a ReadSet.
func readKey(ref *firestore.DocumentRef) string {
	return ref.Parent.ID + "/" + ref.ID
}

func version(snap *firestore.DocumentSnapshot) string {
	if snap == nil || !snap.Exists() {
		return ""
	}
	return snap.UpdateTime.UTC().Format(time.RFC3339Nano)
}

func (t *tx) record(ref *firestore.DocumentRef, snap *firestore.DocumentSnapshot) {
	if t.reads != nil {
		t.reads[readKey(ref)] = version(snap)
	}
}

// check fails with model.ErrStale when a guarded document changed. It reads
// before fn runs so the guarded documents stay locked until commit.
func (t *tx) check(guard model.ReadSet) error {
	if len(guard) == 0 {
		return nil
	}
	keys := slices.Sorted(maps.Keys(guard))
	refs := make([]*firestore.DocumentRef, len(keys))
	for i, k := range keys {
		refs[i] = t.c.Doc(k)
		if refs[i] == nil {
			return errors.Errorf("invalid record key %q", k)
		}
	}
	snaps, err := t.t.GetAll(refs)
	if err != nil {
		return errors.Wrap(err, "reading guarded records")
	}
	for i, snap := range snaps {
		if version(snap) != guard[keys[i]] {
			return errors.Wrap(model.ErrStale, keys[i])
		}
	}
	return nil
}

func (t *tx) queue(w func(*firestore.Transaction) error) error {
	if t.readOnly {
		return model.ErrReadOnly
	}
	t.writes = append(t.writes, w)
	return nil
}

func (t *tx) flush() error {
	if t.loaded {
		ref := t.c.Collection(counters).Doc("ids")
		next := t.next
		t.writes = append(t.writes, func(ft *firestore.Transaction) error {
			return ft.Set(ref, idCounter{Next: next})
		})
	}
	for _, w := range t.writes {
		if err := w(t.t); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) newID() (int64, error) {
	if t.readOnly {
		return 0, model.ErrReadOnly
	}
	if !t.loaded {
		snap, err := t.t.Get(t.c.Collection(counters).Doc("ids"))
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return 0, errors.Wrap(err, "reading id counter")
		default:
			var c idCounter
			if err := snap.DataTo(&c); err != nil {
				return 0, errors.Wrap(err, "decoding id counter")
			}
			t.next = c.Next
		}
		t.loaded = true
	}
	t.next++
	return t.next, nil
}

func get[V any](t *tx, coll string, id int64) (*V, error) {
	ref := t.doc(coll, id)
	snap, err := t.t.Get(ref)
	if status.Code(err) == codes.NotFound {
		t.record(ref, nil)
		return nil, errors.Wrapf(model.ErrNotFound, "%s/%d", coll, id)
	} else if err != nil {
		return nil, errors.Wrapf(err, "reading %s/%d", coll, id)
	}
	t.record(ref, snap)
	var v V
	if err := snap.DataTo(&v); err != nil {
		return nil, errors.Wrapf(err, "decoding %s/%d", coll, id)
	}
	return &v, nil
}

func getAll[V any](t *tx, coll string, ids []int64) ([]V, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	refs := make([]*firestore.DocumentRef, len(ids))
	for i, id := range ids {
		refs[i] = t.doc(coll, id)
	}
	snaps, err := t.t.GetAll(refs)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", coll)
	}
	out := make([]V, len(snaps))
	for i, snap := range snaps {
		t.record(refs[i], snap)
		if !snap.Exists() {
			return nil, errors.Wrapf(model.ErrNotFound, "%s/%d", coll, ids[i])
		}
		if err := snap.DataTo(&out[i]); err != nil {
			return nil, errors.Wrapf(err, "decoding %s/%d", coll, ids[i])
		}
	}
	return out, nil
}

func query[V any](t *tx, q firestore.Query) ([]V, error) {
	out, err := iterx.CollectMap(iterx.ToSeq2(t.t.Documents(q), iterator.Done), func(snap *firestore.DocumentSnapshot) (V, error) {
		t.record(snap.Ref, snap)
		var v V
		if err := snap.DataTo(&v); err != nil {
			return v, errors.Wrapf(err, "decoding %s", snap.Ref.Path)
		}
		return v, nil
	})
	return out, errors.Wrap(err, "query error")
}

func (t *tx) Build(_ context.Context, id int64) (*model.Build, error) {
	return get[model.Build](t, Builds, id)
}

func (t *tx) Product(_ context.Context, id int64) (*model.Product, error) {
	return get[model.Product](t, Products, id)
}

func (t *tx) Platform(_ context.Context, id int64) (*model.Platform, error) {
	return get[model.Platform](t, Platforms, id)
}

func (t *tx) PlatformByName(_ context.Context, name string) (*model.Platform, error) {
	ps, err := query[model.Platform](t, t.c.Collection(Platforms).Where("name", "==", name).Limit(1))
	if err != nil {
		return nil, err
	}
	if len(ps) == 0 {
		return nil, errors.Wrapf(model.ErrNotFound, "platform %q", name)
	}
	return &ps[0], nil
}

func (t *tx) Flavours(_ context.Context, ids []int64) ([]model.PlatformFlavour, error) {
	return getAll[model.PlatformFlavour](t, Flavours, ids)
}

func (t *tx) Task(_ context.Context, id int64) (*model.BuildTask, error) {
	return get[model.BuildTask](t, Tasks, id)
}

func (t *tx) Tasks(_ context.Context, buildID int64, index int) ([]model.BuildTask, error) {
	q := t.c.Collection(Tasks).Where("build_id", "==", buildID)
	if index != model.AllIndexes {
		q = q.Where("index", "==", index)
	}
	out, err := query[model.BuildTask](t, q)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b model.BuildTask) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *tx) Artifacts(_ context.Context, taskIDs []int64) ([]model.Artifact, error) {
	var out []model.Artifact
	for batch := range slices.Chunk(taskIDs, inLimit) {
		as, err := query[model.Artifact](t, t.c.Collection(Artifacts).Where("task_id", "in", batch))
		if err != nil {
			return nil, err
		}
		out = append(out, as...)
	}
	slices.SortFunc(out, func(a, b model.Artifact) int {
		return cmp.Or(cmp.Compare(a.TaskID, b.TaskID), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (t *tx) Repositories(_ context.Context, ids []int64) ([]model.Repository, error) {
	return getAll[model.Repository](t, Repositories, ids)
}

func (t *tx) CreateArtifact(ctx context.Context, a *model.Artifact) error {
	if _, err := t.Task(ctx, a.TaskID); err != nil {
		return err
	}
	id, err := t.newID()
	if err != nil {
		return err
	}
	a.ID = id
	ref, v := t.doc(Artifacts, id), *a
	return t.queue(func(ft *firestore.Transaction) error { return ft.Create(ref, v) })
}

func (t *tx) UpdateArtifact(_ context.Context, a model.Artifact) error {
	ref := t.doc(Artifacts, a.ID)
	return t.queue(func(ft *firestore.Transaction) error {
		return ft.Update(ref, []firestore.Update{
			{Path: "name", Value: a.Name},
			{Path: "type", Value: a.Type},
			{Path: "href", Value: a.Href},
			{Path: "cas_hash", Value: a.CASHash},
		})
	})
}

func (t *tx) CreateBinaryRPM(_ context.Context, b *model.BinaryRPM) error {
	id, err := t.newID()
	if err != nil {
		return err
	}
	b.ID = id
	ref, v := t.doc(BinaryRPMs, id), *b
	return t.queue(func(ft *firestore.Transaction) error { return ft.Create(ref, v) })
}

func (t *tx) SetRepositoryPlatform(_ context.Context, repoID, platformID int64) error {
	ref := t.doc(Repositories, repoID)
	return t.queue(func(ft *firestore.Transaction) error {
		return ft.Update(ref, []firestore.Update{{Path: "platform_id", Value: platformID}})
	})
}

func (t *tx) AttachBuild(_ context.Context, productID, buildID int64) error {
	product, build := t.doc(Products, productID), t.doc(Builds, buildID)
	return t.queue(func(ft *firestore.Transaction) error {
		if err := ft.Update(product, []firestore.Update{{Path: "build_ids", Value: firestore.ArrayUnion(buildID)}}); err != nil {
			return err
		}
		return ft.Update(build, []firestore.Update{{Path: "product_ids", Value: firestore.ArrayUnion(productID)}})
	})
}

func (t *tx) DetachBuild(_ context.Context, productID, buildID int64) error {
	product, build := t.doc(Products, productID), t.doc(Builds, buildID)
	return t.queue(func(ft *firestore.Transaction) error {
		if err := ft.Update(product, []firestore.Update{{Path: "build_ids", Value: firestore.ArrayRemove(buildID)}}); err != nil {
			return err
		}
		return ft.Update(build, []firestore.Update{{Path: "product_ids", Value: firestore.ArrayRemove(productID)}})
	})
}
