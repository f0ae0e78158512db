// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package memstore

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/m10k/albs-web-server/pkg/model"
	"github.com/pkg/errors"
)

func seed() *Store {
	return New(Data{
		Builds:   map[int64]model.Build{1: {ID: 1, Owner: "alice"}},
		Products: map[int64]model.Product{2: {ID: 2, Name: "alma", Owner: "alice"}},
		Tasks: map[int64]model.BuildTask{
			10: {ID: 10, BuildID: 1, Index: 0, Arch: "x86_64"},
			11: {ID: 11, BuildID: 1, Index: 0, Arch: "aarch64"},
			12: {ID: 12, BuildID: 1, Index: 1, Arch: "x86_64"},
		},
		Artifacts: map[int64]model.Artifact{
			21: {ID: 21, TaskID: 11, Name: "b.rpm"},
			20: {ID: 20, TaskID: 10, Name: "a.rpm"},
		},
	})
}

func TestRunInTxCommits(t *testing.T) {
	ctx := context.Background()
	s := seed()
	var created model.Artifact
	err := s.RunInTx(ctx, func(ctx context.Context, tx model.Tx) error {
		created = model.Artifact{TaskID: 12, Name: "c.rpm", Type: model.TypeRPM}
		if err := tx.CreateArtifact(ctx, &created); err != nil {
			return err
		}
		return tx.AttachBuild(ctx, 2, 1)
	})
	if err != nil {
		t.Fatalf("RunInTx() = %v", err)
	}
	if created.ID <= 21 {
		t.Errorf("created ID = %d, want an unused id", created.ID)
	}
	snap := s.Snapshot()
	if _, ok := snap.Artifacts[created.ID]; !ok {
		t.Error("created artifact not committed")
	}
	if diff := cmp.Diff([]int64{1}, snap.Products[2].BuildIDs); diff != "" {
		t.Errorf("product builds mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{2}, snap.Builds[1].ProductIDs); diff != "" {
		t.Errorf("build products mismatch (-want +got):\n%s", diff)
	}
}

func TestRunInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := seed()
	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(ctx context.Context, tx model.Tx) error {
		if err := tx.UpdateArtifact(ctx, model.Artifact{ID: 20, TaskID: 10, Name: "a.rpm", Href: "/new/"}); err != nil {
			return err
		}
		return boom
	})
	if err != boom {
		t.Fatalf("RunInTx() = %v, want %v", err, boom)
	}
	if got := s.Snapshot().Artifacts[20].Href; got != "" {
		t.Errorf("rolled back update visible: href=%q", got)
	}
}

func TestCommitErr(t *testing.T) {
	ctx := context.Background()
	s := seed()
	s.CommitErr = errors.New("disk full")
	err := s.RunInTx(ctx, func(ctx context.Context, tx model.Tx) error {
		return tx.AttachBuild(ctx, 2, 1)
	})
	if err != s.CommitErr {
		t.Fatalf("RunInTx() = %v, want %v", err, s.CommitErr)
	}
	if len(s.Snapshot().Products[2].BuildIDs) != 0 {
		t.Error("failed commit applied writes")
	}
}

func TestConflict(t *testing.T) {
	ctx := context.Background()
	s := seed()
	err := s.RunInTx(ctx, func(ctx context.Context, tx model.Tx) error {
		if err := s.RunInTx(ctx, func(ctx context.Context, inner model.Tx) error {
			return inner.AttachBuild(ctx, 2, 1)
		}); err != nil {
			return err
		}
		return tx.DetachBuild(ctx, 2, 1)
	})
	if err != ErrConflict {
		t.Fatalf("RunInTx() = %v, want ErrConflict", err)
	}
}

func TestReadOnly(t *testing.T) {
	ctx := context.Background()
	s := seed()
	var reads model.ReadSet
	err := s.RunInTx(ctx, func(ctx context.Context, tx model.Tx) error {
		if _, err := tx.Tasks(ctx, 1, 0); err != nil {
			return err
		}
		if _, err := tx.Build(ctx, 99); !errors.Is(err, model.ErrNotFound) {
			t.Errorf("Build(99) = %v, want ErrNotFound", err)
		}
		if err := tx.AttachBuild(ctx, 2, 1); !errors.Is(err, model.ErrReadOnly) {
			t.Errorf("AttachBuild() = %v, want ErrReadOnly", err)
		}
		return nil
	}, model.ReadOnly(&reads))
	if err != nil {
		t.Fatalf("RunInTx() = %v", err)
	}
	want := model.ReadSet{"tasks/10": "0", "tasks/11": "0", "builds/99": ""}
	if diff := cmp.Diff(want, reads); diff != "" {
		t.Errorf("reads mismatch (-want +got):\n%s", diff)
	}
	if len(s.Snapshot().Products[2].BuildIDs) != 0 {
		t.Error("read-only transaction committed a write")
	}
}

func TestIfUnchanged(t *testing.T) {
	ctx := context.Background()
	readTask := func(s *Store) model.ReadSet {
		var reads model.ReadSet
		err := s.RunInTx(ctx, func(ctx context.Context, tx model.Tx) error {
			_, err := tx.Artifacts(ctx, []int64{10})
			return err
		}, model.ReadOnly(&reads))
		if err != nil {
			t.Fatalf("reading: %v", err)
		}
		return reads
	}
	attach := func(ctx context.Context, tx model.Tx) error { return tx.AttachBuild(ctx, 2, 1) }
	for _, tc := range []struct {
		name    string
		between func(ctx context.Context, tx model.Tx) error
		want    error
	}{
		{
			name:    "unrelated write",
			between: func(ctx context.Context, tx model.Tx) error { return tx.UpdateArtifact(ctx, model.Artifact{ID: 21, TaskID: 11, Href: "/x"}) },
		},
		{
			name:    "guarded record changed",
			between: func(ctx context.Context, tx model.Tx) error { return tx.UpdateArtifact(ctx, model.Artifact{ID: 20, TaskID: 10, Href: "/x"}) },
			want:    model.ErrStale,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := seed()
			reads := readTask(s)
			if err := s.RunInTx(ctx, tc.between); err != nil {
				t.Fatalf("concurrent write: %v", err)
			}
			err := s.RunInTx(ctx, attach, model.IfUnchanged(reads))
			if !errors.Is(err, tc.want) {
				t.Fatalf("guarded RunInTx() = %v, want %v", err, tc.want)
			}
			attached := len(s.Snapshot().Products[2].BuildIDs) == 1
			if attached != (tc.want == nil) {
				t.Errorf("attached = %v after %v", attached, err)
			}
		})
	}
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	s := seed()
	err := s.RunInTx(ctx, func(ctx context.Context, tx model.Tx) error {
		tasks, err := tx.Tasks(ctx, 1, 0)
		if err != nil {
			return err
		}
		var ids []int64
		for _, task := range tasks {
			ids = append(ids, task.ID)
		}
		if diff := cmp.Diff([]int64{10, 11}, ids); diff != "" {
			t.Errorf("Tasks() mismatch (-want +got):\n%s", diff)
		}
		all, err := tx.Tasks(ctx, 1, model.AllIndexes)
		if err != nil {
			return err
		}
		if len(all) != 3 {
			t.Errorf("Tasks(AllIndexes) returned %d tasks, want 3", len(all))
		}
		arts, err := tx.Artifacts(ctx, []int64{11, 10})
		if err != nil {
			return err
		}
		if diff := cmp.Diff([]string{"a.rpm", "b.rpm"}, []string{arts[0].Name, arts[1].Name}); diff != "" {
			t.Errorf("Artifacts() order mismatch (-want +got):\n%s", diff)
		}
		if _, err := tx.Build(ctx, 99); !errors.Is(err, model.ErrNotFound) {
			t.Errorf("Build(99) = %v, want ErrNotFound", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx() = %v", err)
	}
}

func TestLoad(t *testing.T) {
	s, err := Load(strings.NewReader(`{"builds": {"5": {"id": 5, "owner": "bob"}}}`))
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if got := s.Snapshot().Builds[5].Owner; got != "bob" {
		t.Errorf("owner = %q, want bob", got)
	}
}
