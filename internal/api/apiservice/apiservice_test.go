// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package apiservice

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/m10k/albs-web-server/pkg/act/api"
	"github.com/m10k/albs-web-server/pkg/assets"
	"github.com/m10k/albs-web-server/pkg/model"
	"github.com/m10k/albs-web-server/pkg/modref"
	"github.com/m10k/albs-web-server/pkg/noarch"
	"github.com/m10k/albs-web-server/pkg/productsync"
	"github.com/m10k/albs-web-server/pkg/registry/pulp/pulptest"
	"github.com/m10k/albs-web-server/pkg/schema"
	"github.com/m10k/albs-web-server/pkg/source"
	"github.com/m10k/albs-web-server/pkg/store/memstore"
	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const template = `---
document: modulemd
version: 2
data:
  name: nodejs
  stream: "14"
  summary: Javascript runtime
  components:
    rpms:
      nodejs:
        rationale: Javascript runtime
        ref: 0000000000000000000000000000000000000000
...
`

type templateSource struct{}

func (templateSource) Branch(_ context.Context, repo, branch string) (string, error) {
	if repo == "rpms/nodejs" && branch == "c8-stream-14" {
		return "n1", nil
	}
	return "", errors.Wrap(source.ErrNotFound, repo)
}

func (templateSource) Tags(context.Context, string) ([]source.Tag, error) { return nil, nil }

func (templateSource) RawFile(_ context.Context, repo string, _ source.RefType, ref, path string) ([]byte, error) {
	if repo == "modules/nodejs" && ref == "c8-stream-14" && path == modref.TemplatePath {
		return []byte(template), nil
	}
	return nil, errors.Wrap(source.ErrNotFound, path)
}

func platforms() memstore.Data {
	return memstore.Data{
		Platforms: map[int64]model.Platform{
			1: {
				ID:           1,
				Name:         "AlmaLinux-8",
				DistrVersion: "8",
				Modularity: model.Modularity{
					GitTagPrefix: model.GitTagPrefix{Modified: "a8", NonModified: "c8"},
					PackagesGit:  "https://git.almalinux.org/rpms/",
				},
			},
		},
	}
}

func TestModulePreview(t *testing.T) {
	ctx := context.Background()
	store := assets.NewFilesystemStore(memfs.New())
	deps := &ModulePreviewDeps{
		Store:    memstore.New(platforms()),
		Resolver: &modref.Resolver{Source: templateSource{}},
		Assets:   store,
	}
	req := schema.ModulePreviewRequest{
		Ref: modref.TaskRef{
			URL:     "https://git.almalinux.org/modules/nodejs.git",
			GitRef:  "c8-stream-14",
			RefType: source.GitBranch,
		},
		PlatformName: "AlmaLinux-8",
		Arches:       []string{"x86_64"},
	}
	resp, err := ModulePreview(ctx, req, deps)
	if err != nil {
		t.Fatalf("ModulePreview() = %v", err)
	}
	if _, err := uuid.Parse(resp.RequestID); err != nil {
		t.Errorf("RequestID %q is not a uuid: %v", resp.RequestID, err)
	}
	if resp.ModuleName != "nodejs" || resp.ModuleStream != "14" {
		t.Errorf("module = %s:%s, want nodejs:14", resp.ModuleName, resp.ModuleStream)
	}
	wantRefs := []string{"https://git.almalinux.org/rpms/nodejs.git@n1"}
	var gotRefs []string
	for _, r := range resp.Refs {
		gotRefs = append(gotRefs, r.URL+"@"+r.CommitID)
	}
	if diff := cmp.Diff(wantRefs, gotRefs); diff != "" {
		t.Errorf("refs mismatch (-want +got):\n%s", diff)
	}
	asset := assets.Asset{Type: assets.ModulesYAML, Module: "nodejs", Stream: "14", RequestID: resp.RequestID}
	if got, want := resp.ModulesURL, store.URL(asset).String(); got != want {
		t.Errorf("ModulesURL = %s, want %s", got, want)
	}
	r, err := store.Reader(ctx, asset)
	if err != nil {
		t.Fatalf("reading stored modules.yaml: %v", err)
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != resp.ModulesYAML {
		t.Errorf("stored modules.yaml differs from response")
	}
	if !strings.Contains(resp.ModulesYAML, "ref: n1") {
		t.Errorf("modules.yaml lacks resolved ref:\n%s", resp.ModulesYAML)
	}
	asset.Type = assets.PreviewJSON
	if _, err := store.Reader(ctx, asset); err != nil {
		t.Errorf("reading stored preview: %v", err)
	}
}

func TestModulePreviewRequestID(t *testing.T) {
	ctx := api.WithRequestID(context.Background(), "req-7")
	store := assets.NewFilesystemStore(memfs.New())
	deps := &ModulePreviewDeps{
		Store:    memstore.New(platforms()),
		Resolver: &modref.Resolver{Source: templateSource{}},
		Assets:   store,
	}
	req := schema.ModulePreviewRequest{
		Ref:          modref.TaskRef{URL: "https://git.almalinux.org/modules/nodejs.git", GitRef: "c8-stream-14", RefType: source.GitBranch},
		PlatformName: "AlmaLinux-8",
		Arches:       []string{"x86_64"},
	}
	resp, err := ModulePreview(ctx, req, deps)
	if err != nil {
		t.Fatalf("ModulePreview() = %v", err)
	}
	if resp.RequestID != "req-7" {
		t.Errorf("RequestID = %q, want req-7", resp.RequestID)
	}
	asset := assets.Asset{Type: assets.PreviewJSON, Module: "nodejs", Stream: "14", RequestID: "req-7"}
	if _, err := store.Reader(ctx, asset); err != nil {
		t.Errorf("reading preview stored under the request id: %v", err)
	}
}

func TestModulePreviewErrors(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		name string
		req  schema.ModulePreviewRequest
		want codes.Code
	}{
		{
			name: "unknown platform",
			req: schema.ModulePreviewRequest{
				Ref:          modref.TaskRef{URL: "https://git.almalinux.org/modules/nodejs.git", GitRef: "c8-stream-14", RefType: source.GitBranch},
				PlatformName: "AlmaLinux-9",
				Arches:       []string{"x86_64"},
			},
			want: codes.NotFound,
		},
		{
			name: "missing template",
			req: schema.ModulePreviewRequest{
				Ref:          modref.TaskRef{URL: "https://git.almalinux.org/modules/nodejs.git", GitRef: "c8-stream-16", RefType: source.GitBranch},
				PlatformName: "AlmaLinux-8",
				Arches:       []string{"x86_64"},
			},
			want: codes.NotFound,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			deps := &ModulePreviewDeps{
				Store:    memstore.New(platforms()),
				Resolver: &modref.Resolver{Source: templateSource{}},
			}
			_, err := ModulePreview(ctx, tc.req, deps)
			if got := status.Code(err); got != tc.want {
				t.Errorf("ModulePreview() code = %v, want %v (err=%v)", got, tc.want, err)
			}
		})
	}
}

func TestNoarchReconcile(t *testing.T) {
	ctx := context.Background()
	data := memstore.Data{
		Builds: map[int64]model.Build{1: {ID: 1, RepositoryIDs: []int64{20, 21}}},
		Tasks: map[int64]model.BuildTask{
			10: {ID: 10, BuildID: 1, Arch: "x86_64", Status: model.TaskCompleted},
			11: {ID: 11, BuildID: 1, Arch: "i686", Status: model.TaskCompleted},
		},
		Artifacts: map[int64]model.Artifact{
			100: {ID: 100, TaskID: 10, Name: "foo-1.0-1.noarch.rpm", Type: model.TypeRPM, Href: "/c/foo-x86"},
			110: {ID: 110, TaskID: 11, Name: "foo-1.0-1.noarch.rpm", Type: model.TypeRPM, Href: "/c/foo-i686"},
		},
		Repositories: map[int64]model.Repository{
			20: {ID: 20, Arch: "x86_64", Type: model.TypeRPM, Href: "/r/x86"},
			21: {ID: 21, Arch: "i686", Type: model.TypeRPM, Href: "/r/i686"},
		},
	}
	repos := &pulptest.Fake{}
	deps := &NoarchReconcileDeps{Reconciler: &noarch.Reconciler{Store: memstore.New(data), Repos: repos}}
	if _, err := NoarchReconcile(ctx, schema.NoarchReconcileRequest{TaskID: 10}, deps); err != nil {
		t.Fatalf("NoarchReconcile() = %v", err)
	}
	mods, _ := repos.Recorded()
	want := []pulptest.Modification{{Repo: "/r/i686", Add: []string{"/c/foo-x86"}, Remove: []string{"/c/foo-i686"}}}
	if diff := cmp.Diff(want, mods); diff != "" {
		t.Errorf("modifications mismatch (-want +got):\n%s", diff)
	}
	_, err := NoarchReconcile(ctx, schema.NoarchReconcileRequest{TaskID: 404}, deps)
	if got := status.Code(err); got != codes.NotFound {
		t.Errorf("NoarchReconcile(404) code = %v, want NotFound", got)
	}
}

func TestProductModifyErrors(t *testing.T) {
	ctx := context.Background()
	deps := &ProductModifyDeps{Synchronizer: &productsync.Synchronizer{Store: memstore.New(memstore.Data{}), Repos: &pulptest.Fake{}}}
	for _, tc := range []struct {
		name string
		req  schema.ProductModifyRequest
		want codes.Code
	}{
		{
			name: "bad modification",
			req:  schema.ProductModifyRequest{BuildID: 1, ProductID: 2, Modification: "replace"},
			want: codes.InvalidArgument,
		},
		{
			name: "unknown product",
			req:  schema.ProductModifyRequest{BuildID: 1, ProductID: 2, Modification: "add"},
			want: codes.NotFound,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ProductModify(ctx, tc.req, deps)
			if got := status.Code(err); got != tc.want {
				t.Errorf("ProductModify() code = %v, want %v (err=%v)", got, tc.want, err)
			}
		})
	}
}

func TestAsStatus(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		want codes.Code
	}{
		{name: "nil", err: nil, want: codes.OK},
		{name: "missing record", err: errors.Wrap(model.ErrNotFound, "build 3"), want: codes.NotFound},
		{name: "link", err: errors.Wrap(&productsync.LinkResolutionError{Kind: "build", Repository: "x"}, "add"), want: codes.FailedPrecondition},
		{name: "conflict", err: memstore.ErrConflict, want: codes.Aborted},
		{name: "stale read", err: errors.Wrap(model.ErrStale, "tasks/70"), want: codes.Aborted},
		{name: "deadline", err: errors.Wrap(context.DeadlineExceeded, "listing"), want: codes.DeadlineExceeded},
		{name: "wrapped status", err: errors.Wrap(status.Error(codes.Aborted, "contention"), "commit"), want: codes.Aborted},
		{name: "other", err: errors.New("boom"), want: codes.Internal},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := status.Code(asStatus(tc.err)); got != tc.want {
				t.Errorf("asStatus() code = %v, want %v", got, tc.want)
			}
		})
	}
}
