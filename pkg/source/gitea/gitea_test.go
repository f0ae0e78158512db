// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package gitea

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/m10k/albs-web-server/internal/httpx/httpxtest"
	"github.com/m10k/albs-web-server/internal/urlx"
	"github.com/m10k/albs-web-server/pkg/source"
	"github.com/pkg/errors"
)

const host = "https://git.example.org"

func TestBranch(t *testing.T) {
	client := &httpxtest.MockClient{
		Calls: []httpxtest.Call{
			{URL: host + "/api/v1/repos/rpms/golang/branches/c8-stream-rhel8", Response: httpxtest.JSON(`{"name": "c8-stream-rhel8", "commit": {"id": "abc123"}}`)},
			{URL: host + "/api/v1/repos/rpms/delve/branches/c8-stream-rhel8", Response: httpxtest.Status(404)},
			{URL: host + "/api/v1/repos/rpms/go-toolset/branches/c8-stream-rhel8", Response: httpxtest.Status(502)},
		},
		URLValidator: httpxtest.NewURLValidator(t),
	}
	c := &Client{Client: client, Host: urlx.MustParse(host)}
	ctx := context.Background()
	id, err := c.Branch(ctx, "rpms/golang", "c8-stream-rhel8")
	if err != nil || id != "abc123" {
		t.Errorf("Branch(golang) = %q, %v; want abc123", id, err)
	}
	if _, err := c.Branch(ctx, "rpms/delve", "c8-stream-rhel8"); !errors.Is(err, source.ErrNotFound) {
		t.Errorf("Branch(delve) = %v, want ErrNotFound", err)
	}
	if _, err := c.Branch(ctx, "rpms/go-toolset", "c8-stream-rhel8"); err == nil || errors.Is(err, source.ErrNotFound) {
		t.Errorf("Branch(go-toolset) = %v, want a non-NotFound error", err)
	}
}

func TestTagsPaginates(t *testing.T) {
	const (
		first  = `[{"name": "imports/c8-stream-rhel8/golang-1.16.7-1.module+el8.5.0+12+1aae3f", "id": "t1", "commit": {"sha": "abc123"}}, {"name": "v2", "id": "t2", "commit": {"sha": "def"}}]`
		second = `[{"name": "v3", "id": "t3"}]`
	)
	tests := []struct {
		name     string
		pageSize int
		pages    []string
	}{
		{
			name:     "short last page",
			pageSize: 2,
			pages:    []string{first, second, `[]`},
		},
		{
			name:     "host caps page size",
			pageSize: 0,
			pages:    []string{first, second, `[]`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit := tt.pageSize
			if limit == 0 {
				limit = DefaultPageSize
			}
			var calls []httpxtest.Call
			for i, body := range tt.pages {
				calls = append(calls, httpxtest.Call{
					URL:      fmt.Sprintf("%s/api/v1/repos/rpms/golang/tags?limit=%d&page=%d", host, limit, i+1),
					Response: httpxtest.JSON(body),
				})
			}
			client := &httpxtest.MockClient{Calls: calls, URLValidator: httpxtest.NewURLValidator(t)}
			c := &Client{Client: client, Host: urlx.MustParse(host), PageSize: tt.pageSize}
			got, err := c.Tags(context.Background(), "rpms/golang")
			if err != nil {
				t.Fatalf("Tags() = %v", err)
			}
			want := []source.Tag{
				{Name: "imports/c8-stream-rhel8/golang-1.16.7-1.module+el8.5.0+12+1aae3f", ID: "t1", Commit: "abc123"},
				{Name: "v2", ID: "t2", Commit: "def"},
				{Name: "v3", ID: "t3"},
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("Tags() mismatch (-want +got):\n%s", diff)
			}
			if got[2].Target() != "t3" {
				t.Errorf("Target() of lightweight tag = %q, want t3", got[2].Target())
			}
			if client.CallCount() != len(tt.pages) {
				t.Errorf("made %d requests, want %d", client.CallCount(), len(tt.pages))
			}
		})
	}
}

func TestRawFile(t *testing.T) {
	client := &httpxtest.MockClient{
		Calls: []httpxtest.Call{
			{URL: host + "/modules/go-toolset/raw/branch/c8-stream-rhel8/SOURCES/modulemd.src.txt", Response: httpxtest.JSON("document: modulemd\n")},
			{URL: host + "/modules/go-toolset/raw/tag/v1/SOURCES/modulemd.src.txt", Response: httpxtest.Status(404)},
		},
		URLValidator: httpxtest.NewURLValidator(t),
	}
	c := &Client{Client: client, Host: urlx.MustParse(host)}
	ctx := context.Background()
	got, err := c.RawFile(ctx, "modules/go-toolset", source.GitBranch, "c8-stream-rhel8", "SOURCES/modulemd.src.txt")
	if err != nil || string(got) != "document: modulemd\n" {
		t.Errorf("RawFile() = %q, %v", got, err)
	}
	if _, err := c.RawFile(ctx, "modules/go-toolset", source.GitTag, "v1", "SOURCES/modulemd.src.txt"); !errors.Is(err, source.ErrNotFound) {
		t.Errorf("RawFile() of missing file = %v, want ErrNotFound", err)
	}
}
