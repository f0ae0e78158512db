// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package pulp

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/m10k/albs-web-server/internal/httpx/httpxtest"
	"github.com/m10k/albs-web-server/internal/urlx"
	"github.com/pkg/errors"
)

const host = "https://pulp.example.com"

func TestListPackages(t *testing.T) {
	client := &httpxtest.MockClient{
		Calls: []httpxtest.Call{
			{
				URL:      host + "/pulp/api/v3/repositories/rpm/rpm/r1/",
				Response: httpxtest.JSON(`{"latest_version_href": "/pulp/api/v3/repositories/rpm/rpm/r1/versions/3/"}`),
			},
			{
				URL:      host + "/pulp/api/v3/content/rpm/packages/?fields=pulp_href%2Carch&limit=2&repository_version=%2Fpulp%2Fapi%2Fv3%2Frepositories%2Frpm%2Frpm%2Fr1%2Fversions%2F3%2F",
				Response: httpxtest.JSON(`{"next": "` + host + `/pulp/api/v3/content/rpm/packages/?offset=2", "results": [{"pulp_href": "/p/1/", "arch": "noarch"}, {"pulp_href": "/p/2/", "arch": "x86_64"}]}`),
			},
			{
				URL:      host + "/pulp/api/v3/content/rpm/packages/?offset=2",
				Response: httpxtest.JSON(`{"next": null, "results": [{"pulp_href": "/p/3/", "arch": "src"}]}`),
			},
		},
		URLValidator: httpxtest.NewURLValidator(t),
	}
	c := &HTTPClient{Client: client, Host: urlx.MustParse(host), PageSize: 2}
	got, err := c.ListPackages(context.Background(), "/pulp/api/v3/repositories/rpm/rpm/r1/", "pulp_href", "arch")
	if err != nil {
		t.Fatalf("ListPackages() = %v", err)
	}
	want := []Package{{PulpHref: "/p/1/", Arch: "noarch"}, {PulpHref: "/p/2/", Arch: "x86_64"}, {PulpHref: "/p/3/", Arch: "src"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListPackages() mismatch (-want +got):\n%s", diff)
	}
}

func TestListPackagesEmptyRepository(t *testing.T) {
	client := &httpxtest.MockClient{
		Calls: []httpxtest.Call{
			{URL: host + "/pulp/api/v3/repositories/rpm/rpm/r1/", Response: httpxtest.JSON(`{"latest_version_href": ""}`)},
		},
		URLValidator: httpxtest.NewURLValidator(t),
	}
	c := &HTTPClient{Client: client, Host: urlx.MustParse(host)}
	got, err := c.ListPackages(context.Background(), "/pulp/api/v3/repositories/rpm/rpm/r1/")
	if err != nil || len(got) != 0 {
		t.Errorf("ListPackages() = %v, %v; want empty", got, err)
	}
}

func TestModifyRepository(t *testing.T) {
	client := &httpxtest.MockClient{
		Calls: []httpxtest.Call{
			{Method: "POST", URL: host + "/pulp/api/v3/repositories/rpm/rpm/r1/modify/", Response: httpxtest.JSON(`{"task": "/pulp/api/v3/tasks/t1/"}`)},
			{Method: "GET", URL: host + "/pulp/api/v3/tasks/t1/", Response: httpxtest.JSON(`{"state": "running"}`)},
			{Method: "GET", URL: host + "/pulp/api/v3/tasks/t1/", Response: httpxtest.JSON(`{"state": "completed"}`)},
		},
		URLValidator: httpxtest.NewURLValidator(t),
	}
	c := &HTTPClient{Client: client, Host: urlx.MustParse(host)}
	if err := c.ModifyRepository(context.Background(), "/pulp/api/v3/repositories/rpm/rpm/r1/", []string{"/p/1/"}, nil); err != nil {
		t.Fatalf("ModifyRepository() = %v", err)
	}
	if client.CallCount() != 3 {
		t.Errorf("CallCount() = %d, want 3", client.CallCount())
	}
}

func TestModifyRepositoryNoop(t *testing.T) {
	c := &HTTPClient{Client: &httpxtest.MockClient{SkipURLValidation: true}, Host: urlx.MustParse(host)}
	if err := c.ModifyRepository(context.Background(), "/r/", nil, nil); err != nil {
		t.Errorf("ModifyRepository() with no changes = %v", err)
	}
}

func TestCreatePublicationTaskFailure(t *testing.T) {
	client := &httpxtest.MockClient{
		Calls: []httpxtest.Call{
			{Method: "POST", URL: host + "/pulp/api/v3/publications/rpm/rpm/", Response: httpxtest.JSON(`{"task": "/pulp/api/v3/tasks/t2/"}`)},
			{Method: "GET", URL: host + "/pulp/api/v3/tasks/t2/", Response: httpxtest.JSON(`{"state": "failed", "error": {"description": "metadata conflict"}}`)},
		},
		URLValidator: httpxtest.NewURLValidator(t),
	}
	c := &HTTPClient{Client: client, Host: urlx.MustParse(host)}
	err := c.CreatePublication(context.Background(), "/pulp/api/v3/repositories/rpm/rpm/r1/")
	var te *TaskError
	if !errors.As(err, &te) {
		t.Fatalf("CreatePublication() = %v, want *TaskError", err)
	}
	if te.Description != "metadata conflict" {
		t.Errorf("TaskError.Description = %q", te.Description)
	}
}

func TestStatusErrors(t *testing.T) {
	client := &httpxtest.MockClient{
		Calls: []httpxtest.Call{
			{URL: host + "/pulp/api/v3/repositories/rpm/rpm/missing/", Response: httpxtest.Status(404)},
		},
		URLValidator: httpxtest.NewURLValidator(t),
	}
	c := &HTTPClient{Client: client, Host: urlx.MustParse(host)}
	if _, err := c.ListPackages(context.Background(), "/pulp/api/v3/repositories/rpm/rpm/missing/"); err == nil {
		t.Error("ListPackages() on a missing repository succeeded")
	}
}
