// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package pulp is a client for the package repository content service.
package pulp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/m10k/albs-web-server/internal/httpx"
	"github.com/m10k/albs-web-server/internal/ratex"
	"github.com/m10k/albs-web-server/internal/urlx"
	"github.com/pkg/errors"
)

// Package is an RPM content unit. Only the fields requested from the service are set.
type Package struct {
	PulpHref     string `json:"pulp_href"`
	Artifact     string `json:"artifact,omitempty"`
	SHA256       string `json:"sha256,omitempty"`
	LocationHref string `json:"location_href,omitempty"`
	Arch         string `json:"arch,omitempty"`
}

// PackageFields are the fields needed to match packages across repositories.
var PackageFields = []string{"pulp_href", "artifact", "sha256", "location_href", "arch"}

// Client mutates and lists repository content.
type Client interface {
	// ListPackages returns every package in the latest version of the repository.
	ListPackages(ctx context.Context, repoHref string, fields ...string) ([]Package, error)
	// ModifyRepository adds and removes content units and waits for the change to land.
	ModifyRepository(ctx context.Context, repoHref string, add, remove []string) error
	// CreatePublication publishes the latest repository version and waits for it.
	CreatePublication(ctx context.Context, repoHref string) error
}

// TaskError reports an asynchronous service task that did not complete.
type TaskError struct {
	Href        string
	State       string
	Description string
}

func (e *TaskError) Error() string {
	if e.Description == "" {
		return "task " + e.Href + " " + e.State
	}
	return "task " + e.Href + " " + e.State + ": " + e.Description
}

// HTTPClient is a Client using the service's REST API.
type HTTPClient struct {
	Client httpx.BasicClient
	Host   *url.URL
	// PollInterval is the first delay between task status checks. Later checks
	// back off. Values below ratex.MinDelay are raised to it.
	PollInterval time.Duration
	// PageSize bounds listing pages. Zero uses the service default.
	PageSize int
}

var _ Client = &HTTPClient{}

func (c *HTTPClient) resolve(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return urlx.Join(c.Host, nil, href).String()
}

func (c *HTTPClient) do(ctx context.Context, method, href string, body any, out any) error {
	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.resolve(href), payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, href)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Wrap(httpx.NewStatusError(resp), "pulp error")
	}
	if out == nil {
		return nil
	}
	return errors.Wrapf(json.NewDecoder(resp.Body).Decode(out), "decoding %s", href)
}

type repository struct {
	LatestVersionHref string `json:"latest_version_href"`
}

type page struct {
	Next    *string   `json:"next"`
	Results []Package `json:"results"`
}

// ListPackages implements Client.
func (c *HTTPClient) ListPackages(ctx context.Context, repoHref string, fields ...string) ([]Package, error) {
	var repo repository
	if err := c.do(ctx, http.MethodGet, repoHref, nil, &repo); err != nil {
		return nil, err
	}
	if repo.LatestVersionHref == "" {
		return nil, nil
	}
	q := url.Values{"repository_version": {repo.LatestVersionHref}}
	if len(fields) > 0 {
		q.Set("fields", strings.Join(fields, ","))
	}
	if c.PageSize > 0 {
		q.Set("limit", strconv.Itoa(c.PageSize))
	}
	next := urlx.Join(c.Host, q, "/pulp/api/v3/content/rpm/packages/").String()
	var pkgs []Package
	for next != "" {
		var p page
		if err := c.do(ctx, http.MethodGet, next, nil, &p); err != nil {
			return nil, err
		}
		pkgs = append(pkgs, p.Results...)
		next = ""
		if p.Next != nil {
			next = *p.Next
		}
	}
	return pkgs, nil
}

type taskRef struct {
	Task string `json:"task"`
}

type task struct {
	PulpHref string `json:"pulp_href"`
	State    string `json:"state"`
	Error    *struct {
		Description string `json:"description"`
	} `json:"error"`
}

type modifyRequest struct {
	Add    []string `json:"add_content_units,omitempty"`
	Remove []string `json:"remove_content_units,omitempty"`
}

// ModifyRepository implements Client.
func (c *HTTPClient) ModifyRepository(ctx context.Context, repoHref string, add, remove []string) error {
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}
	var ref taskRef
	if err := c.do(ctx, http.MethodPost, strings.TrimSuffix(repoHref, "/")+"/modify/", modifyRequest{Add: add, Remove: remove}, &ref); err != nil {
		return errors.Wrapf(err, "modifying %s", repoHref)
	}
	log.Printf("modifying repository %s: add=%d remove=%d task=%s", repoHref, len(add), len(remove), ref.Task)
	return c.wait(ctx, ref.Task)
}

// CreatePublication implements Client.
func (c *HTTPClient) CreatePublication(ctx context.Context, repoHref string) error {
	var ref taskRef
	if err := c.do(ctx, http.MethodPost, "/pulp/api/v3/publications/rpm/rpm/", map[string]string{"repository": repoHref}, &ref); err != nil {
		return errors.Wrapf(err, "publishing %s", repoHref)
	}
	return c.wait(ctx, ref.Task)
}

// maxPollInterval caps the delay between task status checks.
const maxPollInterval = 10 * time.Second

func (c *HTTPClient) wait(ctx context.Context, href string) error {
	poll := ratex.Backoff{Minimum: c.PollInterval, Maximum: maxPollInterval}
	for {
		var t task
		if err := c.do(ctx, http.MethodGet, href, nil, &t); err != nil {
			return err
		}
		switch t.State {
		case "completed":
			return nil
		case "failed", "canceled", "skipped":
			e := &TaskError{Href: href, State: t.State}
			if t.Error != nil {
				e.Description = t.Error.Description
			}
			return e
		}
		if err := poll.Wait(ctx); err != nil {
			return err
		}
	}
}
