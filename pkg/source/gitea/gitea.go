// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package gitea implements source.Client over the Gitea REST API.
package gitea

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/m10k/albs-web-server/internal/httpx"
	"github.com/m10k/albs-web-server/internal/urlx"
	"github.com/m10k/albs-web-server/pkg/source"
	"github.com/pkg/errors"
)

// DefaultPageSize is the tag page size requested from the host.
const DefaultPageSize = 50

// Client is a source.Client for a Gitea instance.
type Client struct {
	Client   httpx.BasicClient
	Host     *url.URL
	PageSize int
}

var _ source.Client = &Client{}

func (c *Client) get(ctx context.Context, u *url.URL) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, errors.Wrap(source.ErrNotFound, u.Path)
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, errors.Wrap(httpx.NewStatusError(resp), "gitea error")
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, u *url.URL, out any) error {
	resp, err := c.get(ctx, u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return errors.Wrapf(json.NewDecoder(resp.Body).Decode(out), "decoding %s", u.Path)
}

type branch struct {
	Commit struct {
		ID string `json:"id"`
	} `json:"commit"`
}

// Branch implements source.Client.
func (c *Client) Branch(ctx context.Context, repo, name string) (string, error) {
	var b branch
	if err := c.getJSON(ctx, urlx.Join(c.Host, nil, "api/v1/repos", repo, "branches", name), &b); err != nil {
		return "", err
	}
	return b.Commit.ID, nil
}

type tag struct {
	Name   string `json:"name"`
	ID     string `json:"id"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

// Tags implements source.Client. Pages are fetched until an empty page is
// returned since the host may serve fewer tags per page than requested.
func (c *Client) Tags(ctx context.Context, repo string) ([]source.Tag, error) {
	limit := c.PageSize
	if limit <= 0 {
		limit = DefaultPageSize
	}
	var out []source.Tag
	for page := 1; ; page++ {
		q := url.Values{"page": {strconv.Itoa(page)}, "limit": {strconv.Itoa(limit)}}
		var tags []tag
		if err := c.getJSON(ctx, urlx.Join(c.Host, q, "api/v1/repos", repo, "tags"), &tags); err != nil {
			return nil, err
		}
		for _, t := range tags {
			out = append(out, source.Tag{Name: t.Name, ID: t.ID, Commit: t.Commit.SHA})
		}
		if len(tags) == 0 {
			return out, nil
		}
	}
}

// RawFile implements source.Client.
func (c *Client) RawFile(ctx context.Context, repo string, refType source.RefType, ref, path string) ([]byte, error) {
	resp, err := c.get(ctx, urlx.Join(c.Host, nil, repo, "raw", refType.RawKind(), ref, path))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
