// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package gitremote implements source.Client by cloning repositories with go-git.
//
// A Client clones each repository once and answers later calls from that
// clone, so it suits a single resolution pass.
package gitremote

import (
	"context"
	"io"
	"log"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/m10k/albs-web-server/internal/cache"
	"github.com/m10k/albs-web-server/pkg/source"
	"github.com/pkg/errors"
)

// OpenFunc returns the repository at a host-relative path.
type OpenFunc func(ctx context.Context, repo string) (*git.Repository, error)

// CloneFrom returns an OpenFunc cloning bare repositories from baseURL into memory.
func CloneFrom(baseURL string) OpenFunc {
	return func(ctx context.Context, repo string) (*git.Repository, error) {
		u := strings.TrimSuffix(baseURL, "/") + "/" + repo + ".git"
		log.Printf("cloning %s", u)
		r, err := git.CloneContext(ctx, memory.NewStorage(), nil, &git.CloneOptions{
			URL:        u,
			NoCheckout: true,
			Tags:       git.AllTags,
		})
		if errors.Is(err, transport.ErrRepositoryNotFound) {
			return nil, errors.Wrap(source.ErrNotFound, repo)
		} else if err != nil {
			return nil, errors.Wrapf(err, "cloning %s", u)
		}
		return r, nil
	}
}

// Client is a source.Client over go-git repositories.
type Client struct {
	Open  OpenFunc
	repos cache.CoalescingMemoryCache
}

var _ source.Client = &Client{}

func (c *Client) repo(ctx context.Context, name string) (*git.Repository, error) {
	v, err := c.repos.GetOrSet(name, func() (any, error) { return c.Open(ctx, name) })
	if err != nil {
		return nil, err
	}
	return v.(*git.Repository), nil
}

func (c *Client) branchHash(r *git.Repository, name string) (plumbing.Hash, error) {
	for _, ref := range []plumbing.ReferenceName{
		plumbing.NewBranchReferenceName(name),
		plumbing.NewRemoteReferenceName(git.DefaultRemoteName, name),
	} {
		if h, err := r.Reference(ref, true); err == nil {
			return h.Hash(), nil
		} else if err != plumbing.ErrReferenceNotFound {
			return plumbing.ZeroHash, err
		}
	}
	return plumbing.ZeroHash, errors.Wrapf(source.ErrNotFound, "branch %s", name)
}

// Branch implements source.Client.
func (c *Client) Branch(ctx context.Context, repo, name string) (string, error) {
	r, err := c.repo(ctx, repo)
	if err != nil {
		return "", err
	}
	h, err := c.branchHash(r, name)
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

// Tags implements source.Client.
func (c *Client) Tags(ctx context.Context, repo string) ([]source.Tag, error) {
	r, err := c.repo(ctx, repo)
	if err != nil {
		return nil, err
	}
	iter, err := r.Tags()
	if err != nil {
		return nil, errors.Wrap(err, "listing tags")
	}
	var out []source.Tag
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		t := source.Tag{Name: ref.Name().Short(), ID: ref.Hash().String(), Commit: ref.Hash().String()}
		if obj, err := r.TagObject(ref.Hash()); err == nil {
			commit, err := obj.Commit()
			if err != nil {
				return errors.Wrapf(err, "peeling tag %s", t.Name)
			}
			t.Commit = commit.Hash.String()
		} else if err != plumbing.ErrObjectNotFound {
			return err
		}
		out = append(out, t)
		return nil
	})
	return out, err
}

// RawFile implements source.Client.
func (c *Client) RawFile(ctx context.Context, repo string, refType source.RefType, ref, path string) ([]byte, error) {
	r, err := c.repo(ctx, repo)
	if err != nil {
		return nil, err
	}
	var h plumbing.Hash
	switch refType {
	case source.GitTag:
		tr, err := r.Tag(ref)
		if err == git.ErrTagNotFound {
			return nil, errors.Wrapf(source.ErrNotFound, "tag %s", ref)
		} else if err != nil {
			return nil, err
		}
		h = tr.Hash()
		if obj, err := r.TagObject(h); err == nil {
			h = obj.Target
		}
	case source.GitRef:
		h = plumbing.NewHash(ref)
	default:
		if h, err = c.branchHash(r, ref); err != nil {
			return nil, err
		}
	}
	commit, err := r.CommitObject(h)
	if err == plumbing.ErrObjectNotFound {
		return nil, errors.Wrapf(source.ErrNotFound, "commit %s", h)
	} else if err != nil {
		return nil, err
	}
	f, err := commit.File(path)
	if err == object.ErrFileNotFound {
		return nil, errors.Wrapf(source.ErrNotFound, "file %s", path)
	} else if err != nil {
		return nil, err
	}
	rd, err := f.Reader()
	if err != nil {
		return nil, err
	}
	defer rd.Close()
	return io.ReadAll(rd)
}
