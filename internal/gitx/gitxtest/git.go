// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package gitxtest builds in-memory git repositories from commit listings.
package gitxtest

import (
	"bytes"
	"io"
	"path"
	"slices"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type FileContent map[string]string

// Commit describes one commit to create. Commits are created in order and
// may only refer to earlier commits by ID. Annotated makes every tag of the
// commit an annotated tag.
type Commit struct {
	ID        string      `yaml:"id"`
	Message   string      `yaml:"message"`
	Author    string      `yaml:"author,omitempty"`
	Parent    string      `yaml:"parent,omitempty"`
	Parents   []string    `yaml:"parents,omitempty"`
	Branch    string      `yaml:"branch,omitempty"`
	Tag       string      `yaml:"tag,omitempty"`
	Tags      []string    `yaml:"tags,omitempty"`
	Annotated bool        `yaml:"annotated,omitempty"`
	Files     FileContent `yaml:"files"`
}

type GitHistory struct {
	Commits []Commit `yaml:"commits"`
}

type Repository struct {
	*git.Repository
	Commits map[string]plumbing.Hash
}

type RepositoryOptions struct {
	Storer   storage.Storer
	Worktree billy.Filesystem
}

func CreateRepoFromYAML(content string, opts *RepositoryOptions) (*Repository, error) {
	var history GitHistory
	d := yaml.NewDecoder(bytes.NewReader([]byte(content)))
	d.KnownFields(true)
	if err := d.Decode(&history); err != nil {
		return nil, err
	}
	return CreateRepo(history.Commits, opts)
}

func CreateRepo(commits []Commit, opts *RepositoryOptions) (*Repository, error) {
	s, wfs := storage.Storer(memory.NewStorage()), billy.Filesystem(memfs.New())
	if opts != nil && opts.Storer != nil {
		s = opts.Storer
	}
	if opts != nil && opts.Worktree != nil {
		wfs = opts.Worktree
	}
	r, err := git.Init(s, wfs)
	if err != nil {
		return nil, errors.Wrap(err, "initializing repo")
	}
	repo := &Repository{Repository: r, Commits: make(map[string]plumbing.Hash)}
	w, err := repo.Worktree()
	if err != nil {
		return nil, errors.Wrap(err, "accessing worktree")
	}
	for _, c := range commits {
		if err := writeFiles(w, c.Files); err != nil {
			return nil, errors.Wrapf(err, "writing files of %s", c.ID)
		}
		var parents []plumbing.Hash
		for _, p := range append(slices.Clone(c.Parents), c.Parent) {
			if p != "" {
				parents = append(parents, repo.Commits[p])
			}
		}
		author := "Place Holder"
		if c.Author != "" {
			author = c.Author
		}
		h, err := w.Commit(c.Message, &git.CommitOptions{
			Author:            &object.Signature{Name: author},
			AllowEmptyCommits: true,
			Parents:           parents,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "committing %s", c.ID)
		}
		repo.Commits[c.ID] = h
		if c.Branch != "" {
			ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(c.Branch), h)
			if err := repo.Storer.SetReference(ref); err != nil {
				return nil, errors.Wrap(err, "setting branch")
			}
		}
		tags := slices.Clone(c.Tags)
		if c.Tag != "" {
			tags = append(tags, c.Tag)
		}
		for _, name := range tags {
			var opts *git.CreateTagOptions
			if c.Annotated {
				opts = &git.CreateTagOptions{Message: name, Tagger: &object.Signature{Name: author}}
			}
			if _, err := repo.CreateTag(name, h, opts); err != nil {
				return nil, errors.Wrapf(err, "creating tag %s", name)
			}
		}
	}
	return repo, nil
}

func writeFiles(w *git.Worktree, files FileContent) error {
	for name, content := range files {
		if err := w.Filesystem.MkdirAll(path.Dir(name), 0755); err != nil {
			return err
		}
		f, err := w.Filesystem.Create(name)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(f, content); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		if _, err := w.Add(name); err != nil {
			return err
		}
	}
	return nil
}
