// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package source defines access to the git host serving package and module sources.
package source

import (
	"context"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when a repository, ref, or file does not exist.
var ErrNotFound = errors.New("not found")

// RefType is the kind of ref a build task points at.
type RefType int

const (
	GitBranch RefType = iota + 1
	GitTag
	SRPMURL
	GitRef
)

var refTypeNames = map[RefType]string{
	GitBranch: "git_branch",
	GitTag:    "git_tag",
	SRPMURL:   "srpm_url",
	GitRef:    "git_ref",
}

func (t RefType) String() string {
	if n, ok := refTypeNames[t]; ok {
		return n
	}
	return "unknown"
}

// ParseRefType accepts the names produced by RefType.String.
func ParseRefType(s string) (RefType, error) {
	for t, n := range refTypeNames {
		if n == s {
			return t, nil
		}
	}
	return 0, errors.Errorf("unknown ref type %q", s)
}

// RawKind returns the ref kind used in raw file URLs.
func (t RefType) RawKind() string {
	switch t {
	case GitTag:
		return "tag"
	case GitRef:
		return "commit"
	default:
		return "branch"
	}
}

// Tag is a git tag and the commit it points at.
type Tag struct {
	Name string `json:"name"`
	// ID is the tag object id. For lightweight tags it is the commit id.
	ID     string `json:"id"`
	Commit string `json:"commit,omitempty"`
}

// Target returns the commit the tag points at.
func (t Tag) Target() string {
	if t.Commit != "" {
		return t.Commit
	}
	return t.ID
}

// Client reads refs and files from the source host.
type Client interface {
	// Branch returns the head commit of a branch or ErrNotFound.
	Branch(ctx context.Context, repo, branch string) (string, error)
	// Tags lists every tag of a repository.
	Tags(ctx context.Context, repo string) ([]Tag, error)
	// RawFile returns a file at the given ref.
	RawFile(ctx context.Context, repo string, refType RefType, ref, path string) ([]byte, error)
}

// RepoFromURL returns the host-relative repository path of a clone URL.
// "https://git.example.org/modules/go-toolset.git" becomes "modules/go-toolset".
func RepoFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Wrap(err, "parsing repository URL")
	}
	p := strings.TrimSuffix(strings.Trim(u.Path, "/"), ".git")
	if p == "" {
		return "", errors.Errorf("no repository path in %q", rawURL)
	}
	return p, nil
}

// RepoName returns the last path element of a clone URL without the .git suffix.
func RepoName(rawURL string) (string, error) {
	p, err := RepoFromURL(rawURL)
	if err != nil {
		return "", err
	}
	return p[strings.LastIndex(p, "/")+1:], nil
}

// PackageRepo returns the repository path of an RPM component.
// The host rejects "+" in names so it is replaced by "-".
func PackageRepo(component string) string {
	return "rpms/" + HostName(component)
}

// HostName returns a component name as used on the source host.
func HostName(component string) string {
	return strings.ReplaceAll(component, "+", "-")
}
