// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package source

import "testing"

func TestRepoFromURL(t *testing.T) {
	for _, tc := range []struct {
		url, repo, name string
	}{
		{"https://git.almalinux.org/modules/go-toolset.git", "modules/go-toolset", "go-toolset"},
		{"https://git.almalinux.org/rpms/golang", "rpms/golang", "golang"},
		{"https://git.almalinux.org/rpms/libstdc++.git/", "rpms/libstdc++", "libstdc++"},
	} {
		repo, err := RepoFromURL(tc.url)
		if err != nil || repo != tc.repo {
			t.Errorf("RepoFromURL(%q) = %q, %v; want %q", tc.url, repo, err, tc.repo)
		}
		name, err := RepoName(tc.url)
		if err != nil || name != tc.name {
			t.Errorf("RepoName(%q) = %q, %v; want %q", tc.url, name, err, tc.name)
		}
	}
	if _, err := RepoFromURL("https://git.almalinux.org/"); err == nil {
		t.Error("RepoFromURL() without a path succeeded")
	}
}

func TestPackageRepo(t *testing.T) {
	if got := PackageRepo("libsigc++20"); got != "rpms/libsigc--20" {
		t.Errorf("PackageRepo() = %q", got)
	}
}

func TestRefType(t *testing.T) {
	for _, rt := range []RefType{GitBranch, GitTag, SRPMURL, GitRef} {
		got, err := ParseRefType(rt.String())
		if err != nil || got != rt {
			t.Errorf("ParseRefType(%q) = %v, %v", rt.String(), got, err)
		}
	}
	if GitTag.RawKind() != "tag" || GitRef.RawKind() != "commit" || GitBranch.RawKind() != "branch" {
		t.Error("RawKind() mismatch")
	}
}
