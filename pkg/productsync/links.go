// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package productsync

import (
	"fmt"
	"strings"

	"github.com/m10k/albs-web-server/pkg/model"
)

// LinkResolutionError reports a repository whose platform cannot be derived from its name.
type LinkResolutionError struct {
	Kind       string // "product" or "build"
	Repository string
}

func (e *LinkResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve platform of %s repository %q", e.Kind, e.Repository)
}

// link is a platform backfilled for a repository.
type link struct {
	Repo     int64
	Platform int64
}

func suffix(debug bool, base string) string {
	if debug {
		return "debug-" + base
	}
	return base
}

// productRepoName is {owner}-{product}-{platform}-{arch}-{dr|debug-dr}.
func productRepoName(p *model.Product, platform model.Platform, r model.Repository) string {
	return strings.Join([]string{p.Owner, p.Name, strings.ToLower(platform.Name), r.Arch, suffix(r.Debug, "dr")}, "-")
}

// buildRepoName is {platform}-{arch}-{build}-{br|debug-br}.
func buildRepoName(b *model.Build, platform model.Platform, r model.Repository) string {
	return fmt.Sprintf("%s-%s-%d-%s", platform.Name, r.Arch, b.ID, suffix(r.Debug, "br"))
}

// resolveLinks assigns a platform to every repository that lacks one by
// matching its name against the names each candidate platform would produce.
// Repositories are updated in place and the assignments are returned.
func resolveLinks(kind string, repos []model.Repository, platforms []model.Platform, name func(model.Platform, model.Repository) string) ([]link, error) {
	var out []link
	for i, r := range repos {
		if r.PlatformID != 0 {
			continue
		}
		found := false
		for _, p := range platforms {
			if name(p, r) == r.Name {
				repos[i].PlatformID = p.ID
				out = append(out, link{Repo: r.ID, Platform: p.ID})
				found = true
				break
			}
		}
		if !found {
			return nil, &LinkResolutionError{Kind: kind, Repository: r.Name}
		}
	}
	return out, nil
}
