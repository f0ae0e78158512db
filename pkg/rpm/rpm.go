// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package rpm holds naming rules shared by the reconciliation components.
package rpm

import (
	"fmt"
	"regexp"
	"strings"
)

// Well-known architectures.
const (
	ArchNoarch = "noarch"
	ArchSource = "src"
	ArchI686   = "i686"
	ArchX86_64 = "x86_64"
)

// Package identifies one binary or source package.
type Package struct {
	Name    string `json:"name" yaml:"name"`
	Epoch   string `json:"epoch" yaml:"epoch"`
	Version string `json:"version" yaml:"version"`
	Release string `json:"release" yaml:"release"`
	Arch    string `json:"arch" yaml:"arch"`
}

// NEVRA renders the package as name-epoch:version-release.arch.
// A missing epoch renders as 0.
func (p Package) NEVRA() string {
	epoch := p.Epoch
	if epoch == "" {
		epoch = "0"
	}
	return fmt.Sprintf("%s-%s:%s-%s.%s", p.Name, epoch, p.Version, p.Release, p.Arch)
}

// NVR renders the package as name-version-release.
func (p Package) NVR() string {
	return fmt.Sprintf("%s-%s-%s", p.Name, p.Version, p.Release)
}

// IsNoarch reports whether the filename denotes an architecture-independent package.
func IsNoarch(filename string) bool {
	return strings.Contains(filename, ".noarch.")
}

// IsDebug reports whether the filename denotes a debuginfo or debugsource package.
func IsDebug(filename string) bool {
	return strings.Contains(filename, "-debuginfo-") || strings.Contains(filename, "-debugsource-")
}

// IsSource reports whether the filename denotes a source package.
func IsSource(filename string) bool {
	return strings.HasSuffix(filename, "src.rpm")
}

var distTagNoise = []*regexp.Regexp{
	regexp.MustCompile(`\.module.*$`),
	regexp.MustCompile(`\.el\d+.*$`),
}

// CleanRelease strips dist-tag suffixes so that a tag and an upstream release
// of the same build compare equal.
//
//	golang-1.16.7-1.module+el8.5.0+12+1aae3f -> golang-1.16.7-1
//	golang-1.16.7-1.module_el8.5.0+12+1aae3f -> golang-1.16.7-1
//	bash-4.4.20-4.el8_6                      -> bash-4.4.20-4
func CleanRelease(s string) string {
	for _, re := range distTagNoise {
		s = re.ReplaceAllString(s, "")
	}
	return s
}

var distName = regexp.MustCompile(`^[A-Za-z]+`)

// CleanDistName returns the lowercase distribution part of a platform name.
// "AlmaLinux-8" becomes "almalinux".
func CleanDistName(platform string) string {
	return strings.ToLower(distName.FindString(platform))
}

// ArchApplies reports whether a package built for pkgArch belongs in a
// repository for repoArch.
func ArchApplies(pkgArch, repoArch string) bool {
	switch {
	case pkgArch == ArchNoarch:
		return repoArch != ArchSource
	case pkgArch == ArchI686:
		return repoArch == ArchI686 || repoArch == ArchX86_64
	default:
		return pkgArch == repoArch
	}
}

// QueryArch maps a build arch to the arch used for upstream lookups.
// Upstream data is not published for 32-bit x86.
func QueryArch(arch string) string {
	if arch == ArchI686 {
		return ArchX86_64
	}
	return arch
}
