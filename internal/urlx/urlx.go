// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package urlx has small helpers for building service URLs.
package urlx

import (
	"net/url"
	"strings"
)

// MustParse will call url.Parse and panic if there is an error, returning on success.
func MustParse(rawURL string) *url.URL {
	if u, err := url.Parse(rawURL); err != nil {
		panic(err)
	} else {
		return u
	}
}

// Copy returns a deep copy of u.
func Copy(u *url.URL) *url.URL {
	c := *u
	if u.User != nil {
		user := *u.User
		c.User = &user
	}
	return &c
}

// Join returns base with elems appended to its path and the given query.
// A trailing slash on the final element is preserved.
func Join(base *url.URL, query url.Values, elems ...string) *url.URL {
	u := base.JoinPath(elems...)
	if len(elems) > 0 && strings.HasSuffix(elems[len(elems)-1], "/") && !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u
}
