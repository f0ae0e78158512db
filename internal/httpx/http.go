// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package httpx provides a simpler http.Client abstraction and derivative uses.
package httpx

import (
	"bufio"
	"bytes"
	"fmt"
	"net/http"

	"github.com/m10k/albs-web-server/internal/cache"
)

// BasicClient is a simpler http.Client that only requires a Do method.
type BasicClient interface {
	Do(*http.Request) (*http.Response, error)
}

var _ BasicClient = http.DefaultClient

// WithUserAgent is a basic HTTP client that adds a User-Agent header.
type WithUserAgent struct {
	BasicClient
	UserAgent string
}

var _ BasicClient = &WithUserAgent{}

// Do adds the User-Agent header and sends the request.
func (c *WithUserAgent) Do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.UserAgent)
	return c.BasicClient.Do(req)
}

// WithBearerToken adds an Authorization header carrying Token.
// An empty Token leaves requests untouched.
type WithBearerToken struct {
	BasicClient
	Token string
}

var _ BasicClient = &WithBearerToken{}

// Do adds the Authorization header and sends the request.
func (c *WithBearerToken) Do(req *http.Request) (*http.Response, error) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return c.BasicClient.Do(req)
}

// WithBasicAuth adds HTTP basic credentials to every request.
type WithBasicAuth struct {
	BasicClient
	User     string
	Password string
}

var _ BasicClient = &WithBasicAuth{}

// Do sets the basic auth credentials and sends the request.
func (c *WithBasicAuth) Do(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(c.User, c.Password)
	return c.BasicClient.Do(req)
}

// CachedClient is a BasicClient that caches responses.
type CachedClient struct {
	BasicClient
	ch cache.Cache
}

// NewCachedClient returns a new CachedClient.
func NewCachedClient(client BasicClient, c cache.Cache) *CachedClient {
	return &CachedClient{client, c}
}

// Do attempts to fetch from cache (if applicable) or fulfills the request using the underlying client.
func (cc *CachedClient) Do(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return cc.BasicClient.Do(req)
	}
	respBytes, err := cc.ch.Get(req.URL.String())
	if err == cache.ErrNotExist {
		resp, err := cc.BasicClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		buf := new(bytes.Buffer)
		if err := resp.Write(buf); err != nil {
			return nil, err
		}
		if isServer := (resp.StatusCode >= 500 && resp.StatusCode <= 599); !isServer {
			cc.ch.Set(req.URL.String(), func() (any, error) { return buf.Bytes(), nil })
		}
		respBytes = buf.Bytes()
	} else if err != nil {
		return nil, err
	}
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(respBytes.([]byte))), req)
}

var _ BasicClient = &CachedClient{}

// StatusError reports a non-success HTTP response.
type StatusError struct {
	URL    string
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s", e.URL, e.Status)
}

// NewStatusError builds a StatusError from resp.
func NewStatusError(resp *http.Response) *StatusError {
	var u string
	if resp.Request != nil && resp.Request.URL != nil {
		u = resp.Request.URL.String()
	}
	return &StatusError{URL: u, Code: resp.StatusCode, Status: resp.Status}
}
