// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package httpxtest

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// Call is one expected request and the canned reply.
type Call struct {
	Method   string
	URL      string
	Body     string
	Response *http.Response
	Error    error
}

// Request builds an *http.Request matching the call.
func (c Call) Request() *http.Request {
	method := c.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequest(method, c.URL, nil)
	if err != nil {
		panic(err)
	}
	return req
}

// MockClient replays Calls in order.
type MockClient struct {
	Calls             []Call
	URLValidator      func(expected, actual string)
	SkipURLValidation bool
	callCount         int
	mu                sync.Mutex
}

func (m *MockClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.callCount >= len(m.Calls) {
		panic("unexpected request: " + req.Method + " " + req.URL.String())
	}
	call := m.Calls[m.callCount]
	m.callCount++

	if !m.SkipURLValidation && (m.URLValidator == nil) {
		panic("URL validation requested but not configured")
	} else if m.SkipURLValidation && (m.URLValidator != nil) {
		panic("URL validation disabled but configured")
	}
	if m.URLValidator != nil {
		if call.Method != "" {
			m.URLValidator(call.Method+" "+call.URL, req.Method+" "+req.URL.String())
		} else {
			m.URLValidator(call.URL, req.URL.String())
		}
	}
	if call.Response != nil && call.Response.Request == nil {
		call.Response.Request = req
	}
	return call.Response, call.Error
}

func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

func NewURLValidator(t *testing.T) func(string, string) {
	return func(expected, actual string) {
		t.Helper()
		if diff := cmp.Diff(expected, actual); diff != "" {
			t.Fatalf("URL mismatch (-want +got):\n%s", diff)
		}
	}
}

// Route is the canned reply for a RoutedClient key.
type Route struct {
	Code  int
	Body  string
	Error error
}

// RoutedClient answers requests by "METHOD URL" key and ignores ordering.
// It suits callers that issue requests concurrently. Unknown keys get a 404.
type RoutedClient struct {
	Routes map[string]Route
	mu     sync.Mutex
	seen   []string
	bodies map[string][]string
}

func (r *RoutedClient) Do(req *http.Request) (*http.Response, error) {
	key := req.Method + " " + req.URL.String()
	var body string
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		body = string(b)
	}
	r.mu.Lock()
	r.seen = append(r.seen, key)
	if r.bodies == nil {
		r.bodies = make(map[string][]string)
	}
	r.bodies[key] = append(r.bodies[key], body)
	route, ok := r.Routes[key]
	r.mu.Unlock()
	if !ok {
		route = Route{Code: http.StatusNotFound}
	}
	if route.Error != nil {
		return nil, route.Error
	}
	code := route.Code
	if code == 0 {
		code = http.StatusOK
	}
	return &http.Response{
		Status:     fmt.Sprintf("%d %s", code, http.StatusText(code)),
		StatusCode: code,
		Body:       Body(route.Body),
		Request:    req,
	}, nil
}

// Requests returns the "METHOD URL" keys received so far.
func (r *RoutedClient) Requests() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

// Bodies returns the request bodies received for key, in arrival order.
func (r *RoutedClient) Bodies(key string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.bodies[key]...)
}
