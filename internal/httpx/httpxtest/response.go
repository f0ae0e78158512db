// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package httpxtest

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

func Body(b string) io.ReadCloser {
	return io.NopCloser(bytes.NewReader([]byte(b)))
}

// JSON returns a 200 response whose body is the raw JSON string b.
func JSON(b string) *http.Response {
	return &http.Response{
		Status:     "200 OK",
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       Body(b),
	}
}

// Status returns an empty-bodied response with the given code.
func Status(code int) *http.Response {
	return &http.Response{
		Status:     fmt.Sprintf("%d %s", code, http.StatusText(code)),
		StatusCode: code,
		Body:       Body(""),
	}
}
