// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/m10k/albs-web-server/internal/httpx"
	"github.com/m10k/albs-web-server/pkg/act"
	"github.com/pkg/errors"
)

// Stub returns a client for the Handler served at u.
//
// Failed calls return the grpc status reported by the server. The request id
// of ctx, if any, is forwarded.
func Stub[I act.Input, O any](client httpx.BasicClient, u *url.URL) StubFunc[I, O] {
	return func(ctx context.Context, in I) (*O, error) {
		if err := in.Validate(); err != nil {
			return nil, errors.Wrap(err, "validating request")
		}
		body, err := json.Marshal(in)
		if err != nil {
			return nil, errors.Wrap(err, "serializing request")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
		if err != nil {
			return nil, errors.Wrap(err, "building http request")
		}
		req.Header.Set("Content-Type", "application/json")
		if id := RequestID(ctx); id != "" {
			req.Header.Set(RequestIDHeader, id)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, errors.Wrapf(err, "calling %s", u.Path)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, readError(resp)
		}
		var out O
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, errors.Wrap(err, "decoding response")
		}
		return &out, nil
	}
}
