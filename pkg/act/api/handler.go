// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/m10k/albs-web-server/pkg/act"
	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Handler serves handler for JSON POST requests.
//
// The request id is taken from the X-Request-Id header or generated, made
// available through RequestID and echoed on the response.
func Handler[I act.Input, O any, D act.Deps](initDeps InitDeps[D], handler HandlerFunc[I, O, D]) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		id := requestID(r.Header.Get(RequestIDHeader))
		rw.Header().Set(RequestIDHeader, id)
		ctx := WithRequestID(r.Context(), id)
		fail := func(err error) {
			log.Printf("[%s] %s %s: %v", id, r.Method, r.URL.Path, err)
			writeError(rw, status.Convert(err), id)
		}
		if r.Method != http.MethodPost {
			rw.Header().Set("Allow", http.MethodPost)
			s := status.New(codes.Unimplemented, "method "+r.Method+" not allowed")
			writeErrorStatus(rw, s, http.StatusMethodNotAllowed, id)
			return
		}
		var req I
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			fail(AsStatus(codes.InvalidArgument, errors.Wrap(err, "parsing request")))
			return
		}
		log.Printf("[%s] %s %+v", id, r.URL.Path, req)
		if err := req.Validate(); err != nil {
			fail(AsStatus(codes.InvalidArgument, errors.Wrap(err, "validating request")))
			return
		}
		deps, err := initDeps(ctx)
		if err != nil {
			fail(AsStatus(codes.Internal, errors.Wrap(err, "initializing dependencies")))
			return
		}
		o, err := handler(ctx, req, deps)
		if err != nil {
			fail(err)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		if o == nil {
			return
		}
		if err := json.NewEncoder(rw).Encode(o); err != nil {
			log.Printf("[%s] encoding response: %v", id, err)
		}
	}
}
