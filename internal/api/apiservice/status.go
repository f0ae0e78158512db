// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package apiservice

import (
	"context"

	"github.com/m10k/albs-web-server/pkg/act/api"
	"github.com/m10k/albs-web-server/pkg/model"
	"github.com/m10k/albs-web-server/pkg/modulemd"
	"github.com/m10k/albs-web-server/pkg/productsync"
	"github.com/m10k/albs-web-server/pkg/registry/pulp"
	"github.com/m10k/albs-web-server/pkg/source"
	"github.com/m10k/albs-web-server/pkg/store/memstore"
	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// asStatus maps domain errors onto grpc codes.
func asStatus(err error) error {
	if err == nil {
		return nil
	}
	var linkErr *productsync.LinkResolutionError
	var taskErr *pulp.TaskError
	switch {
	case errors.Is(err, model.ErrNotFound), errors.Is(err, source.ErrNotFound):
		return api.AsStatus(codes.NotFound, err)
	case errors.As(err, &linkErr), errors.Is(err, modulemd.ErrRefConflict):
		return api.AsStatus(codes.FailedPrecondition, err)
	case errors.Is(err, memstore.ErrConflict), errors.Is(err, model.ErrStale):
		return api.AsStatus(codes.Aborted, err)
	case errors.As(err, &taskErr):
		return api.AsStatus(codes.Internal, err)
	case errors.Is(err, context.DeadlineExceeded):
		return api.AsStatus(codes.DeadlineExceeded, err)
	case errors.Is(err, context.Canceled):
		return api.AsStatus(codes.Canceled, err)
	}
	// Firestore reports contention and missing documents as grpc statuses.
	if s, ok := status.FromError(err); ok && s.Code() != codes.Unknown {
		return api.AsStatus(s.Code(), err)
	}
	return api.AsStatus(codes.Internal, err)
}
