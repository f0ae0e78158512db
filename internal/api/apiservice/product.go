// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package apiservice

import (
	"context"

	"github.com/m10k/albs-web-server/pkg/act/api"
	"github.com/m10k/albs-web-server/pkg/productsync"
	"github.com/m10k/albs-web-server/pkg/schema"
	"google.golang.org/grpc/codes"
)

type ProductModifyDeps struct {
	// Synchronizer must be shared by all requests so modifications of the
	// same build and product are serialized.
	Synchronizer *productsync.Synchronizer
}

func ProductModify(ctx context.Context, req schema.ProductModifyRequest, deps *ProductModifyDeps) (*productsync.Report, error) {
	mod, err := productsync.ParseModification(req.Modification)
	if err != nil {
		return nil, api.AsStatus(codes.InvalidArgument, err)
	}
	report, err := deps.Synchronizer.Modify(ctx, req.BuildID, req.ProductID, mod)
	if err != nil {
		return nil, asStatus(err)
	}
	return report, nil
}
