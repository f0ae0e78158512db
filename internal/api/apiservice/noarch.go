// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package apiservice

import (
	"context"

	"github.com/m10k/albs-web-server/pkg/noarch"
	"github.com/m10k/albs-web-server/pkg/schema"
)

type NoarchReconcileDeps struct {
	Reconciler *noarch.Reconciler
}

func NoarchReconcile(ctx context.Context, req schema.NoarchReconcileRequest, deps *NoarchReconcileDeps) (*noarch.Result, error) {
	res, err := deps.Reconciler.Reconcile(ctx, req.TaskID)
	if err != nil {
		return nil, asStatus(err)
	}
	return res, nil
}
