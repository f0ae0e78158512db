// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package apiservice

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"
	"github.com/m10k/albs-web-server/pkg/act/api"
	"github.com/m10k/albs-web-server/pkg/assets"
	"github.com/m10k/albs-web-server/pkg/model"
	"github.com/m10k/albs-web-server/pkg/modref"
	"github.com/m10k/albs-web-server/pkg/schema"
	"github.com/pkg/errors"
)

type ModulePreviewDeps struct {
	Store    model.Store
	Resolver *modref.Resolver
	// Assets keeps the rendered documents. Nil disables storage.
	Assets assets.Store
}

func ModulePreview(ctx context.Context, req schema.ModulePreviewRequest, deps *ModulePreviewDeps) (*schema.ModulePreviewResponse, error) {
	mreq := modref.Request{Ref: req.Ref, Arches: req.Arches}
	err := deps.Store.RunInTx(ctx, func(ctx context.Context, tx model.Tx) error {
		p, err := tx.PlatformByName(ctx, req.PlatformName)
		if err != nil {
			return err
		}
		mreq.Platform = *p
		if len(req.FlavourIDs) > 0 {
			mreq.Flavours, err = tx.Flavours(ctx, req.FlavourIDs)
		}
		return err
	})
	if err != nil {
		return nil, asStatus(errors.Wrap(err, "loading platform"))
	}
	preview, err := deps.Resolver.Resolve(ctx, mreq)
	if err != nil {
		return nil, asStatus(errors.Wrapf(err, "previewing %s", req.Ref.URL))
	}
	resp := &schema.ModulePreviewResponse{Preview: preview, RequestID: api.RequestID(ctx)}
	if resp.RequestID == "" {
		resp.RequestID = uuid.New().String()
	}
	if len(preview.Unreachable) > 0 {
		log.Printf("preview %s of %s ran without reference data from %v", resp.RequestID, req.Ref.URL, preview.Unreachable)
	}
	if deps.Assets == nil {
		return resp, nil
	}
	asset := assets.Asset{Type: assets.ModulesYAML, Module: preview.ModuleName, Stream: preview.ModuleStream, RequestID: resp.RequestID}
	if err := assets.Put(ctx, deps.Assets, asset, []byte(preview.ModulesYAML)); err != nil {
		return nil, asStatus(errors.Wrap(err, "storing modules.yaml"))
	}
	resp.ModulesURL = deps.Assets.URL(asset).String()
	b, err := json.Marshal(preview)
	if err != nil {
		return nil, asStatus(errors.Wrap(err, "encoding preview"))
	}
	asset.Type = assets.PreviewJSON
	if err := assets.Put(ctx, deps.Assets, asset, b); err != nil {
		return nil, asStatus(errors.Wrap(err, "storing preview"))
	}
	return resp, nil
}
