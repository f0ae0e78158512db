// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the request and response messages of the API service.
package schema

import (
	"github.com/m10k/albs-web-server/pkg/modref"
	"github.com/m10k/albs-web-server/pkg/productsync"
	"github.com/m10k/albs-web-server/pkg/source"
	"github.com/pkg/errors"
)

// ModulePreviewRequest asks for the component refs of a module build.
type ModulePreviewRequest struct {
	Ref          modref.TaskRef `json:"ref"`
	PlatformName string         `json:"platform_name"`
	FlavourIDs   []int64        `json:"flavors,omitempty"`
	Arches       []string       `json:"arches"`
}

func (r ModulePreviewRequest) Validate() error {
	if r.Ref.URL == "" {
		return errors.New("ref url is required")
	}
	if r.Ref.GitRef == "" {
		return errors.New("git ref is required")
	}
	switch r.Ref.RefType {
	case source.GitBranch, source.GitTag, source.GitRef:
	default:
		return errors.Errorf("ref type %s cannot point at a module", r.Ref.RefType)
	}
	if r.PlatformName == "" {
		return errors.New("platform name is required")
	}
	if len(r.Arches) == 0 {
		return errors.New("at least one arch is required")
	}
	return nil
}

// ModulePreviewResponse is a module preview and where its documents were stored.
type ModulePreviewResponse struct {
	*modref.Preview
	RequestID string `json:"request_id"`
	// ModulesURL locates the stored modules.yaml. Empty when storage is disabled.
	ModulesURL string `json:"modules_url,omitempty"`
}

// NoarchReconcileRequest reports that a build task finished.
type NoarchReconcileRequest struct {
	TaskID int64 `json:"task_id"`
}

func (r NoarchReconcileRequest) Validate() error {
	if r.TaskID <= 0 {
		return errors.New("task id is required")
	}
	return nil
}

// ProductModifyRequest attaches a build to or detaches it from a product.
type ProductModifyRequest struct {
	BuildID      int64  `json:"build_id"`
	ProductID    int64  `json:"product_id"`
	Modification string `json:"modification"`
}

func (r ProductModifyRequest) Validate() error {
	if r.BuildID <= 0 || r.ProductID <= 0 {
		return errors.New("build id and product id are required")
	}
	_, err := productsync.ParseModification(r.Modification)
	return err
}
