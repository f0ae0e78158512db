// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m10k/albs-web-server/internal/api/apiservice"
	"github.com/m10k/albs-web-server/internal/cache"
	"github.com/m10k/albs-web-server/internal/httpx"
	"github.com/m10k/albs-web-server/pkg/act/api"
	"github.com/m10k/albs-web-server/pkg/assets"
	"github.com/m10k/albs-web-server/pkg/model"
	"github.com/m10k/albs-web-server/pkg/modref"
	"github.com/m10k/albs-web-server/pkg/noarch"
	"github.com/m10k/albs-web-server/pkg/productsync"
	"github.com/m10k/albs-web-server/pkg/registry/beholder"
	"github.com/m10k/albs-web-server/pkg/registry/pulp"
	"github.com/m10k/albs-web-server/pkg/source/gitea"
	"github.com/m10k/albs-web-server/pkg/store/fsstore"
	"github.com/pkg/errors"
)

var (
	project         = flag.String("project", "", "GCP Project ID of the Firestore database")
	giteaHost       = flag.String("gitea-host", "https://git.almalinux.org/", "base URL of the git hosting service")
	beholderHost    = flag.String("beholder-host", "", "base URL of the reference package metadata service")
	beholderToken   = flag.String("beholder-token", "", "bearer token for the reference package metadata service")
	beholderEnabled = flag.Bool("beholder-enabled", true, "whether to reuse packages already built upstream")
	pulpHost        = flag.String("pulp-host", "", "base URL of the package repository service")
	pulpUser        = flag.String("pulp-user", "", "user for the package repository service")
	pulpPassword    = flag.String("pulp-password", "", "password for the package repository service")
	modulesBucket   = flag.String("modules-bucket", "", "GCS bucket for rendered module documents. Empty disables storage")
	port            = flag.Int("port", 8080, "port on which to serve")
)

// Shared across requests: the synchronizer serializes by build and product.
var (
	storeOnce sync.Once
	store     model.Store
	storeErr  error

	syncOnce     sync.Once
	synchronizer *productsync.Synchronizer
)

var client httpx.BasicClient = &httpx.WithUserAgent{BasicClient: http.DefaultClient, UserAgent: "albs-web-server"}

// modifiedListClient caches the platforms' modified package lists between previews.
var modifiedListClient = httpx.NewCachedClient(client, &cache.ExpiringCache{Cache: &cache.CoalescingMemoryCache{}, TTL: 10 * time.Minute})

func getStore(ctx context.Context) (model.Store, error) {
	storeOnce.Do(func() {
		var fsClient *firestore.Client
		// NOTE: The client outlives the request context.
		fsClient, storeErr = firestore.NewClient(context.WithoutCancel(ctx), *project)
		if storeErr != nil {
			storeErr = errors.Wrap(storeErr, "creating firestore client")
			return
		}
		store = fsstore.New(fsClient)
	})
	return store, storeErr
}

func pulpClient() (pulp.Client, error) {
	u, err := url.Parse(*pulpHost)
	if err != nil {
		return nil, errors.Wrap(err, "parsing pulp host")
	}
	return &pulp.HTTPClient{
		Client:       &httpx.WithBasicAuth{BasicClient: client, User: *pulpUser, Password: *pulpPassword},
		Host:         u,
		PollInterval: time.Second,
	}, nil
}

func ModulePreviewInit(ctx context.Context) (*apiservice.ModulePreviewDeps, error) {
	var d apiservice.ModulePreviewDeps
	var err error
	if d.Store, err = getStore(ctx); err != nil {
		return nil, err
	}
	gu, err := url.Parse(*giteaHost)
	if err != nil {
		return nil, errors.Wrap(err, "parsing gitea host")
	}
	d.Resolver = &modref.Resolver{
		Source: &gitea.Client{Client: client, Host: gu},
		HTTP:   modifiedListClient,
	}
	if *beholderEnabled && *beholderHost != "" {
		bu, err := url.Parse(*beholderHost)
		if err != nil {
			return nil, errors.Wrap(err, "parsing beholder host")
		}
		d.Resolver.Reference = &beholder.HTTPClient{
			Client: &httpx.WithBearerToken{BasicClient: client, Token: *beholderToken},
			Host:   bu,
		}
	}
	if *modulesBucket != "" {
		if d.Assets, err = assets.NewGCSStore(context.WithoutCancel(ctx), *modulesBucket); err != nil {
			return nil, err
		}
	}
	return &d, nil
}

func NoarchReconcileInit(ctx context.Context) (*apiservice.NoarchReconcileDeps, error) {
	s, err := getStore(ctx)
	if err != nil {
		return nil, err
	}
	repos, err := pulpClient()
	if err != nil {
		return nil, err
	}
	return &apiservice.NoarchReconcileDeps{Reconciler: &noarch.Reconciler{Store: s, Repos: repos}}, nil
}

func ProductModifyInit(ctx context.Context) (*apiservice.ProductModifyDeps, error) {
	s, err := getStore(ctx)
	if err != nil {
		return nil, err
	}
	repos, err := pulpClient()
	if err != nil {
		return nil, err
	}
	syncOnce.Do(func() {
		synchronizer = &productsync.Synchronizer{Store: s, Repos: repos}
	})
	return &apiservice.ProductModifyDeps{Synchronizer: synchronizer}, nil
}

func main() {
	flag.Parse()
	if *project == "" || *pulpHost == "" {
		log.Fatalln("-project and -pulp-host are required")
	}
	http.HandleFunc("/modules/preview", api.Handler(ModulePreviewInit, apiservice.ModulePreview))
	http.HandleFunc("/noarch/reconcile", api.Handler(NoarchReconcileInit, apiservice.NoarchReconcile))
	http.HandleFunc("/products/modify", api.Handler(ProductModifyInit, apiservice.ProductModify))
	if err := http.ListenAndServe(fmt.Sprintf(":%d", *port), nil); err != nil {
		log.Fatalln(err)
	}
}
