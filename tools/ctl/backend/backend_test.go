// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/m10k/albs-web-server/pkg/model"
	"github.com/m10k/albs-web-server/pkg/store/memstore"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "fixture",
			cfg:     Config{Fixture: "store.json", Save: true, PulpHost: "https://pulp.example.com"},
			wantErr: false,
		},
		{
			name:    "firestore",
			cfg:     Config{Project: "proj", PulpHost: "https://pulp.example.com"},
			wantErr: false,
		},
		{
			name:    "both stores",
			cfg:     Config{Fixture: "store.json", Project: "proj", PulpHost: "https://pulp.example.com"},
			wantErr: true,
		},
		{
			name:    "no store",
			cfg:     Config{PulpHost: "https://pulp.example.com"},
			wantErr: true,
		},
		{
			name:    "save without fixture",
			cfg:     Config{Project: "proj", Save: true, PulpHost: "https://pulp.example.com"},
			wantErr: true,
		},
		{
			name:    "missing pulp",
			cfg:     Config{Fixture: "store.json"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

const fixture = `{
  "builds": {"7": {"id": 7, "repository_ids": [], "product_ids": [], "flavour_ids": []}},
  "products": {"9": {"id": 9, "name": "prod", "owner": "alice", "platform_ids": [], "repository_ids": [], "build_ids": []}}
}`

func TestOpenSavesFixture(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")
	if err := os.WriteFile(path, []byte(fixture), 0644); err != nil {
		t.Fatal(err)
	}
	b, err := Open(ctx, Config{Fixture: path, Save: true, PulpHost: "https://pulp.example.com"})
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	err = b.Store.RunInTx(ctx, func(ctx context.Context, tx model.Tx) error {
		return tx.AttachBuild(ctx, 9, 7)
	})
	if err != nil {
		t.Fatalf("RunInTx() = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	saved, err := memstore.Load(f)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	data := saved.Snapshot()
	if diff := cmp.Diff([]int64{7}, data.Products[9].BuildIDs); diff != "" {
		t.Errorf("product builds mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{9}, data.Builds[7].ProductIDs); diff != "" {
		t.Errorf("build products mismatch (-want +got):\n%s", diff)
	}
}
