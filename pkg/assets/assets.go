// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package assets stores documents produced while preparing module builds.
package assets

import (
	"context"
	stderrors "errors"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/pkg/errors"
)

// Type is the kind of a stored document.
type Type string

const (
	// ModulesYAML is the rendered modulemd stream of a preview.
	ModulesYAML Type = "modules.yaml"
	// PreviewJSON is the full preview response.
	PreviewJSON Type = "preview.json"
)

// ErrNotFound indicates the asset requested to be read could not be found.
var ErrNotFound = errors.New("asset not found")

// Asset identifies one document of one preview.
type Asset struct {
	Type   Type
	Module string
	Stream string
	// RequestID separates repeated previews of the same module stream.
	RequestID string
}

func (a Asset) path() []string {
	return []string{a.Module, a.Stream, a.RequestID, string(a.Type)}
}

// Store reads and writes assets.
type Store interface {
	Reader(ctx context.Context, a Asset) (io.ReadCloser, error)
	Writer(ctx context.Context, a Asset) (io.WriteCloser, error)
	URL(a Asset) *url.URL
}

// Put writes content as asset a.
func Put(ctx context.Context, s Store, a Asset, content []byte) error {
	w, err := s.Writer(ctx, a)
	if err != nil {
		return errors.Wrap(err, "creating writer")
	}
	if _, err := w.Write(content); err != nil {
		w.Close()
		return errors.Wrap(err, "writing asset")
	}
	return errors.Wrap(w.Close(), "closing asset")
}

// Copy copies an asset from one store to another.
func Copy(ctx context.Context, to, from Store, a Asset) error {
	r, err := from.Reader(ctx, a)
	if err != nil {
		return errors.Wrap(err, "from.Reader failed")
	}
	defer r.Close()
	w, err := to.Writer(ctx, a)
	if err != nil {
		return errors.Wrap(err, "to.Writer failed")
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return errors.Wrap(err, "copy failed")
	}
	return w.Close()
}

// FromURL returns the store located at u: gs://bucket/prefix, file:///dir, or mem://.
func FromURL(ctx context.Context, u string) (Store, error) {
	parsed, err := url.Parse(u)
	if err != nil {
		return nil, errors.Wrap(err, "parsing as url")
	}
	switch parsed.Scheme {
	case "gs":
		return NewGCSStore(ctx, parsed.Host+parsed.Path)
	case "file":
		if err := os.MkdirAll(parsed.Path, 0755); err != nil {
			return nil, errors.Wrap(err, "creating asset dir")
		}
		return NewFilesystemStore(osfs.New(parsed.Path)), nil
	case "mem":
		return NewFilesystemStore(memfs.New()), nil
	default:
		return nil, errors.Errorf("unsupported scheme: '%s'", parsed.Scheme)
	}
}

// GCSStore keeps assets in a Cloud Storage bucket.
type GCSStore struct {
	client *gcs.Client
	bucket string
	prefix string
}

// NewGCSStore creates a GCSStore for "bucket/prefix".
func NewGCSStore(ctx context.Context, location string) (*GCSStore, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "creating GCS client")
	}
	bucket, prefix, _ := strings.Cut(strings.TrimPrefix(location, "gs://"), "/")
	return &GCSStore{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *GCSStore) object(a Asset) string {
	return path.Join(append([]string{s.prefix}, a.path()...)...)
}

func (s *GCSStore) URL(a Asset) *url.URL {
	return &url.URL{Scheme: "gs", Host: s.bucket, Path: "/" + s.object(a)}
}

// Reader returns a reader for the given asset.
func (s *GCSStore) Reader(ctx context.Context, a Asset) (io.ReadCloser, error) {
	name := s.object(a)
	r, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if err != nil {
		if err == gcs.ErrObjectNotExist {
			err = stderrors.Join(err, ErrNotFound)
		}
		return nil, errors.Wrapf(err, "creating GCS reader for %s", name)
	}
	return r, nil
}

// Writer returns a writer for the given asset. The object is created on Close.
func (s *GCSStore) Writer(ctx context.Context, a Asset) (io.WriteCloser, error) {
	w := s.client.Bucket(s.bucket).Object(s.object(a)).NewWriter(ctx)
	w.ContentType = contentType(a.Type)
	return w, nil
}

var _ Store = &GCSStore{}

func contentType(t Type) string {
	switch t {
	case PreviewJSON:
		return "application/json"
	default:
		return "application/yaml"
	}
}

// FilesystemStore keeps assets in a billy.Filesystem.
type FilesystemStore struct {
	fs billy.Filesystem
}

// NewFilesystemStore creates a FilesystemStore rooted at fs.
func NewFilesystemStore(fs billy.Filesystem) *FilesystemStore {
	return &FilesystemStore{fs: fs}
}

func (s *FilesystemStore) URL(a Asset) *url.URL {
	return &url.URL{Scheme: "file", Path: filepath.Join(s.fs.Root(), filepath.Join(a.path()...))}
}

// Reader returns a reader for the given asset.
func (s *FilesystemStore) Reader(_ context.Context, a Asset) (io.ReadCloser, error) {
	f, err := s.fs.Open(filepath.Join(a.path()...))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = stderrors.Join(err, ErrNotFound)
		}
		return nil, errors.Wrapf(err, "creating reader for %v", a)
	}
	return f, nil
}

// Writer returns a writer for the given asset.
func (s *FilesystemStore) Writer(_ context.Context, a Asset) (io.WriteCloser, error) {
	f, err := s.fs.Create(filepath.Join(a.path()...))
	if err != nil {
		return nil, errors.Wrapf(err, "creating writer for %v", a)
	}
	return f, nil
}

var _ Store = &FilesystemStore{}
