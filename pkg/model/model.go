// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package model defines the build records shared by the reconciliation
// components and the transactional store contract they run against.
package model

import (
	"context"

	"github.com/pkg/errors"
)

// TaskStatus is the lifecycle state of a BuildTask.
type TaskStatus int

const (
	TaskIdle TaskStatus = iota
	TaskStarted
	TaskCompleted
	TaskFailed
	TaskExcluded
)

var taskStatusNames = map[TaskStatus]string{
	TaskIdle:      "idle",
	TaskStarted:   "started",
	TaskCompleted: "completed",
	TaskFailed:    "failed",
	TaskExcluded:  "excluded",
}

func (s TaskStatus) String() string {
	if n, ok := taskStatusNames[s]; ok {
		return n
	}
	return "unknown"
}

// Finished reports whether the task has reached a terminal state.
func (s TaskStatus) Finished() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskExcluded
}

// Usable reports whether a finished task's artifacts may be propagated.
func (s TaskStatus) Usable() bool {
	return s != TaskFailed && s != TaskExcluded
}

// Artifact and repository content types.
const (
	TypeRPM      = "rpm"
	TypeBuildLog = "build_log"
)

// GitTagPrefix selects branch prefixes for module components.
type GitTagPrefix struct {
	Modified    string `json:"modified" yaml:"modified" firestore:"modified"`
	NonModified string `json:"non_modified" yaml:"non_modified" firestore:"non_modified"`
}

// Modularity is a platform's module build configuration.
type Modularity struct {
	GitTagPrefix GitTagPrefix `json:"git_tag_prefix" yaml:"git_tag_prefix" firestore:"git_tag_prefix"`
	// PackagesGit is the base URL of component source repositories.
	PackagesGit string `json:"packages_git" yaml:"packages_git" firestore:"packages_git"`
	// ModifiedPackages lists components carrying local changes.
	ModifiedPackages []string `json:"modified_packages,omitempty" yaml:"modified_packages,omitempty" firestore:"modified_packages"`
	// ModifiedPackagesURL points at a YAML document with more modified packages.
	ModifiedPackagesURL string `json:"modified_packages_url,omitempty" yaml:"modified_packages_url,omitempty" firestore:"modified_packages_url"`
}

// Platform is a target distribution.
type Platform struct {
	ID           int64      `json:"id" yaml:"id" firestore:"id"`
	Name         string     `json:"name" yaml:"name" firestore:"name"`
	DistrVersion string     `json:"distr_version" yaml:"distr_version" firestore:"distr_version"`
	Priority     int        `json:"priority" yaml:"priority" firestore:"priority"`
	Modularity   Modularity `json:"modularity" yaml:"modularity" firestore:"modularity"`
	// ReferencePlatforms are ordered by descending trust.
	ReferencePlatforms []Platform `json:"reference_platforms,omitempty" yaml:"reference_platforms,omitempty" firestore:"reference_platforms"`
}

// PlatformFlavour overlays a platform's modularity configuration.
type PlatformFlavour struct {
	ID           int64         `json:"id" yaml:"id" firestore:"id"`
	Name         string        `json:"name" yaml:"name" firestore:"name"`
	GitTagPrefix *GitTagPrefix `json:"git_tag_prefix,omitempty" yaml:"git_tag_prefix,omitempty" firestore:"git_tag_prefix"`
}

// RPMModule is the module document produced by a modular build task.
type RPMModule struct {
	Name    string `json:"name" firestore:"name"`
	Stream  string `json:"stream" firestore:"stream"`
	Version string `json:"version" firestore:"version"`
	Context string `json:"context" firestore:"context"`
	Arch    string `json:"arch" firestore:"arch"`
	Href    string `json:"href" firestore:"href"`
}

// BuildTask is one per-arch unit of a build.
type BuildTask struct {
	ID         int64      `json:"id" firestore:"id"`
	BuildID    int64      `json:"build_id" firestore:"build_id"`
	PlatformID int64      `json:"platform_id" firestore:"platform_id"`
	Arch       string     `json:"arch" firestore:"arch"`
	Index      int        `json:"index" firestore:"index"`
	RefID      int64      `json:"ref_id" firestore:"ref_id"`
	Status     TaskStatus `json:"status" firestore:"status"`
	RPMModule  *RPMModule `json:"rpm_module,omitempty" firestore:"rpm_module"`
}

// Artifact is a file produced by a build task.
type Artifact struct {
	ID      int64  `json:"id" firestore:"id"`
	TaskID  int64  `json:"task_id" firestore:"task_id"`
	Name    string `json:"name" firestore:"name"`
	Type    string `json:"type" firestore:"type"`
	Href    string `json:"href" firestore:"href"`
	CASHash string `json:"cas_hash,omitempty" firestore:"cas_hash"`
}

// BinaryRPM links an artifact to a build.
type BinaryRPM struct {
	ID         int64 `json:"id" firestore:"id"`
	ArtifactID int64 `json:"artifact_id" firestore:"artifact_id"`
	BuildID    int64 `json:"build_id" firestore:"build_id"`
}

// Build groups tasks and their per-build repositories.
type Build struct {
	ID            int64   `json:"id" firestore:"id"`
	Owner         string  `json:"owner" firestore:"owner"`
	Released      bool    `json:"released" firestore:"released"`
	RepositoryIDs []int64 `json:"repository_ids" firestore:"repository_ids"`
	ProductIDs    []int64 `json:"product_ids" firestore:"product_ids"`
	FlavourIDs    []int64 `json:"flavour_ids" firestore:"flavour_ids"`
}

// Repository is a content repository on the package-repository service.
type Repository struct {
	ID    int64  `json:"id" firestore:"id"`
	Name  string `json:"name" firestore:"name"`
	Arch  string `json:"arch" firestore:"arch"`
	Debug bool   `json:"debug" firestore:"debug"`
	Type  string `json:"type" firestore:"type"`
	// PlatformID is zero for rows created before platform links existed.
	PlatformID int64  `json:"platform_id,omitempty" firestore:"platform_id"`
	Href       string `json:"href" firestore:"href"`
}

// Product is a published distribution target that builds attach to.
type Product struct {
	ID            int64   `json:"id" firestore:"id"`
	Name          string  `json:"name" firestore:"name"`
	Owner         string  `json:"owner" firestore:"owner"`
	PlatformIDs   []int64 `json:"platform_ids" firestore:"platform_ids"`
	RepositoryIDs []int64 `json:"repository_ids" firestore:"repository_ids"`
	BuildIDs      []int64 `json:"build_ids" firestore:"build_ids"`
}

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrStale is returned when a record guarded with IfUnchanged changed after
// it was read.
var ErrStale = errors.New("records changed since they were read")

// ErrReadOnly is returned when a read-only transaction writes.
var ErrReadOnly = errors.New("write in read-only transaction")

// ReadSet maps the records a transaction read to their versions. Versions
// are only comparable within the store that produced them. A record that did
// not exist has the empty version.
type ReadSet map[string]string

// TxOptions are the settings of one transaction.
type TxOptions struct {
	ReadOnly bool
	// Reads receives the ReadSet of a read-only transaction.
	Reads *ReadSet
	// Guard lists records that must still have the recorded versions at commit.
	Guard ReadSet
}

// TxOption configures a transaction.
type TxOption func(*TxOptions)

// ReadOnly runs a transaction that may not write and stores the versions of
// every record it read in reads.
func ReadOnly(reads *ReadSet) TxOption {
	return func(o *TxOptions) {
		o.ReadOnly = true
		o.Reads = reads
	}
}

// IfUnchanged fails the transaction with ErrStale unless every record in
// reads is unchanged. Pair it with ReadOnly to keep slow work between the
// reads and the writes out of any open transaction.
func IfUnchanged(reads ReadSet) TxOption {
	return func(o *TxOptions) { o.Guard = reads }
}

// ApplyTxOptions folds opts into TxOptions.
func ApplyTxOptions(opts ...TxOption) TxOptions {
	var o TxOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Store runs units of work transactionally.
type Store interface {
	// RunInTx commits the writes made through tx when fn returns nil and
	// discards them otherwise.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error, opts ...TxOption) error
}

// Tx is the view of the store within one transaction.
type Tx interface {
	Build(ctx context.Context, id int64) (*Build, error)
	Product(ctx context.Context, id int64) (*Product, error)
	Platform(ctx context.Context, id int64) (*Platform, error)
	PlatformByName(ctx context.Context, name string) (*Platform, error)
	Flavours(ctx context.Context, ids []int64) ([]PlatformFlavour, error)
	Task(ctx context.Context, id int64) (*BuildTask, error)
	// Tasks returns the build's tasks ordered by id. A negative index selects all of them.
	Tasks(ctx context.Context, buildID int64, index int) ([]BuildTask, error)
	// Artifacts returns the tasks' artifacts ordered by (task id, id).
	Artifacts(ctx context.Context, taskIDs []int64) ([]Artifact, error)
	Repositories(ctx context.Context, ids []int64) ([]Repository, error)

	CreateArtifact(ctx context.Context, a *Artifact) error
	UpdateArtifact(ctx context.Context, a Artifact) error
	CreateBinaryRPM(ctx context.Context, b *BinaryRPM) error
	SetRepositoryPlatform(ctx context.Context, repoID, platformID int64) error
	AttachBuild(ctx context.Context, productID, buildID int64) error
	DetachBuild(ctx context.Context, productID, buildID int64) error
}

// AllIndexes selects every task of a build in Tx.Tasks.
const AllIndexes = -1
