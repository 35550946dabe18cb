// Package store is Homu's durable record of pull-request snapshots,
// build results, mergeability cache, and build-trigger provenance
// (§4.1). Grounded on the teacher's store package: the same
// upsert-by-natural-key shape as sql_pull_request_store.go, generalized
// from one table to the four the merge queue needs.
package store

import (
	"context"

	"github.com/homu-project/homu/internal/model"
)

// Store is the persistence contract of §4.1. Every operation is scoped
// to one row or one small batch; there is no cross-row transaction
// requirement because the Model, not the Store, is the runtime source
// of truth (§4.1 Guarantees).
type Store interface {
	// UpsertPull writes the full current state of one pull request.
	UpsertPull(ctx context.Context, pr *model.PullRequest) error

	// DeletePull removes one pull request and its subordinate rows
	// (build results, mergeability cache).
	DeletePull(ctx context.Context, repo string, number int) error

	// RecordBuild upserts a build result for (repo, number, builder).
	RecordBuild(ctx context.Context, b *model.BuildResult) error

	// LoadAll streams every persisted pull request, keyed by repo, so
	// the Model can be rehydrated at startup.
	LoadAll(ctx context.Context) (map[string][]*model.PullRequest, error)

	// LoadBuildResults returns every persisted build result for one
	// pull request, used to rehydrate BuildResult rows alongside a
	// PullRequest loaded by LoadAll.
	LoadBuildResults(ctx context.Context, repo string, number int) ([]*model.BuildResult, error)

	// SetMergeable upserts the cached mergeability hint.
	SetMergeable(ctx context.Context, repo string, number int, m model.Mergeable) error

	// RecordTrigger upserts provenance for a push to the integration
	// branch, keyed on the requested SHA.
	RecordTrigger(ctx context.Context, t *model.BuildTrigger) error

	// IncrementTriggerCount bumps the retry counter for an existing
	// BuildTrigger row.
	IncrementTriggerCount(ctx context.Context, branch, triggerSHA string) error

	Close() error
}
