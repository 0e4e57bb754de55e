package db

import (
	"context"

	"github.com/opst/shipfab/pkg/domain"
)

// PutParam is what a writer knows when appending a manifest log entry.
//
// Sequence and timestamps are the store's business.
type PutParam struct {
	// source revision the entry deploys.
	RevisionID string

	// artifact the entry points at.
	ArtifactTag string

	// identity writing the entry.
	Author string

	// Sequence of the head the writer read before writing. 0 for an empty log.
	//
	// When the head has moved since, the write is refused with ErrWriteConflict.
	ExpectedHead int64
}

type Interface interface {
	// append an entry on top of the head.
	//
	// The write happens only when the head is still param.ExpectedHead
	// (compare-and-set). Otherwise nothing is written and ErrWriteConflict
	// returns. The writer re-reads the head and retries with fresh values.
	//
	// Returns
	//
	// - domain.ManifestRevision: the written entry. Sequence is assigned by
	// the store, strictly greater than every existing one. Health starts
	// at HealthUnknown.
	//
	// - error: domain.ErrWriteConflict (the head moved)
	Put(ctx context.Context, param PutParam) (domain.ManifestRevision, error)

	// the newest entry of the log.
	//
	// Returns
	//
	// - *domain.ManifestRevision: nil when the log is empty. No error then.
	//
	// - error
	Head(ctx context.Context) (*domain.ManifestRevision, error)

	// retrieve entries by sequence.
	//
	// Sequences without an entry are left out of the result. No error for them.
	Get(ctx context.Context, sequence []int64) (map[int64]domain.ManifestRevision, error)

	// entries with Sequence >= since, oldest first. since = 0 lists everything.
	History(ctx context.Context, since int64) ([]domain.ManifestRevision, error)

	// the newest restorable entry with Sequence < before.
	//
	// This is the rollback target when the entry at `before` went bad:
	// failed and diverged entries in between are skipped.
	//
	// Returns
	//
	// - *domain.ManifestRevision
	//
	// - error: ErrMissing (no restorable entry below `before`)
	LastHealthy(ctx context.Context, before int64) (*domain.ManifestRevision, error)

	// record the verification outcome of an entry.
	//
	// Only entries still at HealthUnknown can be marked. Entries are marked
	// at most once, when their verification (or sync) concludes.
	//
	// Returns
	//
	// - error: ErrInvalidHealthChanging (the entry is already marked),
	// ErrMissing (no entry has the sequence)
	MarkHealth(ctx context.Context, sequence int64, health domain.HealthState) error
}
