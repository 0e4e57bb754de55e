package db

import (
	"context"

	"github.com/opst/shipfab/pkg/domain"
)

type Interface interface {
	// reserve the build of a revision.
	//
	// There is at most one BuildRecord per (repository, revision). The first
	// caller creates it and owns the build. A finished record that failed is
	// reopened: the revision builds again, under the same record. A finished
	// record that succeeded is never reopened; the artifact is already
	// published and the outcome stands.
	//
	// Args
	//
	// - repository: source repository of the revision.
	//
	// - revisionID: revision to build.
	//
	// - artifactTag: reference the build publishes.
	// Callers derive it with domain.ArtifactTagFor,
	// so that every reservation of a revision names the same artifact.
	//
	// Returns
	//
	// - domain.BuildRecord: the record for the revision.
	//
	// - bool: true when this call created or reopened the record. When false,
	// the record was already there: either a build is running (callers may
	// drive the same build; the cluster-side job tolerates adoption) or it
	// has succeeded.
	//
	// - error
	Reserve(ctx context.Context, repository string, revisionID string, artifactTag string) (domain.BuildRecord, bool, error)

	// conclude a build.
	//
	// A record is concluded at most once. Concluding an already-finished
	// record returns ErrMissing (there is no running build to conclude).
	//
	// Args
	//
	// - succeeded: true when the artifact was published.
	//
	// - attempts: how many runs were performed (first run + retries).
	//
	// Returns
	//
	// - error: ErrMissing (no running build for the revision)
	Complete(ctx context.Context, repository string, revisionID string, succeeded bool, attempts int) error

	// retrieve build records of revisions.
	//
	// Revisions without a record are left out of the result. No error for them.
	//
	// Returns
	//
	// - map[string]domain.BuildRecord: mapping revisionID->BuildRecord
	//
	// - error
	Get(ctx context.Context, repository string, revisionID []string) (map[string]domain.BuildRecord, error)
}
