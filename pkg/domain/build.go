package domain

import (
	"errors"
	"fmt"
	"time"
)

// ArtifactTagFor derives the image reference for a revision.
//
// The mapping is deterministic. Building the same revision twice names the same
// artifact, which is what makes rebuilds and concurrent submissions idempotent.
func ArtifactTagFor(repository string, revisionID string) string {
	return fmt.Sprintf("%s:rev-%s", repository, revisionID)
}

// BuildRecord tracks turning one source revision into a container image.
//
// There is at most one record per (Repository, RevisionID). The record acts as
// the per-revision build lock: reserving an existing record adopts it instead
// of starting another build.
type BuildRecord struct {
	// source repository of the revision.
	Repository string

	// revision built.
	RevisionID string

	// image reference the build publishes. See ArtifactTagFor.
	ArtifactTag string

	// number of runs performed for this record (first run + retries).
	Attempts int

	// when the build was reserved.
	StartedAt time.Time

	// when the build concluded. Nil while running.
	FinishedAt *time.Time

	// true when the artifact has been published to the registry.
	Succeeded bool
}

func (br *BuildRecord) Equal(o *BuildRecord) bool {
	if (br == nil) || (o == nil) {
		return (br == nil) && (o == nil)
	}
	return br.Repository == o.Repository &&
		br.RevisionID == o.RevisionID &&
		br.ArtifactTag == o.ArtifactTag &&
		br.Attempts == o.Attempts &&
		br.StartedAt.Equal(o.StartedAt) &&
		((br.FinishedAt == nil && o.FinishedAt == nil) ||
			(br.FinishedAt != nil && o.FinishedAt != nil && br.FinishedAt.Equal(*o.FinishedAt))) &&
		br.Succeeded == o.Succeeded
}

func (br *BuildRecord) Running() bool {
	return br != nil && br.FinishedAt == nil
}

// BuildFailure is how a build run reports its outcome when it does not succeed.
//
// Transient failures (infrastructure trouble; the tool never got to run, or was
// killed by the platform) may be retried. Permanent failures (the build tool ran
// and said no) abort the attempt at once. Unclassifiable failures are permanent.
type BuildFailure struct {
	RevisionID string
	Transient  bool
	Cause      error
}

func (bf *BuildFailure) Error() string {
	kind := "permanent"
	if bf.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("build failed (%s): revision %s: %v", kind, bf.RevisionID, bf.Cause)
}

func (bf *BuildFailure) Unwrap() error {
	return bf.Cause
}

func NewTransientBuildFailure(revisionID string, cause error) *BuildFailure {
	return &BuildFailure{RevisionID: revisionID, Transient: true, Cause: cause}
}

func NewPermanentBuildFailure(revisionID string, cause error) *BuildFailure {
	return &BuildFailure{RevisionID: revisionID, Transient: false, Cause: cause}
}

func AsBuildFailure(err error) (*BuildFailure, bool) {
	bf := &BuildFailure{}
	if errors.As(err, &bf) {
		return bf, true
	}
	return nil, false
}
