package domain

import (
	"errors"
	"fmt"
	"time"
)

type HealthState string

const (
	// not verified (yet). Entries start here.
	HealthUnknown HealthState = "unknown"

	// passed verification. Rollbacks restore the newest of these.
	HealthVerified HealthState = "healthy"

	// failed verification. Skipped when choosing a rollback target.
	HealthFailed HealthState = "unhealthy"

	// the cluster never converged to this entry within the sync timeout.
	HealthDiverged HealthState = "diverged"
)

func (hs HealthState) String() string {
	return string(hs)
}

func AsHealthState(s string) (HealthState, error) {
	switch s {
	case string(HealthUnknown):
		return HealthUnknown, nil
	case string(HealthVerified):
		return HealthVerified, nil
	case string(HealthFailed):
		return HealthFailed, nil
	case string(HealthDiverged):
		return HealthDiverged, nil
	default:
		return "", fmt.Errorf("'%s' is not HealthState", s)
	}
}

// true when a rollback may restore this entry.
func (hs HealthState) Restorable() bool {
	return hs == HealthVerified
}

// ManifestRevision is one entry of the append-only manifest log.
//
// Sequence is unique and strictly increasing over the log. The entry with the
// largest Sequence is the head, the desired state of the cluster.
type ManifestRevision struct {
	Sequence int64

	// source revision the entry deploys.
	RevisionID string

	// artifact the entry points at.
	ArtifactTag string

	// Sequence of the head this entry was written on top of. 0 for the first entry.
	PreviousSequence int64

	// identity that wrote the entry.
	Author string

	CreatedAt time.Time

	Health HealthState
}

func (mr *ManifestRevision) Equal(o *ManifestRevision) bool {
	if (mr == nil) || (o == nil) {
		return (mr == nil) && (o == nil)
	}
	return mr.Sequence == o.Sequence &&
		mr.RevisionID == o.RevisionID &&
		mr.ArtifactTag == o.ArtifactTag &&
		mr.PreviousSequence == o.PreviousSequence &&
		mr.Author == o.Author &&
		mr.CreatedAt.Equal(o.CreatedAt) &&
		mr.Health == o.Health
}

// true when this entry is newer than the other.
//
// A newer entry cancels in-flight syncs of older ones, and an older entry is
// never applied over a newer one.
func (mr *ManifestRevision) Supersedes(o *ManifestRevision) bool {
	if mr == nil {
		return false
	}
	return o == nil || o.Sequence < mr.Sequence
}

// Manifest is the desired-state document rendered from a ManifestRevision.
//
// This is what gets committed to the manifest store and what the sync
// controller applies to the cluster.
type Manifest struct {
	App              string `yaml:"app"`
	Image            string `yaml:"image"`
	Revision         string `yaml:"revision"`
	Sequence         int64  `yaml:"sequence"`
	PreviousSequence int64  `yaml:"previousSequence,omitempty"`
	Author           string `yaml:"author,omitempty"`
}

func (m Manifest) Equal(o Manifest) bool {
	return m == o
}

// Document renders the desired-state document for an app from this entry.
func (mr *ManifestRevision) Document(app string) Manifest {
	return Manifest{
		App:              app,
		Image:            mr.ArtifactTag,
		Revision:         mr.RevisionID,
		Sequence:         mr.Sequence,
		PreviousSequence: mr.PreviousSequence,
		Author:           mr.Author,
	}
}

var (
	// the head moved while writing an entry on top of it.
	// Re-read the head and retry.
	ErrWriteConflict = errors.New("manifest head has moved")

	// there is no restorable entry to roll back to.
	// This is fatal. An operator has to intervene.
	ErrRollbackImpossible = errors.New("no healthy revision to roll back to")

	ErrInvalidHealthChanging = errors.New("cannot change manifest health")
)

func NewErrInvalidHealthChanging(from, to HealthState) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidHealthChanging, from, to)
}
