package manifests

import (
	"github.com/opst/shipfab/pkg/domain"
	"github.com/opst/shipfab/pkg/utils/rfctime"
)

// Entry is one entry of the manifest log.
//
// The entry with the largest Sequence is the head, the desired state of the
// cluster.
type Entry struct {
	Sequence int64 `json:"sequence"`

	Revision string `json:"revision"`

	ArtifactTag string `json:"artifactTag"`

	// Sequence of the head this entry was written on top of. 0 for the first entry.
	PreviousSequence int64 `json:"previousSequence"`

	Author string `json:"author,omitempty"`

	CreatedAt rfctime.RFC3339 `json:"createdAt"`

	// verification outcome: "unknown", "healthy", "unhealthy" or "diverged".
	Health string `json:"health"`
}

func (e Entry) Equal(o Entry) bool {
	return e.Sequence == o.Sequence &&
		e.Revision == o.Revision &&
		e.ArtifactTag == o.ArtifactTag &&
		e.PreviousSequence == o.PreviousSequence &&
		e.Author == o.Author &&
		e.CreatedAt.Equal(&o.CreatedAt) &&
		e.Health == o.Health
}

func ComposeEntry(mr domain.ManifestRevision) Entry {
	return Entry{
		Sequence:         mr.Sequence,
		Revision:         mr.RevisionID,
		ArtifactTag:      mr.ArtifactTag,
		PreviousSequence: mr.PreviousSequence,
		Author:           mr.Author,
		CreatedAt:        rfctime.RFC3339(mr.CreatedAt),
		Health:           mr.Health.String(),
	}
}
