package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/opst/shipfab/pkg/domain"
	kerrors "github.com/opst/shipfab/pkg/domain/errors"
	kmanifest "github.com/opst/shipfab/pkg/domain/manifest"
	kdb "github.com/opst/shipfab/pkg/domain/manifest/db"
)

// rollback entries are written by the daemon itself, not by a committer.
const author = "shipd"

// Manager restores the last revision which passed verification.
//
// A rollback appends, it never rewrites: the restoring entry is a new head
// pointing at an old artifact, and the failed entries stay in the log.
type Manager interface {
	// Rollback appends a manifest entry restoring the newest entry below
	// `failed` which was verified healthy. Entries in between which failed,
	// diverged, or were never verified are skipped, whatever their number.
	//
	// The append follows the same optimistic protocol as a regular update:
	// read the head, write against it, and go again on a conflict.
	//
	// # Args
	//
	// - failed: the entry whose deployment went bad.
	//
	// # Returns
	//
	// - domain.ManifestRevision: the restoring entry, the new head (or the
	// head as it is, when it restores the target already).
	//
	// - error: domain.ErrRollbackImpossible when nothing below `failed` is
	// restorable. That one is fatal: the cluster is left as it stands and
	// an operator has to step in. No automated recovery goes further.
	// domain.ErrSyncSuperseded when the log has moved past `failed` already;
	// the newer entry owns the cluster now, and restoring over it would
	// drive the cluster backwards.
	Rollback(ctx context.Context, failed domain.ManifestRevision) (domain.ManifestRevision, error)
}

type manager struct {
	manifest kmanifest.Interface
}

func New(manifest kmanifest.Interface) Manager {
	return &manager{manifest: manifest}
}

func (m *manager) Rollback(ctx context.Context, failed domain.ManifestRevision) (domain.ManifestRevision, error) {
	target, err := m.manifest.Database().LastHealthy(ctx, failed.Sequence)
	if err != nil {
		if errors.Is(err, kerrors.ErrMissing) {
			return domain.ManifestRevision{}, fmt.Errorf(
				"%w: no entry below #%d has passed verification",
				domain.ErrRollbackImpossible, failed.Sequence,
			)
		}
		return domain.ManifestRevision{}, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return domain.ManifestRevision{}, err
		}

		head, err := m.manifest.Database().Head(ctx)
		if err != nil {
			return domain.ManifestRevision{}, err
		}

		if head != nil && head.RevisionID == target.RevisionID && head.ArtifactTag == target.ArtifactTag {
			// the head restores the target already. nothing to append.
			return *head, nil
		}

		if head != nil && failed.Sequence < head.Sequence {
			// someone appended past the failure meanwhile. that entry owns
			// the cluster now; this rollback concedes.
			return domain.ManifestRevision{}, fmt.Errorf(
				"%w: the log moved past #%d to #%d",
				domain.ErrSyncSuperseded, failed.Sequence, head.Sequence,
			)
		}

		expected := int64(0)
		if head != nil {
			expected = head.Sequence
		}

		entry, err := m.manifest.Database().Put(ctx, kdb.PutParam{
			RevisionID:   target.RevisionID,
			ArtifactTag:  target.ArtifactTag,
			Author:       author,
			ExpectedHead: expected,
		})
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, domain.ErrWriteConflict) {
			return domain.ManifestRevision{}, err
		}
		// the head moved under us. read it again and go once more.
	}
}
