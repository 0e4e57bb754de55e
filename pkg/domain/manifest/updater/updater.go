package updater

import (
	"context"
	"errors"
	"fmt"

	"github.com/opst/shipfab/pkg/domain"
	kmanifest "github.com/opst/shipfab/pkg/domain/manifest"
	kdb "github.com/opst/shipfab/pkg/domain/manifest/db"
)

// Updater appends manifest log entries for published builds.
type Updater interface {
	// Update appends an entry deploying rec's artifact on top of the head.
	//
	// The append is optimistic: the head is read first, and the write happens
	// only if the head has not moved meanwhile. When it has, the head is read
	// again and the write retried, so concurrent writers serialize instead of
	// overwriting each other. When the head already deploys the same artifact,
	// nothing is appended and the head comes back as it is.
	//
	// # Args
	//
	// - rec: a finished, successful build. Others are refused.
	//
	// - author: identity recorded on the entry, for provenance.
	//
	// # Returns
	//
	// - domain.ManifestRevision: the appended entry (or the head, when it
	// already deploys the artifact).
	//
	// - error
	Update(ctx context.Context, rec domain.BuildRecord, author string) (domain.ManifestRevision, error)
}

type updater struct {
	manifest kmanifest.Interface
}

func New(manifest kmanifest.Interface) Updater {
	return &updater{manifest: manifest}
}

func (u *updater) Update(ctx context.Context, rec domain.BuildRecord, author string) (domain.ManifestRevision, error) {
	if !rec.Succeeded {
		return domain.ManifestRevision{}, fmt.Errorf(
			"manifest update refused: build %s@%s is not published",
			rec.Repository, rec.RevisionID,
		)
	}

	for {
		if err := ctx.Err(); err != nil {
			return domain.ManifestRevision{}, err
		}

		head, err := u.manifest.Database().Head(ctx)
		if err != nil {
			return domain.ManifestRevision{}, err
		}

		if head != nil && head.RevisionID == rec.RevisionID && head.ArtifactTag == rec.ArtifactTag {
			// the head deploys this artifact already. nothing to append.
			return *head, nil
		}

		expected := int64(0)
		if head != nil {
			expected = head.Sequence
		}

		entry, err := u.manifest.Database().Put(ctx, kdb.PutParam{
			RevisionID:   rec.RevisionID,
			ArtifactTag:  rec.ArtifactTag,
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
