package manager_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/opst/shipfab/pkg/domain"
	kerrors "github.com/opst/shipfab/pkg/domain/errors"
	kmanifest "github.com/opst/shipfab/pkg/domain/manifest"
	kdb "github.com/opst/shipfab/pkg/domain/manifest/db"
	dbmock "github.com/opst/shipfab/pkg/domain/manifest/db/mock"
	"github.com/opst/shipfab/pkg/domain/rollback/manager"
)

func entry(sequence int64, revisionID string, health domain.HealthState) domain.ManifestRevision {
	return domain.ManifestRevision{
		Sequence:         sequence,
		RevisionID:       revisionID,
		ArtifactTag:      domain.ArtifactTagFor("registry.fake.local/hello-app", revisionID),
		PreviousSequence: sequence - 1,
		Author:           "dev@acme.example",
		CreatedAt:        time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC),
		Health:           health,
	}
}

func TestRollback(t *testing.T) {

	t.Run("it restores the last verified entry below the failed one", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		failed := entry(9, "cccc2222", domain.HealthFailed)
		target := entry(7, "aaaa0000", domain.HealthVerified)

		dbm := dbmock.NewManifestInterface()
		dbm.Impl.LastHealthy = func(_ context.Context, before int64) (*domain.ManifestRevision, error) {
			tgt := target
			return &tgt, nil
		}
		dbm.Impl.Head = func(context.Context) (*domain.ManifestRevision, error) {
			h := failed
			return &h, nil
		}
		dbm.Impl.Put = func(_ context.Context, param kdb.PutParam) (domain.ManifestRevision, error) {
			want := kdb.PutParam{
				RevisionID:   target.RevisionID,
				ArtifactTag:  target.ArtifactTag,
				Author:       "shipd",
				ExpectedHead: failed.Sequence,
			}
			if param != want {
				t.Errorf(
					"unexpected param:\n===actual===\n%+v\n===expected===\n%+v",
					param, want,
				)
			}
			return domain.ManifestRevision{
				Sequence:         10,
				RevisionID:       param.RevisionID,
				ArtifactTag:      param.ArtifactTag,
				PreviousSequence: param.ExpectedHead,
				Author:           param.Author,
				Health:           domain.HealthUnknown,
			}, nil
		}

		testee := manager.New(kmanifest.New(dbm))
		actual, err := testee.Rollback(ctx, failed)
		if err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}
		if actual.Sequence != 10 || actual.RevisionID != target.RevisionID {
			t.Errorf("unexpected entry: %+v", actual)
		}
		if before, ok := dbm.Calls.LastHealthy.Last(); !ok || before != failed.Sequence {
			t.Errorf("unexpected LastHealthy call: %+v", dbm.Calls.LastHealthy)
		}
	})

	t.Run("it escalates when nothing below has passed verification", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		failed := entry(3, "cccc2222", domain.HealthDiverged)

		dbm := dbmock.NewManifestInterface()
		dbm.Impl.LastHealthy = func(_ context.Context, before int64) (*domain.ManifestRevision, error) {
			return nil, kerrors.ErrMissing
		}
		// Put is not implemented. calling it fails the test.

		testee := manager.New(kmanifest.New(dbm))
		if _, err := testee.Rollback(ctx, failed); !errors.Is(err, domain.ErrRollbackImpossible) {
			t.Errorf("unexpected error: %+v", err)
		}
		if dbm.Calls.Put.Times() != 0 {
			t.Errorf("unexpected Put calls: %d", dbm.Calls.Put.Times())
		}
	})

	t.Run("it does not append when the head restores the target already", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		failed := entry(9, "cccc2222", domain.HealthFailed)
		target := entry(7, "aaaa0000", domain.HealthVerified)

		// someone (or an earlier attempt of ours) rolled back meanwhile.
		head := domain.ManifestRevision{
			Sequence:         10,
			RevisionID:       target.RevisionID,
			ArtifactTag:      target.ArtifactTag,
			PreviousSequence: 9,
			Author:           "shipd",
			Health:           domain.HealthUnknown,
		}

		dbm := dbmock.NewManifestInterface()
		dbm.Impl.LastHealthy = func(_ context.Context, before int64) (*domain.ManifestRevision, error) {
			tgt := target
			return &tgt, nil
		}
		dbm.Impl.Head = func(context.Context) (*domain.ManifestRevision, error) {
			h := head
			return &h, nil
		}
		// Put is not implemented. calling it fails the test.

		testee := manager.New(kmanifest.New(dbm))
		actual, err := testee.Rollback(ctx, failed)
		if err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}
		if !actual.Equal(&head) {
			t.Errorf(
				"unexpected entry:\n===actual===\n%+v\n===expected===\n%+v",
				actual, head,
			)
		}
	})

	t.Run("it adopts a restore another writer appended first", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		failed := entry(9, "cccc2222", domain.HealthFailed)
		target := entry(7, "aaaa0000", domain.HealthVerified)

		// another daemon restoring the same target won the race.
		theirs := domain.ManifestRevision{
			Sequence:         10,
			RevisionID:       target.RevisionID,
			ArtifactTag:      target.ArtifactTag,
			PreviousSequence: 9,
			Author:           "shipd",
			Health:           domain.HealthUnknown,
		}

		dbm := dbmock.NewManifestInterface()
		dbm.Impl.LastHealthy = func(_ context.Context, before int64) (*domain.ManifestRevision, error) {
			tgt := target
			return &tgt, nil
		}
		dbm.Impl.Head = func(context.Context) (*domain.ManifestRevision, error) {
			h := failed
			if 1 < dbm.Calls.Head.Times() {
				h = theirs
			}
			return &h, nil
		}
		dbm.Impl.Put = func(_ context.Context, param kdb.PutParam) (domain.ManifestRevision, error) {
			if param.ExpectedHead != 9 {
				t.Errorf("unexpected ExpectedHead: %d", param.ExpectedHead)
			}
			return domain.ManifestRevision{}, fmt.Errorf(
				"%w: expected head 9, but 10", domain.ErrWriteConflict,
			)
		}

		testee := manager.New(kmanifest.New(dbm))
		actual, err := testee.Rollback(ctx, failed)
		if err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}
		if !actual.Equal(&theirs) {
			t.Errorf(
				"unexpected entry:\n===actual===\n%+v\n===expected===\n%+v",
				actual, theirs,
			)
		}
		if dbm.Calls.Put.Times() != 1 {
			t.Errorf("unexpected Put calls: %d", dbm.Calls.Put.Times())
		}
	})

	t.Run("it concedes when the log has moved past the failure", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		failed := entry(9, "cccc2222", domain.HealthFailed)
		target := entry(7, "aaaa0000", domain.HealthVerified)

		dbm := dbmock.NewManifestInterface()
		dbm.Impl.LastHealthy = func(_ context.Context, before int64) (*domain.ManifestRevision, error) {
			tgt := target
			return &tgt, nil
		}
		dbm.Impl.Head = func(context.Context) (*domain.ManifestRevision, error) {
			// a newer push appended while the failure was being handled.
			h := entry(10, "dddd3333", domain.HealthUnknown)
			return &h, nil
		}
		// Put is not implemented. calling it fails the test.

		testee := manager.New(kmanifest.New(dbm))
		if _, err := testee.Rollback(ctx, failed); !errors.Is(err, domain.ErrSyncSuperseded) {
			t.Errorf("unexpected error: %+v", err)
		}
		if dbm.Calls.Put.Times() != 0 {
			t.Errorf("unexpected Put calls: %d", dbm.Calls.Put.Times())
		}
	})

	t.Run("it gives up when cancelled between retries", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		failed := entry(9, "cccc2222", domain.HealthFailed)
		target := entry(7, "aaaa0000", domain.HealthVerified)

		dbm := dbmock.NewManifestInterface()
		dbm.Impl.LastHealthy = func(_ context.Context, before int64) (*domain.ManifestRevision, error) {
			tgt := target
			return &tgt, nil
		}
		dbm.Impl.Head = func(context.Context) (*domain.ManifestRevision, error) {
			h := failed
			return &h, nil
		}
		dbm.Impl.Put = func(context.Context, kdb.PutParam) (domain.ManifestRevision, error) {
			cancel() // keep conflicting, with the context going away.
			return domain.ManifestRevision{}, domain.ErrWriteConflict
		}

		testee := manager.New(kmanifest.New(dbm))
		if _, err := testee.Rollback(ctx, failed); !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error: %+v", err)
		}
		if dbm.Calls.Put.Times() != 1 {
			t.Errorf("unexpected Put calls: %d", dbm.Calls.Put.Times())
		}
	})
}
