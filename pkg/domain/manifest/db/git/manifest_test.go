package git_test

import (
	"context"
	"errors"
	"testing"

	types "github.com/opst/shipfab/pkg/domain"
	domerr "github.com/opst/shipfab/pkg/domain/errors"
	kdb "github.com/opst/shipfab/pkg/domain/manifest/db"
	kgit "github.com/opst/shipfab/pkg/domain/manifest/db/git"
	"github.com/opst/shipfab/pkg/utils/try"
)

func newStore(t *testing.T) kdb.Interface {
	t.Helper()
	store, err := kgit.NewInMemory("hello-app", kgit.Signature{})
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func put(t *testing.T, store kdb.Interface, revisionID string, expectedHead int64) types.ManifestRevision {
	t.Helper()
	ctx := context.Background()
	return try.To(store.Put(ctx, kdb.PutParam{
		RevisionID:   revisionID,
		ArtifactTag:  "registry.invalid/hello-app:rev-" + revisionID,
		Author:       "shipd",
		ExpectedHead: expectedHead,
	})).OrFatal(t)
}

func TestPut(t *testing.T) {
	t.Run("it starts with an empty log", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		head := try.To(store.Head(ctx)).OrFatal(t)
		if head != nil {
			t.Errorf("head is not nil, unexpectedly: %+v", head)
		}
	})

	t.Run("it assigns strictly increasing sequences from 1", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		e1 := put(t, store, "c0ffee01", 0)
		e2 := put(t, store, "c0ffee02", e1.Sequence)
		e3 := put(t, store, "c0ffee03", e2.Sequence)

		for nth, testcase := range []struct {
			entry        types.ManifestRevision
			wantSequence int64
			wantPrevious int64
		}{
			{e1, 1, 0},
			{e2, 2, 1},
			{e3, 3, 2},
		} {
			if testcase.entry.Sequence != testcase.wantSequence {
				t.Errorf(
					"entry #%d: sequence: (actual, expected) = (%d, %d)",
					nth, testcase.entry.Sequence, testcase.wantSequence,
				)
			}
			if testcase.entry.PreviousSequence != testcase.wantPrevious {
				t.Errorf(
					"entry #%d: previous sequence: (actual, expected) = (%d, %d)",
					nth, testcase.entry.PreviousSequence, testcase.wantPrevious,
				)
			}
			if testcase.entry.Health != types.HealthUnknown {
				t.Errorf(
					"entry #%d: health: (actual, expected) = (%s, %s)",
					nth, testcase.entry.Health, types.HealthUnknown,
				)
			}
		}

		head := try.To(store.Head(ctx)).OrFatal(t)
		if !head.Equal(&e3) {
			t.Errorf("head: (actual, expected) = (%+v, %+v)", head, e3)
		}
	})

	t.Run("it refuses to write on a stale head", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		e1 := put(t, store, "c0ffee01", 0)

		// another writer read head 0 before e1 landed.
		_, err := store.Put(ctx, kdb.PutParam{
			RevisionID: "deadbeef", ArtifactTag: "x", ExpectedHead: 0,
		})
		if !errors.Is(err, types.ErrWriteConflict) {
			t.Errorf("error is not ErrWriteConflict: %+v", err)
		}

		head := try.To(store.Head(ctx)).OrFatal(t)
		if !head.Equal(&e1) {
			t.Errorf("head has moved: (actual, expected) = (%+v, %+v)", head, e1)
		}
	})

	t.Run("it accepts a retry with the fresh head", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		e1 := put(t, store, "c0ffee01", 0)
		_, err := store.Put(ctx, kdb.PutParam{
			RevisionID: "deadbeef", ArtifactTag: "x", ExpectedHead: 0,
		})
		if !errors.Is(err, types.ErrWriteConflict) {
			t.Fatalf("error is not ErrWriteConflict: %+v", err)
		}

		e2 := put(t, store, "deadbeef", e1.Sequence)
		if e2.Sequence != e1.Sequence+1 {
			t.Errorf(
				"sequence: (actual, expected) = (%d, %d)",
				e2.Sequence, e1.Sequence+1,
			)
		}
	})
}

func TestMarkHealth(t *testing.T) {
	t.Run("it marks an unknown entry", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		e1 := put(t, store, "c0ffee01", 0)
		if err := store.MarkHealth(ctx, e1.Sequence, types.HealthVerified); err != nil {
			t.Fatal(err)
		}

		head := try.To(store.Head(ctx)).OrFatal(t)
		if head.Health != types.HealthVerified {
			t.Errorf(
				"health: (actual, expected) = (%s, %s)",
				head.Health, types.HealthVerified,
			)
		}
	})

	t.Run("it refuses to re-mark a marked entry", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		e1 := put(t, store, "c0ffee01", 0)
		if err := store.MarkHealth(ctx, e1.Sequence, types.HealthFailed); err != nil {
			t.Fatal(err)
		}

		err := store.MarkHealth(ctx, e1.Sequence, types.HealthVerified)
		if !errors.Is(err, types.ErrInvalidHealthChanging) {
			t.Errorf("error is not ErrInvalidHealthChanging: %+v", err)
		}
	})

	t.Run("it returns ErrMissing for an absent sequence", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		err := store.MarkHealth(ctx, 42, types.HealthVerified)
		if !errors.Is(err, domerr.ErrMissing) {
			t.Errorf("error is not ErrMissing: %+v", err)
		}
	})
}

func TestLastHealthy(t *testing.T) {
	t.Run("it returns the newest healthy entry, skipping failed ones", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		e1 := put(t, store, "c0ffee01", 0)
		e2 := put(t, store, "c0ffee02", e1.Sequence)
		e3 := put(t, store, "c0ffee03", e2.Sequence)

		if err := store.MarkHealth(ctx, e1.Sequence, types.HealthVerified); err != nil {
			t.Fatal(err)
		}
		if err := store.MarkHealth(ctx, e2.Sequence, types.HealthFailed); err != nil {
			t.Fatal(err)
		}

		// e3 went bad. its rollback target is e1, not e2.
		target := try.To(store.LastHealthy(ctx, e3.Sequence)).OrFatal(t)
		if target.Sequence != e1.Sequence {
			t.Errorf(
				"target: (actual, expected) = (%d, %d)",
				target.Sequence, e1.Sequence,
			)
		}
	})

	t.Run("it does not restore diverged entries", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		e1 := put(t, store, "c0ffee01", 0)
		e2 := put(t, store, "c0ffee02", e1.Sequence)

		if err := store.MarkHealth(ctx, e1.Sequence, types.HealthDiverged); err != nil {
			t.Fatal(err)
		}

		_, err := store.LastHealthy(ctx, e2.Sequence)
		if !errors.Is(err, domerr.ErrMissing) {
			t.Errorf("error is not ErrMissing: %+v", err)
		}
	})

	t.Run("it returns ErrMissing when no healthy entry exists below", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		e1 := put(t, store, "c0ffee01", 0)

		_, err := store.LastHealthy(ctx, e1.Sequence)
		if !errors.Is(err, domerr.ErrMissing) {
			t.Errorf("error is not ErrMissing: %+v", err)
		}
	})
}

func TestHistory(t *testing.T) {
	t.Run("it lists entries oldest first, from the given sequence", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		e1 := put(t, store, "c0ffee01", 0)
		e2 := put(t, store, "c0ffee02", e1.Sequence)
		e3 := put(t, store, "c0ffee03", e2.Sequence)

		actual := try.To(store.History(ctx, e2.Sequence)).OrFatal(t)
		expected := []types.ManifestRevision{e2, e3}
		if len(actual) != len(expected) {
			t.Fatalf("unmatch: (actual, expected) = (%+v, %+v)", actual, expected)
		}
		for i := range expected {
			if !actual[i].Equal(&expected[i]) {
				t.Errorf(
					"entry #%d: (actual, expected) = (%+v, %+v)",
					i, actual[i], expected[i],
				)
			}
		}
	})
}

func TestGet(t *testing.T) {
	t.Run("it retrieves entries by sequence, leaving out absent ones", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		e1 := put(t, store, "c0ffee01", 0)
		e2 := put(t, store, "c0ffee02", e1.Sequence)

		actual := try.To(store.Get(ctx, []int64{e1.Sequence, 42})).OrFatal(t)
		if len(actual) != 1 {
			t.Fatalf("unmatch: actual = %+v", actual)
		}
		if got, ok := actual[e1.Sequence]; !ok || !got.Equal(&e1) {
			t.Errorf("entry: (actual, expected) = (%+v, %+v)", got, e1)
		}
		if _, ok := actual[e2.Sequence]; ok {
			t.Errorf("entry %d is found, unexpectedly", e2.Sequence)
		}
	})
}
