package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/opst/shipfab/pkg/domain"
)

func TestArtifactTagFor(t *testing.T) {
	t.Run("same revision names the same artifact", func(t *testing.T) {
		a := domain.ArtifactTagFor("registry.invalid/team/app", "0123abcd")
		b := domain.ArtifactTagFor("registry.invalid/team/app", "0123abcd")
		if a != b {
			t.Errorf("tags do not match: (%s, %s)", a, b)
		}
	})

	t.Run("different revisions name different artifacts", func(t *testing.T) {
		a := domain.ArtifactTagFor("registry.invalid/team/app", "0123abcd")
		b := domain.ArtifactTagFor("registry.invalid/team/app", "4567ef89")
		if a == b {
			t.Errorf("tags should differ: %s", a)
		}
	})

	t.Run("the tag is derived from repository and revision", func(t *testing.T) {
		actual := domain.ArtifactTagFor("registry.invalid/team/app", "0123abcd")
		expected := "registry.invalid/team/app:rev-0123abcd"
		if actual != expected {
			t.Errorf("unmatch: (actual, expected) = (%s, %s)", actual, expected)
		}
	})
}

func TestBuildFailure(t *testing.T) {
	t.Run("AsBuildFailure finds a BuildFailure in a wrapped error", func(t *testing.T) {
		cause := errors.New("fake: node lost")
		err := fmt.Errorf("run build: %w", domain.NewTransientBuildFailure("0123abcd", cause))

		bf, ok := domain.AsBuildFailure(err)
		if !ok {
			t.Fatal("BuildFailure is not found")
		}
		if !bf.Transient {
			t.Error("the failure should be transient")
		}
		if bf.RevisionID != "0123abcd" {
			t.Errorf("unexpected revision: %s", bf.RevisionID)
		}
		if !errors.Is(err, cause) {
			t.Error("the cause is not reachable via Unwrap")
		}
	})

	t.Run("permanent failures say so", func(t *testing.T) {
		bf := domain.NewPermanentBuildFailure("0123abcd", errors.New("fake: compile error"))
		if bf.Transient {
			t.Error("the failure should be permanent")
		}
	})

	t.Run("AsBuildFailure rejects unrelated errors", func(t *testing.T) {
		if _, ok := domain.AsBuildFailure(errors.New("fake")); ok {
			t.Error("unrelated error should not be a BuildFailure")
		}
	})
}

func TestBuildRecord_Running(t *testing.T) {
	t.Run("a record without FinishedAt is running", func(t *testing.T) {
		br := &domain.BuildRecord{RevisionID: "0123abcd"}
		if !br.Running() {
			t.Error("record should be running")
		}
	})

	t.Run("nil record is not running", func(t *testing.T) {
		var br *domain.BuildRecord
		if br.Running() {
			t.Error("nil record should not be running")
		}
	})
}
