package mock

import (
	"context"
	"errors"

	"github.com/opst/shipfab/pkg/domain"
	kdb "github.com/opst/shipfab/pkg/domain/build/db"
	dbmock "github.com/opst/shipfab/pkg/domain/internal/db/mock"
)

type BuildInterface struct {
	Impl struct {
		Reserve  func(ctx context.Context, repository string, revisionID string, artifactTag string) (domain.BuildRecord, bool, error)
		Complete func(ctx context.Context, repository string, revisionID string, succeeded bool, attempts int) error
		Get      func(ctx context.Context, repository string, revisionID []string) (map[string]domain.BuildRecord, error)
	}

	Calls struct {
		Reserve dbmock.CallLog[struct {
			Repository  string
			RevisionID  string
			ArtifactTag string
		}]
		Complete dbmock.CallLog[struct {
			Repository string
			RevisionID string
			Succeeded  bool
			Attempts   int
		}]
		Get dbmock.CallLog[struct {
			Repository string
			RevisionID []string
		}]
	}
}

func NewBuildInterface() *BuildInterface {
	return &BuildInterface{}
}

var _ kdb.Interface = &BuildInterface{}

func (m *BuildInterface) Reserve(ctx context.Context, repository string, revisionID string, artifactTag string) (domain.BuildRecord, bool, error) {
	m.Calls.Reserve = append(m.Calls.Reserve, struct {
		Repository  string
		RevisionID  string
		ArtifactTag string
	}{
		Repository:  repository,
		RevisionID:  revisionID,
		ArtifactTag: artifactTag,
	})
	if m.Impl.Reserve != nil {
		return m.Impl.Reserve(ctx, repository, revisionID, artifactTag)
	}

	panic(errors.New("it should not be called"))
}

func (m *BuildInterface) Complete(ctx context.Context, repository string, revisionID string, succeeded bool, attempts int) error {
	m.Calls.Complete = append(m.Calls.Complete, struct {
		Repository string
		RevisionID string
		Succeeded  bool
		Attempts   int
	}{
		Repository: repository,
		RevisionID: revisionID,
		Succeeded:  succeeded,
		Attempts:   attempts,
	})
	if m.Impl.Complete != nil {
		return m.Impl.Complete(ctx, repository, revisionID, succeeded, attempts)
	}

	panic(errors.New("it should not be called"))
}

func (m *BuildInterface) Get(ctx context.Context, repository string, revisionID []string) (map[string]domain.BuildRecord, error) {
	m.Calls.Get = append(m.Calls.Get, struct {
		Repository string
		RevisionID []string
	}{
		Repository: repository,
		RevisionID: revisionID,
	})
	if m.Impl.Get != nil {
		return m.Impl.Get(ctx, repository, revisionID)
	}

	panic(errors.New("it should not be called"))
}
