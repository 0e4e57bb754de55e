package mock

import (
	"context"
	"errors"

	"github.com/opst/shipfab/pkg/domain"
	kdb "github.com/opst/shipfab/pkg/domain/manifest/db"
	dbmock "github.com/opst/shipfab/pkg/domain/internal/db/mock"
)

type ManifestInterface struct {
	Impl struct {
		Put         func(ctx context.Context, param kdb.PutParam) (domain.ManifestRevision, error)
		Head        func(ctx context.Context) (*domain.ManifestRevision, error)
		Get         func(ctx context.Context, sequence []int64) (map[int64]domain.ManifestRevision, error)
		History     func(ctx context.Context, since int64) ([]domain.ManifestRevision, error)
		LastHealthy func(ctx context.Context, before int64) (*domain.ManifestRevision, error)
		MarkHealth  func(ctx context.Context, sequence int64, health domain.HealthState) error
	}

	Calls struct {
		Put         dbmock.CallLog[kdb.PutParam]
		Head        dbmock.CallLog[struct{}]
		Get         dbmock.CallLog[[]int64]
		History     dbmock.CallLog[int64]
		LastHealthy dbmock.CallLog[int64]
		MarkHealth  dbmock.CallLog[struct {
			Sequence int64
			Health   domain.HealthState
		}]
	}
}

func NewManifestInterface() *ManifestInterface {
	return &ManifestInterface{}
}

var _ kdb.Interface = &ManifestInterface{}

func (m *ManifestInterface) Put(ctx context.Context, param kdb.PutParam) (domain.ManifestRevision, error) {
	m.Calls.Put = append(m.Calls.Put, param)
	if m.Impl.Put != nil {
		return m.Impl.Put(ctx, param)
	}

	panic(errors.New("it should not be called"))
}

func (m *ManifestInterface) Head(ctx context.Context) (*domain.ManifestRevision, error) {
	m.Calls.Head = append(m.Calls.Head, struct{}{})
	if m.Impl.Head != nil {
		return m.Impl.Head(ctx)
	}

	panic(errors.New("it should not be called"))
}

func (m *ManifestInterface) Get(ctx context.Context, sequence []int64) (map[int64]domain.ManifestRevision, error) {
	m.Calls.Get = append(m.Calls.Get, sequence)
	if m.Impl.Get != nil {
		return m.Impl.Get(ctx, sequence)
	}

	panic(errors.New("it should not be called"))
}

func (m *ManifestInterface) History(ctx context.Context, since int64) ([]domain.ManifestRevision, error) {
	m.Calls.History = append(m.Calls.History, since)
	if m.Impl.History != nil {
		return m.Impl.History(ctx, since)
	}

	panic(errors.New("it should not be called"))
}

func (m *ManifestInterface) LastHealthy(ctx context.Context, before int64) (*domain.ManifestRevision, error) {
	m.Calls.LastHealthy = append(m.Calls.LastHealthy, before)
	if m.Impl.LastHealthy != nil {
		return m.Impl.LastHealthy(ctx, before)
	}

	panic(errors.New("it should not be called"))
}

func (m *ManifestInterface) MarkHealth(ctx context.Context, sequence int64, health domain.HealthState) error {
	m.Calls.MarkHealth = append(m.Calls.MarkHealth, struct {
		Sequence int64
		Health   domain.HealthState
	}{
		Sequence: sequence,
		Health:   health,
	})
	if m.Impl.MarkHealth != nil {
		return m.Impl.MarkHealth(ctx, sequence, health)
	}

	panic(errors.New("it should not be called"))
}
