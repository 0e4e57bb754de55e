package mock

import (
	"context"
	"testing"
	"time"

	"github.com/opst/shipfab/pkg/domain"
	"github.com/opst/shipfab/pkg/domain/shipfab/k8s/cluster"
	"github.com/opst/shipfab/pkg/domain/sync/k8s"
)

type MockSyncInterface struct {
	t    *testing.T
	Impl struct {
		Apply   func(ctx context.Context, m domain.Manifest) error
		Await   func(ctx context.Context, m domain.Manifest, deadline time.Time) (domain.SyncState, error)
		Observe func(ctx context.Context) (cluster.App, error)
	}
}

var _ k8s.Interface = &MockSyncInterface{}

func New(t *testing.T) *MockSyncInterface {
	return &MockSyncInterface{
		t: t,
	}
}

func (m *MockSyncInterface) Apply(ctx context.Context, mf domain.Manifest) error {
	if m.Impl.Apply == nil {
		m.t.Fatal("Apply is not implemented")
	}
	return m.Impl.Apply(ctx, mf)
}

func (m *MockSyncInterface) Await(ctx context.Context, mf domain.Manifest, deadline time.Time) (domain.SyncState, error) {
	if m.Impl.Await == nil {
		m.t.Fatal("Await is not implemented")
	}
	return m.Impl.Await(ctx, mf, deadline)
}

func (m *MockSyncInterface) Observe(ctx context.Context) (cluster.App, error) {
	if m.Impl.Observe == nil {
		m.t.Fatal("Observe is not implemented")
	}
	return m.Impl.Observe(ctx)
}
