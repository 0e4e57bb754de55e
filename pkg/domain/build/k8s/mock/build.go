package mock

import (
	"context"
	"testing"

	"github.com/opst/shipfab/pkg/domain"
	"github.com/opst/shipfab/pkg/domain/build/k8s"
	"github.com/opst/shipfab/pkg/domain/build/k8s/builder"
)

type MockBuildInterface struct {
	t    *testing.T
	Impl struct {
		Build       func(ctx context.Context, req domain.DeploymentRequest, artifactTag string) error
		FindBuilder func(ctx context.Context, revisionID string) (builder.Builder, error)
	}
}

var _ k8s.Interface = &MockBuildInterface{}

func New(t *testing.T) *MockBuildInterface {
	return &MockBuildInterface{
		t: t,
	}
}

func (m *MockBuildInterface) Build(ctx context.Context, req domain.DeploymentRequest, artifactTag string) error {
	if m.Impl.Build == nil {
		m.t.Fatal("Build is not implemented")
	}
	return m.Impl.Build(ctx, req, artifactTag)
}

func (m *MockBuildInterface) FindBuilder(ctx context.Context, revisionID string) (builder.Builder, error) {
	if m.Impl.FindBuilder == nil {
		m.t.Fatal("FindBuilder is not implemented")
	}
	return m.Impl.FindBuilder(ctx, revisionID)
}
