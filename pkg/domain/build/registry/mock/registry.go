package mock

import (
	"context"
	"errors"

	"github.com/opst/shipfab/pkg/domain/build/registry"
	dbmock "github.com/opst/shipfab/pkg/domain/internal/db/mock"
)

type RegistryInterface struct {
	Impl struct {
		Exists func(ctx context.Context, tag string) (bool, error)
	}

	Calls struct {
		Exists dbmock.CallLog[string]
	}
}

func NewRegistryInterface() *RegistryInterface {
	return &RegistryInterface{}
}

var _ registry.Interface = &RegistryInterface{}

func (m *RegistryInterface) Exists(ctx context.Context, tag string) (bool, error) {
	m.Calls.Exists = append(m.Calls.Exists, tag)
	if m.Impl.Exists != nil {
		return m.Impl.Exists(ctx, tag)
	}

	panic(errors.New("it should not be called"))
}
