package build

import (
	"github.com/opst/shipfab/pkg/domain/build/db"
	"github.com/opst/shipfab/pkg/domain/build/k8s"
	"github.com/opst/shipfab/pkg/domain/build/registry"
)

type Interface interface {
	Database() db.Interface
	K8s() k8s.Interface
	Registry() registry.Interface
}

type impl struct {
	db       db.Interface
	builder  k8s.Interface
	registry registry.Interface
}

func New(db db.Interface, builder k8s.Interface, registry registry.Interface) Interface {
	return &impl{db: db, builder: builder, registry: registry}
}

func (i *impl) Database() db.Interface {
	return i.db
}

func (i *impl) K8s() k8s.Interface {
	return i.builder
}

func (i *impl) Registry() registry.Interface {
	return i.registry
}
