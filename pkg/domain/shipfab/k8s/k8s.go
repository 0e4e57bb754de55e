package k8s

import (
	oconf "github.com/opst/shipfab/pkg/configs/orchestrator"
	build "github.com/opst/shipfab/pkg/domain/build/k8s"
	"github.com/opst/shipfab/pkg/domain/shipfab/k8s/cluster"
	sync "github.com/opst/shipfab/pkg/domain/sync/k8s"
)

type KubernetesInterfaces interface {
	Builder() build.Interface
	App() sync.Interface
}

type impl struct {
	builder build.Interface
	app     sync.Interface
}

func New(
	cluster cluster.Cluster,
	conf *oconf.OrchestratorConfig,
) KubernetesInterfaces {
	return &impl{
		builder: build.New(conf.Cluster(), cluster),
		app:     sync.New(conf.Cluster(), conf.Pipeline().Sync(), cluster),
	}
}

func (i *impl) Builder() build.Interface {
	return i.builder
}

func (i *impl) App() sync.Interface {
	return i.app
}
