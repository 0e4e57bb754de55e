package shipfab

import (
	"context"

	oconf "github.com/opst/shipfab/pkg/configs/orchestrator"
	connk8s "github.com/opst/shipfab/pkg/conn/k8s"
	"github.com/opst/shipfab/pkg/domain/build"
	"github.com/opst/shipfab/pkg/domain/build/registry"
	"github.com/opst/shipfab/pkg/domain/deployment"
	"github.com/opst/shipfab/pkg/domain/eventlog"
	"github.com/opst/shipfab/pkg/domain/manifest"
	gitstore "github.com/opst/shipfab/pkg/domain/manifest/db/git"
	"github.com/opst/shipfab/pkg/domain/schema"
	"github.com/opst/shipfab/pkg/domain/shipfab/db"
	"github.com/opst/shipfab/pkg/domain/shipfab/db/postgres"
	"github.com/opst/shipfab/pkg/domain/shipfab/k8s"
	"github.com/opst/shipfab/pkg/domain/shipfab/k8s/cluster"
	ksync "github.com/opst/shipfab/pkg/domain/sync/k8s"
	"k8s.io/client-go/kubernetes"
)

type Shipfab interface {
	Config() *oconf.OrchestratorConfig

	Deployment() deployment.Interface
	Build() build.Interface
	Manifest() manifest.Interface
	EventLog() eventlog.Interface

	// App is the cluster-facing view of the deployed workload.
	App() ksync.Interface

	Schema() schema.Interface

	// Close releases the database handles.
	Close() error
}

type shipfab struct {
	config *oconf.OrchestratorConfig
	db     db.ShipDatabase

	deployment deployment.Interface
	build      build.Interface
	manifest   manifest.Interface
	eventlog   eventlog.Interface

	app    ksync.Interface
	schema schema.Interface
}

func Default(
	ctx context.Context,
	config *oconf.OrchestratorConfig,
	options ...Option,
) (Shipfab, error) {
	clientset, err := connk8s.ConnectToK8s()
	if err != nil {
		return nil, err
	}
	return New(ctx, config, clientset, options...)
}

func New(
	ctx context.Context,
	config *oconf.OrchestratorConfig,
	clientset *kubernetes.Clientset,
	options ...Option,
) (Shipfab, error) {
	opt := &_options{}
	for _, o := range options {
		o(opt)
	}

	pg, err := postgres.New(ctx, config.Cluster().Database(), opt.pg...)
	if err != nil {
		return nil, err
	}

	// the manifest log lives in postgres by default; a git-backed log keeps
	// the same contract with commits as its audit trail.
	manifestStore := pg.Manifest()
	if config.Manifest().Store() == oconf.ManifestStoreGit {
		g := config.Manifest().Git()
		store, err := gitstore.Open(
			g.Path(),
			config.Cluster().App().Name(),
			gitstore.Signature{Name: g.AuthorName(), Email: g.AuthorEmail()},
		)
		if err != nil {
			return nil, err
		}
		manifestStore = store
	}

	k8sclient := cluster.WrapK8sClient(clientset)
	cl := cluster.AttachCluster(k8sclient, config.Cluster().Namespace(), config.Cluster().Domain())

	k8sifs := k8s.New(cl, config)

	reg := []registry.Option{
		registry.WithBasicAuth(config.Registry().Username(), config.Registry().Password()),
	}
	if config.Registry().Insecure() {
		reg = append(reg, registry.Insecure())
	}

	return &shipfab{
		config: config,
		db:     pg,

		deployment: deployment.New(pg.Deployment()),
		build:      build.New(pg.Build(), k8sifs.Builder(), registry.New(reg...)),
		manifest:   manifest.New(manifestStore),
		eventlog:   eventlog.New(pg.EventLog()),

		app:    k8sifs.App(),
		schema: schema.New(pg.Schema()),
	}, nil
}

type Option func(*_options)

type _options struct {
	pg []postgres.Option
}

func WithSchemaRepository(repository string) Option {
	return func(o *_options) {
		o.pg = append(o.pg, postgres.WithSchemaRepository(repository))
	}
}

func (s *shipfab) Config() *oconf.OrchestratorConfig {
	return s.config
}

func (s *shipfab) Deployment() deployment.Interface {
	return s.deployment
}

func (s *shipfab) Build() build.Interface {
	return s.build
}

func (s *shipfab) Manifest() manifest.Interface {
	return s.manifest
}

func (s *shipfab) EventLog() eventlog.Interface {
	return s.eventlog
}

func (s *shipfab) App() ksync.Interface {
	return s.app
}

func (s *shipfab) Schema() schema.Interface {
	return s.schema
}

func (s *shipfab) Close() error {
	return s.db.Close()
}
