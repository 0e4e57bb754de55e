package k8s

import (
	"context"
	"time"

	oconf "github.com/opst/shipfab/pkg/configs/orchestrator"
	"github.com/opst/shipfab/pkg/domain"
	"github.com/opst/shipfab/pkg/domain/build/k8s/builder"
	"github.com/opst/shipfab/pkg/domain/shipfab/k8s/cluster"
	"github.com/opst/shipfab/pkg/utils/retry"
)

type Interface interface {
	// Build runs one containerized build of the revision and waits for
	// its conclusion. The finished builder job is removed from the cluster.
	//
	// # Returns
	//
	// - nil : the artifact has been built and pushed to the registry.
	//
	// - *domain.BuildFailure : the build failed; its Transient flag tells
	// whether another run may succeed.
	//
	// - other error : the run was canceled.
	Build(ctx context.Context, req domain.DeploymentRequest, artifactTag string) error

	// FindBuilder returns the builder in the cluster for the revision, if any.
	FindBuilder(ctx context.Context, revisionID string) (builder.Builder, error)
}

type impl struct {
	cluster cluster.Cluster
	conf    *oconf.ShipClusterConfig
}

func New(conf *oconf.ShipClusterConfig, cluster cluster.Cluster) Interface {
	return &impl{
		cluster: cluster,
		conf:    conf,
	}
}

func (i *impl) Build(ctx context.Context, req domain.DeploymentRequest, artifactTag string) error {
	ex, err := builder.New(req, artifactTag)
	if err != nil {
		return domain.NewPermanentBuildFailure(req.RevisionID, err)
	}
	return builder.Run(ctx, i.cluster, i.conf, ex, retry.StaticBackoff(3*time.Second))
}

func (i *impl) FindBuilder(ctx context.Context, revisionID string) (builder.Builder, error) {
	return builder.Find(ctx, i.cluster, revisionID)
}
