package k8s

import (
	"context"
	"time"

	oconf "github.com/opst/shipfab/pkg/configs/orchestrator"
	"github.com/opst/shipfab/pkg/domain"
	"github.com/opst/shipfab/pkg/domain/shipfab/k8s/cluster"
	"github.com/opst/shipfab/pkg/domain/sync/k8s/app"
	"github.com/opst/shipfab/pkg/utils/retry"
)

type Interface interface {
	// Apply drives the app workload to the manifest entry,
	// creating it when absent and updating it in place when present.
	//
	// # Returns
	//
	// - nil : the workload declares the entry.
	//
	// - domain.ErrStaleManifest : the workload runs a newer entry.
	//
	// - other error : the cluster could not be read or written.
	Apply(ctx context.Context, m domain.Manifest) error

	// Await polls the workload until the cluster has converged to the
	// manifest entry, or deadline has passed.
	//
	// # Returns
	//
	// - domain.SyncState : SyncConverged when the cluster reached the entry,
	// SyncDiverged when deadline passed first. Both come with a nil error.
	//
	// - error : the poll could not conclude either way.
	Await(ctx context.Context, m domain.Manifest, deadline time.Time) (domain.SyncState, error)

	// Observe takes one snapshot of the app workload.
	//
	// # Returns
	//
	// - cluster.App : snapshot of the workload.
	//
	// - error : k8serrors.ErrMissing when the workload does not exist.
	Observe(ctx context.Context) (cluster.App, error)
}

type impl struct {
	cluster  cluster.Cluster
	conf     *oconf.ShipClusterConfig
	interval time.Duration
}

func New(
	conf *oconf.ShipClusterConfig,
	policy *oconf.SyncPolicyConfig,
	cluster cluster.Cluster,
) Interface {
	return &impl{
		cluster:  cluster,
		conf:     conf,
		interval: policy.Interval(),
	}
}

func (i *impl) Apply(ctx context.Context, m domain.Manifest) error {
	w, err := app.New(i.conf.App().Name(), m)
	if err != nil {
		return err
	}
	return app.Apply(ctx, i.cluster, i.conf, w)
}

func (i *impl) Await(ctx context.Context, m domain.Manifest, deadline time.Time) (domain.SyncState, error) {
	w, err := app.New(i.conf.App().Name(), m)
	if err != nil {
		return domain.SyncState{
			TargetSequence: m.Sequence, Status: domain.SyncPending,
		}, err
	}
	return app.Await(ctx, i.cluster, w, retry.StaticBackoff(i.interval), deadline)
}

func (i *impl) Observe(ctx context.Context) (cluster.App, error) {
	return i.cluster.Observe(ctx, i.conf.App().Name())
}
