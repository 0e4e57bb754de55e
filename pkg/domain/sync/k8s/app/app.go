package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	oconf "github.com/opst/shipfab/pkg/configs/orchestrator"
	"github.com/opst/shipfab/pkg/domain"
	k8serrors "github.com/opst/shipfab/pkg/domain/errors/k8serrors"
	"github.com/opst/shipfab/pkg/domain/shipfab/k8s/cluster"
	"github.com/opst/shipfab/pkg/utils/retry"
)

// Apply drives the app workload to the manifest entry.
//
// The workload is created when absent, updated in place when present.
// Applying the entry the workload declares already is a no-op.
//
// # Returns
//
// - nil : the workload declares the entry.
//
// - domain.ErrStaleManifest : the workload runs a newer entry than this one.
// The entry has been superseded between reading the log and applying it.
//
// - other error : the cluster could not be read or written.
func Apply(
	ctx context.Context,
	c cluster.Cluster,
	kc *oconf.ShipClusterConfig,
	w Workload,
) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		observed, err := c.Observe(ctx, w.Instance())
		if err != nil {
			if !k8serrors.AsMissingError(err) {
				return err
			}
			if _, err := c.NewApp(ctx, w.Build(kc)); err != nil {
				if k8serrors.AsConflict(err) {
					// created behind our back. observe it and update.
					continue
				}
				return err
			}
			return nil
		}

		if seq := observed.Sequence(); w.manifest.Sequence < seq {
			return fmt.Errorf(
				"%w: entry #%d, but the workload runs #%d",
				domain.ErrStaleManifest, w.manifest.Sequence, seq,
			)
		} else if seq == w.manifest.Sequence && observed.Image() == w.manifest.Image {
			// the workload declares this entry already.
			return nil
		}

		desired := w.Build(kc)
		spec := observed.Resource().DeepCopy()
		if spec.ObjectMeta.Labels == nil {
			spec.ObjectMeta.Labels = map[string]string{}
		}
		for k, v := range desired.ObjectMeta.Labels {
			spec.ObjectMeta.Labels[k] = v
		}
		if spec.ObjectMeta.Annotations == nil {
			spec.ObjectMeta.Annotations = map[string]string{}
		}
		for k, v := range desired.ObjectMeta.Annotations {
			spec.ObjectMeta.Annotations[k] = v
		}
		spec.Spec.Replicas = desired.Spec.Replicas
		spec.Spec.Template = desired.Spec.Template
		// Spec.Selector stays as it is. k8s refuses selector changes.

		if _, err := c.UpdateApp(ctx, spec); err != nil {
			if k8serrors.AsConflict(err) {
				// edited between observe and update. go round again.
				continue
			}
			return err
		}
		return nil
	}
}

// Await polls the workload until the cluster has converged to the manifest
// entry: the app container points at the entry's image, the rollout has been
// observed, and every replica is updated and ready.
//
// # params:
//
// - interval : backoff between polls.
//
// - deadline : when the cluster has not converged by then, Await concludes
// SyncDiverged.
//
// # Returns
//
// - domain.SyncState : where the cluster stands against the entry.
// SyncConverged when it reached the entry, SyncDiverged when the deadline
// passed first. Both are conclusions, not errors.
//
// - error : the poll could not conclude: the workload went missing,
// or ctx was canceled.
func Await(
	ctx context.Context,
	c cluster.Cluster,
	w Workload,
	interval retry.Backoff,
	deadline time.Time,
) (domain.SyncState, error) {
	state := domain.SyncState{
		TargetSequence: w.manifest.Sequence,
		Status:         domain.SyncPending,
	}

	res := <-c.GetApp(
		ctx, interval, w.Instance(),
		cluster.WithCheckpoint(cluster.AppPointsAt(w.manifest), deadline),
		cluster.WithCheckpoint(cluster.AppHasSettled, deadline),
	)
	if res.Value != nil {
		state.ObservedSequence = res.Value.Sequence()
	}

	if res.Err != nil {
		if !errors.Is(res.Err, k8serrors.ErrDeadlineExceeded) {
			return state, res.Err
		}

		// out of time. record where the cluster settled instead.
		state.Status = domain.SyncDiverged
		if observed, err := c.Observe(ctx, w.Instance()); err == nil {
			state.ObservedSequence = observed.Sequence()
		}
		return state, nil
	}

	state.Status = domain.SyncConverged
	return state, nil
}
