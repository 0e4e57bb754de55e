package builder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	oconf "github.com/opst/shipfab/pkg/configs/orchestrator"
	"github.com/opst/shipfab/pkg/domain"
	k8serrors "github.com/opst/shipfab/pkg/domain/errors/k8serrors"
	"github.com/opst/shipfab/pkg/domain/shipfab/k8s/cluster"
	"github.com/opst/shipfab/pkg/domain/shipfab/k8s/metasource"
	"github.com/opst/shipfab/pkg/utils/retry"
	kubebatch "k8s.io/api/batch/v1"
)

type Builder interface {
	// RevisionID returns the revision this builder builds.
	RevisionID() string

	// JobStatus returns the status of the job.
	//
	// This value is a snapshot. To refresh, Track the builder again.
	JobStatus() cluster.JobStatus

	// Log returns the log of the builder's main container.
	//
	// # Returns
	//
	// - io.ReadCloser : the log stream of the main container.
	//
	// - error : error if any.
	Log(ctx context.Context) (io.ReadCloser, error)

	// Conclusion classifies the finished build.
	//
	// # Returns
	//
	// - nil : the build ran to success and the artifact is in the registry.
	//
	// - *domain.BuildFailure : how it failed.
	// Transient when the tool never got to run or was killed by the platform,
	// permanent when the tool ran and exited non-zero.
	Conclusion() error

	// Close removes the builder job from the cluster.
	Close() error
}

type builder struct {
	revisionID string
	job        cluster.Job
}

func (b *builder) RevisionID() string {
	return b.revisionID
}

func (b *builder) JobStatus() cluster.JobStatus {
	return b.job.Status()
}

func (b *builder) Log(ctx context.Context) (io.ReadCloser, error) {
	return b.job.Log(ctx, "main")
}

func (b *builder) Close() error {
	return b.job.Close()
}

func (b *builder) Conclusion() error {
	switch s := b.job.Status(); s {
	case cluster.Succeeded:
		return nil
	case cluster.Failed:
		code, reason, ok := b.job.ExitCode("main")
		if !ok {
			return domain.NewTransientBuildFailure(
				b.revisionID, errors.New("builder pod was lost before it ran"),
			)
		}
		cause := fmt.Errorf("builder exited with code %d: %s", code, reason)
		if 128 < code {
			// killed with a signal: the platform stopped it, the tool did not refuse.
			return domain.NewTransientBuildFailure(b.revisionID, cause)
		}
		return domain.NewPermanentBuildFailure(b.revisionID, cause)
	default:
		return domain.NewTransientBuildFailure(
			b.revisionID, fmt.Errorf("builder has not concluded: %s", s),
		)
	}
}

// spawn new Builder and start the build
//
// # params:
//
// - ctx
//
// - cluster : where the Builder is spawned into
//
// - kc : cluster config, giving the builder tool image and credentials.
//
// - ex : the spec of the build.
func Spawn(
	ctx context.Context,
	cluster cluster.Cluster,
	kc *oconf.ShipClusterConfig,
	ex metasource.ResourceBuilder[*oconf.ShipClusterConfig, *kubebatch.Job],
) (Builder, error) {
	prom := <-cluster.NewJob(
		ctx,
		retry.StaticBackoff(3*time.Second),
		ex.Build(kc),
	)

	if prom.Err != nil {
		return nil, prom.Err
	}

	return &builder{
		revisionID: ex.Id(),
		job:        prom.Value,
	}, nil
}

// Find the Builder in the cluster for the revision
func Find(
	ctx context.Context,
	cluster cluster.Cluster,
	revisionID string,
) (Builder, error) {
	prom := <-cluster.GetJob(
		ctx,
		retry.StaticBackoff(3*time.Second),
		Instance(revisionID),
	)

	if prom.Err != nil {
		return nil, prom.Err
	}

	return &builder{
		revisionID: revisionID,
		job:        prom.Value,
	}, nil
}

// Track polls the builder job of the revision until it has concluded.
//
// # params:
//
// - interval : backoff between polls.
//
// - deadline : when the job has not concluded by then, Track gives up.
//
// # Returns
//
// - Builder : non-nil even with some errors, so the caller can Close() it.
//
// - error : k8serrors.ErrDeadlineExceeded past the deadline,
// k8serrors.ErrMissing when there is no such job.
func Track(
	ctx context.Context,
	c cluster.Cluster,
	revisionID string,
	interval retry.Backoff,
	deadline time.Time,
) (Builder, error) {
	prom := <-c.GetJob(
		ctx, interval, Instance(revisionID),
		cluster.WithCheckpoint(cluster.JobHasConcluded, deadline),
	)

	var b Builder
	if prom.Value != nil {
		b = &builder{revisionID: revisionID, job: prom.Value}
	}
	return b, prom.Err
}

// Run spawns a builder for the revision, waits for its conclusion,
// and removes the finished job.
//
// When a builder job for the revision is already in the cluster
// (left over from an interrupted run), it is adopted and tracked as ours.
//
// # Returns
//
// - nil : the artifact has been built and pushed.
//
// - *domain.BuildFailure : the build failed.
//
// - other error : the run was canceled before any conclusion.
func Run(
	ctx context.Context,
	c cluster.Cluster,
	kc *oconf.ShipClusterConfig,
	ex *Executable,
	interval retry.Backoff,
) error {
	deadline := time.Now().Add(kc.Builder().Timeout())

	if _, err := Spawn(ctx, c, kc, ex); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !k8serrors.AsConflict(err) {
			return domain.NewTransientBuildFailure(ex.Id(), err)
		}
		// a job for the revision is already there. adopt it.
	}

	b, err := Track(ctx, c, ex.Id(), interval, deadline)
	if b != nil {
		defer b.Close()
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		// out of time, or the job went missing under us.
		return domain.NewTransientBuildFailure(ex.Id(), err)
	}

	return b.Conclusion()
}
