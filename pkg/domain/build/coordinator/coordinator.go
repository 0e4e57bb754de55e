package coordinator

import (
	"context"
	"errors"
	"time"

	oconf "github.com/opst/shipfab/pkg/configs/orchestrator"
	"github.com/opst/shipfab/pkg/domain"
	kbuild "github.com/opst/shipfab/pkg/domain/build"
	kerrors "github.com/opst/shipfab/pkg/domain/errors"
	"github.com/opst/shipfab/pkg/utils/retry"
)

// Coordinator turns a DeploymentRequest into a published container artifact.
type Coordinator interface {
	// Build builds the artifact for the revision in req.
	//
	// The same revision always gets the same artifact tag, and a revision
	// already published in the registry is not built again. Transient build
	// failures are retried with exponential backoff; permanent ones are not.
	//
	// # Returns
	//
	// - domain.BuildRecord: the record of the build, as stored.
	//
	// - error: domain.BuildFailure when the build itself failed
	// (after exhausting retries, or at once for a permanent one),
	// otherwize an infrastructure error as it is.
	// On cancellation the record is left running,
	// for the next trigger of the revision to resume.
	Build(ctx context.Context, req domain.DeploymentRequest) (domain.BuildRecord, error)
}

type coordinator struct {
	build      kbuild.Interface
	repository string
	retries    int
	backoff    time.Duration
}

func New(
	build kbuild.Interface,
	registry *oconf.RegistryConfig,
	policy *oconf.BuildPolicyConfig,
) Coordinator {
	return &coordinator{
		build:      build,
		repository: registry.Repository(),
		retries:    policy.Retries(),
		backoff:    policy.Backoff(),
	}
}

func (c *coordinator) Build(ctx context.Context, req domain.DeploymentRequest) (domain.BuildRecord, error) {
	tag := domain.ArtifactTagFor(c.repository, req.RevisionID)

	rec, owned, err := c.build.Database().Reserve(ctx, req.Repository, req.RevisionID, tag)
	if err != nil {
		return domain.BuildRecord{}, err
	}
	if !owned && !rec.Running() {
		// succeeded before. the artifact is in the registry already.
		return rec, nil
	}

	attempts := rec.Attempts
	succeeded := false
	var failure error

	wait := retry.ExponentialBackoff(c.backoff, 2)
	for n := 0; n <= c.retries; n++ {
		if 0 < n {
			if err := wait(ctx); err != nil {
				return rec, err
			}
		}

		// the artifact can be there already: pushed by an attempt which
		// crashed before recording its outcome, or by another daemon
		// driving the same revision.
		if ok, err := c.build.Registry().Exists(ctx, tag); err == nil && ok {
			succeeded, failure = true, nil
			break
		}

		attempts += 1
		err := c.build.K8s().Build(ctx, req, tag)
		if err == nil {
			succeeded, failure = true, nil
			break
		}

		failure = err
		if bf, ok := domain.AsBuildFailure(err); !ok {
			// cancelled, or the cluster is unreachable. leave the record
			// running; the next trigger of the revision resumes it.
			return rec, err
		} else if !bf.Transient {
			break
		}
	}

	if err := c.build.Database().Complete(ctx, req.Repository, req.RevisionID, succeeded, attempts); err != nil {
		// Missing = another driver of the revision concluded it first.
		if !errors.Is(err, kerrors.ErrMissing) {
			return rec, err
		}
	}

	if got, err := c.build.Database().Get(ctx, req.Repository, []string{req.RevisionID}); err != nil {
		return rec, err
	} else if r, ok := got[req.RevisionID]; ok {
		rec = r
	}

	return rec, failure
}
