package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/opst/shipfab/pkg/domain"
)

// drive walks one attempt through the pipeline, from Received to its
// conclusion. It runs in its own goroutine; the attempt is its alone.
//
// ctx is the daemon context. When it ends mid-walk, the attempt is left as
// it is, in flight; the next push of the revision picks the work up again.
// The cluster-facing stages run under a narrower context which a newer
// manifest entry may cancel; that concludes the attempt Aborted instead.
func (e *engine) drive(ctx context.Context, d domain.Deployment) {
	req := d.DeploymentRequest
	cur := d.Status

	fail := func(reason, message string, fatal bool) {
		e.conclude(ctx, d.Id, req.RevisionID, cur, domain.Aborted, domain.DeploymentExit{
			Reason:  reason,
			Message: message,
			Fatal:   fatal,
		}, false)
	}

	// build

	if err := e.step(ctx, d.Id, req.RevisionID, cur, domain.Building, ""); err != nil {
		e.logger.Printf("deployment %s: %s. leaving the attempt as it is", d.Id, err)
		return
	}
	cur = domain.Building

	rec, err := e.builds.Build(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			// shutting down. the build record stays running
			// for the next trigger of the revision to resume.
			return
		}
		fail("build-failed", err.Error(), false)
		return
	}

	if err := e.step(ctx, d.Id, req.RevisionID, cur, domain.Built, "artifact "+rec.ArtifactTag); err != nil {
		e.logger.Printf("deployment %s: %s. leaving the attempt as it is", d.Id, err)
		return
	}
	cur = domain.Built

	// manifest update

	entry, err := e.updater.Update(ctx, rec, req.Author)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		fail("manifest-update-failed", err.Error(), false)
		return
	}
	if err := e.deployments.Database().SetManifest(ctx, d.Id, entry.Sequence); err != nil {
		e.logger.Printf("deployment %s: binding entry #%d failed: %s", d.Id, entry.Sequence, err)
	}

	if err := e.step(ctx, d.Id, req.RevisionID, cur, domain.ManifestUpdated, fmt.Sprintf("entry #%d", entry.Sequence)); err != nil {
		e.logger.Printf("deployment %s: %s. leaving the attempt as it is", d.Id, err)
		return
	}
	cur = domain.ManifestUpdated

	// cluster-facing stages, cancellable by a newer entry.

	actx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !e.takeOver(entry.Sequence, cancel) {
		fail("superseded", fmt.Sprintf("a newer entry than #%d is being driven", entry.Sequence), false)
		return
	}
	defer e.release(entry.Sequence)

	if err := e.step(ctx, d.Id, req.RevisionID, cur, domain.Syncing, ""); err != nil {
		e.logger.Printf("deployment %s: %s. leaving the attempt as it is", d.Id, err)
		return
	}
	cur = domain.Syncing

	state, err := e.syncs.Sync(actx, entry)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSyncSuperseded):
			fail("superseded", err.Error(), false)
		case ctx.Err() != nil:
			// shutting down.
		case actx.Err() != nil:
			fail("superseded", fmt.Sprintf("a newer entry took the drive toward #%d over", entry.Sequence), false)
		default:
			fail("sync-failed", err.Error(), true)
		}
		return
	}

	if state.Status == domain.SyncDiverged {
		// the cluster never reached the entry. restore the last healthy one,
		// but the push itself has failed, whatever the restore does.
		e.markHealth(ctx, entry.Sequence, domain.HealthDiverged)

		note := fmt.Sprintf(
			"entry #%d did not converge: the workload settled at #%d",
			entry.Sequence, state.ObservedSequence,
		)
		if err := e.step(ctx, d.Id, req.RevisionID, cur, domain.RollingBack, note); err != nil {
			e.logger.Printf("deployment %s: %s. leaving the attempt as it is", d.Id, err)
			return
		}
		cur = domain.RollingBack

		restored, err := e.restore(ctx, actx, entry)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrRollbackImpossible):
				fail("rollback-impossible", err.Error(), true)
			case errors.Is(err, domain.ErrSyncSuperseded):
				fail("superseded", err.Error(), false)
			case ctx.Err() != nil:
			case actx.Err() != nil:
				fail("superseded", err.Error(), false)
			default:
				fail("rollback-failed", fmt.Sprintf("%s; %s", note, err), true)
			}
			return
		}
		fail("diverged", fmt.Sprintf("%s. restored entry #%d", note, restored.Sequence), false)
		return
	}

	// verification

	if err := e.step(ctx, d.Id, req.RevisionID, cur, domain.Verifying, ""); err != nil {
		e.logger.Printf("deployment %s: %s. leaving the attempt as it is", d.Id, err)
		return
	}
	cur = domain.Verifying

	verdict, err := e.health.Verify(actx, state)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if actx.Err() != nil {
			fail("superseded", fmt.Sprintf("a newer entry took the drive toward #%d over", entry.Sequence), false)
			return
		}
		// fail closed: the verdict stays inconclusive and the
		// rollback below takes it from here.
		e.logger.Printf("deployment %s: verification of entry #%d: %s", d.Id, entry.Sequence, err)
	}

	if verdict.Passed() {
		e.markHealth(ctx, entry.Sequence, domain.HealthVerified)
		e.conclude(ctx, d.Id, req.RevisionID, cur, domain.Deployed, domain.DeploymentExit{
			Reason:  "verified",
			Message: fmt.Sprintf("entry #%d is live and healthy", entry.Sequence),
		}, false)
		return
	}

	// unhealthy, or inconclusive which counts the same. roll back.

	e.markHealth(ctx, entry.Sequence, domain.HealthFailed)

	note := fmt.Sprintf("entry #%d failed verification: %s", entry.Sequence, verdict)
	if err := e.step(ctx, d.Id, req.RevisionID, cur, domain.RollingBack, note); err != nil {
		e.logger.Printf("deployment %s: %s. leaving the attempt as it is", d.Id, err)
		return
	}
	cur = domain.RollingBack

	restored, err := e.restore(ctx, actx, entry)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrRollbackImpossible):
			fail("rollback-impossible", err.Error(), true)
		case errors.Is(err, domain.ErrSyncSuperseded):
			fail("superseded", err.Error(), false)
		case ctx.Err() != nil:
		case actx.Err() != nil:
			fail("superseded", err.Error(), false)
		default:
			fail("rollback-failed", err.Error(), true)
		}
		return
	}

	e.conclude(ctx, d.Id, req.RevisionID, cur, domain.Deployed, domain.DeploymentExit{
		Reason:  "rollback",
		Message: fmt.Sprintf("restored entry #%d (%s)", restored.Sequence, restored.RevisionID),
	}, true)
}

// restore appends the rollback entry for a failed one, drives the cluster to
// it and verifies the outcome. nil error means the cluster runs the restored
// entry and the restore was verified healthy.
func (e *engine) restore(ctx, actx context.Context, failed domain.ManifestRevision) (domain.ManifestRevision, error) {
	target, err := e.rollbacks.Rollback(actx, failed)
	if err != nil {
		return domain.ManifestRevision{}, err
	}

	state, err := e.syncs.Sync(actx, target)
	if err != nil {
		return target, err
	}
	if !state.Converged() {
		e.markHealth(ctx, target.Sequence, domain.HealthDiverged)
		return target, fmt.Errorf("restoring entry #%d did not converge", target.Sequence)
	}

	verdict, err := e.health.Verify(actx, state)
	if err != nil && actx.Err() != nil {
		return target, err
	}
	// on other errors the verdict is inconclusive and fails below, closed.
	if !verdict.Passed() {
		e.markHealth(ctx, target.Sequence, domain.HealthFailed)
		return target, fmt.Errorf("restoring entry #%d failed verification (%s)", target.Sequence, verdict)
	}

	e.markHealth(ctx, target.Sequence, domain.HealthVerified)
	return target, nil
}

// step moves the attempt to its next status and records the transition.
func (e *engine) step(ctx context.Context, deploymentId, revisionID string, from, to domain.DeploymentStatus, note string) error {
	if err := e.deployments.Database().SetStatus(ctx, deploymentId, to); err != nil {
		return err
	}
	e.emit(ctx, deploymentId, revisionID, from, to, note, false)
	return nil
}

// conclude records the outcome of the attempt and its final transition.
func (e *engine) conclude(ctx context.Context, deploymentId, revisionID string, from, to domain.DeploymentStatus, exit domain.DeploymentExit, asRollback bool) {
	if err := e.deployments.Database().RecordOutcome(ctx, deploymentId, to, exit, asRollback); err != nil {
		e.logger.Printf("deployment %s: recording the outcome failed: %s", deploymentId, err)
	}
	e.emit(ctx, deploymentId, revisionID, from, to, exit.Message, exit.Fatal)
}

// emit appends a transition to the event log and hands it to the sink.
// Neither may gate the pipeline: failures are logged and left behind.
func (e *engine) emit(ctx context.Context, deploymentId, revisionID string, from, to domain.DeploymentStatus, note string, fatal bool) {
	ev := domain.TransitionEvent{
		DeploymentId: deploymentId,
		RevisionID:   revisionID,
		From:         from,
		To:           to,
		Note:         note,
		Fatal:        fatal,
	}
	if stored, err := e.events.Database().Append(ctx, ev); err != nil {
		e.logger.Printf("deployment %s: event log append failed: %s", deploymentId, err)
	} else {
		ev = stored
	}
	if e.sink != nil {
		e.sink.Publish(ev)
	}
}

func (e *engine) markHealth(ctx context.Context, sequence int64, health domain.HealthState) {
	if err := e.manifests.Database().MarkHealth(ctx, sequence, health); err != nil {
		e.logger.Printf("marking entry #%d %s failed: %s", sequence, health, err)
	}
}
