package db

import (
	"context"

	"github.com/opst/shipfab/pkg/domain"
)

type Interface interface {
	// register a deployment attempt for a request.
	//
	// At most one attempt per (repository, revision) is in flight. When one
	// exists already, the request coalesces into it and no new attempt is made.
	//
	// Args
	//
	// - context.Context
	//
	// - domain.DeploymentRequest: normalized webhook payload.
	//
	// Returns
	//
	// - domain.Deployment: the attempt for the request. Either the new one or
	// the in-flight one the request coalesced into.
	//
	// - bool: true when this call created the attempt. The caller owning
	// true runs the pipeline; callers receiving false just observe.
	//
	// - error
	Register(ctx context.Context, req domain.DeploymentRequest) (domain.Deployment, bool, error)

	// update attempt status.
	//
	// Only transitions allowed by DeploymentStatus.CanTransitTo are accepted.
	//
	// Returns
	//
	// - error: ErrInvalidStatusChanging (when newStatus is not next of
	// the current status), ErrMissing (when no attempt has deploymentId)
	SetStatus(ctx context.Context, deploymentId string, newStatus domain.DeploymentStatus) error

	// bind the manifest log entry an attempt has written.
	//
	// Returns
	//
	// - error: ErrMissing (when no attempt has deploymentId)
	SetManifest(ctx context.Context, deploymentId string, sequence int64) error

	// conclude an attempt.
	//
	// Args
	//
	// - conclusion: Deployed or Aborted. Anything else is ErrInvalidStatusChanging.
	//
	// - exit: how the attempt ended. Recorded verbatim.
	//
	// - asRollback: true when the attempt concluded by restoring an earlier revision.
	//
	// Returns
	//
	// - error: ErrInvalidStatusChanging, ErrMissing
	RecordOutcome(ctx context.Context, deploymentId string, conclusion domain.DeploymentStatus, exit domain.DeploymentExit, asRollback bool) error

	// find attempts the query matches.
	//
	// When some conditions are empty, such empty conditions are ignored and
	// do not narrow results.
	//
	// Returns
	//
	// - []string: found deployment ids, ordered by update time (oldest first).
	//
	// - error
	Find(ctx context.Context, query domain.DeploymentFindQuery) ([]string, error)

	// retrieve attempts with their build and manifest associations.
	//
	// Ids without an attempt are left out of the result. No error for them.
	//
	// Returns
	//
	// - map[string]domain.Deployment: mapping deploymentId->Deployment
	//
	// - error
	Get(ctx context.Context, deploymentId []string) (map[string]domain.Deployment, error)
}
