package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/opst/shipfab/pkg/utils/cmp"
)

type DeploymentStatus string

const (
	// This Deployment has been accepted from a webhook and queued.
	Received DeploymentStatus = "received"

	// A build for the revision of this Deployment is running (or retrying).
	Building DeploymentStatus = "building"

	// The artifact for this Deployment exists in the registry.
	Built DeploymentStatus = "built"

	// The manifest log has a new head pointing at the artifact.
	ManifestUpdated DeploymentStatus = "manifest-updated"

	// The cluster is being driven towards the manifest head.
	Syncing DeploymentStatus = "syncing"

	// The workload converged and is being watched for the settling window.
	Verifying DeploymentStatus = "verifying"

	// Verification failed and the last healthy revision is being restored.
	RollingBack DeploymentStatus = "rolling-back"

	// This Deployment concluded with its revision (or, after a rollback,
	// an earlier healthy revision) verified live.
	Deployed DeploymentStatus = "deployed"

	// This Deployment concluded without a successful deployment.
	Aborted DeploymentStatus = "aborted"
)

func (ds DeploymentStatus) String() string {
	return string(ds)
}

func AsDeploymentStatus(status string) (DeploymentStatus, error) {
	switch status {
	case string(Received):
		return Received, nil
	case string(Building):
		return Building, nil
	case string(Built):
		return Built, nil
	case string(ManifestUpdated):
		return ManifestUpdated, nil
	case string(Syncing):
		return Syncing, nil
	case string(Verifying):
		return Verifying, nil
	case string(RollingBack):
		return RollingBack, nil
	case string(Deployed):
		return Deployed, nil
	case string(Aborted):
		return Aborted, nil
	default:
		return "", fmt.Errorf("'%s' is not DeploymentStatus", status)
	}
}

// Deployments in these statuses are still walking the pipeline.
func InFlightStatuses() []DeploymentStatus {
	return []DeploymentStatus{
		Received, Building, Built, ManifestUpdated,
		Syncing, Verifying, RollingBack,
	}
}

func (ds DeploymentStatus) Concluded() bool {
	switch ds {
	case Deployed, Aborted:
		return true
	default:
		return false
	}
}

// true if a Deployment in this status has already changed the cluster,
// or is about to. Superseding such an attempt needs a cancel, not just a dequeue.
func (ds DeploymentStatus) Acting() bool {
	switch ds {
	case Syncing, Verifying, RollingBack:
		return true
	default:
		return false
	}
}

// legal transitions of the pipeline.
//
// Any in-flight status may conclude as Aborted (failure, cancel, supersession).
func (ds DeploymentStatus) CanTransitTo(next DeploymentStatus) bool {
	if next == Aborted {
		return !ds.Concluded()
	}
	switch ds {
	case Received:
		return next == Building
	case Building:
		return next == Built
	case Built:
		return next == ManifestUpdated
	case ManifestUpdated:
		return next == Syncing
	case Syncing:
		return next == Verifying || next == RollingBack
	case Verifying:
		return next == Deployed || next == RollingBack
	case RollingBack:
		return next == Deployed
	default:
		return false
	}
}

// DeploymentRequest is the normalized intent extracted from a webhook delivery.
type DeploymentRequest struct {
	// source repository the push happened on.
	Repository string

	// revision (commit hash) to be deployed.
	RevisionID string

	// branch or tag the revision was pushed to.
	Ref string

	// author of the head commit.
	Author string

	// title of the head commit.
	Message string

	// when the push happened, by the sender's clock.
	PushedAt time.Time
}

func (dr *DeploymentRequest) Equal(o *DeploymentRequest) bool {
	if (dr == nil) || (o == nil) {
		return (dr == nil) && (o == nil)
	}
	return dr.Repository == o.Repository &&
		dr.RevisionID == o.RevisionID &&
		dr.Ref == o.Ref &&
		dr.Author == o.Author &&
		dr.Message == o.Message &&
		dr.PushedAt.Equal(o.PushedAt)
}

// DedupeKey identifies "the same push" for the dedupe window and for coalescing.
func (dr *DeploymentRequest) DedupeKey() string {
	return dr.Repository + "@" + dr.RevisionID
}

// DeploymentExit describes how a concluded Deployment ended.
type DeploymentExit struct {
	// short machine-readable cause. e.g. "verified", "rollback", "build-failed".
	Reason string

	// human-oriented detail.
	Message string

	// true when the conclusion needs an operator.
	// No automation will retry past a fatal exit.
	Fatal bool
}

func (de *DeploymentExit) Equal(o *DeploymentExit) bool {
	if (de == nil) || (o == nil) {
		return (de == nil) && (o == nil)
	}
	return de.Reason == o.Reason && de.Message == o.Message && de.Fatal == o.Fatal
}

// Core part of a deployment attempt.
type DeploymentBody struct {
	Id     string
	Status DeploymentStatus

	// true when this attempt concluded Deployed by restoring an earlier revision.
	AsRollback bool

	// last update timestamp.
	UpdatedAt time.Time

	// how the attempt concluded, if it has.
	Exit *DeploymentExit

	// request which the attempt is based.
	DeploymentRequest
}

func (db *DeploymentBody) Equal(o *DeploymentBody) bool {
	if (db == nil) || (o == nil) {
		return (db == nil) && (o == nil)
	}
	return db.Id == o.Id &&
		db.Status == o.Status &&
		db.AsRollback == o.AsRollback &&
		db.UpdatedAt.Equal(o.UpdatedAt) &&
		db.Exit.Equal(o.Exit) &&
		db.DeploymentRequest.Equal(&o.DeploymentRequest)
}

type Deployment struct {
	DeploymentBody

	// build record for the revision, if any build has been reserved.
	Build *BuildRecord

	// manifest log entry written by this attempt, if any.
	Manifest *ManifestRevision
}

func (d *Deployment) Equal(other *Deployment) bool {
	if (d == nil) || (other == nil) {
		return (d == nil) && (other == nil)
	}
	return d.DeploymentBody.Equal(&other.DeploymentBody) &&
		d.Build.Equal(other.Build) &&
		d.Manifest.Equal(other.Manifest)
}

// parameter to query deployment attempts
//
// When all dimension matches an attempt, this query matches the attempt.
type DeploymentFindQuery struct {
	// match if the attempt is for one of these repositories.
	//
	// If it is nil or empty, it means "match any".
	Repository []string

	// match if the attempt is for one of these revisions.
	//
	// If it is nil or empty, it means "match any".
	RevisionID []string

	// match if the attempt's status is one of these statuses.
	//
	// If it is nil or empty, it means "match any".
	Status []DeploymentStatus

	// match if the attempt's updated time is equal or later than this UpdatedSince.
	UpdatedSince *time.Time

	// match if the attempt's updated time is earlier than this UpdatedUntil.
	UpdatedUntil *time.Time
}

func (dfq DeploymentFindQuery) Equal(other DeploymentFindQuery) bool {
	return cmp.SliceContentEq(dfq.Repository, other.Repository) &&
		cmp.SliceContentEq(dfq.RevisionID, other.RevisionID) &&
		cmp.SliceContentEq(dfq.Status, other.Status) &&
		((dfq.UpdatedSince == nil && other.UpdatedSince == nil) ||
			(dfq.UpdatedSince != nil && other.UpdatedSince != nil && dfq.UpdatedSince.Equal(*other.UpdatedSince))) &&
		((dfq.UpdatedUntil == nil && other.UpdatedUntil == nil) ||
			(dfq.UpdatedUntil != nil && other.UpdatedUntil != nil && dfq.UpdatedUntil.Equal(*other.UpdatedUntil)))
}

var (
	// another attempt for the same revision is already in flight.
	// The new submission coalesces into it.
	ErrDeploymentCoalesced = errors.New("deployment request coalesced into an in-flight attempt")

	ErrInvalidStatusChanging = errors.New("cannot change deployment status")
)

func NewErrInvalidStatusChanging(from, to DeploymentStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusChanging, from, to)
}
