package domain

import (
	"errors"
	"fmt"
)

type ConvergenceStatus string

const (
	// the controller is still driving the cluster toward the target.
	SyncPending ConvergenceStatus = "pending"

	// the cluster matches the target entry.
	SyncConverged ConvergenceStatus = "converged"

	// the cluster did not reach the target within the sync timeout.
	SyncDiverged ConvergenceStatus = "diverged"
)

func (cs ConvergenceStatus) String() string {
	return string(cs)
}

func AsConvergenceStatus(s string) (ConvergenceStatus, error) {
	switch s {
	case string(SyncPending):
		return SyncPending, nil
	case string(SyncConverged):
		return SyncConverged, nil
	case string(SyncDiverged):
		return SyncDiverged, nil
	default:
		return "", fmt.Errorf("'%s' is not ConvergenceStatus", s)
	}
}

// SyncState reports how far the cluster has come toward one manifest entry.
//
// Written only by the sync controller. The health verifier reads it to know
// which sequence it judges.
type SyncState struct {
	// Sequence of the entry the cluster is driven toward.
	TargetSequence int64

	// Sequence stamped on the workload when it was last observed.
	// 0 when the workload has never been stamped.
	ObservedSequence int64

	Status ConvergenceStatus
}

func (ss SyncState) Equal(o SyncState) bool {
	return ss == o
}

// true when the cluster reached the target entry.
func (ss SyncState) Converged() bool {
	return ss.Status == SyncConverged
}

var (
	// the entry is older than what the cluster already runs.
	// Applying it would drive the workload backwards.
	ErrStaleManifest = errors.New("manifest entry is stale")

	// a newer entry took the drive over. The older sync is canceled
	// and its entry is never applied.
	ErrSyncSuperseded = errors.New("sync superseded by a newer entry")
)
