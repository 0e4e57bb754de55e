package db

import (
	"context"

	"github.com/opst/shipfab/pkg/domain"
)

type Interface interface {
	// append an event to the log.
	//
	// Args
	//
	// - domain.TransitionEvent: Id is ignored, the store assigns it.
	// When HappenedAt is zero, the store clocks it.
	//
	// Returns
	//
	// - domain.TransitionEvent: the appended event, Id and HappenedAt filled.
	//
	// - error
	Append(ctx context.Context, ev domain.TransitionEvent) (domain.TransitionEvent, error)

	// events with Id > since, oldest first, at most limit entries.
	// limit <= 0 means no limit.
	Since(ctx context.Context, since int64, limit int) ([]domain.TransitionEvent, error)

	// every event of every attempt for a revision, oldest first.
	ByRevision(ctx context.Context, revisionID string) ([]domain.TransitionEvent, error)

	// every event of an attempt, oldest first.
	ByDeployment(ctx context.Context, deploymentId string) ([]domain.TransitionEvent, error)
}
