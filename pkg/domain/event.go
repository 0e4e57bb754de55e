package domain

import (
	"time"
)

// TransitionEvent is one entry of the append-only deployment event log.
//
// Events record every state transition of every attempt. They are the audit
// trail and the feed for the (fire-and-forget) event sink. Writing them never
// gates the pipeline.
type TransitionEvent struct {
	// ordinal in the log. Assigned by the store on append.
	Id int64

	DeploymentId string

	RevisionID string

	// status left. Empty for the first event of an attempt.
	From DeploymentStatus

	To DeploymentStatus

	// free-form detail. Failure reasons, rollback targets and so on.
	Note string

	// true when an operator has to look at this.
	Fatal bool

	HappenedAt time.Time
}

func (te *TransitionEvent) Equal(o *TransitionEvent) bool {
	if (te == nil) || (o == nil) {
		return (te == nil) && (o == nil)
	}
	return te.Id == o.Id &&
		te.DeploymentId == o.DeploymentId &&
		te.RevisionID == o.RevisionID &&
		te.From == o.From &&
		te.To == o.To &&
		te.Note == o.Note &&
		te.Fatal == o.Fatal &&
		te.HappenedAt.Equal(o.HappenedAt)
}
