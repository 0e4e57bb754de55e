package events

import (
	"github.com/opst/shipfab/pkg/domain"
	"github.com/opst/shipfab/pkg/utils/rfctime"
)

// Event is one entry of the deployment event log: a state transition of one
// deployment attempt. This is also the payload POSTed to event sinks.
type Event struct {
	Id int64 `json:"id"`

	DeploymentId string `json:"deploymentId"`

	Revision string `json:"revision"`

	// status left. Empty for the first event of an attempt.
	From string `json:"from,omitempty"`

	To string `json:"to"`

	Note string `json:"note,omitempty"`

	// true when an operator has to look at this.
	Fatal bool `json:"fatal,omitempty"`

	HappenedAt rfctime.RFC3339 `json:"happenedAt"`
}

func (e Event) Equal(o Event) bool {
	return e.Id == o.Id &&
		e.DeploymentId == o.DeploymentId &&
		e.Revision == o.Revision &&
		e.From == o.From &&
		e.To == o.To &&
		e.Note == o.Note &&
		e.Fatal == o.Fatal &&
		e.HappenedAt.Equal(&o.HappenedAt)
}

func ComposeEvent(ev domain.TransitionEvent) Event {
	return Event{
		Id:           ev.Id,
		DeploymentId: ev.DeploymentId,
		Revision:     ev.RevisionID,
		From:         ev.From.String(),
		To:           ev.To.String(),
		Note:         ev.Note,
		Fatal:        ev.Fatal,
		HappenedAt:   rfctime.RFC3339(ev.HappenedAt),
	}
}
