package mock

import (
	"context"
	"errors"

	"github.com/opst/shipfab/pkg/domain"
	kdb "github.com/opst/shipfab/pkg/domain/eventlog/db"
	dbmock "github.com/opst/shipfab/pkg/domain/internal/db/mock"
)

type EventLogInterface struct {
	Impl struct {
		Append       func(ctx context.Context, ev domain.TransitionEvent) (domain.TransitionEvent, error)
		Since        func(ctx context.Context, since int64, limit int) ([]domain.TransitionEvent, error)
		ByRevision   func(ctx context.Context, revisionID string) ([]domain.TransitionEvent, error)
		ByDeployment func(ctx context.Context, deploymentId string) ([]domain.TransitionEvent, error)
	}

	Calls struct {
		Append dbmock.CallLog[domain.TransitionEvent]
		Since  dbmock.CallLog[struct {
			Since int64
			Limit int
		}]
		ByRevision   dbmock.CallLog[string]
		ByDeployment dbmock.CallLog[string]
	}
}

func NewEventLogInterface() *EventLogInterface {
	return &EventLogInterface{}
}

var _ kdb.Interface = &EventLogInterface{}

func (m *EventLogInterface) Append(ctx context.Context, ev domain.TransitionEvent) (domain.TransitionEvent, error) {
	m.Calls.Append = append(m.Calls.Append, ev)
	if m.Impl.Append != nil {
		return m.Impl.Append(ctx, ev)
	}

	panic(errors.New("it should not be called"))
}

func (m *EventLogInterface) Since(ctx context.Context, since int64, limit int) ([]domain.TransitionEvent, error) {
	m.Calls.Since = append(m.Calls.Since, struct {
		Since int64
		Limit int
	}{
		Since: since,
		Limit: limit,
	})
	if m.Impl.Since != nil {
		return m.Impl.Since(ctx, since, limit)
	}

	panic(errors.New("it should not be called"))
}

func (m *EventLogInterface) ByRevision(ctx context.Context, revisionID string) ([]domain.TransitionEvent, error) {
	m.Calls.ByRevision = append(m.Calls.ByRevision, revisionID)
	if m.Impl.ByRevision != nil {
		return m.Impl.ByRevision(ctx, revisionID)
	}

	panic(errors.New("it should not be called"))
}

func (m *EventLogInterface) ByDeployment(ctx context.Context, deploymentId string) ([]domain.TransitionEvent, error) {
	m.Calls.ByDeployment = append(m.Calls.ByDeployment, deploymentId)
	if m.Impl.ByDeployment != nil {
		return m.Impl.ByDeployment(ctx, deploymentId)
	}

	panic(errors.New("it should not be called"))
}
