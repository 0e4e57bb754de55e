package mock

import (
	"context"
	"errors"

	"github.com/opst/shipfab/pkg/domain"
	kdb "github.com/opst/shipfab/pkg/domain/deployment/db"
	dbmock "github.com/opst/shipfab/pkg/domain/internal/db/mock"
)

type DeploymentInterface struct {
	Impl struct {
		Register      func(ctx context.Context, req domain.DeploymentRequest) (domain.Deployment, bool, error)
		SetStatus     func(ctx context.Context, deploymentId string, newStatus domain.DeploymentStatus) error
		SetManifest   func(ctx context.Context, deploymentId string, sequence int64) error
		RecordOutcome func(ctx context.Context, deploymentId string, conclusion domain.DeploymentStatus, exit domain.DeploymentExit, asRollback bool) error
		Find          func(ctx context.Context, query domain.DeploymentFindQuery) ([]string, error)
		Get           func(ctx context.Context, deploymentId []string) (map[string]domain.Deployment, error)
	}

	Calls struct {
		Register  dbmock.CallLog[domain.DeploymentRequest]
		SetStatus dbmock.CallLog[struct {
			DeploymentId string
			NewStatus    domain.DeploymentStatus
		}]
		SetManifest dbmock.CallLog[struct {
			DeploymentId string
			Sequence     int64
		}]
		RecordOutcome dbmock.CallLog[struct {
			DeploymentId string
			Conclusion   domain.DeploymentStatus
			Exit         domain.DeploymentExit
			AsRollback   bool
		}]
		Find dbmock.CallLog[domain.DeploymentFindQuery]
		Get  dbmock.CallLog[[]string]
	}
}

func NewDeploymentInterface() *DeploymentInterface {
	return &DeploymentInterface{}
}

var _ kdb.Interface = &DeploymentInterface{}

func (m *DeploymentInterface) Register(ctx context.Context, req domain.DeploymentRequest) (domain.Deployment, bool, error) {
	m.Calls.Register = append(m.Calls.Register, req)
	if m.Impl.Register != nil {
		return m.Impl.Register(ctx, req)
	}

	panic(errors.New("it should not be called"))
}

func (m *DeploymentInterface) SetStatus(ctx context.Context, deploymentId string, newStatus domain.DeploymentStatus) error {
	m.Calls.SetStatus = append(m.Calls.SetStatus, struct {
		DeploymentId string
		NewStatus    domain.DeploymentStatus
	}{
		DeploymentId: deploymentId,
		NewStatus:    newStatus,
	})
	if m.Impl.SetStatus != nil {
		return m.Impl.SetStatus(ctx, deploymentId, newStatus)
	}

	panic(errors.New("it should not be called"))
}

func (m *DeploymentInterface) SetManifest(ctx context.Context, deploymentId string, sequence int64) error {
	m.Calls.SetManifest = append(m.Calls.SetManifest, struct {
		DeploymentId string
		Sequence     int64
	}{
		DeploymentId: deploymentId,
		Sequence:     sequence,
	})
	if m.Impl.SetManifest != nil {
		return m.Impl.SetManifest(ctx, deploymentId, sequence)
	}

	panic(errors.New("it should not be called"))
}

func (m *DeploymentInterface) RecordOutcome(ctx context.Context, deploymentId string, conclusion domain.DeploymentStatus, exit domain.DeploymentExit, asRollback bool) error {
	m.Calls.RecordOutcome = append(m.Calls.RecordOutcome, struct {
		DeploymentId string
		Conclusion   domain.DeploymentStatus
		Exit         domain.DeploymentExit
		AsRollback   bool
	}{
		DeploymentId: deploymentId,
		Conclusion:   conclusion,
		Exit:         exit,
		AsRollback:   asRollback,
	})
	if m.Impl.RecordOutcome != nil {
		return m.Impl.RecordOutcome(ctx, deploymentId, conclusion, exit, asRollback)
	}

	panic(errors.New("it should not be called"))
}

func (m *DeploymentInterface) Find(ctx context.Context, query domain.DeploymentFindQuery) ([]string, error) {
	m.Calls.Find = append(m.Calls.Find, query)
	if m.Impl.Find != nil {
		return m.Impl.Find(ctx, query)
	}

	panic(errors.New("it should not be called"))
}

func (m *DeploymentInterface) Get(ctx context.Context, deploymentId []string) (map[string]domain.Deployment, error) {
	m.Calls.Get = append(m.Calls.Get, deploymentId)
	if m.Impl.Get != nil {
		return m.Impl.Get(ctx, deploymentId)
	}

	panic(errors.New("it should not be called"))
}
