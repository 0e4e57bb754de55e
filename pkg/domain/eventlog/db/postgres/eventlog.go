package postgres

import (
	"context"
	"time"

	kpool "github.com/opst/shipfab/pkg/conn/db/postgres/pool"
	"github.com/opst/shipfab/pkg/conn/db/postgres/scanner"
	types "github.com/opst/shipfab/pkg/domain"
	kdb "github.com/opst/shipfab/pkg/domain/eventlog/db"
	"github.com/opst/shipfab/pkg/utils/slices"
)

type pgEventLog struct {
	pool kpool.Pool
}

func New(pool kpool.Pool) kdb.Interface {
	return &pgEventLog{pool: pool}
}

// row of "deployment_events".
type eventRecord struct {
	Id           int64     `sql:"id"`
	DeploymentId string    `sql:"deployment_id"`
	RevisionID   string    `sql:"revision_id"`
	FromStatus   string    `sql:"from_status"`
	ToStatus     string    `sql:"to_status"`
	Note         string    `sql:"note"`
	Fatal        bool      `sql:"fatal"`
	HappenedAt   time.Time `sql:"happened_at"`
}

func (r eventRecord) Body() (types.TransitionEvent, error) {
	ev := types.TransitionEvent{
		Id:           r.Id,
		DeploymentId: r.DeploymentId,
		RevisionID:   r.RevisionID,
		To:           types.DeploymentStatus(r.ToStatus),
		Note:         r.Note,
		Fatal:        r.Fatal,
		HappenedAt:   r.HappenedAt,
	}
	if r.FromStatus != "" {
		from, err := types.AsDeploymentStatus(r.FromStatus)
		if err != nil {
			return types.TransitionEvent{}, err
		}
		ev.From = from
	}
	if _, err := types.AsDeploymentStatus(r.ToStatus); err != nil {
		return types.TransitionEvent{}, err
	}
	return ev, nil
}

func (e *pgEventLog) Append(ctx context.Context, ev types.TransitionEvent) (types.TransitionEvent, error) {
	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return types.TransitionEvent{}, err
	}
	defer conn.Release()

	happenedAt := ev.HappenedAt
	appended := ev
	if happenedAt.IsZero() {
		if err := conn.QueryRow(
			ctx,
			`
			insert into "deployment_events"
				("deployment_id", "revision_id", "from_status", "to_status", "note", "fatal")
			values ($1, $2, $3, $4, $5, $6)
			returning "id", "happened_at"
			`,
			ev.DeploymentId, ev.RevisionID, string(ev.From), string(ev.To), ev.Note, ev.Fatal,
		).Scan(&appended.Id, &appended.HappenedAt); err != nil {
			return types.TransitionEvent{}, err
		}
		return appended, nil
	}

	if err := conn.QueryRow(
		ctx,
		`
		insert into "deployment_events"
			("deployment_id", "revision_id", "from_status", "to_status", "note", "fatal", "happened_at")
		values ($1, $2, $3, $4, $5, $6, $7)
		returning "id"
		`,
		ev.DeploymentId, ev.RevisionID, string(ev.From), string(ev.To), ev.Note, ev.Fatal, happenedAt,
	).Scan(&appended.Id); err != nil {
		return types.TransitionEvent{}, err
	}
	return appended, nil
}

func (e *pgEventLog) Since(ctx context.Context, since int64, limit int) ([]types.TransitionEvent, error) {
	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	records, err := scanner.New[eventRecord]().QueryAll(
		ctx, conn,
		`
		select
			"id", "deployment_id", "revision_id",
			"from_status", "to_status", "note", "fatal", "happened_at"
		from "deployment_events"
		where $1 < "id"
		order by "id"
		limit (case when 0 < $2 then $2 else null end)
		`,
		since, limit,
	)
	if err != nil {
		return nil, err
	}
	return compose(records)
}

func (e *pgEventLog) ByRevision(ctx context.Context, revisionID string) ([]types.TransitionEvent, error) {
	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	records, err := scanner.New[eventRecord]().QueryAll(
		ctx, conn,
		`
		select
			"id", "deployment_id", "revision_id",
			"from_status", "to_status", "note", "fatal", "happened_at"
		from "deployment_events"
		where "revision_id" = $1
		order by "id"
		`,
		revisionID,
	)
	if err != nil {
		return nil, err
	}
	return compose(records)
}

func (e *pgEventLog) ByDeployment(ctx context.Context, deploymentId string) ([]types.TransitionEvent, error) {
	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	records, err := scanner.New[eventRecord]().QueryAll(
		ctx, conn,
		`
		select
			"id", "deployment_id", "revision_id",
			"from_status", "to_status", "note", "fatal", "happened_at"
		from "deployment_events"
		where "deployment_id" = $1
		order by "id"
		`,
		deploymentId,
	)
	if err != nil {
		return nil, err
	}
	return compose(records)
}

func compose(records []eventRecord) ([]types.TransitionEvent, error) {
	return slices.TryMap(records, eventRecord.Body)
}
