package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	kpool "github.com/opst/shipfab/pkg/conn/db/postgres/pool"
	types "github.com/opst/shipfab/pkg/domain"
	kdb "github.com/opst/shipfab/pkg/domain/deployment/db"
	kerr "github.com/opst/shipfab/pkg/domain/errors/dberrors/postgres"
	"github.com/opst/shipfab/pkg/utils/slices"
	kstr "github.com/opst/shipfab/pkg/utils/strings"
)

type pgDeployment struct {
	pool kpool.Pool
}

func New(pool kpool.Pool) kdb.Interface {
	return &pgDeployment{pool: pool}
}

func (d *pgDeployment) Register(ctx context.Context, req types.DeploymentRequest) (types.Deployment, bool, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return types.Deployment{}, false, err
	}
	defer tx.Rollback(ctx)

	// adopt the in-flight attempt for the revision, if any.
	found, err := getBodies(ctx, tx, `
		select
			"deployment_id", "repository", "revision_id", "ref",
			"author", "message", "pushed_at",
			"status", "as_rollback",
			"exit_reason", "exit_message", "exit_fatal",
			"updated_at"
		from "deployments"
		where
			"repository" = $1 and "revision_id" = $2
			and "status" not in ('deployed', 'aborted')
		for update
		`,
		req.Repository, req.RevisionID,
	)
	if err != nil {
		return types.Deployment{}, false, err
	}
	if 0 < len(found) {
		if err := tx.Commit(ctx); err != nil {
			return types.Deployment{}, false, err
		}
		return types.Deployment{DeploymentBody: found[0]}, false, nil
	}

	newId, err := kstr.RandomHex(16)
	if err != nil {
		return types.Deployment{}, false, err
	}

	// the partial unique index "active_deployment" closes the race between
	// concurrent registers. The loser inserts nothing and adopts.
	inserted, err := getBodies(ctx, tx, `
		insert into "deployments" (
			"deployment_id", "repository", "revision_id", "ref",
			"author", "message", "pushed_at", "status"
		)
		values ($1, $2, $3, $4, $5, $6, $7, 'received')
		on conflict ("repository", "revision_id")
			where "status" not in ('deployed', 'aborted')
			do nothing
		returning
			"deployment_id", "repository", "revision_id", "ref",
			"author", "message", "pushed_at",
			"status", "as_rollback",
			"exit_reason", "exit_message", "exit_fatal",
			"updated_at"
		`,
		newId, req.Repository, req.RevisionID, req.Ref,
		req.Author, req.Message, req.PushedAt,
	)
	if err != nil {
		return types.Deployment{}, false, err
	}
	if len(inserted) == 0 {
		// lost the race. retry in a fresh transaction.
		tx.Rollback(ctx)
		return d.Register(ctx, req)
	}

	if err := tx.Commit(ctx); err != nil {
		return types.Deployment{}, false, err
	}
	return types.Deployment{DeploymentBody: inserted[0]}, true, nil
}

func (d *pgDeployment) SetStatus(ctx context.Context, deploymentId string, newStatus types.DeploymentStatus) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	cur, err := lockStatus(ctx, tx, deploymentId)
	if err != nil {
		return err
	}
	if !cur.CanTransitTo(newStatus) {
		return types.NewErrInvalidStatusChanging(cur, newStatus)
	}

	if _, err := tx.Exec(
		ctx,
		`update "deployments" set "status" = $1, "updated_at" = now() where "deployment_id" = $2`,
		string(newStatus), deploymentId,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (d *pgDeployment) SetManifest(ctx context.Context, deploymentId string, sequence int64) error {
	conn, err := d.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tag, err := conn.Exec(
		ctx,
		`update "deployments" set "manifest_sequence" = $1, "updated_at" = now() where "deployment_id" = $2`,
		sequence, deploymentId,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return kerr.Missing{Table: "deployments", Identity: deploymentId}
	}
	return nil
}

func (d *pgDeployment) RecordOutcome(
	ctx context.Context,
	deploymentId string,
	conclusion types.DeploymentStatus,
	exit types.DeploymentExit,
	asRollback bool,
) error {
	if !conclusion.Concluded() {
		return types.NewErrInvalidStatusChanging(conclusion, conclusion)
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	cur, err := lockStatus(ctx, tx, deploymentId)
	if err != nil {
		return err
	}
	if !cur.CanTransitTo(conclusion) {
		return types.NewErrInvalidStatusChanging(cur, conclusion)
	}

	if _, err := tx.Exec(
		ctx,
		`
		update "deployments" set
			"status" = $1,
			"exit_reason" = $2, "exit_message" = $3, "exit_fatal" = $4,
			"as_rollback" = $5,
			"updated_at" = now()
		where "deployment_id" = $6
		`,
		string(conclusion), exit.Reason, exit.Message, exit.Fatal,
		asRollback, deploymentId,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (d *pgDeployment) Find(ctx context.Context, query types.DeploymentFindQuery) ([]string, error) {
	conn, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(
		ctx,
		`
		select "deployment_id" from "deployments"
		where
			(cardinality(coalesce($1::varchar[], '{}')) = 0 or "repository" = any($1::varchar[]))
			and (cardinality(coalesce($2::varchar[], '{}')) = 0 or "revision_id" = any($2::varchar[]))
			and (cardinality(coalesce($3::deploymentStatus[], '{}')) = 0 or "status" = any($3::deploymentStatus[]))
			and ($4::timestamptz is null or $4::timestamptz <= "updated_at")
			and ($5::timestamptz is null or "updated_at" < $5::timestamptz)
		order by "updated_at", "deployment_id"
		`,
		query.Repository,
		query.RevisionID,
		slices.Map(query.Status, types.DeploymentStatus.String),
		query.UpdatedSince,
		query.UpdatedUntil,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (d *pgDeployment) Get(ctx context.Context, deploymentId []string) (map[string]types.Deployment, error) {
	conn, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(
		ctx,
		`
		select
			"d"."deployment_id", "d"."repository", "d"."revision_id", "d"."ref",
			"d"."author", "d"."message", "d"."pushed_at",
			"d"."status", "d"."as_rollback",
			"d"."exit_reason", "d"."exit_message", "d"."exit_fatal",
			"d"."updated_at",
			"b"."artifact_tag", "b"."attempts", "b"."started_at", "b"."finished_at", "b"."succeeded",
			"m"."sequence", "m"."artifact_tag", "m"."previous_sequence",
			"m"."author", "m"."created_at", "m"."health"
		from "deployments" as "d"
		left join "builds" as "b"
			using ("repository", "revision_id")
		left join "manifest_revisions" as "m"
			on "d"."manifest_sequence" = "m"."sequence"
		where "d"."deployment_id" = any($1::varchar[])
		`,
		deploymentId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := map[string]types.Deployment{}
	for rows.Next() {
		var body types.DeploymentBody
		var status string
		var exitReason, exitMessage *string
		var exitFatal *bool

		var buildTag *string
		var buildAttempts *int
		var buildStarted, buildFinished *time.Time
		var buildSucceeded *bool

		var maniSeq, maniPrev *int64
		var maniTag, maniAuthor, maniHealth *string
		var maniCreated *time.Time

		if err := rows.Scan(
			&body.Id, &body.Repository, &body.RevisionID, &body.Ref,
			&body.Author, &body.Message, &body.PushedAt,
			&status, &body.AsRollback,
			&exitReason, &exitMessage, &exitFatal,
			&body.UpdatedAt,
			&buildTag, &buildAttempts, &buildStarted, &buildFinished, &buildSucceeded,
			&maniSeq, &maniTag, &maniPrev,
			&maniAuthor, &maniCreated, &maniHealth,
		); err != nil {
			return nil, err
		}

		if body.Status, err = types.AsDeploymentStatus(status); err != nil {
			return nil, err
		}
		if exitReason != nil {
			body.Exit = &types.DeploymentExit{
				Reason: *exitReason, Fatal: exitFatal != nil && *exitFatal,
			}
			if exitMessage != nil {
				body.Exit.Message = *exitMessage
			}
		}

		dep := types.Deployment{DeploymentBody: body}
		if buildTag != nil {
			dep.Build = &types.BuildRecord{
				Repository:  body.Repository,
				RevisionID:  body.RevisionID,
				ArtifactTag: *buildTag,
				Attempts:    *buildAttempts,
				StartedAt:   *buildStarted,
				FinishedAt:  buildFinished,
				Succeeded:   buildSucceeded != nil && *buildSucceeded,
			}
		}
		if maniSeq != nil {
			health, err := types.AsHealthState(*maniHealth)
			if err != nil {
				return nil, err
			}
			dep.Manifest = &types.ManifestRevision{
				Sequence:         *maniSeq,
				RevisionID:       body.RevisionID,
				ArtifactTag:      *maniTag,
				PreviousSequence: *maniPrev,
				Author:           *maniAuthor,
				CreatedAt:        *maniCreated,
				Health:           health,
			}
		}

		ret[body.Id] = dep
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// read the status of an attempt, locking its row.
func lockStatus(ctx context.Context, tx kpool.Tx, deploymentId string) (types.DeploymentStatus, error) {
	var status string
	if err := tx.QueryRow(
		ctx,
		`select "status" from "deployments" where "deployment_id" = $1 for update`,
		deploymentId,
	).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", kerr.Missing{Table: "deployments", Identity: deploymentId}
		}
		return "", err
	}
	return types.AsDeploymentStatus(status)
}

func getBodies(ctx context.Context, q kpool.Queryer, sql string, args ...interface{}) ([]types.DeploymentBody, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bodies := []types.DeploymentBody{}
	for rows.Next() {
		var body types.DeploymentBody
		var status string
		var exitReason, exitMessage *string
		var exitFatal *bool

		if err := rows.Scan(
			&body.Id, &body.Repository, &body.RevisionID, &body.Ref,
			&body.Author, &body.Message, &body.PushedAt,
			&status, &body.AsRollback,
			&exitReason, &exitMessage, &exitFatal,
			&body.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if body.Status, err = types.AsDeploymentStatus(status); err != nil {
			return nil, err
		}
		if exitReason != nil {
			body.Exit = &types.DeploymentExit{
				Reason: *exitReason, Fatal: exitFatal != nil && *exitFatal,
			}
			if exitMessage != nil {
				body.Exit.Message = *exitMessage
			}
		}
		bodies = append(bodies, body)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bodies, nil
}
