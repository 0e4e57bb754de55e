package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	kpool "github.com/opst/shipfab/pkg/conn/db/postgres/pool"
	types "github.com/opst/shipfab/pkg/domain"
	kdb "github.com/opst/shipfab/pkg/domain/build/db"
	kerr "github.com/opst/shipfab/pkg/domain/errors/dberrors/postgres"
)

type pgBuild struct {
	pool kpool.Pool
}

func New(pool kpool.Pool) kdb.Interface {
	return &pgBuild{pool: pool}
}

func (b *pgBuild) Reserve(ctx context.Context, repository string, revisionID string, artifactTag string) (types.BuildRecord, bool, error) {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return types.BuildRecord{}, false, err
	}
	defer conn.Release()

	// insert-or-reopen in one statement. a fresh row and a reopened
	// finished-but-failed row both come back (= this caller owns the build).
	// a running or succeeded row does not fire the update, so no row comes
	// back, and we fall through to a plain read.
	row := conn.QueryRow(
		ctx,
		`
		insert into "builds" ("repository", "revision_id", "artifact_tag")
		values ($1, $2, $3)
		on conflict ("repository", "revision_id") do update
			set "finished_at" = null, "succeeded" = false
			where "builds"."finished_at" is not null and not "builds"."succeeded"
		returning
			"artifact_tag", "attempts", "started_at", "finished_at", "succeeded"
		`,
		repository, revisionID, artifactTag,
	)

	rec := types.BuildRecord{Repository: repository, RevisionID: revisionID}
	if err := row.Scan(
		&rec.ArtifactTag, &rec.Attempts, &rec.StartedAt, &rec.FinishedAt, &rec.Succeeded,
	); err == nil {
		return rec, true, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return types.BuildRecord{}, false, err
	}

	row = conn.QueryRow(
		ctx,
		`
		select
			"artifact_tag", "attempts", "started_at", "finished_at", "succeeded"
		from "builds"
		where "repository" = $1 and "revision_id" = $2
		`,
		repository, revisionID,
	)
	if err := row.Scan(
		&rec.ArtifactTag, &rec.Attempts, &rec.StartedAt, &rec.FinishedAt, &rec.Succeeded,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.BuildRecord{}, false, kerr.Missing{
				Table: "builds", Identity: repository + "@" + revisionID,
			}
		}
		return types.BuildRecord{}, false, err
	}

	return rec, false, nil
}

func (b *pgBuild) Complete(ctx context.Context, repository string, revisionID string, succeeded bool, attempts int) error {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tag, err := conn.Exec(
		ctx,
		`
		update "builds" set
			"succeeded" = $1, "attempts" = $2, "finished_at" = now()
		where
			"repository" = $3 and "revision_id" = $4
			and "finished_at" is null
		`,
		succeeded, attempts, repository, revisionID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return kerr.Missing{Table: "builds", Identity: repository + "@" + revisionID}
	}
	return nil
}

func (b *pgBuild) Get(ctx context.Context, repository string, revisionID []string) (map[string]types.BuildRecord, error) {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(
		ctx,
		`
		select
			"revision_id", "artifact_tag", "attempts",
			"started_at", "finished_at", "succeeded"
		from "builds"
		where "repository" = $1 and "revision_id" = any($2::varchar[])
		`,
		repository, revisionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := map[string]types.BuildRecord{}
	for rows.Next() {
		rec := types.BuildRecord{Repository: repository}
		var finishedAt *time.Time
		if err := rows.Scan(
			&rec.RevisionID, &rec.ArtifactTag, &rec.Attempts,
			&rec.StartedAt, &finishedAt, &rec.Succeeded,
		); err != nil {
			return nil, err
		}
		rec.FinishedAt = finishedAt
		ret[rec.RevisionID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}
