package postgres

import (
	"context"
	"fmt"
	"time"

	kpool "github.com/opst/shipfab/pkg/conn/db/postgres/pool"
	"github.com/opst/shipfab/pkg/conn/db/postgres/scanner"
	types "github.com/opst/shipfab/pkg/domain"
	kerr "github.com/opst/shipfab/pkg/domain/errors/dberrors/postgres"
	kdb "github.com/opst/shipfab/pkg/domain/manifest/db"
)

type pgManifest struct {
	pool kpool.Pool
}

func New(pool kpool.Pool) kdb.Interface {
	return &pgManifest{pool: pool}
}

// row of "manifest_revisions".
type manifestRecord struct {
	Sequence         int64     `sql:"sequence"`
	RevisionID       string    `sql:"revision_id"`
	ArtifactTag      string    `sql:"artifact_tag"`
	PreviousSequence int64     `sql:"previous_sequence"`
	Author           string    `sql:"author"`
	CreatedAt        time.Time `sql:"created_at"`
	Health           string    `sql:"health"`
}

func (r manifestRecord) Body() (types.ManifestRevision, error) {
	health, err := types.AsHealthState(r.Health)
	if err != nil {
		return types.ManifestRevision{}, err
	}
	return types.ManifestRevision{
		Sequence:         r.Sequence,
		RevisionID:       r.RevisionID,
		ArtifactTag:      r.ArtifactTag,
		PreviousSequence: r.PreviousSequence,
		Author:           r.Author,
		CreatedAt:        r.CreatedAt,
		Health:           health,
	}, nil
}

func (m *pgManifest) Put(ctx context.Context, param kdb.PutParam) (types.ManifestRevision, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return types.ManifestRevision{}, err
	}
	defer tx.Rollback(ctx)

	var head int64
	if err := tx.QueryRow(
		ctx, `select "sequence" from "manifest_head" for update`,
	).Scan(&head); err != nil {
		return types.ManifestRevision{}, err
	}

	if head != param.ExpectedHead {
		return types.ManifestRevision{}, fmt.Errorf(
			"%w: expected head %d, but %d", types.ErrWriteConflict, param.ExpectedHead, head,
		)
	}

	entry := types.ManifestRevision{
		RevisionID:       param.RevisionID,
		ArtifactTag:      param.ArtifactTag,
		PreviousSequence: param.ExpectedHead,
		Author:           param.Author,
		Health:           types.HealthUnknown,
	}
	if err := tx.QueryRow(
		ctx,
		`
		insert into "manifest_revisions"
			("revision_id", "artifact_tag", "previous_sequence", "author")
		values ($1, $2, $3, $4)
		returning "sequence", "created_at"
		`,
		param.RevisionID, param.ArtifactTag, param.ExpectedHead, param.Author,
	).Scan(&entry.Sequence, &entry.CreatedAt); err != nil {
		return types.ManifestRevision{}, err
	}

	if _, err := tx.Exec(
		ctx, `update "manifest_head" set "sequence" = $1`, entry.Sequence,
	); err != nil {
		return types.ManifestRevision{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return types.ManifestRevision{}, err
	}
	return entry, nil
}

func (m *pgManifest) Head(ctx context.Context) (*types.ManifestRevision, error) {
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	records, err := scanner.New[manifestRecord]().QueryAll(
		ctx, conn,
		`
		select
			"sequence", "revision_id", "artifact_tag",
			"previous_sequence", "author", "created_at", "health"
		from "manifest_revisions"
		order by "sequence" desc limit 1
		`,
	)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	entry, err := records[0].Body()
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (m *pgManifest) Get(ctx context.Context, sequence []int64) (map[int64]types.ManifestRevision, error) {
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	records, err := scanner.New[manifestRecord]().QueryAll(
		ctx, conn,
		`
		select
			"sequence", "revision_id", "artifact_tag",
			"previous_sequence", "author", "created_at", "health"
		from "manifest_revisions"
		where "sequence" = any($1::bigint[])
		`,
		sequence,
	)
	if err != nil {
		return nil, err
	}

	ret := map[int64]types.ManifestRevision{}
	for _, r := range records {
		entry, err := r.Body()
		if err != nil {
			return nil, err
		}
		ret[entry.Sequence] = entry
	}
	return ret, nil
}

func (m *pgManifest) History(ctx context.Context, since int64) ([]types.ManifestRevision, error) {
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	records, err := scanner.New[manifestRecord]().QueryAll(
		ctx, conn,
		`
		select
			"sequence", "revision_id", "artifact_tag",
			"previous_sequence", "author", "created_at", "health"
		from "manifest_revisions"
		where $1 <= "sequence"
		order by "sequence"
		`,
		since,
	)
	if err != nil {
		return nil, err
	}

	ret := make([]types.ManifestRevision, 0, len(records))
	for _, r := range records {
		entry, err := r.Body()
		if err != nil {
			return nil, err
		}
		ret = append(ret, entry)
	}
	return ret, nil
}

func (m *pgManifest) LastHealthy(ctx context.Context, before int64) (*types.ManifestRevision, error) {
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	records, err := scanner.New[manifestRecord]().QueryAll(
		ctx, conn,
		`
		select
			"sequence", "revision_id", "artifact_tag",
			"previous_sequence", "author", "created_at", "health"
		from "manifest_revisions"
		where "health" = $1 and "sequence" < $2
		order by "sequence" desc limit 1
		`,
		types.HealthVerified.String(), before,
	)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, kerr.Missing{
			Table:    "manifest_revisions",
			Identity: fmt.Sprintf("healthy entry below sequence %d", before),
		}
	}

	entry, err := records[0].Body()
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (m *pgManifest) MarkHealth(ctx context.Context, sequence int64, health types.HealthState) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	records, err := scanner.New[string]().QueryAll(
		ctx, tx,
		`select "health" from "manifest_revisions" where "sequence" = $1 for update`,
		sequence,
	)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return kerr.Missing{
			Table: "manifest_revisions", Identity: fmt.Sprintf("%d", sequence),
		}
	}

	cur, err := types.AsHealthState(records[0])
	if err != nil {
		return err
	}
	if cur != types.HealthUnknown {
		return types.NewErrInvalidHealthChanging(cur, health)
	}

	if _, err := tx.Exec(
		ctx,
		`update "manifest_revisions" set "health" = $1 where "sequence" = $2`,
		health.String(), sequence,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
