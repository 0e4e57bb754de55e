package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"
	kpool "github.com/opst/shipfab/pkg/conn/db/postgres/pool"
	kbuild "github.com/opst/shipfab/pkg/domain/build/db"
	kpgbuild "github.com/opst/shipfab/pkg/domain/build/db/postgres"
	kdeployment "github.com/opst/shipfab/pkg/domain/deployment/db"
	kpgdeployment "github.com/opst/shipfab/pkg/domain/deployment/db/postgres"
	keventlog "github.com/opst/shipfab/pkg/domain/eventlog/db"
	kpgeventlog "github.com/opst/shipfab/pkg/domain/eventlog/db/postgres"
	kmanifest "github.com/opst/shipfab/pkg/domain/manifest/db"
	kpgmanifest "github.com/opst/shipfab/pkg/domain/manifest/db/postgres"
	kschema "github.com/opst/shipfab/pkg/domain/schema/db"
	kpgschema "github.com/opst/shipfab/pkg/domain/schema/db/postgres"
	dbInterface "github.com/opst/shipfab/pkg/domain/shipfab/db"
	xe "github.com/opst/shipfab/pkg/errors"
)

type shipDBPostgres struct {
	pool       *pgxpool.Pool
	deployment kdeployment.Interface
	build      kbuild.Interface
	manifest   kmanifest.Interface
	eventlog   keventlog.Interface
	schema     kschema.SchemaInterface
}

type Config struct {
	SchemaRepository string
}

func DefaultConfig() Config {
	return Config{}
}

type Option func(*Config) *Config

// WithSchemaRepository points the schema interface at the directory holding
// the migration scripts. Without it, schema operations are no-ops.
func WithSchemaRepository(repository string) Option {
	return func(c *Config) *Config {
		c.SchemaRepository = repository
		return c
	}
}

func New(
	ctx context.Context,
	url string,
	options ...Option,
) (dbInterface.ShipDatabase, error) {
	pool, err := pgxpool.Connect(ctx, url)
	if err != nil {
		return nil, xe.Wrap(err)
	}

	c := DefaultConfig()
	for _, option := range options {
		c = *option(&c)
	}

	p := kpool.Wrap(pool)
	var schema kschema.SchemaInterface = kpgschema.Null()
	if c.SchemaRepository != "" {
		schema = kpgschema.New(p, c.SchemaRepository)
	}

	return &shipDBPostgres{
		pool:       pool,
		deployment: kpgdeployment.New(p),
		build:      kpgbuild.New(p),
		manifest:   kpgmanifest.New(p),
		eventlog:   kpgeventlog.New(p),
		schema:     schema,
	}, nil
}

func (s *shipDBPostgres) Deployment() kdeployment.Interface {
	return s.deployment
}

func (s *shipDBPostgres) Build() kbuild.Interface {
	return s.build
}

func (s *shipDBPostgres) Manifest() kmanifest.Interface {
	return s.manifest
}

func (s *shipDBPostgres) EventLog() keventlog.Interface {
	return s.eventlog
}

func (s *shipDBPostgres) Schema() kschema.SchemaInterface {
	return s.schema
}

func (s *shipDBPostgres) Close() error {
	s.pool.Close()
	return nil
}
