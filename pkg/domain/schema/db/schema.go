package db

import "context"

// SchemaInterface manages the database schema.
type SchemaInterface interface {
	// Upgrade applies schema versions newer than the current one.
	Upgrade(ctx context.Context) error

	// Version returns the current version of the schema in the database.
	//
	// 0 means no schema has been applied yet.
	Version(ctx context.Context) (int, error)

	// Context derives a context which is cancelled when the schema in the
	// database is older than the schema repository requires.
	//
	// Returns
	//
	// - context.Context
	//
	// - context.CancelFunc
	Context(ctx context.Context) (context.Context, context.CancelFunc)
}
