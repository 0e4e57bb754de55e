package pool

import (
	"context"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// something sending queries over a postgres connection.
//
// extracted from `pgxpool.Conn` and `pgx.Tx`, so stores can run the same SQL
// inside and outside a transaction.
type Queryer interface {
	// run SQL with no result rows. see `pgxpool.Conn.Exec`.
	Exec(ctx context.Context, sql string, arguments ...interface{}) (commandTag pgconn.CommandTag, err error)

	// run SQL with result rows. see `pgxpool.Conn.Query`.
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)

	// run SQL with a single result row. see `pgxpool.Conn.QueryRow`.
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// transaction, as stores use one.
//
// `pgx.Tx` itself does not implement Tx (Go interfaces are not covariant),
// so transactions reach stores only through this package's Pool.
//
// this is a subset of `pgx.Tx`. When a store needs more, declare it here.
type Tx interface {
	Queryer

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type pgxTx struct {
	base pgx.Tx
}

var _ Tx = &pgxTx{}

func (tx *pgxTx) Commit(ctx context.Context) error {
	return tx.base.Commit(ctx)
}
func (tx *pgxTx) Rollback(ctx context.Context) error {
	return tx.base.Rollback(ctx)
}
func (tx *pgxTx) Exec(ctx context.Context, sql string, arguments ...interface{}) (commandTag pgconn.CommandTag, err error) {
	return tx.base.Exec(ctx, sql, arguments...)
}
func (tx *pgxTx) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return tx.base.Query(ctx, sql, args...)
}
func (tx *pgxTx) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return tx.base.QueryRow(ctx, sql, args...)
}

// single checked-out connection. Release it when done.
//
// subset of `*pgxpool.Conn`, for the same reason Tx is a subset of `pgx.Tx`.
type Conn interface {
	Queryer

	Release()
}

type pgxPoolConn struct {
	base *pgxpool.Conn
}

var _ Conn = &pgxPoolConn{}

func (c *pgxPoolConn) Release() {
	c.base.Release()
}
func (c *pgxPoolConn) Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error) {
	return c.base.Exec(ctx, sql, arguments...)
}
func (c *pgxPoolConn) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return c.base.Query(ctx, sql, args...)
}
func (c *pgxPoolConn) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return c.base.QueryRow(ctx, sql, args...)
}

// connection pool, as stores depend on one.
//
// subset of `*pgxpool.Pool`. Wrap turns the real pool into this.
type Pool interface {
	// begin a transaction on a connection of the pool.
	Begin(ctx context.Context) (Tx, error)

	// check a connection out of the pool.
	Acquire(ctx context.Context) (Conn, error)
}

type pgxPool struct {
	base *pgxpool.Pool
}

var _ Pool = &pgxPool{}

func (p *pgxPool) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.base.Begin(ctx)
	if tx == nil {
		return nil, err
	}
	return &pgxTx{tx}, err
}
func (p *pgxPool) Acquire(ctx context.Context) (Conn, error) {
	conn, err := p.base.Acquire(ctx)
	if conn == nil {
		return nil, err
	}
	return &pgxPoolConn{conn}, err
}

func Wrap(p *pgxpool.Pool) Pool {
	return &pgxPool{p}
}
