// Package db is the connection and command executor.
//
// A Database owns one pinned connection and one reusable command. Executing
// the same SQL text twice in a row only refreshes the bound values of the
// previous command (the hot path); different text rebuilds the parameter
// declarations and, when enabled, re-prepares the statement (the cold path).
//
// A Database is one unit of work. It is not safe for concurrent use; open
// one per goroutine or request.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/microsoft/go-mssqldb/msdsn"

	"dbmap/internal/jsoncodec"
	"dbmap/internal/schema"
	"dbmap/internal/sqlerr"

	_ "github.com/microsoft/go-mssqldb" // registers the "sqlserver" driver
)

// DriverSQLServer is the database/sql driver name of go-mssqldb.
const DriverSQLServer = "sqlserver"

// DefaultChunkSize is the ReaderBinary chunk size when none is configured.
const DefaultChunkSize = 8192

// Options configures a Database.
type Options struct {
	// Driver is the database/sql driver name. Empty means "sqlserver".
	// SQL Server specific parameter types are only bound for "sqlserver".
	Driver string
	// Prepare prepares each new statement text on the server.
	Prepare bool
	// Cache is the schema cache used by typed readers. Nil creates one.
	Cache *schema.Cache
	// Codec handles JSON-flagged columns and parameters. Nil uses jsoncodec.Default.
	Codec jsoncodec.Codec
	// Logger receives statement traces at debug level. Nil discards.
	Logger *slog.Logger
	// Version forces the server major version instead of querying it.
	Version int
	// ChunkSize is the ReaderBinary chunk size.
	ChunkSize int
}

func (o Options) withDefaults() Options {
	if o.Driver == "" {
		o.Driver = DriverSQLServer
	}
	if o.Cache == nil {
		o.Cache = schema.NewCache()
	}
	if o.Codec == nil {
		o.Codec = jsoncodec.Default
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	return o
}

//
// =======================
//  Testability-first seams
// =======================
//
// connCore is the subset of *sql.Conn the executor uses; *sql.Conn satisfies
// it directly. runner is what both the connection and an active *sql.Tx
// offer for running statements.
//

type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

type connCore interface {
	runner
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	Close() error
}

// Stats are the command reuse counters of a Database.
type Stats struct {
	Hot      int64 // statements that reused the previous command
	Cold     int64 // statements that rebuilt the command
	Prepared int64 // server-side prepares
}

// Database is one unit of work against the server.
type Database struct {
	pool     *sql.DB
	ownsPool bool
	conn     connCore
	tx       *sql.Tx

	cmd  command
	opts Options
	log  *slog.Logger

	version int

	hot, cold, prepared atomic.Int64
}

// Open opens a pool for dsn and pins one connection from it. SQL Server
// DSNs are validated before any network activity.
func Open(ctx context.Context, dsn string, opts Options) (*Database, error) {
	opts = opts.withDefaults()
	if opts.Driver == DriverSQLServer {
		if _, err := msdsn.Parse(dsn); err != nil {
			return nil, sqlerr.Config("open", fmt.Errorf("parse dsn: %w", err))
		}
	}
	pool, err := sql.Open(opts.Driver, dsn)
	if err != nil {
		return nil, sqlerr.Config("open", err)
	}
	d, err := newDatabase(ctx, pool, opts)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	d.ownsPool = true
	return d, nil
}

// New pins one connection from a pool owned by the caller. Close returns
// the connection but leaves the pool open.
func New(ctx context.Context, pool *sql.DB, opts Options) (*Database, error) {
	return newDatabase(ctx, pool, opts.withDefaults())
}

func newDatabase(ctx context.Context, pool *sql.DB, opts Options) (*Database, error) {
	conn, err := pool.Conn(ctx)
	if err != nil {
		return nil, sqlerr.Exec("connect", "", err)
	}
	return &Database{
		pool:    pool,
		conn:    conn,
		opts:    opts,
		log:     opts.Logger,
		version: opts.Version,
	}, nil
}

// Close rolls back an open transaction, releases the command and the
// pinned connection, and closes the pool when Open created it.
func (d *Database) Close() error {
	var firstErr error
	if d.tx != nil {
		firstErr = d.endTx(d.tx.Rollback, true)
	}
	d.cmd.reset()
	if d.conn != nil {
		if err := d.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.conn = nil
	}
	if d.ownsPool && d.pool != nil {
		if err := d.pool.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.ownsPool = false
	}
	return firstErr
}

// Cache is the schema cache shared by typed readers and the query engine.
func (d *Database) Cache() *schema.Cache { return d.opts.Cache }

// Codec is the JSON codec in use.
func (d *Database) Codec() jsoncodec.Codec { return d.opts.Codec }

// Logger is the statement logger in use.
func (d *Database) Logger() *slog.Logger { return d.log }

// LastSQL is the text of the most recently bound statement.
func (d *Database) LastSQL() string { return d.cmd.text }

// Stats reports command reuse counters.
func (d *Database) Stats() Stats {
	return Stats{Hot: d.hot.Load(), Cold: d.cold.Load(), Prepared: d.prepared.Load()}
}

// active returns the runner statements go through: the open transaction
// if any, else the pinned connection.
func (d *Database) active() runner {
	if d.tx != nil {
		return d.tx
	}
	return d.conn
}

func (d *Database) mssql() bool { return d.opts.Driver == DriverSQLServer }
