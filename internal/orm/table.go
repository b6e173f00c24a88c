// Package orm is the per-entity query engine on top of the executor.
//
// A Table[T] generates single-table SELECT, INSERT, UPDATE and DELETE
// statements from T's cached schema and runs them on a *db.Database. It
// holds no state besides the schema and the database handle, so creating
// one per call is cheap.
package orm

import (
	"context"
	"database/sql"
	"iter"
	"sync/atomic"

	"dbmap/internal/db"
	"dbmap/internal/schema"
	"dbmap/internal/sqlbuilder"
	"dbmap/internal/sqlerr"
)

// ReadOptions shapes a Reader.
type ReadOptions struct {
	Single bool // stop after the first row
	Skip   int
	Take   int
}

// Table is the query engine for entity type T.
type Table[T any] struct {
	db     *db.Database
	schema *schema.TableSchema
}

// NewTable resolves T's schema through d's cache.
func NewTable[T any](d *db.Database) (*Table[T], error) {
	s, err := schema.For[T](d.Cache())
	if err != nil {
		return nil, err
	}
	return &Table[T]{db: d, schema: s}, nil
}

// Schema is T's resolved mapping.
func (t *Table[T]) Schema() *schema.TableSchema { return t.schema }

// DB is the database the table runs on.
func (t *Table[T]) DB() *db.Database { return t.db }

func (t *Table[T]) Execute(ctx context.Context, query string, args any) (int64, error) {
	return t.db.Execute(ctx, query, args)
}

func (t *Table[T]) Scalar(ctx context.Context, query string, args any) (any, error) {
	return t.db.Scalar(ctx, query, args)
}

// Reader streams query as *T. Skip or Take append an OFFSET/FETCH suffix,
// so query must end in ORDER BY; servers without OFFSET/FETCH fail with
// ErrPaginationUnsupported before the statement is sent. The sequence can
// be ranged over once.
func (t *Table[T]) Reader(ctx context.Context, query string, args any, opts ReadOptions) iter.Seq2[*T, error] {
	var used atomic.Bool
	return func(yield func(*T, error) bool) {
		if used.Swap(true) {
			yield(nil, sqlerr.Config("reader", sqlerr.ErrReaderConsumed))
			return
		}
		q := query
		page := Page{Skip: opts.Skip, Take: opts.Take}
		if err := page.validate("reader"); err != nil {
			yield(nil, err)
			return
		}
		if page.active() {
			mode, err := t.db.Paging(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if mode != db.PagingOffsetFetch {
				yield(nil, sqlerr.Capability("reader", sqlerr.ErrPaginationUnsupported))
				return
			}
			q += offsetFetch(page)
		}
		for v, err := range db.Read[T](ctx, t.db, q, args) {
			if !yield(v, err) || err != nil || opts.Single {
				return
			}
		}
	}
}

// Select streams the rows matching q.
func (t *Table[T]) Select(ctx context.Context, q Query) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		mode := db.PagingNone
		if q.Page.active() {
			var err error
			if mode, err = t.db.Paging(ctx); err != nil {
				yield(nil, err)
				return
			}
		}
		query, err := SelectSQL(t.schema, q, mode)
		if err != nil {
			yield(nil, err)
			return
		}
		for v, err := range db.Read[T](ctx, t.db, query, q.Where) {
			if !yield(v, err) || err != nil {
				return
			}
		}
	}
}

// GetAll returns every row.
func (t *Table[T]) GetAll(ctx context.Context, order ...Order) ([]*T, error) {
	return collect(t.Select(ctx, Query{Order: order}))
}

// FindAll returns the rows matching where, optionally paged.
func (t *Table[T]) FindAll(ctx context.Context, where *sqlbuilder.Builder, page Page, order ...Order) ([]*T, error) {
	return collect(t.Select(ctx, Query{Where: where, Page: page, Order: order}))
}

// FindTop returns at most n rows matching where.
func (t *Table[T]) FindTop(ctx context.Context, n int, where *sqlbuilder.Builder, order ...Order) ([]*T, error) {
	return collect(t.Select(ctx, Query{Where: where, Top: n, Order: order}))
}

// FindOne returns the first row matching where, or sql.ErrNoRows.
func (t *Table[T]) FindOne(ctx context.Context, where *sqlbuilder.Builder, order ...Order) (*T, error) {
	rows, err := t.FindTop(ctx, 1, where, order...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, sql.ErrNoRows
	}
	return rows[0], nil
}

// FindByPK returns the row whose primary key equals key, or sql.ErrNoRows.
func (t *Table[T]) FindByPK(ctx context.Context, key any) (*T, error) {
	pk := t.schema.PrimaryKey()
	if pk == nil {
		return nil, sqlerr.Configf("find", sqlerr.ErrNoPrimaryKey, "%s", t.schema.TableName)
	}
	where := sqlbuilder.New().AppendParameter(pk.DbName, "=", key)
	return t.FindOne(ctx, where)
}

// Count returns the number of rows matching where.
func (t *Table[T]) Count(ctx context.Context, where *sqlbuilder.Builder) (int64, error) {
	return t.scalarInt(ctx, "count", CountSQL(t.schema, where), where)
}

// Exists reports whether any row matches where.
func (t *Table[T]) Exists(ctx context.Context, where *sqlbuilder.Builder) (bool, error) {
	n, err := t.scalarInt(ctx, "exists", ExistsSQL(t.schema, where), where)
	return n > 0, err
}

func (t *Table[T]) scalarInt(ctx context.Context, op, query string, where *sqlbuilder.Builder) (int64, error) {
	v, err := t.db.Scalar(ctx, query, where)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := schema.Assign(reflectOf(&n), v); err != nil {
		return 0, sqlerr.Mapping(op, err)
	}
	return n, nil
}

func collect[T any](seq iter.Seq2[*T, error]) ([]*T, error) {
	var out []*T
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
