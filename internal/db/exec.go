package db

import (
	"context"
	"database/sql"
	"errors"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	mssql "github.com/microsoft/go-mssqldb"

	"dbmap/internal/metrics"
	"dbmap/internal/param"
	"dbmap/internal/sqlerr"
)

// Action tells ReaderMultiple what to do after a row.
type Action int

const (
	// Continue reads the next row.
	Continue Action = iota
	// Skip discards the next row of the current result set.
	Skip
	// Break abandons the current result set and moves to the next one.
	Break
	// Close stops reading altogether.
	Close
)

// Execute runs a statement and returns the number of affected rows.
//
// args is anything param.From accepts: nil, a struct or pointer to one, a
// map, []param.KeyValue, []param.Parameter or a *sqlbuilder.Builder.
func (d *Database) Execute(ctx context.Context, query string, args any) (int64, error) {
	const op = "execute"
	start := time.Now()
	hot, err := d.bind(ctx, op, query, args)
	if err != nil {
		return 0, err
	}

	var res sql.Result
	if d.cmd.stmt != nil {
		res, err = d.cmd.stmt.ExecContext(ctx, d.cmd.args...)
	} else {
		res, err = d.active().ExecContext(ctx, query, d.cmd.args...)
	}
	var n int64
	if err == nil {
		n, err = res.RowsAffected()
	}
	d.trace(ctx, op, hot, start, err)
	if err != nil {
		return 0, sqlerr.Exec(op, query, err)
	}
	metrics.RecordRows(op, n)
	return n, nil
}

// Scalar returns the first column of the first row, or nil when the
// statement returns no rows. Decimal values are returned as their exact
// text and uniqueidentifiers in canonical form.
func (d *Database) Scalar(ctx context.Context, query string, args any) (any, error) {
	const op = "scalar"
	start := time.Now()
	rs, hot, err := d.query(ctx, op, query, args)
	if err != nil {
		d.trace(ctx, op, hot, start, err)
		return nil, err
	}
	defer rs.Close()

	v, err := firstValue(rs)
	d.trace(ctx, op, hot, start, err)
	if err != nil {
		return nil, sqlerr.Exec(op, query, err)
	}
	return v, nil
}

func firstValue(rs *sql.Rows) (any, error) {
	cts, err := rs.ColumnTypes()
	if err != nil {
		return nil, err
	}
	if !rs.Next() {
		return nil, rs.Err()
	}
	raw := make([]any, len(cts))
	ptrs := make([]any, len(cts))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rs.Scan(ptrs...); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return scalarValue(raw[0], cts[0].DatabaseTypeName()), nil
}

func scalarValue(v any, dbType string) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	switch strings.ToUpper(dbType) {
	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY",
		"CHAR", "VARCHAR", "NCHAR", "NVARCHAR", "TEXT", "NTEXT", "XML":
		return string(b)
	case "UNIQUEIDENTIFIER":
		if len(b) == 16 {
			var g mssql.UniqueIdentifier
			if err := g.Scan(b); err == nil {
				return g.String()
			}
		}
		return string(b)
	}
	return append([]byte(nil), b...)
}

// Reader streams the rows of a statement. The statement runs when the
// sequence is first ranged over; the cursor is closed when the loop ends,
// breaks, or hits an error. A Reader can be ranged over once; a second
// pass yields ErrReaderConsumed.
func (d *Database) Reader(ctx context.Context, query string, args any) iter.Seq2[Row, error] {
	const op = "reader"
	return onePass(op, func(yield func(Row, error) bool) {
		start := time.Now()
		rs, hot, err := d.query(ctx, op, query, args)
		if err != nil {
			d.trace(ctx, op, hot, start, err)
			yield(Row{}, err)
			return
		}
		defer rs.Close()

		cols, types, err := columnsOf(rs)
		if err != nil {
			d.trace(ctx, op, hot, start, err)
			yield(Row{}, sqlerr.Exec(op, query, err))
			return
		}
		var n int64
		defer func() { metrics.RecordRows(op, n) }()
		for rs.Next() {
			row, err := scanRow(rs, cols, types)
			if err != nil {
				d.trace(ctx, op, hot, start, err)
				yield(Row{}, sqlerr.Exec(op, query, err))
				return
			}
			n++
			if !yield(row, nil) {
				d.trace(ctx, op, hot, start, nil)
				return
			}
		}
		err = rs.Err()
		d.trace(ctx, op, hot, start, err)
		if err != nil {
			yield(Row{}, sqlerr.Exec(op, query, err))
		}
	})
}

// ReaderMultiple walks every result set of a batch. fn receives the zero
// based result set index and the row and decides how reading continues.
func (d *Database) ReaderMultiple(ctx context.Context, query string, args any, fn func(set int, row Row) Action) error {
	const op = "reader_multiple"
	start := time.Now()
	rs, hot, err := d.query(ctx, op, query, args)
	if err != nil {
		d.trace(ctx, op, hot, start, err)
		return err
	}
	defer rs.Close()

	var n int64
	err = func() error {
		for set := 0; ; set++ {
			cols, types, err := columnsOf(rs)
			if err != nil {
				return err
			}
			skip := false
		rows:
			for rs.Next() {
				if skip {
					skip = false
					continue
				}
				row, err := scanRow(rs, cols, types)
				if err != nil {
					return err
				}
				n++
				switch fn(set, row) {
				case Skip:
					skip = true
				case Break:
					break rows
				case Close:
					return nil
				}
			}
			if err := rs.Err(); err != nil {
				return err
			}
			if !rs.NextResultSet() {
				return rs.Err()
			}
		}
	}()
	d.trace(ctx, op, hot, start, err)
	metrics.RecordRows(op, n)
	return sqlerr.Exec(op, query, err)
}

// ReaderBinary hands the first column of the first row to fn in chunks of
// Options.ChunkSize bytes. NULL or an empty result calls fn zero times.
func (d *Database) ReaderBinary(ctx context.Context, query string, args any, fn func(chunk []byte) error) error {
	const op = "reader_binary"
	start := time.Now()
	rs, hot, err := d.query(ctx, op, query, args)
	if err != nil {
		d.trace(ctx, op, hot, start, err)
		return err
	}
	defer rs.Close()

	err = func() error {
		if !rs.Next() {
			return rs.Err()
		}
		cols, err := rs.Columns()
		if err != nil {
			return err
		}
		var blob sql.RawBytes
		dest := make([]any, len(cols))
		dest[0] = &blob
		for i := 1; i < len(dest); i++ {
			dest[i] = new(any)
		}
		if err := rs.Scan(dest...); err != nil {
			return err
		}
		for size := d.opts.ChunkSize; len(blob) > 0; {
			k := min(size, len(blob))
			if err := fn(blob[:k]); err != nil {
				return err
			}
			blob = blob[k:]
		}
		return nil
	}()
	d.trace(ctx, op, hot, start, err)
	return sqlerr.Exec(op, query, err)
}

// bind converts args to parameters and loads them into the command.
func (d *Database) bind(ctx context.Context, op, query string, args any) (bool, error) {
	if d.conn == nil {
		return false, sqlerr.Exec(op, query, sql.ErrConnDone)
	}
	ps, err := param.From(args)
	if err != nil {
		var se *sqlerr.Error
		if errors.As(err, &se) {
			return false, err
		}
		return false, sqlerr.Mapping(op, err)
	}
	return d.load(ctx, query, ps)
}

// query binds and opens a cursor through the prepared statement when there
// is one.
func (d *Database) query(ctx context.Context, op, query string, args any) (*sql.Rows, bool, error) {
	hot, err := d.bind(ctx, op, query, args)
	if err != nil {
		return nil, hot, err
	}
	var rs *sql.Rows
	if d.cmd.stmt != nil {
		rs, err = d.cmd.stmt.QueryContext(ctx, d.cmd.args...)
	} else {
		rs, err = d.active().QueryContext(ctx, query, d.cmd.args...)
	}
	if err != nil {
		return nil, hot, sqlerr.Exec(op, query, err)
	}
	return rs, hot, nil
}

// trace logs and records one statement.
func (d *Database) trace(ctx context.Context, op string, hot bool, start time.Time, err error) {
	took := time.Since(start)
	metrics.RecordStatement(op, err, took)

	level := slog.LevelDebug
	if !d.log.Enabled(ctx, level) {
		return
	}
	path := "cold"
	if hot {
		path = "hot"
	}
	attrs := []slog.Attr{
		slog.String("op", op),
		slog.String("sql", d.cmd.text),
		slog.String("fingerprint", strconv.FormatUint(d.cmd.hash, 16)),
		slog.String("path", path),
		slog.Int("params", len(d.cmd.args)),
		slog.Duration("took", took),
	}
	if err != nil {
		attrs = append(attrs, slog.Any("err", err))
	}
	d.log.LogAttrs(ctx, level, "db: statement", attrs...)
}

// onePass guards seq so it can only be ranged over once.
func onePass[V any](op string, seq iter.Seq2[V, error]) iter.Seq2[V, error] {
	var used atomic.Bool
	return func(yield func(V, error) bool) {
		if used.Swap(true) {
			var zero V
			yield(zero, sqlerr.Config(op, sqlerr.ErrReaderConsumed))
			return
		}
		seq(yield)
	}
}
