// Package dbtest is an in-memory database/sql driver for tests.
//
// It drives the real executor stack (*sql.DB -> *sql.Conn -> *sql.Tx ->
// *sql.Stmt) without a network. Every statement is handed to a Handler that
// decides the result sets; every call is recorded so tests can assert on
// the SQL text and the bound arguments.
package dbtest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"sync"
)

// Set is one result set.
type Set struct {
	Columns []string
	Types   []string // database type names, optional
	Rows    [][]driver.Value
}

// Result is what a statement produces.
type Result struct {
	Sets         []Set
	RowsAffected int64
}

// Handler answers one statement.
type Handler func(query string, args []driver.NamedValue) (Result, error)

// Call is one recorded driver interaction.
type Call struct {
	Kind     string // begin, commit, rollback, prepare, exec, query
	Query    string
	Args     []driver.NamedValue
	Prepared bool // ran through a prepared statement
}

// Arg returns the value bound to name, if any.
func (c Call) Arg(name string) (any, bool) {
	for _, a := range c.Args {
		if a.Name == name {
			return a.Value, true
		}
	}
	return nil, false
}

// Driver records calls and serves results from its Handler.
type Driver struct {
	mu          sync.Mutex
	handler     Handler
	calls       []Call
	commitErr   error
	rollbackErr error
}

// New returns a driver answering statements with h. A nil h answers every
// statement with no rows and zero rows affected.
func New(h Handler) *Driver {
	return &Driver{handler: h}
}

// DB opens a pool backed by d.
func (d *Driver) DB() *sql.DB { return sql.OpenDB(connector{d}) }

// Calls returns a copy of the recorded calls.
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// Statements returns the recorded exec and query calls.
func (d *Driver) Statements() []Call {
	var out []Call
	for _, c := range d.Calls() {
		if c.Kind == "exec" || c.Kind == "query" {
			out = append(out, c)
		}
	}
	return out
}

// Count returns how many calls of kind were recorded.
func (d *Driver) Count(kind string) int {
	n := 0
	for _, c := range d.Calls() {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

// Reset forgets recorded calls.
func (d *Driver) Reset() {
	d.mu.Lock()
	d.calls = nil
	d.mu.Unlock()
}

// FailCommit makes every Commit return err.
func (d *Driver) FailCommit(err error) {
	d.mu.Lock()
	d.commitErr = err
	d.mu.Unlock()
}

// FailRollback makes every Rollback return err.
func (d *Driver) FailRollback(err error) {
	d.mu.Lock()
	d.rollbackErr = err
	d.mu.Unlock()
}

func (d *Driver) record(c Call) {
	d.mu.Lock()
	d.calls = append(d.calls, c)
	d.mu.Unlock()
}

func (d *Driver) answer(c Call) (Result, error) {
	d.record(c)
	if d.handler == nil {
		return Result{}, nil
	}
	return d.handler(c.Query, c.Args)
}

func (d *Driver) Open(string) (driver.Conn, error) { return &conn{d: d}, nil }

type connector struct{ d *Driver }

func (c connector) Connect(context.Context) (driver.Conn, error) { return &conn{d: c.d}, nil }
func (c connector) Driver() driver.Driver                        { return c.d }

//
// ==========
//  Conn
// ==========
//

type conn struct {
	d  *Driver
	tx *tx
}

func (c *conn) Prepare(q string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), q)
}

func (c *conn) PrepareContext(_ context.Context, q string) (driver.Stmt, error) {
	c.d.record(Call{Kind: "prepare", Query: q})
	return &stmt{c: c, query: q}, nil
}

func (c *conn) Close() error { return nil }

func (c *conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	c.d.record(Call{Kind: "begin"})
	c.tx = &tx{c: c}
	return c.tx, nil
}

// CheckNamedValue accepts any value so driver specific types reach the
// handler unchanged.
func (c *conn) CheckNamedValue(*driver.NamedValue) error { return nil }

func (c *conn) ExecContext(_ context.Context, q string, args []driver.NamedValue) (driver.Result, error) {
	return c.exec(q, args, false)
}

func (c *conn) QueryContext(_ context.Context, q string, args []driver.NamedValue) (driver.Rows, error) {
	return c.query(q, args, false)
}

func (c *conn) exec(q string, args []driver.NamedValue, prepared bool) (driver.Result, error) {
	res, err := c.d.answer(Call{Kind: "exec", Query: q, Args: copyArgs(args), Prepared: prepared})
	if err != nil {
		return nil, err
	}
	return result(res.RowsAffected), nil
}

func (c *conn) query(q string, args []driver.NamedValue, prepared bool) (driver.Rows, error) {
	res, err := c.d.answer(Call{Kind: "query", Query: q, Args: copyArgs(args), Prepared: prepared})
	if err != nil {
		return nil, err
	}
	if len(res.Sets) == 0 {
		res.Sets = []Set{{}}
	}
	return &rows{sets: res.Sets}, nil
}

func copyArgs(args []driver.NamedValue) []driver.NamedValue {
	return append([]driver.NamedValue(nil), args...)
}

type tx struct{ c *conn }

func (t *tx) Commit() error {
	t.c.d.record(Call{Kind: "commit"})
	t.c.d.mu.Lock()
	defer t.c.d.mu.Unlock()
	return t.c.d.commitErr
}

func (t *tx) Rollback() error {
	t.c.d.record(Call{Kind: "rollback"})
	t.c.d.mu.Lock()
	defer t.c.d.mu.Unlock()
	return t.c.d.rollbackErr
}

//
// ==========
//  Stmt
// ==========
//

type stmt struct {
	c     *conn
	query string
}

func (s *stmt) Close() error { return nil }

// NumInput returning -1 means "unknown", which is acceptable to database/sql.
func (s *stmt) NumInput() int { return -1 }

func (s *stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.c.exec(s.query, named(args), true)
}

func (s *stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.c.query(s.query, named(args), true)
}

func (s *stmt) ExecContext(_ context.Context, args []driver.NamedValue) (driver.Result, error) {
	return s.c.exec(s.query, args, true)
}

func (s *stmt) QueryContext(_ context.Context, args []driver.NamedValue) (driver.Rows, error) {
	return s.c.query(s.query, args, true)
}

func named(args []driver.Value) []driver.NamedValue {
	out := make([]driver.NamedValue, len(args))
	for i, v := range args {
		out[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return out
}

type result int64

func (r result) LastInsertId() (int64, error) { return 0, errors.New("dbtest: LastInsertId not supported") }
func (r result) RowsAffected() (int64, error) { return int64(r), nil }

//
// ==========
//  Rows
// ==========
//

type rows struct {
	sets []Set
	set  int
	row  int
}

func (r *rows) Columns() []string { return r.sets[r.set].Columns }

func (r *rows) Close() error { return nil }

func (r *rows) Next(dest []driver.Value) error {
	s := r.sets[r.set]
	if r.row >= len(s.Rows) {
		return io.EOF
	}
	copy(dest, s.Rows[r.row])
	r.row++
	return nil
}

func (r *rows) HasNextResultSet() bool { return r.set+1 < len(r.sets) }

func (r *rows) NextResultSet() error {
	if !r.HasNextResultSet() {
		return io.EOF
	}
	r.set++
	r.row = 0
	return nil
}

func (r *rows) ColumnTypeDatabaseTypeName(i int) string {
	if t := r.sets[r.set].Types; i < len(t) {
		return t[i]
	}
	return ""
}
