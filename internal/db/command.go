package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/zeebo/xxh3"

	"dbmap/internal/metrics"
	"dbmap/internal/param"
	"dbmap/internal/sqlerr"
)

// command is the single reusable statement of a Database.
type command struct {
	text  string
	hash  uint64
	decls []param.Parameter // declared shape, in bind order
	index map[string]int    // lower-cased name -> position in decls/args
	args  []any             // sql.NamedArg values passed to the driver

	stmt  *sql.Stmt
	owner *sql.Tx // transaction stmt was prepared on; nil for the connection
}

func (c *command) reset() {
	if c.stmt != nil {
		_ = c.stmt.Close()
	}
	c.stmt = nil
	c.owner = nil
	c.text = ""
	c.hash = 0
	c.decls = c.decls[:0]
	c.args = c.args[:0]
	if c.index == nil {
		c.index = make(map[string]int)
	}
	clear(c.index)
}

// load binds ps for query. Identical text keeps the declarations and only
// refreshes values, appending parameters the previous call did not have.
// It reports whether the hot path was taken.
func (d *Database) load(ctx context.Context, query string, ps []param.Parameter) (bool, error) {
	c := &d.cmd
	h := xxh3.HashString(query)
	hot := c.text != "" && c.hash == h && c.text == query

	if !hot {
		c.reset()
		c.text = query
		c.hash = h
	}
	for _, p := range ps {
		if err := d.set(p); err != nil {
			return hot, err
		}
	}

	if d.opts.Prepare && (c.stmt == nil || c.owner != d.tx) {
		if c.stmt != nil {
			_ = c.stmt.Close()
			c.stmt = nil
		}
		stmt, err := d.active().PrepareContext(ctx, query)
		if err != nil {
			return hot, sqlerr.Exec("prepare", query, err)
		}
		c.stmt = stmt
		c.owner = d.tx
		d.prepared.Add(1)
	}

	path := "cold"
	if hot {
		path = "hot"
		d.hot.Add(1)
	} else {
		d.cold.Add(1)
	}
	metrics.RecordCommand(path)
	return hot, nil
}

// set updates the value of an existing parameter or declares a new one.
func (d *Database) set(p param.Parameter) error {
	c := &d.cmd
	p.Name = strings.TrimPrefix(p.Name, "@")
	v, err := d.bindValue(p)
	if err != nil {
		return sqlerr.Mapping("bind", err)
	}
	key := strings.ToLower(p.Name)
	if i, ok := c.index[key]; ok {
		c.decls[i].Value = p.Value
		c.args[i] = sql.Named(c.decls[i].Name, v)
		return nil
	}
	c.index[key] = len(c.decls)
	c.decls = append(c.decls, p)
	c.args = append(c.args, sql.Named(p.Name, v))
	return nil
}
