package db

import (
	"context"
	"fmt"
	"iter"
	"reflect"
	"strings"
	"time"

	mssql "github.com/microsoft/go-mssqldb"

	"dbmap/internal/metrics"
	"dbmap/internal/schema"
	"dbmap/internal/sqlerr"
)

// Read streams the rows of a statement as *T. Result columns are matched to
// fields by database column name, case-insensitively; columns that match
// no field are ignored. NULL stores the zero value, nil for pointers, and
// leaves time.Time fields untouched.
//
// Like Reader, the sequence can be ranged over once.
func Read[T any](ctx context.Context, d *Database, query string, args any) iter.Seq2[*T, error] {
	const op = "read"
	return onePass(op, func(yield func(*T, error) bool) {
		ts, err := d.Cache().Get(reflect.TypeFor[T]())
		if err != nil {
			yield(nil, err)
			return
		}

		start := time.Now()
		rs, hot, err := d.query(ctx, op, query, args)
		if err != nil {
			d.trace(ctx, op, hot, start, err)
			yield(nil, err)
			return
		}
		defer rs.Close()

		cols, types, err := columnsOf(rs)
		if err != nil {
			d.trace(ctx, op, hot, start, err)
			yield(nil, sqlerr.Exec(op, query, err))
			return
		}
		targets := make([]*schema.Column, len(cols))
		for i, name := range cols {
			targets[i] = ts.ColumnByDbName(name)
		}

		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}

		var n int64
		defer func() { metrics.RecordRows(op, n) }()
		for rs.Next() {
			if err := rs.Scan(ptrs...); err != nil {
				d.trace(ctx, op, hot, start, err)
				yield(nil, sqlerr.Exec(op, query, err))
				return
			}
			v := new(T)
			if err := d.fill(ts, reflect.ValueOf(v).Elem(), targets, types, raw); err != nil {
				d.trace(ctx, op, hot, start, err)
				yield(nil, err)
				return
			}
			n++
			if !yield(v, nil) {
				d.trace(ctx, op, hot, start, nil)
				return
			}
		}
		err = rs.Err()
		d.trace(ctx, op, hot, start, err)
		if err != nil {
			yield(nil, sqlerr.Exec(op, query, err))
		}
	})
}

// fill copies one scanned row into the struct value rv.
func (d *Database) fill(ts *schema.TableSchema, rv reflect.Value, targets []*schema.Column, types []string, raw []any) error {
	for i, c := range targets {
		if c == nil {
			continue
		}
		f := ts.Field(rv, c)
		src := raw[i]
		if c.JSON {
			if err := d.decodeJSON(f, src); err != nil {
				return sqlerr.Mapping("read", fmt.Errorf("column %s: %w", c.DbName, err))
			}
			continue
		}
		if err := schema.Assign(f, wireValue(src, types[i])); err != nil {
			return sqlerr.Mapping("read", fmt.Errorf("column %s: %w", c.DbName, err))
		}
	}
	return nil
}

func (d *Database) decodeJSON(f reflect.Value, src any) error {
	var s string
	switch x := src.(type) {
	case nil:
		f.Set(reflect.Zero(f.Type()))
		return nil
	case string:
		s = x
	case []byte:
		s = string(x)
	default:
		return fmt.Errorf("%w: json column holds %T", sqlerr.ErrUnsupportedType, src)
	}
	if strings.TrimSpace(s) == "" {
		f.Set(reflect.Zero(f.Type()))
		return nil
	}
	nv := reflect.New(f.Type())
	if err := d.opts.Codec.Unmarshal(s, nv.Interface()); err != nil {
		return err
	}
	f.Set(nv.Elem())
	return nil
}

// wireValue turns uniqueidentifier bytes into mssql.UniqueIdentifier so
// string and uuid fields both receive the canonical value.
func wireValue(v any, dbType string) any {
	b, ok := v.([]byte)
	if !ok || len(b) != 16 || !strings.EqualFold(dbType, "UNIQUEIDENTIFIER") {
		return v
	}
	var g mssql.UniqueIdentifier
	if err := g.Scan(b); err != nil {
		return v
	}
	return g
}
