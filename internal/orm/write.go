package orm

import (
	"context"
	"errors"
	"reflect"
	"strings"

	"github.com/google/uuid"
	mssql "github.com/microsoft/go-mssqldb"

	"dbmap/internal/param"
	"dbmap/internal/schema"
	"dbmap/internal/sqlbuilder"
	"dbmap/internal/sqlerr"
)

// Insert writes obj and returns the identity the server generated, or nil.
//
// The identity is stored in the primary key field unless the key is
// insertable or updatable, in which case the caller's value is kept. A
// value that cannot be coerced leaves the field unset; key types with no
// identity coercion are left alone.
func (t *Table[T]) Insert(ctx context.Context, obj *T, excluded ...string) (any, error) {
	cols := t.writable(func(c *schema.Column) bool { return c.Insert }, excluded, nil)
	query := InsertSQL(t.schema, cols)
	ps, err := t.params(obj, cols, nil)
	if err != nil {
		return nil, err
	}

	id, err := t.db.Scalar(ctx, query, ps)
	if err != nil {
		return nil, err
	}
	t.storeIdentity(ctx, obj, id)
	return id, nil
}

func (t *Table[T]) storeIdentity(ctx context.Context, obj *T, id any) {
	pk := t.schema.PrimaryKey()
	if pk == nil || id == nil || pk.Insert || pk.Update {
		return
	}
	f := t.schema.Field(reflect.ValueOf(obj).Elem(), pk)
	if !identityKind(f.Type()) {
		t.db.Logger().DebugContext(ctx, "orm: identity not stored", "table", t.schema.TableName, "type", f.Type().String())
		return
	}
	if err := schema.Assign(f, id); err != nil {
		t.db.Logger().DebugContext(ctx, "orm: identity coercion failed", "table", t.schema.TableName, "value", id, "err", err)
	}
}

var (
	uuidType      = reflect.TypeFor[uuid.UUID]()
	mssqlGUIDType = reflect.TypeFor[mssql.UniqueIdentifier]()
)

// identityKind reports key types an identity value is coerced into:
// integers, floats, strings and GUIDs, or pointers to them.
func identityKind(t reflect.Type) bool {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == uuidType || t == mssqlGUIDType {
		return true
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.String:
		return true
	}
	return false
}

// Update writes the updatable columns of obj. A nil or empty where updates
// the row with obj's primary key.
func (t *Table[T]) Update(ctx context.Context, obj *T, where *sqlbuilder.Builder, excluded ...string) (int64, error) {
	cols := t.writable(updatable, excluded, nil)
	return t.update(ctx, "update", obj, where, cols)
}

// UpdateOnly writes only the included columns of obj. An empty inclusion
// list is a configuration error.
func (t *Table[T]) UpdateOnly(ctx context.Context, obj *T, where *sqlbuilder.Builder, included ...string) (int64, error) {
	if len(included) == 0 {
		return 0, sqlerr.Configf("update_only", sqlerr.ErrNoColumns, "no columns named for %s", t.schema.TableName)
	}
	for _, name := range included {
		if t.schema.Column(name) == nil {
			return 0, sqlerr.Configf("update_only", sqlerr.ErrUnknownColumn, "%q on %s", name, t.schema.TableName)
		}
	}
	cols := t.writable(updatable, nil, included)
	return t.update(ctx, "update_only", obj, where, cols)
}

// updatable accepts columns written by UPDATE. Primary keys are excluded
// unless their tag re-enables update.
func updatable(c *schema.Column) bool { return c.Update }

func (t *Table[T]) update(ctx context.Context, op string, obj *T, where *sqlbuilder.Builder, cols []*schema.Column) (int64, error) {
	if len(cols) == 0 {
		return 0, sqlerr.Configf(op, sqlerr.ErrNoColumns, "nothing to update on %s", t.schema.TableName)
	}

	var filter string
	var keep []*schema.Column
	if where.IsEmpty() {
		pk := t.schema.PrimaryKey()
		if pk == nil {
			return 0, sqlerr.Configf(op, sqlerr.ErrNoPrimaryKey, "%s", t.schema.TableName)
		}
		filter = pkWhere(pk)
		keep = []*schema.Column{pk}
	} else {
		filter = where.ToSQL(true)
	}

	ps, err := t.params(obj, append(cols, keep...), where)
	if err != nil {
		return 0, err
	}
	return t.db.Execute(ctx, UpdateSQL(t.schema, cols, filter), ps)
}

// Save updates obj by primary key and inserts it when no row was updated.
// Entities without a primary key are always inserted.
func (t *Table[T]) Save(ctx context.Context, obj *T) (bool, error) {
	if t.schema.PrimaryKey() == nil {
		_, err := t.Insert(ctx, obj)
		return err == nil, err
	}
	n, err := t.Update(ctx, obj, nil)
	if err != nil && !errors.Is(err, sqlerr.ErrNoColumns) {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	if _, err := t.Insert(ctx, obj); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the row with obj's primary key.
func (t *Table[T]) Delete(ctx context.Context, obj *T) (int64, error) {
	pk := t.schema.PrimaryKey()
	if pk == nil {
		return 0, sqlerr.Configf("delete", sqlerr.ErrNoPrimaryKey, "%s", t.schema.TableName)
	}
	ps, err := t.params(obj, []*schema.Column{pk}, nil)
	if err != nil {
		return 0, err
	}
	return t.db.Execute(ctx, DeleteSQL(t.schema, pkWhere(pk)), ps)
}

// DeleteWhere removes the rows matching where. An empty builder removes
// every row.
func (t *Table[T]) DeleteWhere(ctx context.Context, where *sqlbuilder.Builder) (int64, error) {
	return t.db.Execute(ctx, DeleteSQL(t.schema, where.ToSQL(true)), where)
}

// DeleteSQL removes the rows matching a raw filter; where excludes the
// WHERE keyword and args binds its placeholders.
func (t *Table[T]) DeleteSQL(ctx context.Context, where string, args any) (int64, error) {
	filter := ""
	if w := strings.TrimSpace(where); w != "" {
		filter = " WHERE " + w
	}
	return t.db.Execute(ctx, DeleteSQL(t.schema, filter), args)
}

// writable lists the storable columns accepted by ok, minus excluded
// names, and restricted to included names when included is non-nil.
func (t *Table[T]) writable(ok func(*schema.Column) bool, excluded, included []string) []*schema.Column {
	var out []*schema.Column
	for _, c := range t.schema.Columns {
		if c.Raw != "" || c.NoParam || !ok(c) {
			continue
		}
		if named(c, excluded) {
			continue
		}
		if included != nil && !named(c, included) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func named(c *schema.Column, names []string) bool {
	for _, n := range names {
		if strings.EqualFold(n, c.Name) || strings.EqualFold(n, c.DbName) {
			return true
		}
	}
	return false
}

// params binds the fields of obj used by cols, followed by the filter's
// own parameters.
func (t *Table[T]) params(obj *T, cols []*schema.Column, where *sqlbuilder.Builder) ([]param.Parameter, error) {
	all, err := param.From(obj)
	if err != nil {
		return nil, err
	}
	used := make(map[string]bool, len(cols))
	for _, c := range cols {
		used[strings.ToLower(c.Name)] = true
	}
	out := make([]param.Parameter, 0, len(cols)+len(where.Parameters()))
	for _, p := range all {
		if used[strings.ToLower(p.Name)] {
			out = append(out, p)
		}
	}
	return append(out, where.Parameters()...), nil
}

func reflectOf(p any) reflect.Value { return reflect.ValueOf(p).Elem() }
