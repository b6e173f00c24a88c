package orm

import (
	"context"
	"database/sql"
	"reflect"

	"dbmap/internal/db"
	"dbmap/internal/schema"
	"dbmap/internal/sqlerr"
)

// Record binds one entity to the query engine. Every method takes the
// database to run on.
type Record[T any] struct {
	V *T
}

// Wrap returns a Record for v.
func Wrap[T any](v *T) *Record[T] { return &Record[T]{V: v} }

func (r *Record[T]) Insert(ctx context.Context, d *db.Database, excluded ...string) (any, error) {
	t, err := NewTable[T](d)
	if err != nil {
		return nil, err
	}
	return t.Insert(ctx, r.V, excluded...)
}

func (r *Record[T]) Update(ctx context.Context, d *db.Database, excluded ...string) (int64, error) {
	t, err := NewTable[T](d)
	if err != nil {
		return 0, err
	}
	return t.Update(ctx, r.V, nil, excluded...)
}

func (r *Record[T]) UpdateOnly(ctx context.Context, d *db.Database, included ...string) (int64, error) {
	t, err := NewTable[T](d)
	if err != nil {
		return 0, err
	}
	return t.UpdateOnly(ctx, r.V, nil, included...)
}

// Save inserts when the primary key holds its empty value and updates
// otherwise, inserting after all if the update touched no row.
func (r *Record[T]) Save(ctx context.Context, d *db.Database) (bool, error) {
	t, err := NewTable[T](d)
	if err != nil {
		return false, err
	}
	pk := t.schema.PrimaryKey()
	if pk == nil || r.keyEmpty(t.schema, pk) {
		if _, err := t.Insert(ctx, r.V); err != nil {
			return false, err
		}
		return true, nil
	}
	return t.Save(ctx, r.V)
}

func (r *Record[T]) Delete(ctx context.Context, d *db.Database) (int64, error) {
	t, err := NewTable[T](d)
	if err != nil {
		return 0, err
	}
	return t.Delete(ctx, r.V)
}

// Refresh reloads the selected columns of the wrapped entity by primary
// key. A missing row returns sql.ErrNoRows and leaves the entity as is.
func (r *Record[T]) Refresh(ctx context.Context, d *db.Database) error {
	t, err := NewTable[T](d)
	if err != nil {
		return err
	}
	pk := t.schema.PrimaryKey()
	if pk == nil {
		return sqlerr.Configf("refresh", sqlerr.ErrNoPrimaryKey, "%s", t.schema.TableName)
	}
	key, ok := t.schema.Value(reflect.ValueOf(r.V).Elem(), pk)
	if !ok {
		return sql.ErrNoRows
	}
	fresh, err := t.FindByPK(ctx, key.Interface())
	if err != nil {
		return err
	}
	dst := reflect.ValueOf(r.V).Elem()
	src := reflect.ValueOf(fresh).Elem()
	for _, c := range t.schema.Selected() {
		v, ok := t.schema.Value(src, c)
		if !ok {
			continue
		}
		t.schema.Field(dst, c).Set(v)
	}
	return nil
}

// Duplicate inserts a shallow copy of the wrapped entity and returns it.
// An engine-generated key is cleared first so the copy gets its own.
func (r *Record[T]) Duplicate(ctx context.Context, d *db.Database) (*Record[T], error) {
	t, err := NewTable[T](d)
	if err != nil {
		return nil, err
	}
	cp := *r.V
	if pk := t.schema.PrimaryKey(); pk != nil && !pk.Insert {
		f := t.schema.Field(reflect.ValueOf(&cp).Elem(), pk)
		f.Set(reflect.Zero(f.Type()))
	}
	if _, err := t.Insert(ctx, &cp); err != nil {
		return nil, err
	}
	return Wrap(&cp), nil
}

func (r *Record[T]) keyEmpty(s *schema.TableSchema, pk *schema.Column) bool {
	v, ok := s.Value(reflect.ValueOf(r.V).Elem(), pk)
	return !ok || schema.IsEmptyKey(v)
}
