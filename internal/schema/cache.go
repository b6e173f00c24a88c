package schema

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"dbmap/internal/sqlerr"
)

// Cache memoizes TableSchemas per struct type.
//
// It is safe for concurrent use. Concurrent first access to the same type
// builds the schema exactly once; later calls are a single map lookup.
type Cache struct {
	schemas sync.Map // reflect.Type -> *TableSchema
	tables  sync.Map // reflect.Type -> Table
	group   singleflight.Group
	builds  atomic.Int64
}

// NewCache returns an empty cache.
func NewCache() *Cache { return &Cache{} }

// Register declares the table of struct type t. It takes precedence over a
// Tabler implementation. A schema already built for t is discarded.
func (c *Cache) Register(t reflect.Type, tbl Table) {
	t = indirect(t)
	c.tables.Store(t, tbl)
	c.schemas.Delete(t)
}

// RegisterTable is the generic form of Register.
func RegisterTable[T any](c *Cache, tbl Table) {
	c.Register(reflect.TypeOf((*T)(nil)).Elem(), tbl)
}

// For returns the schema of T.
func For[T any](c *Cache) (*TableSchema, error) {
	return c.Get(reflect.TypeOf((*T)(nil)).Elem())
}

// Get returns the schema of t, building it on first access. Pointer types
// are dereferenced.
func (c *Cache) Get(t reflect.Type) (*TableSchema, error) {
	if t == nil {
		return nil, sqlerr.Mapping("schema", sqlerr.ErrNotStruct)
	}
	t = indirect(t)
	if v, ok := c.schemas.Load(t); ok {
		return v.(*TableSchema), nil
	}
	if t.Kind() != reflect.Struct {
		return nil, sqlerr.Mapping("schema", fmt.Errorf("%w: %s", sqlerr.ErrNotStruct, t))
	}

	// %p of a reflect.Type is the address of its runtime descriptor, unique
	// per type even when two types share a printed name.
	key := fmt.Sprintf("%s#%p", t, t)
	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.schemas.Load(t); ok {
			return v, nil
		}
		var reg *Table
		if r, ok := c.tables.Load(t); ok {
			tbl := r.(Table)
			reg = &tbl
		}
		s, err := build(t, reg)
		if err != nil {
			return nil, sqlerr.Mapping("schema", fmt.Errorf("%s: %w", t, err))
		}
		c.builds.Add(1)
		actual, _ := c.schemas.LoadOrStore(t, s)
		return actual, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*TableSchema), nil
}

// Clear drops every built schema. Registrations are kept.
func (c *Cache) Clear() {
	c.schemas.Range(func(k, _ any) bool {
		c.schemas.Delete(k)
		return true
	})
}

// Builds reports how many schemas have been constructed.
func (c *Cache) Builds() int64 { return c.builds.Load() }

func indirect(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}
