// Package schema maps Go struct types to SQL Server tables.
//
// A TableSchema is derived once per struct type from static declarations:
// struct tags on the fields (see Tag), an optional registered Table, and the
// optional Tabler/Schemer methods on the type. Schemas are memoized in a
// Cache that is created by the caller and shared by every component that
// needs it; nothing here is a process-wide global.
package schema

import (
	"reflect"
	"strings"

	"golang.org/x/text/cases"
)

// Table is the table-level declaration of an entity type.
type Table struct {
	Name   string
	Schema string
}

// Tabler is implemented by entity types that declare their table.
type Tabler interface {
	Table() Table
}

// Schemer is implemented by entity types that declare a type-level schema,
// used when the table declaration names none.
type Schemer interface {
	DBSchema() string
}

// Column describes one mapped struct field.
type Column struct {
	Name   string // Go field name
	DbName string // column name on the wire
	Raw    string // optional SELECT expression replacing DbName

	Insert     bool
	Update     bool
	Select     bool
	PrimaryKey bool
	JSON       bool
	NoParam    bool

	Type         WireType
	Size         int
	SizeExplicit bool
	Precision    int
	Scale        int

	index  []int
	goType reflect.Type
}

// Index is the field index path usable with reflect.Value.FieldByIndex.
func (c *Column) Index() []int { return c.index }

// GoType is the declared Go type of the field.
func (c *Column) GoType() reflect.Type { return c.goType }

// TableSchema is the immutable mapping of a struct type to a table.
type TableSchema struct {
	TableName string
	Columns   []*Column

	typ      reflect.Type
	pk       *Column
	byName   map[string]*Column
	byDbName map[string]*Column
}

// Type is the struct type this schema was built from.
func (s *TableSchema) Type() reflect.Type { return s.typ }

// PrimaryKey returns the authoritative primary key column, or nil.
func (s *TableSchema) PrimaryKey() *Column { return s.pk }

// QuotedName renders the table as [schema].[table].
func (s *TableSchema) QuotedName() string { return QuoteName(s.TableName) }

// Column finds a column by Go field name, falling back to the wire name.
// Matching is exact first, then case-insensitive.
func (s *TableSchema) Column(name string) *Column {
	for _, c := range s.Columns {
		if c.Name == name {
			return c
		}
	}
	key := fold(name)
	if c, ok := s.byName[key]; ok {
		return c
	}
	return s.byDbName[key]
}

// ColumnByDbName finds a column by its wire name (case-insensitive),
// falling back to the Go field name. Result-set materialization uses it.
func (s *TableSchema) ColumnByDbName(name string) *Column {
	key := fold(name)
	if c, ok := s.byDbName[key]; ok {
		return c
	}
	return s.byName[key]
}

// Selected returns the columns that participate in generated SELECT lists.
func (s *TableSchema) Selected() []*Column {
	out := make([]*Column, 0, len(s.Columns))
	for _, c := range s.Columns {
		if c.Select {
			out = append(out, c)
		}
	}
	return out
}

// Field returns the addressable field of c inside the struct value v,
// allocating nil embedded pointers on the way.
func (s *TableSchema) Field(v reflect.Value, c *Column) reflect.Value {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}
	for _, i := range c.index {
		if v.Kind() == reflect.Ptr {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(i)
	}
	return v
}

// Value reads the field of c from v without allocating. The second result
// is false when an embedded pointer on the path is nil.
func (s *TableSchema) Value(v reflect.Value, c *Column) (reflect.Value, bool) {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	for _, i := range c.index {
		if v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return reflect.Value{}, false
			}
			v = v.Elem()
		}
		v = v.Field(i)
	}
	return v, true
}

// fold returns the caseless form used for column lookups. A fresh Caser is
// built per call because Casers are stateful.
func fold(s string) string { return cases.Fold().String(s) }

// build derives the schema of struct type t.
func build(t reflect.Type, reg *Table) (*TableSchema, error) {
	s := &TableSchema{
		TableName: tableName(t, reg),
		typ:       t,
		byName:    make(map[string]*Column),
		byDbName:  make(map[string]*Column),
	}
	if err := s.walk(t, nil); err != nil {
		return nil, err
	}
	for _, c := range s.Columns {
		if c.PrimaryKey && s.pk == nil {
			s.pk = c
		}
	}
	return s, nil
}

func (s *TableSchema) walk(t reflect.Type, base []int) error {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tg, err := ParseTag(sf)
		if err != nil {
			return err
		}
		if tg.Omit {
			continue
		}
		path := append(append([]int(nil), base...), i)

		if sf.Anonymous && tg.Name == "" {
			ft := sf.Type
			if ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct && !isValueStruct(ft) {
				if err := s.walk(ft, path); err != nil {
					return err
				}
				continue
			}
		}

		c := newColumn(sf, tg, path)
		key := fold(c.Name)
		if _, dup := s.byName[key]; dup {
			continue
		}
		s.byName[key] = c
		if _, dup := s.byDbName[fold(c.DbName)]; !dup {
			s.byDbName[fold(c.DbName)] = c
		}
		s.Columns = append(s.Columns, c)
	}
	return nil
}

func newColumn(sf reflect.StructField, tg Tag, path []int) *Column {
	c := &Column{
		Name:         sf.Name,
		DbName:       sf.Name,
		Raw:          tg.Raw,
		PrimaryKey:   tg.PK,
		JSON:         tg.JSON,
		NoParam:      tg.NoParam,
		Size:         tg.Size,
		SizeExplicit: tg.SizeExplicit,
		Precision:    tg.Precision,
		Scale:        tg.Scale,
		index:        path,
		goType:       sf.Type,
	}
	if tg.Name != "" {
		c.DbName = tg.Name
	}

	writable := !tg.PK && c.Raw == ""
	c.Insert = pick(tg.Insert, writable)
	c.Update = pick(tg.Update, writable)
	c.Select = pick(tg.Select, true)

	switch {
	case tg.Type != Unspecified:
		c.Type = tg.Type
	case tg.JSON:
		c.Type = NVarChar
	default:
		c.Type = InferWireType(sf.Type)
	}
	return c
}

// isValueStruct reports struct types that map to a single column even when
// embedded anonymously.
func isValueStruct(t reflect.Type) bool {
	switch t {
	case timeType, civilDateType, civilDateTimeTyp:
		return true
	}
	if _, ok := nullTypes[t]; ok {
		return true
	}
	_, ok := genericNullElem(t)
	return ok
}

func tableName(t reflect.Type, reg *Table) string {
	var tbl Table
	if reg != nil {
		tbl = *reg
	}
	zero := reflect.New(t).Interface()
	if tbl.Name == "" || tbl.Schema == "" {
		if tb, ok := zero.(Tabler); ok {
			decl := tb.Table()
			if tbl.Name == "" {
				tbl.Name = decl.Name
			}
			if tbl.Schema == "" {
				tbl.Schema = decl.Schema
			}
		}
	}
	if tbl.Name == "" {
		tbl.Name = t.Name()
	}
	if tbl.Schema == "" {
		if sc, ok := zero.(Schemer); ok {
			tbl.Schema = sc.DBSchema()
		}
	}
	tbl.Schema = strings.TrimSpace(tbl.Schema)
	if tbl.Schema == "" {
		return tbl.Name
	}
	return tbl.Schema + "." + tbl.Name
}
