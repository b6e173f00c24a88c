package db

import (
	"database/sql"
	"strconv"
	"strings"
	"time"

	mssql "github.com/microsoft/go-mssqldb"
)

// Kind is the tag of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindString
	KindBool
	KindTime
	KindBinary
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindBinary:
		return "binary"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is one column value of a loosely typed Row.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    bool
	t    time.Time
	bin  []byte
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Int returns integer values, and floats that are whole numbers.
func (v Value) Int() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindFloat:
		if v.f == float64(int64(v.f)) {
			return int64(v.f), true
		}
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// Float returns numeric values as float64.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	}
	return 0, false
}

func (v Value) Bool() (bool, bool) {
	switch v.kind {
	case KindBool:
		return v.b, true
	case KindInt:
		return v.i != 0, true
	}
	return false, false
}

func (v Value) Time() (time.Time, bool) { return v.t, v.kind == KindTime }

func (v Value) Bytes() ([]byte, bool) { return v.bin, v.kind == KindBinary }

// String renders the value as text; NULL renders as "".
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindString:
		return v.s
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	case KindBinary:
		return string(v.bin)
	}
	return ""
}

// Interface returns the Go value: nil, int64, float64, string, bool,
// time.Time or []byte.
func (v Value) Interface() any {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindBool:
		return v.b
	case KindTime:
		return v.t
	case KindBinary:
		return v.bin
	}
	return nil
}

// Row is an ordered set of named column values.
type Row struct {
	cols []string
	vals []Value
}

func (r Row) Len() int            { return len(r.vals) }
func (r Row) Columns() []string   { return r.cols }
func (r Row) Value(i int) Value   { return r.vals[i] }
func (r Row) Values() []Value     { return r.vals }
func (r Row) Column(i int) string { return r.cols[i] }

// Get looks a column up by name, case-insensitively. With duplicate names
// the first column wins.
func (r Row) Get(name string) (Value, bool) {
	for i, c := range r.cols {
		if strings.EqualFold(c, name) {
			return r.vals[i], true
		}
	}
	return Value{}, false
}

// Map returns the row as column name -> Go value.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.cols))
	for i, c := range r.cols {
		if _, dup := m[c]; !dup {
			m[c] = r.vals[i].Interface()
		}
	}
	return m
}

// valueOf classifies a driver value. dbType is the column's database type
// name and decides how []byte is read: decimals become floats when they
// parse, uniqueidentifiers become their canonical text.
func valueOf(src any, dbType string) Value {
	switch x := src.(type) {
	case nil:
		return Value{kind: KindNull}
	case int64:
		return Value{kind: KindInt, i: x}
	case int32:
		return Value{kind: KindInt, i: int64(x)}
	case int:
		return Value{kind: KindInt, i: int64(x)}
	case float64:
		return Value{kind: KindFloat, f: x}
	case float32:
		return Value{kind: KindFloat, f: float64(x)}
	case bool:
		return Value{kind: KindBool, b: x}
	case time.Time:
		return Value{kind: KindTime, t: x}
	case string:
		return Value{kind: KindString, s: x}
	case []byte:
		return bytesValue(x, dbType)
	}
	return Value{kind: KindString, s: strings.TrimSpace(toText(src))}
}

func bytesValue(b []byte, dbType string) Value {
	switch strings.ToUpper(dbType) {
	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		if f, err := strconv.ParseFloat(string(b), 64); err == nil {
			return Value{kind: KindFloat, f: f}
		}
		return Value{kind: KindString, s: string(b)}
	case "UNIQUEIDENTIFIER":
		if len(b) == 16 {
			var g mssql.UniqueIdentifier
			if err := g.Scan(b); err == nil {
				return Value{kind: KindString, s: g.String()}
			}
		}
		return Value{kind: KindString, s: string(b)}
	case "CHAR", "VARCHAR", "NCHAR", "NVARCHAR", "TEXT", "NTEXT", "XML":
		return Value{kind: KindString, s: string(b)}
	}
	return Value{kind: KindBinary, bin: append([]byte(nil), b...)}
}

func toText(v any) string {
	if s, ok := v.(interface{ String() string }); ok {
		return s.String()
	}
	return ""
}

// scanRow reads the current row of rs into a Row.
func scanRow(rs *sql.Rows, cols []string, types []string) (Row, error) {
	raw := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rs.Scan(ptrs...); err != nil {
		return Row{}, err
	}
	vals := make([]Value, len(cols))
	for i, v := range raw {
		vals[i] = valueOf(v, types[i])
	}
	return Row{cols: cols, vals: vals}, nil
}

// columnsOf returns the column names and database type names of rs.
func columnsOf(rs *sql.Rows) ([]string, []string, error) {
	cts, err := rs.ColumnTypes()
	if err != nil {
		return nil, nil, err
	}
	cols := make([]string, len(cts))
	types := make([]string, len(cts))
	for i, ct := range cts {
		cols[i] = ct.Name()
		types[i] = ct.DatabaseTypeName()
	}
	return cols, types, nil
}
