package schema

import (
	"database/sql"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	mssql "github.com/microsoft/go-mssqldb"
)

// WireType is the SQL Server type a column or parameter is declared with.
type WireType uint8

const (
	Unspecified WireType = iota // infer from the Go value
	Variant
	BigInt
	Int
	SmallInt
	TinyInt
	Bit
	Decimal
	Float
	Real
	Char
	NChar
	VarChar
	NVarChar
	DateTime
	DateTime2
	Date
	VarBinary
	UniqueIdentifier
	Null
)

// MaxSize is the Size value rendered as (max).
const MaxSize = -1

var wireNames = [...]string{
	Unspecified:      "",
	Variant:          "sql_variant",
	BigInt:           "bigint",
	Int:              "int",
	SmallInt:         "smallint",
	TinyInt:          "tinyint",
	Bit:              "bit",
	Decimal:          "decimal",
	Float:            "float",
	Real:             "real",
	Char:             "char",
	NChar:            "nchar",
	VarChar:          "varchar",
	NVarChar:         "nvarchar",
	DateTime:         "datetime",
	DateTime2:        "datetime2",
	Date:             "date",
	VarBinary:        "varbinary",
	UniqueIdentifier: "uniqueidentifier",
	Null:             "null",
}

func (t WireType) String() string {
	if int(t) < len(wireNames) {
		return wireNames[t]
	}
	return "wiretype(" + strconv.Itoa(int(t)) + ")"
}

// ParseWireType maps a T-SQL type name (case-insensitive) to a WireType.
// "variant" is accepted as an alias of sql_variant.
func ParseWireType(s string) (WireType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Unspecified, false
	}
	if s == "variant" {
		return Variant, true
	}
	for i, n := range wireNames {
		if n != "" && n == s {
			return WireType(i), true
		}
	}
	return Unspecified, false
}

// IsString reports whether t is one of the character types.
func (t WireType) IsString() bool {
	switch t {
	case Char, NChar, VarChar, NVarChar:
		return true
	}
	return false
}

// IsInteger reports whether t is an exact integer type.
func (t WireType) IsInteger() bool {
	switch t {
	case BigInt, Int, SmallInt, TinyInt:
		return true
	}
	return false
}

// Decl renders the T-SQL declaration of t, e.g. nvarchar(50), varchar(max)
// or decimal(18,2). A zero size on variable-length types renders (max);
// fixed-length character types default to a length of 1.
func (t WireType) Decl(size, precision, scale int) string {
	switch t {
	case Char, NChar:
		if size <= 0 {
			size = 1
		}
		return t.String() + "(" + strconv.Itoa(size) + ")"
	case VarChar, NVarChar, VarBinary:
		if size <= 0 || (t == NVarChar && size > 4000) || size > 8000 {
			return t.String() + "(max)"
		}
		return t.String() + "(" + strconv.Itoa(size) + ")"
	case Decimal:
		if precision <= 0 {
			precision = 18
		}
		return "decimal(" + strconv.Itoa(precision) + "," + strconv.Itoa(scale) + ")"
	case Unspecified, Null:
		return Variant.String()
	}
	return t.String()
}

var (
	timeType         = reflect.TypeOf(time.Time{})
	uuidType         = reflect.TypeOf(uuid.UUID{})
	mssqlGUIDType    = reflect.TypeOf(mssql.UniqueIdentifier{})
	civilDateType    = reflect.TypeOf(civil.Date{})
	civilDateTimeTyp = reflect.TypeOf(civil.DateTime{})
	bytesType        = reflect.TypeOf([]byte(nil))
)

var nullTypes = map[reflect.Type]WireType{
	reflect.TypeOf(sql.NullString{}):  NVarChar,
	reflect.TypeOf(sql.NullInt64{}):   BigInt,
	reflect.TypeOf(sql.NullInt32{}):   Int,
	reflect.TypeOf(sql.NullInt16{}):   SmallInt,
	reflect.TypeOf(sql.NullByte{}):    TinyInt,
	reflect.TypeOf(sql.NullBool{}):    Bit,
	reflect.TypeOf(sql.NullFloat64{}): Float,
	reflect.TypeOf(sql.NullTime{}):    DateTime,
}

// InferWireType resolves the wire type for a Go type. Unknown types map to
// Variant.
func InferWireType(t reflect.Type) WireType {
	if t == nil {
		return Null
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t {
	case timeType:
		return DateTime
	case uuidType, mssqlGUIDType:
		return UniqueIdentifier
	case civilDateType:
		return Date
	case civilDateTimeTyp:
		return DateTime2
	case bytesType:
		return VarBinary
	}
	if wt, ok := nullTypes[t]; ok {
		return wt
	}
	if inner, ok := genericNullElem(t); ok {
		return InferWireType(inner)
	}
	switch t.Kind() {
	case reflect.Int8, reflect.Int16:
		return SmallInt
	case reflect.Uint8:
		return TinyInt
	case reflect.Uint16, reflect.Int32:
		return Int
	case reflect.Uint32, reflect.Int, reflect.Int64:
		return BigInt
	case reflect.Uint, reflect.Uint64:
		return Decimal
	case reflect.Bool:
		return Bit
	case reflect.Float32:
		return Real
	case reflect.Float64:
		return Float
	case reflect.String:
		return NVarChar
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return VarBinary
		}
	case reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return Char
		}
	}
	return Variant
}

// genericNullElem returns T for database/sql's generic sql.Null[T].
func genericNullElem(t reflect.Type) (reflect.Type, bool) {
	if t.Kind() != reflect.Struct || t.PkgPath() != "database/sql" || !strings.HasPrefix(t.Name(), "Null[") {
		return nil, false
	}
	f, ok := t.FieldByName("V")
	if !ok {
		return nil, false
	}
	return f.Type, true
}
