package db

import (
	"database/sql/driver"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	mssql "github.com/microsoft/go-mssqldb"

	"dbmap/internal/param"
	"dbmap/internal/schema"
)

const (
	maxVarChar  = 8000
	maxNVarChar = 4000
)

// bindValue converts a parameter into the value handed to the driver.
func (d *Database) bindValue(p param.Parameter) (any, error) {
	v := p.Value
	if p.JSON && v != nil {
		s, err := d.opts.Codec.Marshal(v)
		if err != nil {
			return nil, err
		}
		v = s
	}
	v, err := resolveValuer(v)
	if err != nil {
		return nil, fmt.Errorf("parameter %s: %w", p.Name, err)
	}
	if v == nil {
		return nil, nil
	}

	wt := p.Type
	if wt == schema.Unspecified || wt == schema.Null {
		wt = schema.InferWireType(reflect.TypeOf(v))
	}

	switch {
	case wt.IsString():
		return d.bindString(p, wt, v)
	case wt == schema.DateTime || wt == schema.DateTime2:
		return d.bindTime(wt, v)
	case wt == schema.Date:
		return d.bindDate(v)
	case wt == schema.UniqueIdentifier:
		return d.bindGUID(v)
	case wt == schema.Decimal:
		return bindDecimal(p, v)
	}
	return bindNative(v), nil
}

// resolveValuer calls driver.Valuer on values that are not handled
// natively below. Nil pointers become nil.
func resolveValuer(v any) (any, error) {
	switch v.(type) {
	case nil, uuid.UUID, mssql.UniqueIdentifier, civil.Date, civil.DateTime, time.Time,
		mssql.VarChar, mssql.VarCharMax, mssql.NVarCharMax, mssql.DateTime1:
		return v, nil
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, nil
		}
	}
	if vr, ok := v.(driver.Valuer); ok {
		return vr.Value()
	}
	return v, nil
}

func (d *Database) bindString(p param.Parameter, wt schema.WireType, v any) (any, error) {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case []byte:
		s = string(x)
	case mssql.VarChar, mssql.VarCharMax, mssql.NVarCharMax:
		return x, nil
	default:
		rv := reflect.ValueOf(v)
		switch {
		case rv.Kind() == reflect.String:
			s = rv.String()
		case rv.Kind() == reflect.Array && rv.Type().Elem().Kind() == reflect.Uint8:
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			s = string(b)
		default:
			s = fmt.Sprint(v)
		}
	}

	if p.SizeExplicit && p.Size > 0 && utf8.RuneCountInString(s) > p.Size {
		s = string([]rune(s)[:p.Size])
	}
	if s == "" {
		return nil, nil
	}
	if !d.mssql() {
		return s, nil
	}
	switch wt {
	case schema.VarChar, schema.Char:
		if p.Size == schema.MaxSize || len(s) > maxVarChar {
			return mssql.VarCharMax(s), nil
		}
		return mssql.VarChar(s), nil
	default:
		if p.Size == schema.MaxSize || utf8.RuneCountInString(s) > maxNVarChar {
			return mssql.NVarCharMax(s), nil
		}
		return s, nil
	}
}

func (d *Database) bindTime(wt schema.WireType, v any) (any, error) {
	var t time.Time
	switch x := v.(type) {
	case time.Time:
		t = x
	case mssql.DateTime1:
		return x, nil
	case civil.DateTime:
		t = x.In(time.UTC)
	case civil.Date:
		t = x.In(time.UTC)
	default:
		return nil, fmt.Errorf("cannot bind %T as %s", v, wt)
	}
	// The zero time is outside the datetime range; it means "no value".
	if t.IsZero() {
		return nil, nil
	}
	if d.mssql() && wt == schema.DateTime {
		return mssql.DateTime1(t), nil
	}
	return t, nil
}

func (d *Database) bindDate(v any) (any, error) {
	var cd civil.Date
	switch x := v.(type) {
	case civil.Date:
		cd = x
	case time.Time:
		if x.IsZero() {
			return nil, nil
		}
		cd = civil.DateOf(x)
	case civil.DateTime:
		cd = x.Date
	default:
		return nil, fmt.Errorf("cannot bind %T as date", v)
	}
	if d.mssql() {
		return cd, nil
	}
	return cd.In(time.UTC), nil
}

func (d *Database) bindGUID(v any) (any, error) {
	var g uuid.UUID
	switch x := v.(type) {
	case uuid.UUID:
		g = x
	case mssql.UniqueIdentifier:
		g = uuid.UUID(x)
	case string:
		parsed, err := uuid.Parse(x)
		if err != nil {
			return nil, err
		}
		g = parsed
	case []byte:
		parsed, err := uuid.FromBytes(x)
		if err != nil {
			return nil, err
		}
		g = parsed
	default:
		return nil, fmt.Errorf("cannot bind %T as uniqueidentifier", v)
	}
	if d.mssql() {
		return mssql.UniqueIdentifier(g), nil
	}
	return g.String(), nil
}

// bindDecimal rounds floats to the declared scale and renders unsigned
// values that do not fit int64 as decimal text. database/sql cannot carry
// a declared precision, so it is not sent.
func bindDecimal(p param.Parameter, v any) (any, error) {
	switch x := v.(type) {
	case float64:
		return roundScale(x, p.Scale), nil
	case float32:
		return roundScale(float64(x), p.Scale), nil
	case uint64:
		if x > math.MaxInt64 {
			return strconv.FormatUint(x, 10), nil
		}
		return int64(x), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return strconv.FormatUint(uint64(x), 10), nil
		}
		return int64(x), nil
	case string:
		if _, err := strconv.ParseFloat(x, 64); err != nil {
			return nil, fmt.Errorf("cannot bind %q as decimal", x)
		}
		return x, nil
	}
	return bindNative(v), nil
}

func roundScale(f float64, scale int) float64 {
	if scale <= 0 {
		return math.Round(f)
	}
	pow := math.Pow10(scale)
	return math.Round(f*pow) / pow
}

// bindNative normalizes named basic types to their underlying kind so any
// driver accepts them.
func bindNative(v any) any {
	switch v.(type) {
	case int64, float64, bool, []byte, string, time.Time:
		return v
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return strconv.FormatUint(u, 10)
		}
		return int64(u)
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return rv.String()
	}
	return v
}
