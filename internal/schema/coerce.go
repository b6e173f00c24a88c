package schema

import (
	"database/sql"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	mssql "github.com/microsoft/go-mssqldb"

	"dbmap/internal/sqlerr"
)

var scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()

// Assign stores the driver value src into dst, converting between the
// representations database/sql drivers return (int64, float64, bool,
// []byte, string, time.Time, nil) and the field's declared type.
//
// NULL sets dst to its zero value, except time.Time which is left untouched.
// dst is written only when the conversion succeeds.
func Assign(dst reflect.Value, src any) error {
	if !dst.CanSet() {
		return fmt.Errorf("schema: destination %s is not settable", dst.Type())
	}
	t := dst.Type()

	if src == nil {
		if t == timeType {
			return nil
		}
		dst.Set(reflect.Zero(t))
		return nil
	}

	if t.Kind() == reflect.Ptr {
		nv := reflect.New(t.Elem())
		if err := Assign(nv.Elem(), src); err != nil {
			return err
		}
		dst.Set(nv)
		return nil
	}

	switch t {
	case uuidType, mssqlGUIDType:
		g, err := toGUID(src)
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(g).Convert(t))
		return nil
	case timeType:
		tm, err := toTime(src)
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(tm))
		return nil
	case civilDateType:
		tm, err := toTime(src)
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(civil.DateOf(tm)))
		return nil
	case civilDateTimeTyp:
		tm, err := toTime(src)
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(civil.DateTimeOf(tm)))
		return nil
	}

	if reflect.PointerTo(t).Implements(scannerType) {
		nv := reflect.New(t)
		if err := nv.Interface().(sql.Scanner).Scan(src); err != nil {
			return err
		}
		dst.Set(nv.Elem())
		return nil
	}

	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := toInt64(src)
		if err != nil {
			return err
		}
		if dst.OverflowInt(n) {
			return fmt.Errorf("schema: %d overflows %s", n, t)
		}
		dst.SetInt(n)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := toInt64(src)
		if err != nil {
			return err
		}
		if n < 0 || dst.OverflowUint(uint64(n)) {
			return fmt.Errorf("schema: %d overflows %s", n, t)
		}
		dst.SetUint(uint64(n))
		return nil
	case reflect.Float32, reflect.Float64:
		f, err := toFloat64(src)
		if err != nil {
			return err
		}
		if dst.OverflowFloat(f) {
			return fmt.Errorf("schema: %g overflows %s", f, t)
		}
		dst.SetFloat(f)
		return nil
	case reflect.Bool:
		b, err := toBool(src)
		if err != nil {
			return err
		}
		dst.SetBool(b)
		return nil
	case reflect.String:
		s, err := toString(src)
		if err != nil {
			return err
		}
		dst.SetString(s)
		return nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			switch v := src.(type) {
			case []byte:
				dst.SetBytes(append([]byte(nil), v...))
				return nil
			case string:
				dst.SetBytes([]byte(v))
				return nil
			}
		}
	}

	sv := reflect.ValueOf(src)
	if sv.Type().AssignableTo(t) {
		dst.Set(sv)
		return nil
	}
	return fmt.Errorf("%w: cannot assign %T to %s", sqlerr.ErrUnsupportedType, src, t)
}

// IsEmptyKey reports whether v holds its type's "new entity" key value:
// a nil pointer, an empty string, a zero number or an all-zero GUID.
func IsEmptyKey(v reflect.Value) bool {
	for v.IsValid() && v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return true
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return true
	}
	if v.Kind() == reflect.String {
		return strings.TrimSpace(v.String()) == ""
	}
	return v.IsZero()
}

func toGUID(src any) (uuid.UUID, error) {
	switch v := src.(type) {
	case uuid.UUID:
		return v, nil
	case mssql.UniqueIdentifier:
		return uuid.UUID(v), nil
	case []byte:
		if len(v) == 16 {
			// SQL Server sends the first three groups little-endian.
			var g mssql.UniqueIdentifier
			if err := g.Scan(v); err != nil {
				return uuid.Nil, err
			}
			return uuid.UUID(g), nil
		}
		return uuid.ParseBytes(v)
	case string:
		return uuid.Parse(v)
	}
	return uuid.Nil, fmt.Errorf("%w: cannot assign %T to uniqueidentifier", sqlerr.ErrUnsupportedType, src)
}

func toTime(src any) (time.Time, error) {
	switch v := src.(type) {
	case time.Time:
		return v, nil
	case civil.Date:
		return v.In(time.UTC), nil
	case civil.DateTime:
		return v.In(time.UTC), nil
	case []byte:
		return parseTime(string(v))
	case string:
		return parseTime(v)
	}
	return time.Time{}, fmt.Errorf("%w: cannot assign %T to time", sqlerr.ErrUnsupportedType, src)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if tm, err := time.Parse(layout, s); err == nil {
			return tm, nil
		}
	}
	return time.Time{}, fmt.Errorf("schema: cannot parse %q as time", s)
}

func toInt64(src any) (int64, error) {
	switch v := src.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("schema: %d overflows int64", v)
		}
		return int64(v), nil
	case float64:
		return floatToInt(v)
	case float32:
		return floatToInt(float64(v))
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return parseInt(string(v))
	case string:
		return parseInt(v)
	}
	return 0, fmt.Errorf("%w: cannot assign %T to integer", sqlerr.ErrUnsupportedType, src)
}

// parseInt accepts integer text and integral decimal text ("42", "42.000"),
// which is how SQL Server returns numeric identities.
func parseInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("schema: cannot parse %q as integer", s)
	}
	return floatToInt(f)
}

func floatToInt(f float64) (int64, error) {
	if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("schema: %g is not an integer", f)
	}
	return int64(f), nil
}

func toFloat64(src any) (float64, error) {
	switch v := src.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	}
	n, err := toInt64(src)
	if err != nil {
		return 0, err
	}
	return float64(n), nil
}

func toBool(src any) (bool, error) {
	switch v := src.(type) {
	case bool:
		return v, nil
	case []byte:
		return strconv.ParseBool(strings.TrimSpace(string(v)))
	case string:
		return strconv.ParseBool(strings.TrimSpace(v))
	}
	n, err := toInt64(src)
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

func toString(src any) (string, error) {
	switch v := src.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	case time.Time:
		return v.Format(time.RFC3339Nano), nil
	case uuid.UUID:
		return v.String(), nil
	case mssql.UniqueIdentifier:
		return v.String(), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return "", fmt.Errorf("%w: cannot assign %T to string", sqlerr.ErrUnsupportedType, src)
}
