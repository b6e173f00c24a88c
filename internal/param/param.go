// Package param turns plain Go values into normalized bind parameters.
//
// Struct members are inspected on every call; nothing is cached, since the
// values differ per call while the per-type mapping lives in the schema
// cache.
package param

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"dbmap/internal/schema"
	"dbmap/internal/sqlerr"
)

// Parameter is one bind value with its declared wire shape.
type Parameter struct {
	Name         string
	Value        any
	Type         schema.WireType
	Size         int
	Scale        int
	Precision    int
	JSON         bool
	SizeExplicit bool
}

// KeyValue is an explicitly typed input pair. A zero Type is inferred from
// the value.
type KeyValue struct {
	Key   string
	Value any
	Type  schema.WireType
}

// Lister is implemented by sources that already hold a parameter list,
// such as *sqlbuilder.Builder. Their list is used as is.
type Lister interface {
	Parameters() []Parameter
}

var valuerType = reflect.TypeOf((*driver.Valuer)(nil)).Elem()

// Infer builds a parameter for value, resolving the wire type from its Go
// type. Nil values resolve to schema.Null.
func Infer(name string, value any) Parameter {
	value = deref(value)
	if value == nil {
		return Parameter{Name: name, Type: schema.Null}
	}
	return Parameter{Name: name, Value: value, Type: schema.InferWireType(reflect.TypeOf(value))}
}

// From converts src into an ordered parameter list. Accepted sources are
// nil, []Parameter, Lister, map[string]any (sorted by key), []KeyValue,
// structs and pointers to structs, and slices of structs (merged, later
// duplicates replace earlier ones). Names in excluded are skipped, compared
// case-insensitively against field and column names.
func From(src any, excluded ...string) ([]Parameter, error) {
	switch s := src.(type) {
	case nil:
		return nil, nil
	case []Parameter:
		return s, nil
	case Lister:
		return s.Parameters(), nil
	case map[string]any:
		keys := make([]string, 0, len(s))
		for k := range s {
			if !isExcluded(excluded, k) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		out := make([]Parameter, 0, len(keys))
		for _, k := range keys {
			out = append(out, Infer(k, s[k]))
		}
		return out, nil
	case []KeyValue:
		out := make([]Parameter, 0, len(s))
		for _, kv := range s {
			if isExcluded(excluded, kv.Key) {
				continue
			}
			p := Infer(kv.Key, kv.Value)
			if kv.Type != schema.Unspecified && p.Type != schema.Null {
				p.Type = kv.Type
			}
			out = append(out, p)
		}
		return out, nil
	}

	v := reflect.ValueOf(src)
	byRef := false
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, nil
		}
		byRef = true
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Struct:
		var out []Parameter
		if err := appendStruct(&out, v, byRef, excluded); err != nil {
			return nil, err
		}
		return out, nil
	case reflect.Slice, reflect.Array:
		return fromList(v, excluded)
	}
	return nil, sqlerr.Mapping("params", fmt.Errorf("%w: parameter source %T", sqlerr.ErrUnsupportedType, src))
}

// fromList merges the parameters of every struct element. Elements passed
// by pointer count as reference sources.
func fromList(v reflect.Value, excluded []string) ([]Parameter, error) {
	var out []Parameter
	index := make(map[string]int)
	for i := 0; i < v.Len(); i++ {
		ev := v.Index(i)
		byRef := false
		for ev.Kind() == reflect.Ptr || ev.Kind() == reflect.Interface {
			if ev.IsNil() {
				break
			}
			if ev.Kind() == reflect.Ptr {
				byRef = true
			}
			ev = ev.Elem()
		}
		if ev.Kind() != reflect.Struct {
			return nil, sqlerr.Mapping("params", fmt.Errorf("%w: list element %s", sqlerr.ErrUnsupportedType, ev.Type()))
		}
		var ps []Parameter
		if err := appendStruct(&ps, ev, byRef, excluded); err != nil {
			return nil, err
		}
		for _, p := range ps {
			key := strings.ToLower(p.Name)
			if at, ok := index[key]; ok {
				out[at] = p
				continue
			}
			index[key] = len(out)
			out = append(out, p)
		}
	}
	return out, nil
}

func appendStruct(out *[]Parameter, v reflect.Value, byRef bool, excluded []string) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tg, err := schema.ParseTag(sf)
		if err != nil {
			return sqlerr.Mapping("params", err)
		}
		if tg.Omit || tg.NoParam {
			continue
		}
		fv := v.Field(i)

		if sf.Anonymous && tg.Name == "" {
			inner := fv
			if inner.Kind() == reflect.Ptr {
				if inner.IsNil() {
					continue
				}
				inner = inner.Elem()
			}
			if inner.Kind() == reflect.Struct && !isValueLike(inner.Type()) {
				if err := appendStruct(out, inner, byRef, excluded); err != nil {
					return err
				}
				continue
			}
		}

		if isExcluded(excluded, sf.Name) || (tg.Name != "" && isExcluded(excluded, tg.Name)) {
			continue
		}
		if isContainer(sf.Type) && !(nullable(sf.Type) || tg.JSON || byRef) {
			continue
		}
		*out = append(*out, fieldParameter(sf, tg, fv))
	}
	return nil
}

func fieldParameter(sf reflect.StructField, tg schema.Tag, fv reflect.Value) Parameter {
	p := Parameter{
		Name:         sf.Name,
		Size:         tg.Size,
		Scale:        tg.Scale,
		Precision:    tg.Precision,
		JSON:         tg.JSON,
		SizeExplicit: tg.SizeExplicit,
	}
	value := deref(fv.Interface())
	switch {
	case value == nil:
		p.Type = schema.Null
		return p
	case tg.Type != schema.Unspecified:
		p.Type = tg.Type
	case tg.JSON:
		p.Type = schema.NVarChar
	default:
		p.Type = schema.InferWireType(sf.Type)
	}
	p.Value = value
	return p
}

// isContainer reports collection-like member types: slices other than
// []byte, maps, and generic instantiations that are not driver.Valuers.
func isContainer(t reflect.Type) bool {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Slice:
		return t.Elem().Kind() != reflect.Uint8
	case reflect.Map:
		return true
	}
	return strings.Contains(t.Name(), "[") && !t.Implements(valuerType) && !reflect.PointerTo(t).Implements(valuerType)
}

// nullable reports pointer members and driver.Valuers.
func nullable(t reflect.Type) bool {
	return t.Kind() == reflect.Ptr || t.Implements(valuerType)
}

func isValueLike(t reflect.Type) bool {
	return schema.InferWireType(t) != schema.Variant || t.Implements(valuerType) || reflect.PointerTo(t).Implements(valuerType)
}

// deref unwraps pointers and reports typed nils (nil pointers, maps, slices
// and interfaces) as nil.
func deref(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for {
		switch rv.Kind() {
		case reflect.Ptr, reflect.Interface:
			if rv.IsNil() {
				return nil
			}
			rv = rv.Elem()
			continue
		case reflect.Map, reflect.Slice:
			if rv.IsNil() {
				return nil
			}
		}
		return rv.Interface()
	}
}

func isExcluded(excluded []string, name string) bool {
	for _, e := range excluded {
		if strings.EqualFold(e, name) {
			return true
		}
	}
	return false
}
