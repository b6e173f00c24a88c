package schema

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Tag is the parsed form of a field's `db` and `dbraw` struct tags.
//
//	db:"-"                               excluded from persistence
//	db:"user_name,size=50,type=varchar"  column override with wire options
//	db:",pk"                             primary key, name from the field
//	db:",noparam"                        persisted but never bound as a parameter
//	dbraw:"FirstName + ' ' + LastName"   raw SELECT expression
type Tag struct {
	Name    string
	Omit    bool
	PK      bool
	JSON    bool
	NoParam bool
	Raw     string

	Type         WireType
	Size         int
	SizeExplicit bool
	Precision    int
	Scale        int

	// Tri-state insert/update/select overrides: nil means "default".
	Insert *bool
	Update *bool
	Select *bool
}

// ParseTag reads the db/dbraw tags of sf.
func ParseTag(sf reflect.StructField) (Tag, error) {
	var tg Tag
	tg.Raw = strings.TrimSpace(sf.Tag.Get("dbraw"))

	raw, ok := sf.Tag.Lookup("db")
	if !ok || raw == "" {
		return tg, nil
	}
	if raw == "-" {
		tg.Omit = true
		return tg, nil
	}

	parts := strings.Split(raw, ",")
	tg.Name = strings.TrimSpace(parts[0])
	for _, opt := range parts[1:] {
		opt = strings.TrimSpace(opt)
		if opt == "" {
			continue
		}
		key, val, hasVal := strings.Cut(opt, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.TrimSpace(val)

		switch {
		case key == "pk" && !hasVal:
			tg.PK = true
		case key == "json" && !hasVal:
			tg.JSON = true
		case key == "noparam" && !hasVal:
			tg.NoParam = true
		case key == "insert" && !hasVal:
			tg.Insert = boolPtr(true)
		case key == "noinsert" && !hasVal:
			tg.Insert = boolPtr(false)
		case key == "update" && !hasVal:
			tg.Update = boolPtr(true)
		case key == "noupdate" && !hasVal:
			tg.Update = boolPtr(false)
		case key == "select" && !hasVal:
			tg.Select = boolPtr(true)
		case key == "noselect" && !hasVal:
			tg.Select = boolPtr(false)
		case key == "type" && hasVal:
			wt, ok := ParseWireType(val)
			if !ok {
				return tg, fmt.Errorf("field %s: unknown wire type %q", sf.Name, val)
			}
			tg.Type = wt
		case key == "size" && hasVal:
			if strings.EqualFold(val, "max") {
				tg.Size = MaxSize
			} else {
				n, err := strconv.Atoi(val)
				if err != nil || n <= 0 {
					return tg, fmt.Errorf("field %s: invalid size %q", sf.Name, val)
				}
				tg.Size = n
			}
			tg.SizeExplicit = true
		case key == "precision" && hasVal:
			n, err := strconv.Atoi(val)
			if err != nil || n <= 0 || n > 38 {
				return tg, fmt.Errorf("field %s: invalid precision %q", sf.Name, val)
			}
			tg.Precision = n
		case key == "scale" && hasVal:
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 || n > 38 {
				return tg, fmt.Errorf("field %s: invalid scale %q", sf.Name, val)
			}
			tg.Scale = n
		default:
			return tg, fmt.Errorf("field %s: unknown db tag option %q", sf.Name, opt)
		}
	}
	return tg, nil
}

func boolPtr(b bool) *bool { return &b }

func pick(override *bool, def bool) bool {
	if override != nil {
		return *override
	}
	return def
}
