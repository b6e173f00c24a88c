package schema

import (
	"database/sql"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"

	"dbmap/internal/sqlerr"
)

func TestAssign(t *testing.T) {
	t.Parallel()

	when := time.Date(2024, 3, 9, 10, 30, 0, 0, time.UTC)
	guid := uuid.MustParse("6f9619ff-8b86-d011-b42d-00c04fc964ff")
	// Same GUID in SQL Server wire order.
	wire := []byte{0xff, 0x19, 0x96, 0x6f, 0x86, 0x8b, 0x11, 0xd0, 0xb4, 0x2d, 0x00, 0xc0, 0x4f, 0xc9, 0x64, 0xff}

	tests := []struct {
		name string
		dst  any // pointer to the destination
		src  any
		want any
	}{
		{"int from int64", new(int), int64(7), 7},
		{"int32 from numeric text", new(int32), []byte("42"), int32(42)},
		{"int64 from decimal text", new(int64), "42.000", int64(42)},
		{"int from float", new(int), float64(9), 9},
		{"uint16 from int64", new(uint16), int64(65535), uint16(65535)},
		{"float from text", new(float64), []byte("1.25"), 1.25},
		{"float32 from int", new(float32), int64(3), float32(3)},
		{"bool from int", new(bool), int64(1), true},
		{"bool from text", new(bool), "false", false},
		{"string from bytes", new(string), []byte("hi"), "hi"},
		{"string from int", new(string), int64(12), "12"},
		{"bytes from bytes", new([]byte), []byte{1, 2}, []byte{1, 2}},
		{"time", new(time.Time), when, when},
		{"civil date", new(civil.Date), when, civil.Date{Year: 2024, Month: 3, Day: 9}},
		{"uuid from wire", new(uuid.UUID), wire, guid},
		{"uuid from text", new(uuid.UUID), guid.String(), guid},
		{"pointer", new(*int), int64(5), ptr(5)},
		{"pointer null", new(*int), nil, (*int)(nil)},
		{"int null", new(int), nil, 0},
		{"scanner", new(sql.NullString), "x", sql.NullString{String: "x", Valid: true}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dst := reflect.ValueOf(tt.dst).Elem()
			if err := Assign(dst, tt.src); err != nil {
				t.Fatalf("Assign(%T, %v) error = %v, want nil", tt.dst, tt.src, err)
			}
			if got := dst.Interface(); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Assign(%T, %v) = %#v, want %#v", tt.dst, tt.src, got, tt.want)
			}
		})
	}
}

func TestAssignNullKeepsTime(t *testing.T) {
	t.Parallel()

	when := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	got := when
	if err := Assign(reflect.ValueOf(&got).Elem(), nil); err != nil {
		t.Fatalf("Assign(nil) error = %v", err)
	}
	if !got.Equal(when) {
		t.Fatalf("time after NULL = %v, want %v", got, when)
	}
}

func TestAssignFailuresLeaveFieldUnset(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		dst  any
		src  any
	}{
		{"overflow", ptr[int8](3), int64(300)},
		{"negative uint", ptr[uint](3), int64(-1)},
		{"fraction", ptr(3), 1.5},
		{"garbage text", ptr(3), "abc"},
		{"unsupported", ptr(struct{ A int }{A: 3}), int64(1)},
	}
	for _, tt := range tests {
		dst := reflect.ValueOf(tt.dst).Elem()
		before := dst.Interface()
		if err := Assign(dst, tt.src); err == nil {
			t.Fatalf("%s: Assign() error = nil, want error", tt.name)
		}
		if !reflect.DeepEqual(dst.Interface(), before) {
			t.Fatalf("%s: field changed to %v", tt.name, dst.Interface())
		}
	}

	var s struct{ A int }
	err := Assign(reflect.ValueOf(&s).Elem(), int64(1))
	if !errors.Is(err, sqlerr.ErrUnsupportedType) {
		t.Fatalf("Assign(struct) error = %v, want ErrUnsupportedType", err)
	}
}

func TestIsEmptyKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		v    any
		want bool
	}{
		{0, true},
		{int64(4), false},
		{"", true},
		{"  ", true},
		{"k", false},
		{uuid.Nil, true},
		{uuid.New(), false},
		{(*int)(nil), true},
		{ptr(0), true},
		{ptr(1), false},
		{nil, true},
	}
	for _, tt := range tests {
		if got := IsEmptyKey(reflect.ValueOf(tt.v)); got != tt.want {
			t.Fatalf("IsEmptyKey(%#v) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func ptr[T any](v T) *T { return &v }
