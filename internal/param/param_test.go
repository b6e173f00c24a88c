package param

import (
	"database/sql"
	"reflect"
	"testing"
	"time"

	"dbmap/internal/schema"
)

type widget struct {
	ID      int    `db:"Id,pk"`
	Name    string `db:",size=20,type=varchar"`
	Price   float64
	Secret  string   `db:"-"`
	Cache   string   `db:",noparam"`
	Nick    *string  `db:"nickname"`
	Labels  []string `db:",json"`
	Blob    []byte
	Created time.Time
	private int
}

func names(ps []Parameter) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Name)
	}
	return out
}

func TestFromStruct(t *testing.T) {
	t.Parallel()

	when := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	w := widget{ID: 1, Name: "bolt", Price: 2.5, Labels: []string{"x"}, Blob: []byte{1}, Created: when}

	ps, err := From(w, "price")
	if err != nil {
		t.Fatalf("From() error = %v, want nil", err)
	}
	want := []string{"ID", "Name", "Nick", "Labels", "Blob", "Created"}
	if got := names(ps); !reflect.DeepEqual(got, want) {
		t.Fatalf("From() names = %v, want %v", got, want)
	}

	byName := map[string]Parameter{}
	for _, p := range ps {
		byName[p.Name] = p
	}
	if p := byName["Name"]; p.Type != schema.VarChar || p.Size != 20 || !p.SizeExplicit || p.Value != "bolt" {
		t.Fatalf("Name parameter = %+v", p)
	}
	if p := byName["Nick"]; p.Type != schema.Null || p.Value != nil {
		t.Fatalf("nil pointer parameter = %+v, want Null", p)
	}
	if p := byName["Labels"]; !p.JSON || p.Type != schema.NVarChar {
		t.Fatalf("Labels parameter = %+v", p)
	}
	if p := byName["Blob"]; p.Type != schema.VarBinary {
		t.Fatalf("Blob parameter = %+v", p)
	}
	if p := byName["Created"]; p.Type != schema.DateTime || p.Value != when {
		t.Fatalf("Created parameter = %+v", p)
	}
	if p := byName["ID"]; p.Type != schema.BigInt || p.Value != 1 {
		t.Fatalf("ID parameter = %+v", p)
	}
}

func TestFromExcludesByColumnName(t *testing.T) {
	t.Parallel()

	nick := "n"
	ps, err := From(&widget{Nick: &nick}, "NICKNAME", "labels", "blob", "created")
	if err != nil {
		t.Fatalf("From() error = %v", err)
	}
	want := []string{"ID", "Name", "Price"}
	if got := names(ps); !reflect.DeepEqual(got, want) {
		t.Fatalf("From() names = %v, want %v", got, want)
	}
}

// Container members (slices other than []byte, maps, non-Valuer generic
// types) bind only when nullable, JSON-flagged, or when the source is
// passed by pointer.
func TestFromContainerMembers(t *testing.T) {
	t.Parallel()

	type bag struct {
		Items   []int
		Lookup  map[string]int
		MaybeIn *[]int
		Encoded []int `db:",json"`
		Opt     sql.Null[int]
		Raw     []byte
	}
	b := bag{
		Items:   []int{1},
		Lookup:  map[string]int{"a": 1},
		MaybeIn: &[]int{2},
		Encoded: []int{3},
		Opt:     sql.Null[int]{V: 4, Valid: true},
		Raw:     []byte("r"),
	}

	byValue, err := From(b)
	if err != nil {
		t.Fatalf("From(value) error = %v", err)
	}
	if got, want := names(byValue), []string{"MaybeIn", "Encoded", "Opt", "Raw"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("From(value) names = %v, want %v", got, want)
	}

	byRef, err := From(&b)
	if err != nil {
		t.Fatalf("From(pointer) error = %v", err)
	}
	if got, want := names(byRef), []string{"Items", "Lookup", "MaybeIn", "Encoded", "Opt", "Raw"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("From(pointer) names = %v, want %v", got, want)
	}
}

func TestFromMapIsSorted(t *testing.T) {
	t.Parallel()

	ps, err := From(map[string]any{"b": 2, "a": "x", "c": nil})
	if err != nil {
		t.Fatalf("From(map) error = %v", err)
	}
	if got := names(ps); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("From(map) names = %v", got)
	}
	if ps[0].Type != schema.NVarChar || ps[1].Type != schema.BigInt || ps[2].Type != schema.Null {
		t.Fatalf("From(map) types = %v %v %v", ps[0].Type, ps[1].Type, ps[2].Type)
	}
}

func TestFromKeyValues(t *testing.T) {
	t.Parallel()

	ps, err := From([]KeyValue{
		{Key: "Code", Value: "A1", Type: schema.Char},
		{Key: "Qty", Value: int32(3)},
		{Key: "Gone", Value: nil, Type: schema.Int},
	})
	if err != nil {
		t.Fatalf("From(kv) error = %v", err)
	}
	if ps[0].Type != schema.Char || ps[1].Type != schema.Int || ps[2].Type != schema.Null {
		t.Fatalf("From(kv) types = %v %v %v", ps[0].Type, ps[1].Type, ps[2].Type)
	}
}

func TestFromListMergesLaterWins(t *testing.T) {
	t.Parallel()

	type a struct {
		Name string
		Qty  int
	}
	type b struct {
		Qty   int
		Owner string
	}

	ps, err := From([]any{a{Name: "n", Qty: 1}, &b{Qty: 9, Owner: "o"}})
	if err != nil {
		t.Fatalf("From(list) error = %v", err)
	}
	if got := names(ps); !reflect.DeepEqual(got, []string{"Name", "Qty", "Owner"}) {
		t.Fatalf("From(list) names = %v", got)
	}
	if ps[1].Value != 9 {
		t.Fatalf("Qty = %v, want later value 9", ps[1].Value)
	}
}

type fixedList []Parameter

func (f fixedList) Parameters() []Parameter { return f }

func TestFromListerReused(t *testing.T) {
	t.Parallel()

	src := fixedList{{Name: "x_1", Value: 1, Type: schema.BigInt}}
	ps, err := From(src)
	if err != nil {
		t.Fatalf("From(lister) error = %v", err)
	}
	if len(ps) != 1 || &ps[0] != &src[0] {
		t.Fatalf("From(lister) did not reuse the list")
	}
}

func TestFromUnsupported(t *testing.T) {
	t.Parallel()

	if _, err := From(42); err == nil {
		t.Fatalf("From(42) error = nil, want error")
	}
	ps, err := From((*widget)(nil))
	if err != nil || ps != nil {
		t.Fatalf("From(nil pointer) = %v, %v; want nil, nil", ps, err)
	}
}
