package jsoncodec

import (
	"reflect"
	"testing"
)

func TestGoJSONRoundTrip(t *testing.T) {
	t.Parallel()

	type prefs struct {
		Theme string   `json:"theme"`
		Tags  []string `json:"tags"`
	}
	in := prefs{Theme: "dark", Tags: []string{"a", "b"}}

	s, err := Default.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() error = %v, want nil", err)
	}
	if s != `{"theme":"dark","tags":["a","b"]}` {
		t.Fatalf("Marshal() = %s", s)
	}

	var out prefs
	if err := Default.Unmarshal(s, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v, want nil", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("Unmarshal() = %+v, want %+v", out, in)
	}
}

func TestGoJSONUnmarshalError(t *testing.T) {
	t.Parallel()

	var v map[string]int
	if err := Default.Unmarshal("{not json", &v); err == nil {
		t.Fatalf("Unmarshal(bad) error = nil, want error")
	}
}
