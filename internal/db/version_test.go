package db

import (
	"context"
	"database/sql/driver"
	"testing"

	"dbmap/internal/db/dbtest"
)

func TestParseMajor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "16.0.1000.6", want: 16},
		{in: " 10.50.1600.1 ", want: 10},
		{in: "9", want: 9},
		{in: "", wantErr: true},
		{in: "v12.0", wantErr: true},
	}
	for _, tc := range tests {
		got, err := ParseMajor(tc.in)
		if (err != nil) != tc.wantErr {
			t.Fatalf("ParseMajor(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Fatalf("ParseMajor(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestPagingFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		major int
		want  Paging
	}{
		{major: 8, want: PagingNone},
		{major: 9, want: PagingRowNumber},
		{major: 10, want: PagingRowNumber},
		{major: 11, want: PagingOffsetFetch},
		{major: 16, want: PagingOffsetFetch},
	}
	for _, tc := range tests {
		if got := PagingFor(tc.major); got != tc.want {
			t.Fatalf("PagingFor(%d) = %s, want %s", tc.major, got, tc.want)
		}
	}
}

func TestServerVersionQueriedOnce(t *testing.T) {
	t.Parallel()

	h := func(q string, _ []driver.NamedValue) (dbtest.Result, error) {
		if q != versionQuery {
			t.Errorf("unexpected query %q", q)
		}
		return dbtest.Result{Sets: []dbtest.Set{{
			Columns: []string{""},
			Types:   []string{"NVARCHAR"},
			Rows:    [][]driver.Value{{"10.50.1600.1"}},
		}}}, nil
	}
	d, drv := openFake(t, h, Options{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		p, err := d.Paging(ctx)
		if err != nil {
			t.Fatalf("Paging() error = %v, want nil", err)
		}
		if p != PagingRowNumber {
			t.Fatalf("Paging() = %s, want row_number", p)
		}
	}
	if n := drv.Count("query"); n != 1 {
		t.Fatalf("version queries = %d, want 1", n)
	}
}

func TestServerVersionOverride(t *testing.T) {
	t.Parallel()
	d, drv := openFake(t, nil, Options{Version: 11})

	major, err := d.ServerVersion(context.Background())
	if err != nil {
		t.Fatalf("ServerVersion() error = %v, want nil", err)
	}
	if major != 11 {
		t.Fatalf("ServerVersion() = %d, want 11", major)
	}
	if n := len(drv.Statements()); n != 0 {
		t.Fatalf("statements = %d, want 0", n)
	}
}
