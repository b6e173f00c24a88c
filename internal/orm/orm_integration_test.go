//go:build integration

package orm

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"dbmap/internal/db"
	"dbmap/internal/schema"
	"dbmap/internal/sqlbuilder"
)

// getTestDSN reads MSSQL_TEST_DSN and skips the test when it is empty.
func getTestDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("MSSQL_TEST_DSN")
	if dsn == "" {
		t.Skip("MSSQL_TEST_DSN not set; skipping SQL Server integration tests")
	}
	return dsn
}

type probeRow struct {
	ID      int64     `db:"id,pk"`
	Name    string    `db:"name,size=50,type=varchar"`
	Active  bool      `db:"active"`
	Created time.Time `db:"created"`
}

func (probeRow) Table() schema.Table { return schema.Table{Name: "dbmap_orm_probe"} }

func openLive(t *testing.T, ctx context.Context, version int) *db.Database {
	t.Helper()
	d, err := db.Open(ctx, getTestDSN(t), db.Options{Version: version})
	if err != nil {
		t.Fatalf("db.Open() error = %v, want nil", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestTableRoundTripIntegration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	d := openLive(t, ctx, 0)
	s, err := schema.For[probeRow](d.Cache())
	if err != nil {
		t.Fatalf("schema.For() error = %v", err)
	}
	if _, err := d.Execute(ctx, schema.DropTableSQL(s), nil); err != nil {
		t.Fatalf("drop error = %v", err)
	}
	create, err := schema.CreateTableSQL(s)
	if err != nil {
		t.Fatalf("CreateTableSQL() error = %v", err)
	}
	if _, err := d.Execute(ctx, create, nil); err != nil {
		t.Fatalf("create error = %v", err)
	}
	t.Cleanup(func() {
		_, _ = d.Execute(context.Background(), schema.DropTableSQL(s), nil)
	})

	tbl, err := NewTable[probeRow](d)
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}

	for i := range 30 {
		r := &probeRow{Name: fmt.Sprintf("n%02d", (i*7)%31), Active: i%3 != 0, Created: time.Now()}
		if _, err := tbl.Insert(ctx, r); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
		if r.ID == 0 {
			t.Fatalf("Insert() left ID unset")
		}
		if i == 0 {
			got, err := tbl.FindByPK(ctx, r.ID)
			if err != nil {
				t.Fatalf("FindByPK() error = %v", err)
			}
			if got.Name != r.Name || got.Active != r.Active {
				t.Fatalf("FindByPK() = %+v, want %+v", *got, *r)
			}
		}
	}

	active := sqlbuilder.New().AppendParameter("active", "=", true)
	modern, err := tbl.FindAll(ctx, active, Page{Skip: 10, Take: 5}, Asc("name"))
	if err != nil {
		t.Fatalf("FindAll(offset) error = %v", err)
	}

	legacy := openLive(t, ctx, 10)
	ltbl, err := NewTable[probeRow](legacy)
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	old, err := ltbl.FindAll(ctx, sqlbuilder.New().AppendParameter("active", "=", true), Page{Skip: 10, Take: 5}, Asc("name"))
	if err != nil {
		t.Fatalf("FindAll(row_number) error = %v", err)
	}
	if len(modern) != 5 || len(old) != 5 {
		t.Fatalf("FindAll() rows = %d and %d, want 5", len(modern), len(old))
	}
	for i := range modern {
		if modern[i].ID != old[i].ID {
			t.Fatalf("row %d: offset ID %d, row_number ID %d", i, modern[i].ID, old[i].ID)
		}
	}
}
