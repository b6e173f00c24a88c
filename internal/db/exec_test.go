package db

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	mssql "github.com/microsoft/go-mssqldb"

	"dbmap/internal/db/dbtest"
	"dbmap/internal/sqlerr"
)

// openFake pins a connection to an in-memory dbtest driver that answers
// statements with h.
func openFake(t *testing.T, h dbtest.Handler, opts Options) (*Database, *dbtest.Driver) {
	t.Helper()
	drv := dbtest.New(h)
	pool := drv.DB()
	t.Cleanup(func() { _ = pool.Close() })

	if opts.Driver == "" {
		opts.Driver = DriverSQLServer
	}
	d, err := New(context.Background(), pool, opts)
	if err != nil {
		t.Fatalf("New() error = %v, want nil", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d, drv
}

func TestBindSQLServerTypes(t *testing.T) {
	t.Parallel()

	type wire struct {
		Code  string    `db:",size=5,type=varchar"`
		Long  string    `db:",size=max,type=varchar"`
		Text  string
		Empty string
		When  time.Time `db:",type=datetime"`
		Day   civil.Date
		Key   uuid.UUID
		Price float64 `db:",type=decimal,precision=10,scale=2"`
		Doc   []int   `db:",json"`
	}
	when := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	key := uuid.MustParse("6f9619ff-8b86-d011-b42d-00c04fc964ff")
	in := wire{
		Code:  "abcdefgh",
		Long:  "long",
		Text:  strings.Repeat("é", 4001),
		When:  when,
		Day:   civil.Date{Year: 2024, Month: time.March, Day: 1},
		Key:   key,
		Price: 12.3456,
		Doc:   []int{1, 2},
	}

	d, drv := openFake(t, nil, Options{})
	if _, err := d.Execute(context.Background(), "EXEC dbo.Save", in); err != nil {
		t.Fatalf("Execute() error = %v, want nil", err)
	}
	calls := drv.Statements()
	if len(calls) != 1 {
		t.Fatalf("statements = %d, want 1", len(calls))
	}
	c := calls[0]

	tests := []struct {
		name string
		want any
	}{
		{name: "Code", want: mssql.VarChar("abcde")},
		{name: "Long", want: mssql.VarCharMax("long")},
		{name: "Text", want: mssql.NVarCharMax(in.Text)},
		{name: "Empty", want: nil},
		{name: "When", want: mssql.DateTime1(when)},
		{name: "Day", want: in.Day},
		{name: "Key", want: mssql.UniqueIdentifier(key)},
		{name: "Price", want: 12.35},
		{name: "Doc", want: "[1,2]"},
	}
	for _, tc := range tests {
		got, ok := c.Arg(tc.name)
		if !ok {
			t.Fatalf("argument %s not bound", tc.name)
		}
		if fmt.Sprintf("%T %v", got, got) != fmt.Sprintf("%T %v", tc.want, tc.want) {
			t.Errorf("%s = %T(%v), want %T(%v)", tc.name, got, got, tc.want, tc.want)
		}
	}
}

func TestBindPlainTypesForOtherDrivers(t *testing.T) {
	t.Parallel()

	type wire struct {
		Code string    `db:",type=varchar"`
		Key  uuid.UUID
	}
	key := uuid.New()
	d, drv := openFake(t, nil, Options{Driver: "other"})
	if _, err := d.Execute(context.Background(), "UPDATE x", wire{Code: "a", Key: key}); err != nil {
		t.Fatalf("Execute() error = %v, want nil", err)
	}
	c := drv.Statements()[0]
	if v, _ := c.Arg("Code"); v != "a" {
		t.Fatalf("Code = %#v, want plain string", v)
	}
	if v, _ := c.Arg("Key"); v != key.String() {
		t.Fatalf("Key = %#v, want %q", v, key.String())
	}
}

func TestScalarNormalizesWireValues(t *testing.T) {
	t.Parallel()

	g := uuid.MustParse("6f9619ff-8b86-d011-b42d-00c04fc964ff")
	wireGUID, err := mssql.UniqueIdentifier(g).Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}

	tests := []struct {
		name   string
		typ    string
		value  driver.Value
		expect func(any) bool
	}{
		{
			name: "decimal keeps exact text", typ: "DECIMAL", value: []byte("12.50"),
			expect: func(v any) bool { return v == "12.50" },
		},
		{
			name: "uniqueidentifier canonical", typ: "UNIQUEIDENTIFIER", value: wireGUID,
			expect: func(v any) bool { s, _ := v.(string); return strings.EqualFold(s, g.String()) },
		},
		{
			name: "varbinary copied", typ: "VARBINARY", value: []byte{1, 2},
			expect: func(v any) bool { b, _ := v.([]byte); return bytes.Equal(b, []byte{1, 2}) },
		},
		{
			name: "null", typ: "INT", value: nil,
			expect: func(v any) bool { return v == nil },
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := func(string, []driver.NamedValue) (dbtest.Result, error) {
				return dbtest.Result{Sets: []dbtest.Set{{
					Columns: []string{"v"},
					Types:   []string{tc.typ},
					Rows:    [][]driver.Value{{tc.value}},
				}}}, nil
			}
			d, _ := openFake(t, h, Options{})
			got, err := d.Scalar(context.Background(), "SELECT v", nil)
			if err != nil {
				t.Fatalf("Scalar() error = %v, want nil", err)
			}
			if !tc.expect(got) {
				t.Fatalf("Scalar() = %#v", got)
			}
		})
	}
}

func TestRowValues(t *testing.T) {
	t.Parallel()

	when := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	h := func(string, []driver.NamedValue) (dbtest.Result, error) {
		return dbtest.Result{Sets: []dbtest.Set{{
			Columns: []string{"i", "d", "s", "b", "t", "bin", "n"},
			Types:   []string{"INT", "DECIMAL", "NVARCHAR", "BIT", "DATETIME2", "VARBINARY", "INT"},
			Rows:    [][]driver.Value{{int64(7), []byte("1.25"), "txt", true, when, []byte{0xAB}, nil}},
		}}}, nil
	}
	d, _ := openFake(t, h, Options{})

	var rows []Row
	for r, err := range d.Reader(context.Background(), "SELECT *", nil) {
		if err != nil {
			t.Fatalf("Reader() error = %v, want nil", err)
		}
		rows = append(rows, r)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	r := rows[0]

	want := []Kind{KindInt, KindFloat, KindString, KindBool, KindTime, KindBinary, KindNull}
	for i, k := range want {
		if got := r.Value(i).Kind(); got != k {
			t.Errorf("column %s kind = %s, want %s", r.Column(i), got, k)
		}
	}
	if f, ok := r.Value(1).Float(); !ok || f != 1.25 {
		t.Fatalf("decimal = %v, %v; want 1.25", f, ok)
	}
	if tm, ok := r.Value(4).Time(); !ok || !tm.Equal(when) {
		t.Fatalf("time = %v, want %v", tm, when)
	}
	m := r.Map()
	if m["i"] != int64(7) || m["n"] != nil || m["s"] != "txt" {
		t.Fatalf("Map() = %v", m)
	}
}

func TestReaderMultiple(t *testing.T) {
	t.Parallel()

	h := func(string, []driver.NamedValue) (dbtest.Result, error) {
		return dbtest.Result{Sets: []dbtest.Set{
			{Columns: []string{"Id"}, Rows: [][]driver.Value{{int64(1)}, {int64(2)}, {int64(3)}, {int64(4)}}},
			{Columns: []string{"Name"}, Rows: [][]driver.Value{{"a"}, {"b"}, {"c"}}},
			{Columns: []string{"Never"}, Rows: [][]driver.Value{{"x"}}},
		}}, nil
	}
	d, _ := openFake(t, h, Options{})

	var seen []string
	err := d.ReaderMultiple(context.Background(), "EXEC dbo.Multi", nil, func(set int, row Row) Action {
		seen = append(seen, fmt.Sprintf("%d:%s", set, row.Value(0)))
		switch row.Value(0).String() {
		case "1":
			return Skip
		case "3":
			return Break
		case "b":
			return Close
		}
		return Continue
	})
	if err != nil {
		t.Fatalf("ReaderMultiple() error = %v, want nil", err)
	}
	if got := strings.Join(seen, ","); got != "0:1,0:3,1:a,1:b" {
		t.Fatalf("seen = %s, want 0:1,0:3,1:a,1:b", got)
	}
}

func TestReaderBinaryChunks(t *testing.T) {
	t.Parallel()

	blob := bytes.Repeat([]byte("0123456789"), 2)
	tests := []struct {
		name   string
		value  driver.Value
		chunks []int
	}{
		{name: "chunked", value: blob, chunks: []int{8, 8, 4}},
		{name: "null", value: nil, chunks: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := func(string, []driver.NamedValue) (dbtest.Result, error) {
				return dbtest.Result{Sets: []dbtest.Set{{
					Columns: []string{"Data", "Other"},
					Types:   []string{"VARBINARY", "INT"},
					Rows:    [][]driver.Value{{tc.value, int64(1)}},
				}}}, nil
			}
			d, _ := openFake(t, h, Options{ChunkSize: 8})

			var sizes []int
			var buf bytes.Buffer
			err := d.ReaderBinary(context.Background(), "SELECT Data, Other FROM Files", nil, func(chunk []byte) error {
				sizes = append(sizes, len(chunk))
				buf.Write(chunk)
				return nil
			})
			if err != nil {
				t.Fatalf("ReaderBinary() error = %v, want nil", err)
			}
			if fmt.Sprint(sizes) != fmt.Sprint(tc.chunks) {
				t.Fatalf("chunk sizes = %v, want %v", sizes, tc.chunks)
			}
			if tc.value != nil && !bytes.Equal(buf.Bytes(), blob) {
				t.Fatalf("reassembled = %q, want %q", buf.Bytes(), blob)
			}
		})
	}
}

func TestReaderBinaryCallbackError(t *testing.T) {
	t.Parallel()
	h := func(string, []driver.NamedValue) (dbtest.Result, error) {
		return dbtest.Result{Sets: []dbtest.Set{{
			Columns: []string{"Data"},
			Rows:    [][]driver.Value{{[]byte("abc")}},
		}}}, nil
	}
	d, _ := openFake(t, h, Options{})
	stop := errors.New("stop")
	err := d.ReaderBinary(context.Background(), "SELECT Data", nil, func([]byte) error { return stop })
	if !errors.Is(err, stop) {
		t.Fatalf("ReaderBinary() error = %v, want %v", err, stop)
	}
}

func TestPreparedStatementFollowsTransaction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d, drv := openFake(t, nil, Options{Prepare: true})

	const q = "UPDATE T SET A = @A"
	args := map[string]any{"A": 1}
	for i := 0; i < 2; i++ {
		if _, err := d.Execute(ctx, q, args); err != nil {
			t.Fatalf("Execute() error = %v, want nil", err)
		}
	}
	if n := drv.Count("prepare"); n != 1 {
		t.Fatalf("prepares outside tx = %d, want 1", n)
	}

	if err := d.Begin(ctx, sql.LevelReadCommitted); err != nil {
		t.Fatalf("Begin() error = %v, want nil", err)
	}
	if _, err := d.Execute(ctx, q, args); err != nil {
		t.Fatalf("Execute() in tx error = %v, want nil", err)
	}
	if n := drv.Count("prepare"); n != 2 {
		t.Fatalf("prepares after Begin = %d, want 2 (re-prepared on the tx)", n)
	}
	if err := d.Commit(); err != nil {
		t.Fatalf("Commit() error = %v, want nil", err)
	}
	if _, err := d.Execute(ctx, q, args); err != nil {
		t.Fatalf("Execute() after commit error = %v, want nil", err)
	}
	if n := drv.Count("prepare"); n != 3 {
		t.Fatalf("prepares after Commit = %d, want 3", n)
	}
	for _, c := range drv.Statements() {
		if !c.Prepared {
			t.Fatalf("statement %q bypassed the prepared statement", c.Query)
		}
	}
	if st := d.Stats(); st.Cold != 1 || st.Hot != 3 || st.Prepared != 3 {
		t.Fatalf("Stats() = %+v, want {Hot:3 Cold:1 Prepared:3}", st)
	}
}

func TestCommitFailureCarriesSQL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d, drv := openFake(t, nil, Options{})
	boom := errors.New("commit refused")
	drv.FailCommit(boom)

	if err := d.Begin(ctx, sql.LevelDefault); err != nil {
		t.Fatalf("Begin() error = %v, want nil", err)
	}
	if _, err := d.Execute(ctx, "DELETE FROM T", nil); err != nil {
		t.Fatalf("Execute() error = %v, want nil", err)
	}
	err := d.Commit()
	if !errors.Is(err, boom) {
		t.Fatalf("Commit() error = %v, want %v", err, boom)
	}
	if got := sqlerr.SQLOf(err); got != "DELETE FROM T" {
		t.Fatalf("SQLOf() = %q, want DELETE FROM T", got)
	}
	if d.InTransaction() {
		t.Fatalf("InTransaction() = true after failed Commit")
	}
}

func TestCloseRollsBackOpenTransaction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	drv := dbtest.New(nil)
	pool := drv.DB()
	defer pool.Close()

	d, err := New(ctx, pool, Options{})
	if err != nil {
		t.Fatalf("New() error = %v, want nil", err)
	}
	if err := d.Begin(ctx, sql.LevelDefault); err != nil {
		t.Fatalf("Begin() error = %v, want nil", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v, want nil", err)
	}
	if n := drv.Count("rollback"); n != 1 {
		t.Fatalf("rollbacks = %d, want 1", n)
	}
	if err := pool.PingContext(ctx); err != nil {
		t.Fatalf("borrowed pool closed by Close(): %v", err)
	}
}
