package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"dbmap/internal/db"
	"dbmap/internal/orm"
	"dbmap/internal/schema"
	"dbmap/internal/sqlbuilder"
)

// benchRow is the entity the bench and sql commands work with. Its table
// name is registered at runtime from configuration.
type benchRow struct {
	ID      int64     `db:"id,pk"`
	Name    string    `db:"name,size=64,type=varchar"`
	Active  bool      `db:"active"`
	Score   float64   `db:"score,type=decimal,precision=10,scale=2"`
	Tags    []string  `db:"tags,json,size=max"`
	Created time.Time `db:"created"`
	Label   string    `dbraw:"name + ':' + CAST(id AS varchar(20))"`
}

func benchSchema(cache *schema.Cache, table string) (*schema.TableSchema, error) {
	schema.RegisterTable[benchRow](cache, schema.Table{Name: table})
	return schema.For[benchRow](cache)
}

func newBenchRow(i, rows int) *benchRow {
	return &benchRow{
		Name:    fmt.Sprintf("row-%06d", (i*7919)%rows),
		Active:  i%3 != 0,
		Score:   float64(i%1000) / 7,
		Tags:    []string{"bench", fmt.Sprintf("w%d", i%4)},
		Created: time.Now().UTC(),
	}
}

func (a *app) benchCommand() *cli.Command {
	flags := append(commonFlags(),
		&cli.IntFlag{Name: "rows", Usage: "rows to insert (env DBMAP_BENCH_ROWS)"},
		&cli.IntFlag{Name: "workers", Usage: "concurrent writers (env DBMAP_BENCH_WORKERS)"},
		&cli.StringFlag{Name: "table", Usage: "bench table name (env DBMAP_BENCH_TABLE)"},
		&cli.BoolFlag{Name: "keep", Usage: "keep the bench table afterwards (env DBMAP_BENCH_KEEP)"},
	)
	return &cli.Command{
		Name:  "bench",
		Usage: "insert rows concurrently and compare both paging strategies",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := a.setup(cmd, true); err != nil {
				return err
			}
			if cmd.IsSet("rows") {
				a.cfg.Bench.Rows = int(cmd.Int("rows"))
			}
			if cmd.IsSet("workers") {
				a.cfg.Bench.Workers = int(cmd.Int("workers"))
			}
			if cmd.IsSet("table") {
				a.cfg.Bench.Table = cmd.String("table")
			}
			if cmd.IsSet("keep") {
				a.cfg.Bench.Keep = cmd.Bool("keep")
			}
			if a.cfg.Bench.Rows <= 0 || a.cfg.Bench.Workers <= 0 {
				return fmt.Errorf("bench: rows and workers must be positive")
			}

			flush := setupMetrics(a.cfg.Metrics, a.log)
			defer flush()
			return a.bench(ctx)
		},
	}
}

func (a *app) bench(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	cache := schema.NewCache()
	s, err := benchSchema(cache, a.cfg.Bench.Table)
	if err != nil {
		return err
	}
	opts := a.options()
	opts.Cache = cache

	d, err := db.Open(ctx, a.cfg.DSN, opts)
	if err != nil {
		return err
	}
	defer d.Close()

	if _, err := d.Execute(ctx, schema.DropTableSQL(s), nil); err != nil {
		return fmt.Errorf("bench: drop: %w", err)
	}
	ddl, err := schema.CreateTableSQL(s)
	if err != nil {
		return err
	}
	if _, err := d.Execute(ctx, ddl, nil); err != nil {
		return fmt.Errorf("bench: create: %w", err)
	}
	if !a.cfg.Bench.Keep {
		defer func() {
			if _, err := d.Execute(context.WithoutCancel(ctx), schema.DropTableSQL(s), nil); err != nil {
				a.log.Warn("bench: drop failed", "table", s.TableName, "err", err)
			}
		}()
	}
	a.log.Info("bench: table ready", "table", s.TableName)

	start := time.Now()
	if err := a.insertAll(ctx, opts); err != nil {
		return err
	}
	took := time.Since(start)

	tbl, err := orm.NewTable[benchRow](d)
	if err != nil {
		return err
	}
	n, err := tbl.Count(ctx, nil)
	if err != nil {
		return err
	}
	if n != int64(a.cfg.Bench.Rows) {
		return fmt.Errorf("bench: count = %d, want %d", n, a.cfg.Bench.Rows)
	}
	fmt.Fprintf(a.out, "bench: inserted=%d workers=%d took=%s rate=%.0f/s\n",
		n, a.cfg.Bench.Workers, took.Truncate(time.Millisecond), float64(n)/took.Seconds())

	return a.comparePaging(ctx, d, opts)
}

// insertAll spreads the rows over the workers. Each worker owns one
// Database and inserts its share inside a single transaction, so every
// insert after the first reuses the bound command.
func (a *app) insertAll(ctx context.Context, opts db.Options) error {
	rows, workers := a.cfg.Bench.Rows, a.cfg.Bench.Workers
	g, ctx := errgroup.WithContext(ctx)
	for w := range workers {
		g.Go(func() error {
			d, err := db.Open(ctx, a.cfg.DSN, opts)
			if err != nil {
				return err
			}
			defer d.Close()

			tbl, err := orm.NewTable[benchRow](d)
			if err != nil {
				return err
			}
			if err := d.Begin(ctx, sql.LevelReadCommitted); err != nil {
				return err
			}
			for i := w; i < rows; i += workers {
				if _, err := tbl.Insert(ctx, newBenchRow(i, rows)); err != nil {
					_ = d.Rollback()
					return fmt.Errorf("bench: worker %d row %d: %w", w, i, err)
				}
			}
			if err := d.Commit(); err != nil {
				return err
			}
			st := d.Stats()
			a.log.Debug("bench: worker done", "worker", w, "hot", st.Hot, "cold", st.Cold, "prepared", st.Prepared)
			return nil
		})
	}
	return g.Wait()
}

// comparePaging reads the active rows page by page with OFFSET/FETCH and
// with ROW_NUMBER and fails on the first difference. Servers without
// OFFSET/FETCH only run the ROW_NUMBER pass.
func (a *app) comparePaging(ctx context.Context, d *db.Database, opts db.Options) error {
	mode, err := d.Paging(ctx)
	if err != nil {
		return err
	}
	if mode == db.PagingNone {
		fmt.Fprintln(a.out, "paging: server supports neither strategy; skipped")
		return nil
	}

	legacyOpts := opts
	legacyOpts.Version = 10
	legacy, err := db.Open(ctx, a.cfg.DSN, legacyOpts)
	if err != nil {
		return err
	}
	defer legacy.Close()

	modernTbl, err := orm.NewTable[benchRow](d)
	if err != nil {
		return err
	}
	legacyTbl, err := orm.NewTable[benchRow](legacy)
	if err != nil {
		return err
	}

	order := []orm.Order{orm.Asc("name"), orm.Asc("id")}
	const take = 50
	pages := 0
	for skip := 0; ; skip += take {
		page := orm.Page{Skip: skip, Take: take}
		old, err := legacyTbl.FindAll(ctx, activeOnly(), page, order...)
		if err != nil {
			return err
		}
		if mode == db.PagingOffsetFetch {
			cur, err := modernTbl.FindAll(ctx, activeOnly(), page, order...)
			if err != nil {
				return err
			}
			if err := samePage(skip, cur, old); err != nil {
				return err
			}
		}
		if len(old) == 0 {
			break
		}
		pages++
	}

	if mode != db.PagingOffsetFetch {
		fmt.Fprintf(a.out, "paging: server uses %s; checked %d row_number pages only\n", mode, pages)
		return nil
	}
	fmt.Fprintf(a.out, "paging: %d pages identical under offset_fetch and row_number\n", pages)
	return nil
}

func activeOnly() *sqlbuilder.Builder {
	return sqlbuilder.New().AppendParameter("active", "=", true)
}

func samePage(skip int, a, b []*benchRow) error {
	if len(a) != len(b) {
		return fmt.Errorf("paging: skip=%d offset_fetch returned %d rows, row_number %d", skip, len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return fmt.Errorf("paging: skip=%d row %d: offset_fetch id=%d, row_number id=%d", skip, i, a[i].ID, b[i].ID)
		}
	}
	return nil
}
