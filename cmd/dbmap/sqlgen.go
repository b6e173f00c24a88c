package main

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"dbmap/internal/db"
	"dbmap/internal/orm"
	"dbmap/internal/schema"
	"dbmap/internal/sqlbuilder"
)

func (a *app) sqlCommand() *cli.Command {
	flags := append(commonFlags(),
		&cli.IntFlag{Name: "skip", Usage: "rows to skip in the paged SELECT"},
		&cli.IntFlag{Name: "take", Value: 10, Usage: "rows to take in the paged SELECT"},
		&cli.BoolFlag{Name: "active", Usage: "filter the SELECT on active rows"},
		&cli.StringFlag{Name: "table", Usage: "table name for the sample entity (env DBMAP_BENCH_TABLE)"},
	)
	return &cli.Command{
		Name:  "sql",
		Usage: "print the statements generated for the bench entity without connecting",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := a.setup(cmd, false); err != nil {
				return err
			}
			if cmd.IsSet("table") {
				a.cfg.Bench.Table = cmd.String("table")
			}
			page := orm.Page{Skip: int(cmd.Int("skip")), Take: int(cmd.Int("take"))}
			return printSQL(a.out, a.cfg.Bench.Table, page, cmd.Bool("active"))
		},
	}
}

// printSQL writes the DDL, INSERT, COUNT and both paged SELECT forms for
// benchRow stored in table.
func printSQL(w io.Writer, table string, page orm.Page, active bool) error {
	s, err := benchSchema(schema.NewCache(), table)
	if err != nil {
		return err
	}

	ddl, err := schema.CreateTableSQL(s)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "-- create\n%s\n", ddl)

	var insert []*schema.Column
	for _, c := range s.Columns {
		if c.Insert && c.Raw == "" && !c.NoParam {
			insert = append(insert, c)
		}
	}
	fmt.Fprintf(w, "-- insert\n%s\n", orm.InsertSQL(s, insert))

	var where *sqlbuilder.Builder
	if active {
		where = sqlbuilder.New().AppendParameter("active", "=", true)
	}
	fmt.Fprintf(w, "-- count\n%s\n", orm.CountSQL(s, where))

	q := orm.Query{Where: where, Page: page, Order: []orm.Order{orm.Asc("name"), orm.Asc("id")}}
	for _, mode := range []db.Paging{db.PagingOffsetFetch, db.PagingRowNumber} {
		sel, err := orm.SelectSQL(s, q, mode)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "-- select %s\n%s\n", mode, sel)
	}
	return nil
}
