package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"dbmap/internal/db"
)

func (a *app) probeCommand() *cli.Command {
	return &cli.Command{
		Name:  "probe",
		Usage: "connect and report the server version and paging strategy",
		Flags: commonFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := a.setup(cmd, true); err != nil {
				return err
			}
			return a.probe(ctx)
		},
	}
}

func (a *app) probe(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	d, err := db.Open(ctx, a.cfg.DSN, a.options())
	if err != nil {
		return err
	}
	defer d.Close()

	major, err := d.ServerVersion(ctx)
	if err != nil {
		return err
	}
	mode, err := d.Paging(ctx)
	if err != nil {
		return err
	}
	a.log.Debug("probe: connected", "driver", a.cfg.Driver, "version", major)

	fmt.Fprintf(a.out, "server: major=%d paging=%s\n", major, mode)
	if mode == db.PagingNone {
		fmt.Fprintln(a.out, "server: paged queries are unsupported")
	}
	return nil
}
