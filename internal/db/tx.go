package db

import (
	"context"
	"database/sql"
	"errors"

	"dbmap/internal/sqlerr"
)

// Begin starts a transaction on the pinned connection. An already open
// transaction is rolled back first. Statements run inside the transaction
// until Commit or Rollback.
func (d *Database) Begin(ctx context.Context, level sql.IsolationLevel) error {
	if d.conn == nil {
		return sqlerr.Exec("begin", "", sql.ErrConnDone)
	}
	if d.tx != nil {
		if err := d.endTx(d.tx.Rollback, true); err != nil {
			return sqlerr.Exec("begin", d.cmd.text, err)
		}
	}
	tx, err := d.conn.BeginTx(ctx, &sql.TxOptions{Isolation: level})
	if err != nil {
		return sqlerr.Exec("begin", d.cmd.text, err)
	}
	d.tx = tx
	d.log.DebugContext(ctx, "db: begin", "isolation", level.String())
	return nil
}

// Commit commits the open transaction.
func (d *Database) Commit() error {
	if d.tx == nil {
		return sqlerr.Exec("commit", d.cmd.text, sqlerr.ErrNoTransaction)
	}
	if err := d.endTx(d.tx.Commit, false); err != nil {
		return sqlerr.Exec("commit", d.cmd.text, err)
	}
	d.log.Debug("db: commit")
	return nil
}

// Rollback rolls the open transaction back.
func (d *Database) Rollback() error {
	if d.tx == nil {
		return sqlerr.Exec("rollback", d.cmd.text, sqlerr.ErrNoTransaction)
	}
	if err := d.endTx(d.tx.Rollback, true); err != nil {
		return sqlerr.Exec("rollback", d.cmd.text, err)
	}
	d.log.Debug("db: rollback")
	return nil
}

// InTransaction reports whether a transaction is open.
func (d *Database) InTransaction() bool { return d.tx != nil }

// endTx finishes the transaction with end and forgets it either way. A
// statement prepared on the transaction dies with it. With rollback set, a
// transaction the driver already ended is not an error.
func (d *Database) endTx(end func() error, rollback bool) error {
	err := end()
	if d.cmd.owner != nil && d.cmd.owner == d.tx {
		_ = d.cmd.stmt.Close()
		d.cmd.stmt = nil
		d.cmd.owner = nil
	}
	d.tx = nil
	if rollback && errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}
