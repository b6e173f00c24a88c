package db

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"dbmap/internal/sqlerr"
)

// Paging is the pagination strategy a server supports.
type Paging int

const (
	// PagingNone: the server cannot paginate.
	PagingNone Paging = iota
	// PagingRowNumber: ROW_NUMBER() OVER (...) filtering, SQL Server 2005+.
	PagingRowNumber
	// PagingOffsetFetch: ORDER BY ... OFFSET ... FETCH NEXT, SQL Server 2012+.
	PagingOffsetFetch
)

func (p Paging) String() string {
	switch p {
	case PagingRowNumber:
		return "row_number"
	case PagingOffsetFetch:
		return "offset_fetch"
	}
	return "none"
}

// PagingFor maps a server major version to its pagination strategy.
func PagingFor(major int) Paging {
	switch {
	case major >= 11:
		return PagingOffsetFetch
	case major >= 9:
		return PagingRowNumber
	}
	return PagingNone
}

const versionQuery = "SELECT CAST(SERVERPROPERTY('ProductVersion') AS nvarchar(128))"

// ServerVersion returns the server's major version. Options.Version wins
// when set; otherwise the server is asked once and the answer is cached.
func (d *Database) ServerVersion(ctx context.Context) (int, error) {
	if d.version > 0 {
		return d.version, nil
	}
	v, err := d.Scalar(ctx, versionQuery, nil)
	if err != nil {
		return 0, err
	}
	s, _ := v.(string)
	major, err := ParseMajor(s)
	if err != nil {
		return 0, sqlerr.Exec("version", versionQuery, err)
	}
	d.version = major
	d.log.DebugContext(ctx, "db: server version", "product_version", s, "major", major)
	return major, nil
}

// Paging returns the pagination strategy of the connected server.
func (d *Database) Paging(ctx context.Context) (Paging, error) {
	major, err := d.ServerVersion(ctx)
	if err != nil {
		return PagingNone, err
	}
	return PagingFor(major), nil
}

// ParseMajor extracts the major number of a product version like
// "16.0.1000.6".
func ParseMajor(v string) (int, error) {
	head, _, _ := strings.Cut(strings.TrimSpace(v), ".")
	n, err := strconv.Atoi(head)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("unrecognized product version %q", v)
	}
	return n, nil
}
