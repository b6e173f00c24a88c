package orm

import (
	"strconv"
	"strings"

	"dbmap/internal/db"
	"dbmap/internal/schema"
	"dbmap/internal/sqlbuilder"
	"dbmap/internal/sqlerr"
)

// rowIndex is the window column the legacy pagination filters on. Entities
// mapping a column of the same name cannot use it.
const (
	rowIndexName = "rowindex"
	rowIndex     = "[" + rowIndexName + "]"
)

// Order is one ORDER BY term. Column is a Go field name or a database
// column name.
type Order struct {
	Column string
	Desc   bool
}

func Asc(column string) Order  { return Order{Column: column} }
func Desc(column string) Order { return Order{Column: column, Desc: true} }

// Page selects Take rows after skipping Skip. Take 0 means "all remaining".
type Page struct {
	Skip int
	Take int
}

func (p Page) active() bool { return p.Skip > 0 || p.Take > 0 }

func (p Page) validate(op string) error {
	if p.Skip < 0 || p.Take < 0 {
		return sqlerr.Configf(op, sqlerr.ErrInvalidPage, "skip=%d take=%d", p.Skip, p.Take)
	}
	return nil
}

// Query describes a single-table SELECT.
type Query struct {
	Where *sqlbuilder.Builder
	Order []Order
	Top   int
	Page  Page
}

// SelectSQL renders q against s for the given pagination strategy.
// Pagination on a server without support is a capability error.
func SelectSQL(s *schema.TableSchema, q Query, mode db.Paging) (string, error) {
	cols := s.Selected()
	if len(cols) == 0 {
		return "", sqlerr.Configf("select", sqlerr.ErrNoColumns, "%s has no selectable columns", s.TableName)
	}
	if err := q.Page.validate("select"); err != nil {
		return "", err
	}
	if q.Top < 0 {
		return "", sqlerr.Configf("select", sqlerr.ErrInvalidPage, "top=%d", q.Top)
	}
	if q.Top > 0 && q.Page.active() {
		return "", sqlerr.Configf("select", sqlerr.ErrInvalidPage, "top and page are exclusive")
	}
	order, err := orderBy(s, q.Order)
	if err != nil {
		return "", err
	}
	proj := projection(cols)
	where := q.Where.ToSQL(true)

	var sb strings.Builder
	if !q.Page.active() {
		sb.WriteString("SELECT ")
		if q.Top > 0 {
			sb.WriteString("TOP ")
			sb.WriteString(strconv.Itoa(q.Top))
			sb.WriteByte(' ')
		}
		sb.WriteString(proj)
		sb.WriteString(" FROM ")
		sb.WriteString(s.QuotedName())
		sb.WriteString(where)
		sb.WriteString(" ORDER BY ")
		sb.WriteString(order)
		return sb.String(), nil
	}

	switch mode {
	case db.PagingOffsetFetch:
		sb.WriteString("SELECT ")
		sb.WriteString(proj)
		sb.WriteString(" FROM ")
		sb.WriteString(s.QuotedName())
		sb.WriteString(where)
		sb.WriteString(" ORDER BY ")
		sb.WriteString(order)
		sb.WriteString(offsetFetch(q.Page))
		return sb.String(), nil

	case db.PagingRowNumber:
		for _, c := range cols {
			if strings.EqualFold(c.DbName, rowIndexName) {
				return "", sqlerr.Configf("select", sqlerr.ErrInvalidPage, "column %q collides with the row index", c.DbName)
			}
		}
		sb.WriteString("SELECT ")
		if q.Page.Take > 0 {
			sb.WriteString("TOP ")
			sb.WriteString(strconv.Itoa(q.Page.Take))
			sb.WriteByte(' ')
		}
		sb.WriteString(outerProjection(cols))
		sb.WriteString(" FROM (SELECT ")
		sb.WriteString(proj)
		sb.WriteString(", ROW_NUMBER() OVER (ORDER BY ")
		sb.WriteString(order)
		sb.WriteString(") AS ")
		sb.WriteString(rowIndex)
		sb.WriteString(" FROM ")
		sb.WriteString(s.QuotedName())
		sb.WriteString(where)
		sb.WriteString(") AS [paged] WHERE ")
		sb.WriteString(rowIndex)
		sb.WriteString(" > ")
		sb.WriteString(strconv.Itoa(q.Page.Skip))
		sb.WriteString(" ORDER BY ")
		sb.WriteString(rowIndex)
		return sb.String(), nil
	}
	return "", sqlerr.Capability("select", sqlerr.ErrPaginationUnsupported)
}

// offsetFetch renders the OFFSET/FETCH suffix for p.
func offsetFetch(p Page) string {
	s := " OFFSET " + strconv.Itoa(p.Skip) + " ROWS"
	if p.Take > 0 {
		s += " FETCH NEXT " + strconv.Itoa(p.Take) + " ROWS ONLY"
	}
	return s
}

// projection lists the selected columns; raw expressions are aliased to
// their column name.
func projection(cols []*schema.Column) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		if c.Raw != "" {
			parts[i] = c.Raw + " AS " + schema.QuoteIdent(c.DbName)
		} else {
			parts[i] = schema.QuoteIdent(c.DbName)
		}
	}
	return strings.Join(parts, ", ")
}

func outerProjection(cols []*schema.Column) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = schema.QuoteIdent(c.DbName)
	}
	return strings.Join(parts, ", ")
}

// orderBy resolves order terms through the schema. No terms orders by the
// first selected column.
func orderBy(s *schema.TableSchema, terms []Order) (string, error) {
	if len(terms) == 0 {
		cols := s.Selected()
		if len(cols) == 0 {
			return "", sqlerr.Configf("order", sqlerr.ErrNoColumns, "%s has no selectable columns", s.TableName)
		}
		return orderExpr(cols[0]) + " ASC", nil
	}
	parts := make([]string, len(terms))
	for i, o := range terms {
		c := s.Column(o.Column)
		if c == nil {
			return "", sqlerr.Configf("order", sqlerr.ErrUnknownColumn, "%q on %s", o.Column, s.TableName)
		}
		dir := " ASC"
		if o.Desc {
			dir = " DESC"
		}
		parts[i] = orderExpr(c) + dir
	}
	return strings.Join(parts, ", "), nil
}

// orderExpr orders raw columns by their expression so the term is valid
// inside ROW_NUMBER() OVER (...), where select aliases are not visible.
func orderExpr(c *schema.Column) string {
	if c.Raw != "" {
		return c.Raw
	}
	return schema.QuoteIdent(c.DbName)
}

// CountSQL renders SELECT COUNT(*) with an optional filter.
func CountSQL(s *schema.TableSchema, where *sqlbuilder.Builder) string {
	return "SELECT COUNT(*) FROM " + s.QuotedName() + where.ToSQL(true)
}

// ExistsSQL renders a 1/0 existence probe with an optional filter.
func ExistsSQL(s *schema.TableSchema, where *sqlbuilder.Builder) string {
	return "SELECT CASE WHEN EXISTS (SELECT 1 FROM " + s.QuotedName() + where.ToSQL(true) + ") THEN 1 ELSE 0 END"
}

// identityQuery reads the identity generated by the preceding INSERT in the
// same batch.
const identityQuery = "SELECT SCOPE_IDENTITY()"

// InsertSQL renders the INSERT for cols followed by the identity probe.
// Values are bound from parameters named after the Go fields.
func InsertSQL(s *schema.TableSchema, cols []*schema.Column) string {
	if len(cols) == 0 {
		return "INSERT INTO " + s.QuotedName() + " DEFAULT VALUES; " + identityQuery
	}
	names := make([]string, len(cols))
	values := make([]string, len(cols))
	for i, c := range cols {
		names[i] = schema.QuoteIdent(c.DbName)
		values[i] = "@" + c.Name
	}
	return "INSERT INTO " + s.QuotedName() +
		" (" + strings.Join(names, ",") + ") VALUES(" + strings.Join(values, ",") + "); " + identityQuery
}

// UpdateSQL renders UPDATE ... SET for cols. where is the full filter,
// including its WHERE keyword.
func UpdateSQL(s *schema.TableSchema, cols []*schema.Column, where string) string {
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = schema.QuoteIdent(c.DbName) + "=@" + c.Name
	}
	return "UPDATE " + s.QuotedName() + " SET " + strings.Join(sets, ",") + where
}

// DeleteSQL renders DELETE with a full filter, including its WHERE keyword.
func DeleteSQL(s *schema.TableSchema, where string) string {
	return "DELETE FROM " + s.QuotedName() + where
}

// pkWhere filters on the primary key bound from its Go field name.
func pkWhere(pk *schema.Column) string {
	return " WHERE " + schema.QuoteIdent(pk.DbName) + "=@" + pk.Name
}
