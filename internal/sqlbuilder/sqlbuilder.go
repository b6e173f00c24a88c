// Package sqlbuilder accumulates filter expressions and their bind
// parameters for composing WHERE clauses.
//
// Parameterized appends are safe for any input. Append writes the value as
// an escaped literal and must only be used with trusted values.
package sqlbuilder

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"dbmap/internal/param"
	"dbmap/internal/schema"
)

// DefaultLikeFormat wraps the value in wildcards on both sides.
const DefaultLikeFormat = "%{}%"

// Builder is a mutable SQL fragment plus its parameters. Generated
// parameter names are unique within one Builder.
type Builder struct {
	text   strings.Builder
	params []param.Parameter
	count  int
}

// New returns an empty Builder.
func New() *Builder {
	return &Builder{params: make([]param.Parameter, 0, 4)}
}

// AppendOperator writes " op " when the fragment is non-empty, so a filter
// never starts with a dangling operator.
func (b *Builder) AppendOperator(op string) *Builder {
	if b.text.Len() > 0 {
		b.text.WriteByte(' ')
		b.text.WriteString(strings.TrimSpace(op))
		b.text.WriteByte(' ')
	}
	return b
}

func (b *Builder) And() *Builder { return b.AppendOperator("AND") }

func (b *Builder) Or() *Builder { return b.AppendOperator("OR") }

// Append writes `column op literal`. prefix, when given, qualifies the
// column (e.g. a table alias) and is written as is.
func (b *Builder) Append(column, op string, value any, prefix ...string) *Builder {
	b.text.WriteString(qualify(column, prefix))
	lit := Literal(value)
	if lit == "NULL" {
		switch strings.TrimSpace(op) {
		case "=":
			op = "IS"
		case "<>", "!=":
			op = "IS NOT"
		}
	}
	b.text.WriteByte(' ')
	b.text.WriteString(strings.TrimSpace(op))
	b.text.WriteByte(' ')
	b.text.WriteString(lit)
	return b
}

// AppendParameter writes `[column] op @column_N` and binds value to the
// generated name.
func (b *Builder) AppendParameter(column, op string, value any, prefix ...string) *Builder {
	name := b.nextName(column)
	b.text.WriteString(qualify(column, prefix))
	b.text.WriteByte(' ')
	b.text.WriteString(strings.TrimSpace(op))
	b.text.WriteString(" @")
	b.text.WriteString(name)
	b.params = append(b.params, param.Infer(name, value))
	return b
}

// AppendLike writes a parameterized LIKE. Spaces in value become % and the
// result replaces {} in format; an empty format means DefaultLikeFormat.
func (b *Builder) AppendLike(column, value, prefix, format string) *Builder {
	if format == "" {
		format = DefaultLikeFormat
	}
	pattern := strings.Replace(format, "{}", strings.ReplaceAll(value, " ", "%"), 1)
	var pre []string
	if prefix != "" {
		pre = []string{prefix}
	}
	return b.AppendParameter(column, "LIKE", pattern, pre...)
}

// AppendRaw writes sql verbatim and adds params as given.
func (b *Builder) AppendRaw(sql string, params ...param.Parameter) *Builder {
	b.text.WriteString(sql)
	b.params = append(b.params, params...)
	return b
}

// AppendBuilder merges other into b as a parenthesized group. Parameters of
// other whose names are already used in b are renamed in the merged text.
// other is not modified.
func (b *Builder) AppendBuilder(other *Builder) *Builder {
	if other == nil || other.IsEmpty() {
		return b
	}
	taken := make(map[string]bool, len(b.params))
	for _, p := range b.params {
		taken[strings.ToLower(p.Name)] = true
	}

	if other.count > b.count {
		b.count = other.count
	}

	text := other.text.String()
	for _, p := range other.params {
		if taken[strings.ToLower(p.Name)] {
			renamed := p.Name
			for taken[strings.ToLower(renamed)] {
				renamed = b.nextName(trimCounter(p.Name))
			}
			text = renameParam(text, p.Name, renamed)
			p.Name = renamed
		}
		taken[strings.ToLower(p.Name)] = true
		b.params = append(b.params, p)
	}

	b.text.WriteByte('(')
	b.text.WriteString(text)
	b.text.WriteByte(')')
	return b
}

// ToSQL renders the fragment. With appendWhere it is prefixed by " WHERE ";
// an empty builder always renders "".
func (b *Builder) ToSQL(appendWhere bool) string {
	if b == nil || b.text.Len() == 0 {
		return ""
	}
	if appendWhere {
		return " WHERE " + b.text.String()
	}
	return b.text.String()
}

func (b *Builder) String() string { return b.ToSQL(false) }

// Parameters implements param.Lister.
func (b *Builder) Parameters() []param.Parameter {
	if b == nil {
		return nil
	}
	return b.params
}

func (b *Builder) HasParameters() bool { return b != nil && len(b.params) > 0 }

func (b *Builder) IsEmpty() bool { return b == nil || b.text.Len() == 0 }

func (b *Builder) nextName(column string) string {
	b.count++
	return sanitize(column) + "_" + strconv.Itoa(b.count)
}

// trimCounter strips a generated "_N" suffix.
func trimCounter(name string) string {
	i := strings.LastIndexByte(name, '_')
	if i <= 0 {
		return name
	}
	if _, err := strconv.Atoi(name[i+1:]); err != nil {
		return name
	}
	return name[:i]
}

func qualify(column string, prefix []string) string {
	col := schema.QuoteIdent(column)
	if len(prefix) > 0 && prefix[0] != "" {
		return prefix[0] + "." + col
	}
	return col
}

// sanitize keeps identifier characters so generated names are valid
// placeholders.
func sanitize(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if isIdentRune(r) {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	if sb.Len() == 0 {
		return "p"
	}
	return sb.String()
}

func isIdentRune(r rune) bool {
	return r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'
}

// renameParam replaces @from with @to where it is a whole placeholder,
// outside of quoted literals.
func renameParam(text, from, to string) string {
	var sb strings.Builder
	inQuote := false
	for i := 0; i < len(text); {
		c := text[i]
		if c == '\'' {
			inQuote = !inQuote
			sb.WriteByte(c)
			i++
			continue
		}
		if !inQuote && c == '@' && (i == 0 || text[i-1] != '@') {
			end := i + 1 + len(from)
			if end <= len(text) && strings.EqualFold(text[i+1:end], from) &&
				(end == len(text) || !isIdentRune(rune(text[end]))) {
				sb.WriteByte('@')
				sb.WriteString(to)
				i = end
				continue
			}
		}
		sb.WriteByte(c)
		i++
	}
	return sb.String()
}

// Literal renders v as a T-SQL literal.
func Literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "N'" + strings.ReplaceAll(x, "'", "''") + "'"
	case bool:
		if x {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(x)
	case int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", x)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return "'" + x.Format("2006-01-02T15:04:05.000") + "'"
	case uuid.UUID:
		return "'" + x.String() + "'"
	case []byte:
		return "0x" + strings.ToUpper(hex.EncodeToString(x))
	case fmt.Stringer:
		return Literal(x.String())
	}
	return Literal(fmt.Sprint(v))
}
