// Package sqlerr classifies failures raised by the data-access layer.
//
// Every error produced by dbmap carries a Kind so callers can tell a
// programming mistake (a missing primary key, an empty column list) from a
// server that cannot run the requested syntax or a statement that failed on
// the wire. Execution errors always carry the SQL text that was running.
//
// Sentinels are plain errors wrapped as the Cause of an *Error, so both
// errors.Is(err, sqlerr.ErrNoPrimaryKey) and sqlerr.IsKind(err,
// sqlerr.KindConfig) work on the same value.
package sqlerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the category of a failure.
type Kind string

const (
	// KindConfig marks mapping/configuration mistakes detected before any
	// statement is sent.
	KindConfig Kind = "config"
	// KindCapability marks requests the connected server version cannot run.
	KindCapability Kind = "capability"
	// KindExecution marks failures reported by the driver or the server.
	KindExecution Kind = "execution"
	// KindMapping marks type coercion failures between Go values and columns.
	KindMapping Kind = "mapping"
)

var (
	ErrNoPrimaryKey          = errors.New("entity has no primary key column")
	ErrNoColumns             = errors.New("no columns to write")
	ErrUnknownColumn         = errors.New("unknown column")
	ErrPaginationUnsupported = errors.New("pagination unsupported by server version")
	ErrNoTransaction         = errors.New("no active transaction")
	ErrReaderConsumed        = errors.New("reader already consumed")
	ErrNotStruct             = errors.New("type is not a struct")
	ErrUnsupportedType       = errors.New("unsupported type")
	ErrInvalidPage           = errors.New("invalid page")
)

// Error is the structured error type returned across dbmap.
type Error struct {
	Kind  Kind
	Op    string // operation, e.g. "insert", "scalar", "commit"
	SQL   string // statement text, set for execution errors
	Cause error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	if e.SQL != "" {
		b.WriteString(" [sql: ")
		b.WriteString(e.SQL)
		b.WriteString("]")
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Config returns a configuration error for op.
func Config(op string, cause error) *Error {
	return &Error{Kind: KindConfig, Op: op, Cause: cause}
}

// Configf returns a configuration error whose cause wraps sentinel with a
// formatted detail, e.g. Configf("order", ErrUnknownColumn, "%q", name).
func Configf(op string, sentinel error, format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Op: op, Cause: fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))}
}

// Capability returns a capability error for op.
func Capability(op string, cause error) *Error {
	return &Error{Kind: KindCapability, Op: op, Cause: cause}
}

// Exec wraps a driver failure with the statement text that produced it.
// A nil cause returns nil so call sites can wrap unconditionally.
func Exec(op, sqlText string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: KindExecution, Op: op, SQL: sqlText, Cause: cause}
}

// Mapping returns a mapping error for op.
func Mapping(op string, cause error) *Error {
	return &Error{Kind: KindMapping, Op: op, Cause: cause}
}

// IsKind reports whether err (or anything it wraps) is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// SQLOf returns the statement text attached to err, if any.
func SQLOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.SQL
	}
	return ""
}
