package schema

import (
	"fmt"
	"reflect"
	"strings"
)

// CreateTableSQL returns a T-SQL script that creates the table described by
// s if it does not already exist. It bootstraps fixtures for benchmarks and
// integration tests; it is not a migration tool.
//
// The generated script has the form:
//
//	IF OBJECT_ID(N'[schema].[table]', N'U') IS NULL
//	BEGIN
//	  CREATE TABLE [schema].[table] (
//	    [Id] bigint IDENTITY(1,1) NOT NULL,
//	    [Name] nvarchar(max),
//	    PRIMARY KEY ([Id])
//	  );
//	END;
//
// Raw (computed) columns are not stored and are skipped. A primary key that
// is neither insertable nor updatable and has an integer type is rendered as
// an IDENTITY column.
func CreateTableSQL(s *TableSchema) (string, error) {
	if s == nil || strings.TrimSpace(s.TableName) == "" {
		return "", fmt.Errorf("schema ddl: table name must not be empty")
	}

	cols := make([]string, 0, len(s.Columns)+1)
	var pk string
	for _, c := range s.Columns {
		if c.Raw != "" {
			continue
		}
		var sb strings.Builder
		sb.WriteString(QuoteIdent(c.DbName))
		sb.WriteByte(' ')
		sb.WriteString(c.Type.Decl(c.Size, c.Precision, c.Scale))

		if c.PrimaryKey && !c.Insert && !c.Update && c.Type.IsInteger() {
			sb.WriteString(" IDENTITY(1,1)")
		}
		if c.PrimaryKey || notNullable(c.goType) {
			sb.WriteString(" NOT NULL")
		}
		cols = append(cols, sb.String())

		if c == s.pk {
			pk = QuoteIdent(c.DbName)
		}
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("schema ddl: %s has no storable columns", s.TableName)
	}
	if pk != "" {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", pk))
	}

	name := s.QuotedName()
	stmt := fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL\nBEGIN\n  CREATE TABLE %s (\n    %s\n  );\nEND;",
		strings.ReplaceAll(name, "'", "''"),
		name,
		strings.Join(cols, ",\n    "),
	)
	return stmt, nil
}

// DropTableSQL returns a guarded DROP TABLE for s.
func DropTableSQL(s *TableSchema) string {
	name := s.QuotedName()
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NOT NULL DROP TABLE %s;",
		strings.ReplaceAll(name, "'", "''"), name)
}

// notNullable reports Go types that can never carry NULL.
func notNullable(t reflect.Type) bool {
	if t == nil {
		return false
	}
	switch t {
	case uuidType, mssqlGUIDType:
		return true
	}
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
