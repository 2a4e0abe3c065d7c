// Package query builds parameterized INSERT and UPDATE statements from a set
// of normalized fields. Column names come from a schema descriptor, never
// from the source file; values always travel as bind arguments.
package query

import (
	"errors"
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"

	"crmloader/internal/normalize"
)

// ErrEmptyStatement is returned when no usable field remains to build a
// statement from. Callers must treat it as fatal: it signals a broken column
// mapping, not a bad row.
var ErrEmptyStatement = errors.New("empty statement: no usable fields")

// Fields maps column name to its normalized value.
type Fields map[string]normalize.Value

// Statement is a ready-to-execute parameterized statement.
type Statement struct {
	SQL  string
	Args []any
}

func (s Statement) String() string { return fmt.Sprintf("%s %v", s.SQL, s.Args) }

// Builder renders statements in one placeholder dialect.
type Builder struct {
	sb sq.StatementBuilderType
}

// NewBuilder returns a Builder for the given placeholder format (sq.Question,
// sq.Dollar, sq.AtP or sq.Colon).
func NewBuilder(ph sq.PlaceholderFormat) Builder {
	if ph == nil {
		ph = sq.Question
	}
	return Builder{sb: sq.StatementBuilder.PlaceholderFormat(ph)}
}

// Insert includes only non-null fields; idColumn is never inserted.
func (b Builder) Insert(table string, fields Fields, idColumn string) (Statement, error) {
	cols := sortedColumns(fields, idColumn, true)
	if len(cols) == 0 {
		return Statement{}, fmt.Errorf("insert into %s: %w", table, ErrEmptyStatement)
	}
	vals := make([]any, len(cols))
	for i, c := range cols {
		vals[i] = fields[c]
	}
	sqlStr, args, err := b.sb.Insert(table).Columns(cols...).Values(vals...).ToSql()
	if err != nil {
		return Statement{}, fmt.Errorf("insert into %s: %w", table, err)
	}
	return Statement{SQL: sqlStr, Args: args}, nil
}

// Update sets every supplied field except idColumn, stamps updatedAtColumn
// with now when it is non-empty, and targets the row whose idColumn equals id.
// Null fields are written as NULL; callers that want to keep existing values
// drop them beforehand.
func (b Builder) Update(table string, fields Fields, idColumn string, id any, updatedAtColumn string, now time.Time) (Statement, error) {
	cols := sortedColumns(fields, idColumn, false)
	if len(cols) == 0 {
		return Statement{}, fmt.Errorf("update %s: %w", table, ErrEmptyStatement)
	}
	ub := b.sb.Update(table)
	for _, c := range cols {
		if c == updatedAtColumn {
			continue
		}
		ub = ub.Set(c, fields[c])
	}
	if updatedAtColumn != "" {
		ub = ub.Set(updatedAtColumn, normalize.Timestamp(now))
	}
	sqlStr, args, err := ub.Where(sq.Eq{idColumn: id}).ToSql()
	if err != nil {
		return Statement{}, fmt.Errorf("update %s: %w", table, err)
	}
	return Statement{SQL: sqlStr, Args: args}, nil
}

// BuildInsert renders an INSERT with '?' placeholders.
func BuildInsert(table string, fields Fields, idColumn string) (Statement, error) {
	return NewBuilder(sq.Question).Insert(table, fields, idColumn)
}

// BuildUpdate renders an UPDATE with '?' placeholders.
func BuildUpdate(table string, fields Fields, idColumn string, id any, updatedAtColumn string, now time.Time) (Statement, error) {
	return NewBuilder(sq.Question).Update(table, fields, idColumn, id, updatedAtColumn, now)
}

func sortedColumns(fields Fields, idColumn string, skipNull bool) []string {
	cols := make([]string, 0, len(fields))
	for c, v := range fields {
		if c == idColumn || (skipNull && v.IsNull()) {
			continue
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}
