// Package sqlexec is the only place SQL text is assembled from schema-derived
// names. Identifiers must exist in the current schema graph and are quoted;
// values are always bound as $n parameters.
package sqlexec

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/schema"

	"pams-ai/internal/schemagraph"
)

var (
	ErrUnknownTable  = errors.New("unknown table")
	ErrUnknownColumn = errors.New("unknown column")
)

var formatter = schema.NewFormatter(pgdialect.New())

// Query accumulates one statement. The first invalid identifier poisons it.
type Query struct {
	graph *schemagraph.Graph
	buf   []byte
	args  []any
	err   error
}

func New(g *schemagraph.Graph) *Query {
	return &Query{graph: g}
}

// SQL appends a constant fragment. It must never carry user input.
func (q *Query) SQL(fragment string) *Query {
	q.buf = append(q.buf, fragment...)
	return q
}

// Table appends the quoted name of a table known to the graph.
func (q *Query) Table(name string) *Query {
	if t := q.table(name); t != nil {
		q.ident(t.Name)
	}
	return q
}

// TableAs appends `"table" AS "alias"`.
func (q *Query) TableAs(name, alias string) *Query {
	if t := q.table(name); t != nil {
		q.ident(t.Name)
		q.buf = append(q.buf, " AS "...)
		q.ident(alias)
	}
	return q
}

// Col appends a quoted column of table, qualified by alias when alias is set.
func (q *Query) Col(alias, table, column string) *Query {
	c, ok := q.column(table, column)
	if !ok {
		return q
	}
	if alias != "" {
		q.ident(alias)
		q.buf = append(q.buf, '.')
	}
	q.ident(c)
	return q
}

// Label appends the display expression of columns. Two columns are rendered
// as a trimmed "first second" concatenation.
func (q *Query) Label(alias, table string, columns []string) *Query {
	switch len(columns) {
	case 0:
		q.fail(fmt.Errorf("%w: no display column for %q", ErrUnknownColumn, table))
	case 1:
		q.Col(alias, table, columns[0])
	default:
		q.SQL("TRIM(COALESCE(").Col(alias, table, columns[0]).
			SQL(", '') || ' ' || COALESCE(").Col(alias, table, columns[1]).
			SQL(", ''))")
	}
	return q
}

// Alias appends a quoted result column alias.
func (q *Query) Alias(name string) *Query {
	q.ident(name)
	return q
}

// Bind appends a $n placeholder for v.
func (q *Query) Bind(v any) *Query {
	q.args = append(q.args, v)
	q.buf = append(q.buf, '$')
	q.buf = strconv.AppendInt(q.buf, int64(len(q.args)), 10)
	return q
}

func (q *Query) Err() error { return q.err }

// Build returns the statement text and its bound values.
func (q *Query) Build() (string, []any, error) {
	if q.err != nil {
		return "", nil, q.err
	}
	text := string(q.buf)
	if err := CheckReadOnly(text); err != nil {
		return "", nil, err
	}
	return text, q.args, nil
}

// String returns the statement text, valid or not. Meant for logs and tests.
func (q *Query) String() string { return string(q.buf) }

func (q *Query) Args() []any { return q.args }

func (q *Query) table(name string) *schemagraph.Table {
	if q.err != nil {
		return nil
	}
	if q.graph == nil {
		q.fail(fmt.Errorf("%w: %q (no schema)", ErrUnknownTable, name))
		return nil
	}
	t, ok := q.graph.Table(name)
	if !ok {
		q.fail(fmt.Errorf("%w: %q", ErrUnknownTable, name))
		return nil
	}
	return t
}

func (q *Query) column(table, column string) (string, bool) {
	t := q.table(table)
	if t == nil {
		return "", false
	}
	c, ok := t.Column(column)
	if !ok {
		q.fail(fmt.Errorf("%w: %q.%q", ErrUnknownColumn, table, column))
		return "", false
	}
	return c.Name, true
}

func (q *Query) ident(name string) {
	b, err := bun.Ident(name).AppendQuery(formatter, q.buf)
	if err != nil {
		q.fail(err)
		return
	}
	q.buf = b
}

func (q *Query) fail(err error) {
	if q.err == nil {
		q.err = err
	}
}
