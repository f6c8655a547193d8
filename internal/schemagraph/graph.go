// Package schemagraph introspects the business database into an immutable
// snapshot of tables, columns, primary keys and foreign keys.
package schemagraph

import (
	"sort"
	"strings"
	"time"
)

type Column struct {
	Name     string
	DataType string
}

type Table struct {
	Name       string
	Columns    []Column
	PrimaryKey []string
}

// ForeignKey is one column pair of a foreign key constraint. Composite
// constraints yield one edge per column pair.
type ForeignKey struct {
	Constraint string
	FromTable  string
	FromColumn string
	ToTable    string
	ToColumn   string
}

// Graph is a read-only snapshot. It must not be mutated after New returns.
type Graph struct {
	tables   map[string]*Table
	names    []string
	out      map[string][]ForeignKey
	in       map[string][]ForeignKey
	LoadedAt time.Time
}

// New builds a graph. Edges referencing a table absent from tables are dropped.
func New(tables []Table, edges []ForeignKey, loadedAt time.Time) *Graph {
	g := &Graph{
		tables:   make(map[string]*Table, len(tables)),
		out:      make(map[string][]ForeignKey),
		in:       make(map[string][]ForeignKey),
		LoadedAt: loadedAt,
	}
	for i := range tables {
		t := tables[i]
		g.tables[t.Name] = &t
		g.names = append(g.names, t.Name)
	}
	sort.Strings(g.names)

	for _, e := range edges {
		if !g.HasTable(e.FromTable) || !g.HasTable(e.ToTable) {
			continue
		}
		g.out[e.FromTable] = append(g.out[e.FromTable], e)
		g.in[e.ToTable] = append(g.in[e.ToTable], e)
	}
	return g
}

// Tables returns the table names in lexical order.
func (g *Graph) Tables() []string {
	out := make([]string, len(g.names))
	copy(out, g.names)
	return out
}

func (g *Graph) HasTable(name string) bool {
	_, ok := g.tables[name]
	return ok
}

// Table returns a table by exact name, falling back to a case-insensitive match.
func (g *Graph) Table(name string) (*Table, bool) {
	if t, ok := g.tables[name]; ok {
		return t, true
	}
	for _, n := range g.names {
		if strings.EqualFold(n, name) {
			return g.tables[n], true
		}
	}
	return nil, false
}

func (g *Graph) HasColumn(table, column string) bool {
	t, ok := g.Table(table)
	if !ok {
		return false
	}
	_, ok = t.Column(column)
	return ok
}

func (g *Graph) Outgoing(table string) []ForeignKey { return g.out[table] }

func (g *Graph) Incoming(table string) []ForeignKey { return g.in[table] }

// Column returns a column by exact name, falling back to a case-insensitive match.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

func (t *Table) Has(name string) bool {
	_, ok := t.Column(name)
	return ok
}

func (t *Table) ColumnNames() []string {
	out := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		out = append(out, c.Name)
	}
	return out
}

func (t *Table) TextColumns() []string {
	return t.columnsWhere(Column.IsText)
}

// NumericColumns skips identifier-like columns (id, *_id).
func (t *Table) NumericColumns() []string {
	return t.columnsWhere(func(c Column) bool {
		n := strings.ToLower(c.Name)
		return c.IsNumeric() && n != "id" && !strings.HasSuffix(n, "_id") && !strings.HasPrefix(n, "id_")
	})
}

func (t *Table) DateColumns() []string {
	return t.columnsWhere(Column.IsDate)
}

func (t *Table) columnsWhere(pred func(Column) bool) []string {
	var out []string
	for _, c := range t.Columns {
		if pred(c) {
			out = append(out, c.Name)
		}
	}
	return out
}

func (c Column) IsText() bool {
	switch strings.ToLower(c.DataType) {
	case "character varying", "text", "character", "varchar", "char", "citext":
		return true
	}
	return false
}

func (c Column) IsNumeric() bool {
	dt := strings.ToLower(c.DataType)
	for _, k := range []string{"numeric", "double", "real", "integer", "bigint", "smallint", "decimal", "money"} {
		if strings.Contains(dt, k) {
			return true
		}
	}
	return false
}

func (c Column) IsDate() bool {
	dt := strings.ToLower(c.DataType)
	return strings.Contains(dt, "date") || strings.Contains(dt, "timestamp")
}
