package schemagraph

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

const (
	tablesQuery = `SELECT table_name
FROM information_schema.tables
WHERE table_schema = ? AND table_type = 'BASE TABLE'
ORDER BY table_name`

	columnsQuery = `SELECT table_name, column_name, data_type
FROM information_schema.columns
WHERE table_schema = ?
ORDER BY table_name, ordinal_position`

	primaryKeysQuery = `SELECT tc.table_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name
 AND tc.table_schema = kcu.table_schema
WHERE tc.table_schema = ? AND tc.constraint_type = 'PRIMARY KEY'
ORDER BY tc.table_name, kcu.ordinal_position`

	foreignKeysQuery = `SELECT c.conname AS constraint_name,
       src.relname AS from_table, sa.attname AS from_column,
       dst.relname AS to_table, da.attname AS to_column
FROM pg_constraint c
JOIN pg_class src ON src.oid = c.conrelid
JOIN pg_namespace ns ON ns.oid = src.relnamespace
JOIN pg_class dst ON dst.oid = c.confrelid
CROSS JOIN LATERAL unnest(c.conkey, c.confkey) WITH ORDINALITY AS k(src_att, dst_att, ord)
JOIN pg_attribute sa ON sa.attrelid = c.conrelid AND sa.attnum = k.src_att
JOIN pg_attribute da ON da.attrelid = c.confrelid AND da.attnum = k.dst_att
WHERE c.contype = 'f' AND ns.nspname = ?
ORDER BY src.relname, c.conname, k.ord`
)

type columnRow struct {
	TableName  string `bun:"table_name"`
	ColumnName string `bun:"column_name"`
	DataType   string `bun:"data_type"`
}

type primaryKeyRow struct {
	TableName  string `bun:"table_name"`
	ColumnName string `bun:"column_name"`
}

type foreignKeyRow struct {
	ConstraintName string `bun:"constraint_name"`
	FromTable      string `bun:"from_table"`
	FromColumn     string `bun:"from_column"`
	ToTable        string `bun:"to_table"`
	ToColumn       string `bun:"to_column"`
}

// Source produces fresh snapshots.
type Source interface {
	Load(ctx context.Context) (*Graph, error)
}

// Loader reads the Postgres catalog of one schema namespace.
type Loader struct {
	db      bun.IDB
	schema  string
	exclude map[string]bool
	now     func() time.Time
}

func NewLoader(db bun.IDB, schema string, exclude []string) *Loader {
	ex := make(map[string]bool, len(exclude))
	for _, t := range exclude {
		ex[t] = true
	}
	return &Loader{db: db, schema: schema, exclude: ex, now: time.Now}
}

func (l *Loader) Load(ctx context.Context) (*Graph, error) {
	var names []string
	if err := l.db.NewRaw(tablesQuery, l.schema).Scan(ctx, &names); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	var cols []columnRow
	if err := l.db.NewRaw(columnsQuery, l.schema).Scan(ctx, &cols); err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}

	var pks []primaryKeyRow
	if err := l.db.NewRaw(primaryKeysQuery, l.schema).Scan(ctx, &pks); err != nil {
		return nil, fmt.Errorf("list primary keys: %w", err)
	}

	var fks []foreignKeyRow
	if err := l.db.NewRaw(foreignKeysQuery, l.schema).Scan(ctx, &fks); err != nil {
		return nil, fmt.Errorf("list foreign keys: %w", err)
	}

	return l.build(names, cols, pks, fks), nil
}

func (l *Loader) build(names []string, cols []columnRow, pks []primaryKeyRow, fks []foreignKeyRow) *Graph {
	byName := make(map[string]*Table, len(names))
	order := make([]string, 0, len(names))
	for _, n := range names {
		if l.exclude[n] {
			continue
		}
		byName[n] = &Table{Name: n}
		order = append(order, n)
	}
	for _, c := range cols {
		if t, ok := byName[c.TableName]; ok {
			t.Columns = append(t.Columns, Column{Name: c.ColumnName, DataType: c.DataType})
		}
	}
	for _, pk := range pks {
		if t, ok := byName[pk.TableName]; ok {
			t.PrimaryKey = append(t.PrimaryKey, pk.ColumnName)
		}
	}

	tables := make([]Table, 0, len(order))
	for _, n := range order {
		tables = append(tables, *byName[n])
	}

	edges := make([]ForeignKey, 0, len(fks))
	for _, fk := range fks {
		edges = append(edges, ForeignKey{
			Constraint: fk.ConstraintName,
			FromTable:  fk.FromTable,
			FromColumn: fk.FromColumn,
			ToTable:    fk.ToTable,
			ToColumn:   fk.ToColumn,
		})
	}
	return New(tables, edges, l.now())
}
