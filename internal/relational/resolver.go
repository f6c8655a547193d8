// Package relational answers "attribute of entity" questions from the entity
// row itself or by following a foreign key to the row holding the attribute.
package relational

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"pams-ai/internal/models"
	"pams-ai/internal/schemagraph"
	"pams-ai/internal/sqlexec"
	"pams-ai/internal/textnorm"
)

const Mode = "analytics:rel"

// GraphSource is satisfied by *schemagraph.Cache.
type GraphSource interface {
	Get(ctx context.Context, force bool) (*schemagraph.Graph, error)
}

// Result is a resolved answer. Hit is false when the entity or the value was
// not found; Text is then the data refusal.
type Result struct {
	Text string
	Hit  bool
	Used map[string]any
}

type Resolver struct {
	graphs  GraphSource
	exec    sqlexec.Executor
	maxHops int
}

func NewResolver(graphs GraphSource, exec sqlexec.Executor, maxHops int) *Resolver {
	if maxHops <= 0 {
		maxHops = schemagraph.DefaultMaxDepth
	}
	return &Resolver{graphs: graphs, exec: exec, maxHops: maxHops}
}

// Resolve returns nil, nil when it cannot handle the question: unknown
// table, no name, or neither a foreign key nor a column for the attribute.
// When several rows match the name the highest id wins.
func (r *Resolver) Resolve(ctx context.Context, entityTable, attribute, entityName string) (*Result, error) {
	g, err := r.graphs.Get(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	t, ok := g.Table(strings.ToLower(strings.TrimSpace(entityTable)))
	if !ok || strings.TrimSpace(entityName) == "" || len(t.PrimaryKey) == 0 {
		return nil, nil
	}
	attr := normalize(attribute)

	id, found, err := r.findRow(ctx, g, t, entityName)
	if err != nil {
		return nil, err
	}
	used := map[string]any{"mode": Mode, "entity_table": t.Name, "attr": attr}
	if !found {
		used["hit"] = false
		return &Result{Text: models.RefusalData, Used: used}, nil
	}

	q := sqlexec.New(g).SQL("SELECT ")
	target := t.Name
	path := attributePath(g, t.Name, attr, r.maxHops)
	if path != nil {
		target = path[len(path)-1].ToTable
		used["to_table"] = target
		used["hops"] = len(path)
		q.Label(stepAlias(len(path)), target, g.DisplayColumns(target))
	} else {
		col := attributeColumn(t, attr)
		if col == "" {
			return nil, nil
		}
		used["column"] = col
		q.Col("e", t.Name, col)
	}
	q.SQL(" AS ").Alias("value").SQL(" FROM ").TableAs(t.Name, "e")
	for i, step := range path {
		q.SQL(" JOIN ").TableAs(step.ToTable, stepAlias(i+1)).
			SQL(" ON ").Col(stepAlias(i+1), step.ToTable, step.ToColumn).
			SQL(" = ").Col(stepAlias(i), step.FromTable, step.FromColumn)
	}
	q.SQL(" WHERE ").Col("e", t.Name, t.PrimaryKey[0]).SQL(" = ").Bind(id).SQL(" LIMIT 1")

	rows, err := r.exec.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		used["hit"] = false
		return &Result{Text: models.RefusalData, Used: used}, nil
	}
	val, ok := sqlexec.Text(rows[0]["value"])
	if !ok || strings.TrimSpace(val) == "" {
		used["hit"] = false
		return &Result{Text: models.RefusalData, Used: used}, nil
	}
	used["hit"] = true
	zerolog.Ctx(ctx).Debug().Str("table", t.Name).Str("attr", attr).Str("to", target).Msg("relation resolved")
	return &Result{Text: strings.TrimSpace(val), Hit: true, Used: used}, nil
}

func (r *Resolver) findRow(ctx context.Context, g *schemagraph.Graph, t *schemagraph.Table, name string) (any, bool, error) {
	nameCol, ok := g.NameColumn(t.Name)
	if !ok {
		return nil, false, nil
	}
	pk := t.PrimaryKey[0]
	q := sqlexec.New(g).SQL("SELECT ").Col("e", t.Name, pk).SQL(" AS ").Alias("id").
		SQL(" FROM ").TableAs(t.Name, "e").
		SQL(" WHERE ").Col("e", t.Name, nameCol).SQL(" ILIKE ").Bind(sqlexec.LikePattern(strings.TrimSpace(name))).
		SQL(" ORDER BY ").Col("e", t.Name, pk).SQL(" DESC LIMIT 1")
	rows, err := r.exec.Query(ctx, q)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 || rows[0]["id"] == nil {
		return nil, false, nil
	}
	return rows[0]["id"], true, nil
}

// attributePath finds the join path answering attr from table: a foreign
// key named <attr>_id, else one whose column contains attr, else a path to a
// table named attr.
func attributePath(g *schemagraph.Graph, table, attr string, maxHops int) []schemagraph.JoinStep {
	if attr == "" {
		return nil
	}
	edges := g.Outgoing(table)
	for _, e := range edges {
		if strings.EqualFold(e.FromColumn, attr+"_id") {
			return []schemagraph.JoinStep{stepOf(e)}
		}
	}
	for _, e := range edges {
		if strings.Contains(strings.ToLower(e.FromColumn), attr) {
			return []schemagraph.JoinStep{stepOf(e)}
		}
	}
	if target, ok := g.Table(attr); ok && target.Name != table {
		if path, ok := g.FindJoinPath(table, target.Name, maxHops); ok && len(path) > 0 {
			return path
		}
	}
	return nil
}

// attributeColumn returns the column of t named attr, else the first one
// containing it. Keys are never answered directly.
func attributeColumn(t *schemagraph.Table, attr string) string {
	if attr == "" {
		return ""
	}
	isKey := func(name string) bool {
		n := strings.ToLower(name)
		return n == "id" || strings.HasSuffix(n, "_id") || (len(t.PrimaryKey) > 0 && strings.EqualFold(name, t.PrimaryKey[0]))
	}
	if c, ok := t.Column(attr); ok && !isKey(c.Name) {
		return c.Name
	}
	for _, c := range t.Columns {
		if !isKey(c.Name) && strings.Contains(strings.ToLower(c.Name), attr) {
			return c.Name
		}
	}
	return ""
}

func stepOf(e schemagraph.ForeignKey) schemagraph.JoinStep {
	return schemagraph.JoinStep{FromTable: e.FromTable, FromColumn: e.FromColumn, ToTable: e.ToTable, ToColumn: e.ToColumn}
}

func stepAlias(i int) string {
	if i == 0 {
		return "e"
	}
	return fmt.Sprintf("t%d", i)
}

func normalize(attr string) string {
	a := textnorm.Fold(attr)
	return strings.NewReplacer(" ", "_", "-", "_").Replace(a)
}
