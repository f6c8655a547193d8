package analytics

import (
	"context"
	"fmt"
	"strings"

	"pams-ai/internal/plan"
	"pams-ai/internal/schemagraph"
	"pams-ai/internal/sqlexec"
)

const (
	listLimit    = 1000
	listLimitAll = 5000
)

var (
	patList   = words(`liste`, `tous`, `toutes`)
	patAll    = words(`tout`, `tous`, `toutes`)
	patTotal  = words(`total`, `somme`, `montant\s+total`, `global`)
	patCount  = words(`nombre`, `combien`)
	patSplit  = words(`repartition`, `distribution`)
	patByYear = words(`par\s+(?:annee|an)`, `annee`)
	patState  = words(`par\s+(?:etat|statut|status)`, `statut`, `etat`, `avancement`)
	patProjet = words(`projets?`, `projects?`)
	patFonds  = words(`fonds?`)
	patEach   = words(`chaque`, `par`)
	patAmount = words(`montant`)
)

// Columns never summed by the total pattern.
var stopAttr = map[string]bool{"nom": true, "denomination": true, "alias": true, "id": true}

func (e *Engine) patterns(ctx context.Context, g *schemagraph.Graph, q question) (*Result, error) {
	_, hasAgg := plan.DetectAgg(q.raw)
	switch {
	case q.has(patAmount) && q.has(patFonds) && q.has(patEach):
		return e.fundAmounts(ctx, g, q)
	case q.has(patSplit) && q.has(patProjet):
		return e.projectSplit(ctx, g, q)
	case q.has(patSplit) && q.has(patFonds) && q.has(patState):
		return e.fundStates(ctx, g)
	case q.has(patList) && !hasAgg:
		return e.list(ctx, g, q)
	case q.has(patCount):
		return e.count(ctx, g, q)
	case q.has(patTotal):
		return e.sum(ctx, g, q)
	}
	return nil, nil
}

// fundAmounts lists the amount of every fund, restricted to the funds
// launched in the year of the question when one is given.
func (e *Engine) fundAmounts(ctx context.Context, g *schemagraph.Graph, q question) (*Result, error) {
	t, ok := g.Table(fundTable)
	if !ok {
		return nil, nil
	}
	year := plan.Year(q.raw)
	used := map[string]any{"mode": "sql:list_amounts", "table": t.Name, "year": yearValue(year)}
	amount, ok := amountColumn(t)
	label := g.DisplayColumns(t.Name)
	if !ok || len(label) == 0 {
		return notFound(used), nil
	}
	used["col"] = amount
	dateCol, hasDate := g.YearColumn(t.Name)
	if year != 0 && !hasDate {
		return notFound(used), nil
	}

	stmt := sqlexec.New(g).SQL("SELECT ").Label("f", t.Name, label).SQL(" AS ").Alias("label").
		SQL(", COALESCE(").Col("f", t.Name, amount).SQL(", 0) AS ").Alias("amount").
		SQL(" FROM ").TableAs(t.Name, "f")
	if year != 0 {
		whereYear(stmt.SQL(" WHERE "), "f", t.Name, dateCol, year)
	}
	stmt.SQL(" ORDER BY 1 ASC")
	rows, err := e.exec.Query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return notFound(used), nil
	}
	used["count"] = len(rows)
	return found("Voici le montant de chaque fonds :\n\n"+e.amountLines(rows), used), nil
}

// projectSplit counts projects by launch year, by state, or both.
func (e *Engine) projectSplit(ctx context.Context, g *schemagraph.Graph, q question) (*Result, error) {
	const table = "projet"
	t, ok := g.Table(table)
	if !ok {
		return nil, nil
	}
	byYear := q.has(patByYear)
	byState := q.has(patState)
	if !byYear && !byState {
		return nil, nil
	}
	year := plan.Year(q.raw)
	used := map[string]any{"mode": "sql:repartition", "table": t.Name, "by": splitName(byYear, byState), "year": yearValue(year)}

	dateCol, hasDate := g.YearColumn(t.Name)
	if !hasDate && (byYear || year != 0) {
		return notFound(used), nil
	}
	state, statePath := stateTable(g, t.Name)
	if byState && state == "" {
		return notFound(used), nil
	}

	stmt := sqlexec.New(g).SQL("SELECT ")
	var heading string
	switch {
	case byYear && byState:
		heading = "Répartition des projets par année et état :\n"
		yearExpr(stmt, t.Name, dateCol).SQL(" AS ").Alias("annee").SQL(", ")
		stateExpr(stmt, g, state).SQL(" AS ").Alias("statut")
	case byYear:
		heading = "Répartition des projets par année :\n"
		yearExpr(stmt, t.Name, dateCol).SQL(" AS ").Alias("annee")
	default:
		heading = "Répartition des projets par état :\n"
		stateExpr(stmt, g, state).SQL(" AS ").Alias("statut")
	}
	stmt.SQL(", COUNT(*)::bigint AS ").Alias("n").SQL(" FROM ").TableAs(t.Name, "p")
	if byState {
		joinState(stmt, statePath)
	}

	var conds []func()
	if byYear {
		conds = append(conds, func() { stmt.Col("p", t.Name, dateCol).SQL(" IS NOT NULL") })
	}
	if year != 0 {
		conds = append(conds, func() { whereYear(stmt, "p", t.Name, dateCol, year) })
	}
	for i, cond := range conds {
		if i == 0 {
			stmt.SQL(" WHERE ")
		} else {
			stmt.SQL(" AND ")
		}
		cond()
	}

	switch {
	case byYear && byState:
		stmt.SQL(" GROUP BY 1, 2 ORDER BY 1 ASC, 2 ASC")
	case byYear:
		stmt.SQL(" GROUP BY 1 ORDER BY 1 ASC")
	default:
		stmt.SQL(" GROUP BY 1 ORDER BY ").Alias("n").SQL(" DESC, 1 ASC")
	}

	rows, err := e.exec.Query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return notFound(used), nil
	}
	lines := []string{heading}
	for _, r := range rows {
		n, _ := sqlexec.Int(r["n"])
		statut, _ := sqlexec.Text(r["statut"])
		switch {
		case byYear && byState:
			lines = append(lines, fmt.Sprintf("- %s | %s : %d", formatYear(r["annee"]), statut, n))
		case byYear:
			lines = append(lines, fmt.Sprintf("- %s : %d", formatYear(r["annee"]), n))
		default:
			lines = append(lines, fmt.Sprintf("- %s : %d", statut, n))
		}
	}
	return found(strings.Join(lines, "\n"), used), nil
}

// fundStates counts funds by state.
func (e *Engine) fundStates(ctx context.Context, g *schemagraph.Graph) (*Result, error) {
	t, ok := g.Table(fundTable)
	if !ok {
		return nil, nil
	}
	used := map[string]any{"mode": "sql:repartition", "table": t.Name, "by": "etat"}
	state, path := stateTable(g, t.Name)
	if state == "" {
		return notFound(used), nil
	}
	stmt := sqlexec.New(g).SQL("SELECT ")
	stateExpr(stmt, g, state).SQL(" AS ").Alias("etat").
		SQL(", COUNT(*)::bigint AS ").Alias("n").
		SQL(" FROM ").TableAs(t.Name, "p")
	joinState(stmt, path)
	stmt.SQL(" GROUP BY 1 ORDER BY ").Alias("n").SQL(" DESC, 1 ASC")

	rows, err := e.exec.Query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return notFound(used), nil
	}
	lines := []string{"Répartition des fonds par état :\n"}
	for _, r := range rows {
		n, _ := sqlexec.Int(r["n"])
		label, _ := sqlexec.Text(r["etat"])
		lines = append(lines, fmt.Sprintf("- %s : %d", label, n))
	}
	return found(strings.Join(lines, "\n"), used), nil
}

// list returns the labels of a table, with amounts when asked.
func (e *Engine) list(ctx context.Context, g *schemagraph.Graph, q question) (*Result, error) {
	mentionsFund := strings.Contains(q.folded, "fond")
	if plan.EntityName(q.raw) != "" && mentionsFund {
		return nil, nil
	}
	name := tableByName(g, q.folded)
	if name == "" {
		switch {
		case mentionsFund:
			name = fundTable
		case strings.Contains(q.folded, "projet") || strings.Contains(q.folded, "projects"):
			name = "projet"
		}
	}
	t, ok := g.Table(name)
	if !ok {
		return nil, nil
	}
	label := g.DisplayColumns(t.Name)
	if len(label) == 0 {
		return nil, nil
	}
	var parent *schemagraph.ForeignKey
	if keyOnly(t, label) {
		// Rows without a name are labelled by the row they belong to.
		if parent = labelledParent(g, t.Name); parent == nil {
			return nil, nil
		}
	}

	var amount string
	if q.has(patAmount) && (q.has(patEach) || t.Name == fundTable) {
		for _, c := range amountColumns[:3] {
			if t.Has(c) {
				amount = c
				break
			}
		}
	}
	limit := listLimit
	if q.has(patAll) {
		limit = listLimitAll
	}

	stmt := sqlexec.New(g).SQL("SELECT ")
	if parent != nil {
		stmt.SQL("COALESCE((").Label("p", parent.ToTable, g.DisplayColumns(parent.ToTable)).SQL(")::text, 'N/A') || ' #' || ").
			Col("t", t.Name, label[0]).SQL("::text")
	} else {
		stmt.Label("t", t.Name, label)
	}
	stmt.SQL(" AS ").Alias("label")
	if amount != "" {
		stmt.SQL(", ").Col("t", t.Name, amount).SQL(" AS ").Alias("amount")
	}
	stmt.SQL(" FROM ").TableAs(t.Name, "t")
	if parent != nil {
		stmt.SQL(" LEFT JOIN ").TableAs(parent.ToTable, "p").
			SQL(" ON ").Col("p", parent.ToTable, parent.ToColumn).SQL(" = ").Col("t", t.Name, parent.FromColumn)
	}
	stmt.SQL(" ORDER BY 1 ASC LIMIT ").Bind(limit)

	used := map[string]any{"mode": "sql:list", "table": t.Name}
	if amount != "" {
		used["mode"] = "sql:list_amounts"
		used["col"] = amount
	}
	rows, err := e.exec.Query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return notFound(used), nil
	}
	used["count"] = len(rows)
	if amount != "" {
		return found("Voici la liste :\n\n"+e.amountLines(rows), used), nil
	}
	lines := make([]string, 0, len(rows))
	for i, r := range rows {
		v, _ := sqlexec.Text(r["label"])
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, v))
	}
	return found("Voici la liste :\n\n"+strings.Join(lines, "\n"), used), nil
}

// keyOnly reports whether label is the bare primary key of t.
func keyOnly(t *schemagraph.Table, label []string) bool {
	return len(label) == 1 && len(t.PrimaryKey) > 0 && strings.EqualFold(label[0], t.PrimaryKey[0])
}

// labelledParent returns the first foreign key of table whose target rows
// have a label other than their key.
func labelledParent(g *schemagraph.Graph, table string) *schemagraph.ForeignKey {
	for _, fk := range g.Outgoing(table) {
		target, ok := g.Table(fk.ToTable)
		if !ok || keyOnly(target, g.DisplayColumns(fk.ToTable)) {
			continue
		}
		return &fk
	}
	return nil
}

func (e *Engine) count(ctx context.Context, g *schemagraph.Graph, q question) (*Result, error) {
	t := patternTable(g, q, "souscription", "liberation", fundTable, "projet")
	if t == nil {
		return nil, nil
	}
	year := plan.Year(q.raw)
	used := map[string]any{"mode": "sql:count", "table": t.Name, "year": yearValue(year)}
	stmt := sqlexec.New(g).SQL("SELECT COUNT(*)::bigint AS ").Alias("n").SQL(" FROM ").TableAs(t.Name, "t")
	if year != 0 {
		col, ok := g.YearColumn(t.Name)
		if !ok {
			return notFound(used), nil
		}
		whereYear(stmt.SQL(" WHERE "), "t", t.Name, col, year)
	}
	rows, err := e.exec.Query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	var n int64
	if len(rows) > 0 {
		n, _ = sqlexec.Int(rows[0]["n"])
	}
	return found(fmt.Sprintf("Le nombre est %d%s.", n, yearSuffix(year)), used), nil
}

func (e *Engine) sum(ctx context.Context, g *schemagraph.Graph, q question) (*Result, error) {
	t := patternTable(g, q, "souscription", "liberation")
	if t == nil {
		return nil, nil
	}
	col := sumColumn(t)
	if col == "" {
		return nil, nil
	}
	year := plan.Year(q.raw)
	used := map[string]any{"mode": "sql:sum", "table": t.Name, "col": col, "year": yearValue(year)}
	stmt := sqlexec.New(g).SQL("SELECT COALESCE(SUM(").Col("t", t.Name, col).SQL("), 0) AS ").Alias("value").
		SQL(" FROM ").TableAs(t.Name, "t")
	if year != 0 {
		dateCol, ok := g.YearColumn(t.Name)
		if !ok {
			return notFound(used), nil
		}
		whereYear(stmt.SQL(" WHERE "), "t", t.Name, dateCol, year)
	}
	rows, err := e.exec.Query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	var v float64
	if len(rows) > 0 {
		v, _ = sqlexec.Float(rows[0]["value"])
	}
	return found(e.total(v, year), used), nil
}

// patternTable returns the table named in the question, else the first
// fallback whose word appears in it.
func patternTable(g *schemagraph.Graph, q question, fallbacks ...string) *schemagraph.Table {
	name := tableByName(g, q.folded)
	if name == "" {
		for _, f := range fallbacks {
			if strings.Contains(q.folded, strings.TrimSuffix(f, "s")) {
				name = resolveTable(g, f)
				break
			}
		}
	}
	t, ok := g.Table(name)
	if !ok {
		return nil
	}
	return t
}

func sumColumn(t *schemagraph.Table) string {
	var cols []string
	for _, c := range t.NumericColumns() {
		if !stopAttr[strings.ToLower(c)] && !strings.Contains(strings.ToLower(c), "id") {
			cols = append(cols, c)
		}
	}
	for _, hint := range []string{"montant", "total", "somme"} {
		for _, c := range cols {
			if strings.Contains(strings.ToLower(c), hint) {
				return c
			}
		}
	}
	if len(cols) > 0 {
		return cols[0]
	}
	return ""
}

// stateTable finds the state lookup of table: the target of its etat_id
// foreign key, else of any foreign key to a table named like etat.
func stateTable(g *schemagraph.Graph, table string) (string, []schemagraph.JoinStep) {
	var fallback *schemagraph.ForeignKey
	for _, fk := range g.Outgoing(table) {
		if strings.EqualFold(fk.FromColumn, "etat_id") {
			return fk.ToTable, []schemagraph.JoinStep{{FromTable: fk.FromTable, FromColumn: fk.FromColumn, ToTable: fk.ToTable, ToColumn: fk.ToColumn}}
		}
		if fallback == nil && strings.Contains(strings.ToLower(fk.ToTable), "etat") {
			fallback = &fk
		}
	}
	if fallback != nil {
		return fallback.ToTable, []schemagraph.JoinStep{{FromTable: fallback.FromTable, FromColumn: fallback.FromColumn, ToTable: fallback.ToTable, ToColumn: fallback.ToColumn}}
	}
	return "", nil
}

// The state table is always aliased "s" and the base table "p".
func joinState(stmt *sqlexec.Query, path []schemagraph.JoinStep) {
	s := path[0]
	stmt.SQL(" LEFT JOIN ").TableAs(s.ToTable, "s").
		SQL(" ON ").Col("s", s.ToTable, s.ToColumn).SQL(" = ").Col("p", s.FromTable, s.FromColumn)
}

func stateExpr(stmt *sqlexec.Query, g *schemagraph.Graph, state string) *sqlexec.Query {
	return stmt.SQL("COALESCE((").Label("s", state, g.DisplayColumns(state)).SQL(")::text, 'N/A')")
}

func yearExpr(stmt *sqlexec.Query, table, col string) *sqlexec.Query {
	return stmt.SQL("COALESCE(EXTRACT(YEAR FROM ").Col("p", table, col).SQL(")::int, -1)")
}

func formatYear(v any) string {
	n, ok := sqlexec.Int(v)
	if !ok || n == -1 {
		return "N/A"
	}
	return fmt.Sprint(n)
}

func splitName(byYear, byState bool) string {
	switch {
	case byYear && byState:
		return "annee+etat"
	case byYear:
		return "annee"
	}
	return "etat"
}

func (e *Engine) amountLines(rows []sqlexec.Row) string {
	lines := make([]string, 0, len(rows))
	for i, r := range rows {
		label, _ := sqlexec.Text(r["label"])
		v, _ := sqlexec.Float(r["amount"])
		lines = append(lines, fmt.Sprintf("%d. %s : %s", i+1, label, FormatMoney(v, e.unit)))
	}
	return strings.Join(lines, "\n")
}
