package analytics

import (
	"context"
	"fmt"
	"strings"

	"pams-ai/internal/plan"
	"pams-ai/internal/schemagraph"
	"pams-ai/internal/sqlexec"
)

const fundTable = "fonds"

var (
	aggSubscription = words(`souscriptions?`)
	aggAmount       = words(`montant`, `valeur`)
)

// tableHints maps question words to the table they designate.
var tableHints = []struct {
	table string
	words []string
}{
	{"fonds", []string{"fonds"}},
	{"projet", []string{"projet", "projets", "project", "projects"}},
	{"souscription", []string{"souscription", "souscriptions"}},
	{"liberation", []string{"liberation", "liberations"}},
}

var metricHints = [][]string{
	{"montant", "amount"},
	{"capital", "capital_social"},
	{"investi", "investissement", "montant_investi"},
	{"engagement"},
}

var dimensionHints = [][]string{
	{"banque"},
	{"etat", "status", "statut"},
	{"secteur", "activite"},
	{"type"},
}

var amountColumns = []string{"montant", "montant_souscription", "montant_liberation", "total"}

// fundSubscriptions sums subscriptions of the funds whose name or alias
// contains the fund name of the question.
func (e *Engine) fundSubscriptions(ctx context.Context, g *schemagraph.Graph, q question) (*Result, error) {
	if agg, _ := plan.DetectAgg(q.raw); agg != plan.Sum || !q.has(aggSubscription) || !q.has(aggAmount) {
		return nil, nil
	}
	fund := plan.FundName(q.raw)
	if fund == "" {
		fund = plan.EntityName(q.raw)
	}
	sub, ok := g.Table("souscription")
	if fund == "" || !ok {
		return nil, nil
	}
	amount, ok := amountColumn(sub)
	if !ok {
		return nil, nil
	}
	path, ok := g.FindJoinPath(sub.Name, fundTable, 1)
	cols := fundColumns(g)
	if !ok || len(path) != 1 || len(cols) == 0 {
		return nil, nil
	}
	year := plan.Year(q.raw)
	dateCol, hasDate := g.YearColumn(sub.Name)
	if year != 0 && !hasDate {
		return notFound(map[string]any{"mode": "analytics:agg", "year": year}), nil
	}

	step := path[0]
	stmt := sqlexec.New(g).SQL("SELECT COALESCE(SUM(").Col("s", sub.Name, amount).SQL("), 0) AS ").Alias("value").
		SQL(" FROM ").TableAs(sub.Name, "s").
		SQL(" JOIN ").TableAs(fundTable, "f").
		SQL(" ON ").Col("f", step.ToTable, step.ToColumn).SQL(" = ").Col("s", step.FromTable, step.FromColumn).
		SQL(" WHERE ")
	fundFilter(stmt, "f", cols, fund)
	if year != 0 {
		whereYear(stmt.SQL(" AND "), "s", sub.Name, dateCol, year)
	}

	rows, err := e.exec.Query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	var v float64
	if len(rows) > 0 {
		v, _ = sqlexec.Float(rows[0]["value"])
	}
	used := map[string]any{
		"mode":   "analytics:agg",
		"target": sub.Name + "." + amount,
		"fund":   fund,
		"year":   yearValue(year),
	}
	return found(e.total(v, year), used), nil
}

// fundColumns lists the fund table columns a fund name is matched on.
func fundColumns(g *schemagraph.Graph) []string {
	t, ok := g.Table(fundTable)
	if !ok {
		return nil
	}
	var cols []string
	for _, c := range []string{"denomination", "alias"} {
		if t.Has(c) {
			cols = append(cols, c)
		}
	}
	if len(cols) == 0 {
		if c, ok := g.NameColumn(fundTable); ok {
			cols = append(cols, c)
		}
	}
	return cols
}

// fundFilter appends (denomination ILIKE $n OR alias ILIKE $m).
func fundFilter(stmt *sqlexec.Query, alias string, cols []string, fund string) {
	pattern := sqlexec.LikePattern(fund)
	stmt.SQL("(")
	for i, c := range cols {
		if i > 0 {
			stmt.SQL(" OR ")
		}
		stmt.Col(alias, fundTable, c).SQL(" ILIKE ").Bind(pattern)
	}
	stmt.SQL(")")
}

func amountColumn(t *schemagraph.Table) (string, bool) {
	for _, c := range amountColumns {
		if col, ok := t.Column(c); ok && col.IsNumeric() {
			return col.Name, true
		}
	}
	for _, c := range t.NumericColumns() {
		if strings.Contains(strings.ToLower(c), "montant") {
			return c, true
		}
	}
	return "", false
}

// aggregation is a generic aggregate over one base table, optionally
// grouped by a joined dimension and filtered by year and fund name.
type aggregation struct {
	agg       plan.Agg
	base      *schemagraph.Table
	metric    string
	dimension string
	year      int
	yearCol   string
	fund      string
	fundCols  []string
	joins     *joiner
	dimAlias  string
	fundAlias string
}

// aggregate handles averages, extrema, grouped and fund filtered
// aggregates. Plain totals and counts are left to the patterns stage.
func (e *Engine) aggregate(ctx context.Context, g *schemagraph.Graph, q question) (*Result, error) {
	agg, ok := plan.DetectAgg(q.raw)
	if !ok {
		return nil, nil
	}
	base := baseTable(g, q.folded)
	if base == nil {
		return nil, nil
	}
	a := aggregation{
		agg:   agg,
		base:  base,
		year:  plan.Year(q.raw),
		fund:  plan.FundName(q.raw),
		joins: newJoiner(base.Name),
	}
	if base.Name == fundTable && a.fund == "" {
		a.fund = plan.EntityName(q.raw)
	}
	used := map[string]any{"mode": "analytics:agg", "base_table": base.Name, "agg": string(agg), "year": yearValue(a.year)}

	if dim, path := e.dimension(g, q.folded, base.Name); dim != "" {
		a.dimension = dim
		a.dimAlias = a.joins.add(path)
		used["dimension"] = map[string]any{"table": dim, "hops": len(path)}
	}
	if a.dimension == "" && a.fund == "" && (agg == plan.Sum || agg == plan.Count) {
		return nil, nil
	}

	if a.fund != "" {
		if a.fundCols = fundColumns(g); len(a.fundCols) == 0 {
			return nil, nil
		}
		if base.Name == fundTable {
			a.fundAlias = "b"
		} else {
			path, ok := g.FindJoinPath(base.Name, fundTable, e.maxHops)
			if !ok {
				return nil, nil
			}
			a.fundAlias = a.joins.add(path)
		}
		used["fund"] = a.fund
	}
	if a.year != 0 {
		col, ok := g.YearColumn(base.Name)
		if !ok {
			return notFound(used), nil
		}
		a.yearCol = col
	}
	if agg != plan.Count {
		a.metric = metricColumn(base, q.folded)
		if a.metric == "" {
			a.agg = plan.Count
			used["metric_fallback"] = "count_no_metric"
		}
		used["metric_col"] = a.metric
	}

	rows, err := e.exec.Query(ctx, e.buildAggregate(g, a))
	if err != nil {
		return nil, err
	}
	used["row_count"] = len(rows)
	if len(rows) == 0 {
		return notFound(used), nil
	}
	if a.dimension == "" {
		return found(e.renderValue(a.agg, rows[0]["value"], a.year), used), nil
	}
	return found(e.renderGroups(a, rows), used), nil
}

func (e *Engine) buildAggregate(g *schemagraph.Graph, a aggregation) *sqlexec.Query {
	stmt := sqlexec.New(g).SQL("SELECT ")
	if a.dimension != "" {
		stmt.SQL("COALESCE((").Label(a.dimAlias, a.dimension, g.DisplayColumns(a.dimension)).
			SQL(")::text, 'N/A') AS ").Alias("dimension").SQL(", ")
	}
	if a.agg == plan.Count || a.metric == "" {
		stmt.SQL("COUNT(*)::bigint")
	} else {
		stmt.SQL(strings.ToUpper(string(a.agg)) + "(").Col("b", a.base.Name, a.metric).SQL(")")
	}
	stmt.SQL(" AS ").Alias("value").SQL(" FROM ").TableAs(a.base.Name, "b")
	a.joins.render(stmt)

	var conds []func()
	if a.year != 0 {
		conds = append(conds, func() { whereYear(stmt, "b", a.base.Name, a.yearCol, a.year) })
	}
	if a.fund != "" {
		conds = append(conds, func() { fundFilter(stmt, a.fundAlias, a.fundCols, a.fund) })
	}
	for i, cond := range conds {
		if i == 0 {
			stmt.SQL(" WHERE ")
		} else {
			stmt.SQL(" AND ")
		}
		cond()
	}

	if a.dimension != "" {
		stmt.SQL(" GROUP BY 1 ORDER BY ").Alias("value").SQL(" DESC NULLS LAST LIMIT ").Bind(e.maxRows)
	}
	return stmt
}

func (e *Engine) renderValue(agg plan.Agg, raw any, year int) string {
	if agg == plan.Count {
		n, _ := sqlexec.Int(raw)
		return fmt.Sprintf("Le nombre est %d%s.", n, yearSuffix(year))
	}
	v, _ := sqlexec.Float(raw)
	switch agg {
	case plan.Avg:
		return "La moyenne est " + FormatMoney(v, e.unit) + yearSuffix(year)
	case plan.Min:
		return "Le minimum est " + FormatMoney(v, e.unit) + yearSuffix(year)
	case plan.Max:
		return "Le maximum est " + FormatMoney(v, e.unit) + yearSuffix(year)
	}
	return e.total(v, year)
}

func (e *Engine) renderGroups(a aggregation, rows []sqlexec.Row) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Résultat par %s%s :\n", a.dimension, yearSuffix(a.year))
	for _, r := range rows {
		label, _ := sqlexec.Text(r["dimension"])
		var value string
		if a.agg == plan.Count || a.metric == "" {
			n, _ := sqlexec.Int(r["value"])
			value = fmt.Sprint(n)
		} else {
			v, _ := sqlexec.Float(r["value"])
			value = FormatMoney(v, e.unit)
		}
		fmt.Fprintf(&b, "\n- %s : %s", label, value)
	}
	return b.String()
}

// baseTable returns the table named earliest in the folded question, by
// hint word first and by table name second.
func baseTable(g *schemagraph.Graph, folded string) *schemagraph.Table {
	best, bestPos := "", -1
	for _, h := range tableHints {
		for _, w := range h.words {
			pos := wordIndex(folded, w)
			if pos < 0 || (bestPos >= 0 && pos >= bestPos) {
				continue
			}
			if name := resolveTable(g, h.table); name != "" {
				best, bestPos = name, pos
			}
		}
	}
	if best == "" {
		best = tableByName(g, folded)
	}
	if best == "" {
		return nil
	}
	t, _ := g.Table(best)
	return t
}

// resolveTable returns hint itself when it is a table, else the first table
// whose name contains it.
func resolveTable(g *schemagraph.Graph, hint string) string {
	if g.HasTable(hint) {
		return hint
	}
	for _, name := range g.Tables() {
		if strings.Contains(name, hint) {
			return name
		}
	}
	return ""
}

// tableByName returns the longest table name found in the question, with
// spaces read as underscores.
func tableByName(g *schemagraph.Graph, folded string) string {
	norm := strings.NewReplacer(" ", "_", "-", "_").Replace(folded)
	best := ""
	for _, name := range g.Tables() {
		if strings.Contains(norm, strings.ToLower(name)) && len(name) > len(best) {
			best = name
		}
	}
	return best
}

func wordIndex(folded, w string) int {
	loc := words(w).FindStringIndex(folded)
	if loc == nil {
		return -1
	}
	return loc[0]
}

func metricColumn(t *schemagraph.Table, folded string) string {
	numeric := t.NumericColumns()
	for _, hints := range metricHints {
		if !containsAny(folded, hints) {
			continue
		}
		for _, c := range numeric {
			if containsAny(strings.ToLower(c), hints) {
				return c
			}
		}
	}
	for _, c := range numeric {
		if strings.EqualFold(c, "montant") {
			return c
		}
	}
	if len(numeric) > 0 {
		return numeric[0]
	}
	return ""
}

// dimension finds the grouping table hinted by the question and the
// shortest join path to it from base.
func (e *Engine) dimension(g *schemagraph.Graph, folded, base string) (string, []schemagraph.JoinStep) {
	for _, hints := range dimensionHints {
		if !containsAny(folded, hints) {
			continue
		}
		var best string
		var bestPath []schemagraph.JoinStep
		for _, name := range g.Tables() {
			if name == base || !containsAny(strings.ToLower(name), hints) {
				continue
			}
			path, ok := g.FindJoinPath(base, name, e.maxHops)
			if !ok || len(path) == 0 {
				continue
			}
			if best == "" || len(path) < len(bestPath) {
				best, bestPath = name, path
			}
		}
		if best != "" {
			return best, bestPath
		}
	}
	return "", nil
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// joiner accumulates LEFT JOINs from the base table, joining each table
// once. Aliases are b for the base and j1, j2... in join order.
type joiner struct {
	aliases map[string]string
	steps   []schemagraph.JoinStep
}

func newJoiner(base string) *joiner {
	return &joiner{aliases: map[string]string{base: "b"}}
}

// add joins path and returns the alias of its last table.
func (j *joiner) add(path []schemagraph.JoinStep) string {
	for _, s := range path {
		if _, ok := j.aliases[s.ToTable]; ok {
			continue
		}
		j.steps = append(j.steps, s)
		j.aliases[s.ToTable] = fmt.Sprintf("j%d", len(j.steps))
	}
	if len(path) == 0 {
		return "b"
	}
	return j.aliases[path[len(path)-1].ToTable]
}

func (j *joiner) render(stmt *sqlexec.Query) {
	for _, s := range j.steps {
		to := j.aliases[s.ToTable]
		stmt.SQL(" LEFT JOIN ").TableAs(s.ToTable, to).
			SQL(" ON ").Col(to, s.ToTable, s.ToColumn).
			SQL(" = ").Col(j.aliases[s.FromTable], s.FromTable, s.FromColumn)
	}
}
