package analytics

import (
	"context"

	"pams-ai/internal/plan"
	"pams-ai/internal/schemagraph"
	"pams-ai/internal/sqlexec"
)

// term is one summed column of a KPI.
type term struct {
	table, amount, date string
}

type kpi struct {
	name  string
	terms []term
}

func liberations() []term {
	return []term{
		{"inv_liberation_action", "montant_liberation", "date_liberation"},
		{"inv_liberation_oca", "montant_liberation", "date_liberation"},
		{"inv_liberation_cca", "montant_liberation", "date_liberation"},
	}
}

var catalog = map[string]kpi{
	"total_actif":     {"total_actif", []term{{"souscription", "montant_souscription", "date_souscription"}}},
	"investi_actions": {"investi_actions", liberations()[0:1]},
	"investi_oca":     {"investi_oca", liberations()[1:2]},
	"investi_cca":     {"investi_cca", liberations()[2:3]},
	"total_investi":   {"total_investi", liberations()},
}

var (
	kpiTotal   = words(`total`, `somme`, `global`)
	kpiAmount  = words(`montant`, `valeur`, `encours`)
	kpiAsset   = words(`actifs?`)
	kpiInvest  = words(`investi`, `investis`, `investissements?`)
	kpiFund    = words(`fonds`, `fcpr`, `fcp`)
	kpiActions = words(`actions?`)
	kpiOCA     = words(`oca`)
	kpiCCA     = words(`cca`)
)

// routeKPI picks the catalog entry for q. Fund amount questions are left
// to the fund filtered aggregations.
func routeKPI(q question) string {
	switch {
	case q.has(kpiFund) && (q.has(kpiTotal) || q.has(kpiAmount)):
		return ""
	case q.has(kpiTotal) && q.has(kpiAsset):
		return "total_actif"
	case q.has(kpiInvest) && q.has(kpiActions):
		return "investi_actions"
	case q.has(kpiInvest) && q.has(kpiOCA):
		return "investi_oca"
	case q.has(kpiInvest) && q.has(kpiCCA):
		return "investi_cca"
	case q.has(kpiTotal) && q.has(kpiInvest):
		return "total_investi"
	}
	return ""
}

func (e *Engine) catalog(ctx context.Context, g *schemagraph.Graph, q question) (*Result, error) {
	k, ok := catalog[routeKPI(q)]
	if !ok {
		return nil, nil
	}
	for _, t := range k.terms {
		if !g.HasColumn(t.table, t.amount) || !g.HasColumn(t.table, t.date) {
			return nil, nil
		}
	}
	year := plan.Year(q.raw)

	// SELECT COALESCE((SELECT SUM(..) FROM .. [WHERE ..]), 0) + ... AS "value"
	stmt := sqlexec.New(g).SQL("SELECT ")
	for i, t := range k.terms {
		if i > 0 {
			stmt.SQL(" + ")
		}
		stmt.SQL("COALESCE((SELECT SUM(").Col("", t.table, t.amount).SQL(") FROM ").Table(t.table)
		if year != 0 {
			whereYear(stmt.SQL(" WHERE "), "", t.table, t.date, year)
		}
		stmt.SQL("), 0)")
	}
	stmt.SQL(" AS ").Alias("value")

	rows, err := e.exec.Query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	used := map[string]any{"mode": "analytics:metric", "kpi": k.name, "year": yearValue(year)}
	var v float64
	if len(rows) > 0 {
		v, _ = sqlexec.Float(rows[0]["value"])
	}
	return found(e.total(v, year), used), nil
}
