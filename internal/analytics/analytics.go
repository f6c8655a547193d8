// Package analytics answers aggregate questions with deterministic SQL over
// the business schema: named KPIs, generic aggregations and a few list,
// count and distribution patterns.
package analytics

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"pams-ai/internal/config"
	"pams-ai/internal/models"
	"pams-ai/internal/schemagraph"
	"pams-ai/internal/sqlexec"
	"pams-ai/internal/textnorm"
)

// GraphSource is satisfied by *schemagraph.Cache.
type GraphSource interface {
	Get(ctx context.Context, force bool) (*schemagraph.Graph, error)
}

// Result is a final answer. Hit is false when a recognized question found
// no data; Text is then the data refusal.
type Result struct {
	Text string
	Hit  bool
	Used map[string]any
}

type Engine struct {
	graphs  GraphSource
	exec    sqlexec.Executor
	maxHops int
	maxRows int
	unit    string
}

func NewEngine(graphs GraphSource, exec sqlexec.Executor, cfg config.AnalyticsConfig) *Engine {
	e := &Engine{
		graphs:  graphs,
		exec:    exec,
		maxHops: cfg.MaxJoinHops,
		maxRows: cfg.MaxGroupRows,
		unit:    cfg.Currency,
	}
	if e.maxHops <= 0 {
		e.maxHops = schemagraph.DefaultMaxDepth
	}
	if e.maxRows <= 0 {
		e.maxRows = 200
	}
	if e.unit == "" {
		e.unit = "TND"
	}
	return e
}

// question carries the raw text and its folded form, which the keyword
// rules match against.
type question struct {
	raw    string
	folded string
}

func newQuestion(q string) question {
	return question{raw: strings.TrimSpace(q), folded: textnorm.Fold(q)}
}

func (q question) has(re *regexp.Regexp) bool { return re.MatchString(q.folded) }

// Run tries the KPI catalog, the fund subscription total and the generic
// aggregation, in that order. It returns nil, nil when none applies.
func (e *Engine) Run(ctx context.Context, text string) (*Result, error) {
	q := newQuestion(text)
	if q.raw == "" {
		return nil, nil
	}
	g, err := e.graphs.Get(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	for _, stage := range []func(context.Context, *schemagraph.Graph, question) (*Result, error){
		e.catalog,
		e.fundSubscriptions,
		e.aggregate,
	} {
		res, err := stage(ctx, g, q)
		if err != nil || res != nil {
			return res, err
		}
	}
	return nil, nil
}

// Patterns runs the list, count, total and distribution shapes. It is
// tried after relational questions.
func (e *Engine) Patterns(ctx context.Context, text string) (*Result, error) {
	q := newQuestion(text)
	if q.raw == "" {
		return nil, nil
	}
	g, err := e.graphs.Get(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	return e.patterns(ctx, g, q)
}

func words(alts ...string) *regexp.Regexp {
	return regexp.MustCompile(`(?:^|[^\p{L}\p{N}_])(?:` + strings.Join(alts, "|") + `)(?:$|[^\p{L}\p{N}_])`)
}

func found(text string, used map[string]any) *Result {
	used["hit"] = true
	return &Result{Text: text, Hit: true, Used: used}
}

func notFound(used map[string]any) *Result {
	used["hit"] = false
	return &Result{Text: models.RefusalData, Used: used}
}

// yearValue is nil for no year so traces serialize it as null.
func yearValue(year int) any {
	if year == 0 {
		return nil
	}
	return year
}

// whereYear appends EXTRACT(YEAR FROM col) = $n.
func whereYear(q *sqlexec.Query, alias, table, col string, year int) *sqlexec.Query {
	return q.SQL("EXTRACT(YEAR FROM ").Col(alias, table, col).SQL(") = ").Bind(year)
}
