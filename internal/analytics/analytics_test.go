package analytics

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pams-ai/internal/config"
	"pams-ai/internal/models"
	"pams-ai/internal/schemagraph"
	"pams-ai/internal/schemagraph/schemagraphtest"
	"pams-ai/internal/sqlexec"
	"pams-ai/internal/sqlexec/sqlexectest"
)

type staticGraph struct{ g *schemagraph.Graph }

func (s staticGraph) Get(context.Context, bool) (*schemagraph.Graph, error) { return s.g, nil }

func newEngine(respond func(string, []any) ([]sqlexec.Row, error)) (*Engine, *sqlexectest.Fake) {
	fake := &sqlexectest.Fake{Respond: respond}
	cfg := config.AnalyticsConfig{MaxJoinHops: 3, MaxGroupRows: 200, Currency: "TND"}
	return NewEngine(staticGraph{schemagraphtest.Maxula()}, fake, cfg), fake
}

func respondWith(rs ...sqlexec.Row) func(string, []any) ([]sqlexec.Row, error) {
	return func(string, []any) ([]sqlexec.Row, error) { return rs, nil }
}

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{12345678.4, "12 345 678 TND"},
		{999, "999 TND"},
		{1000, "1 000 TND"},
		{0, "0 TND"},
		{1234567.5, "1 234 568 TND"},
		{-1234567, "-1 234 567 TND"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatMoney(tt.in, "TND"))
	}
	assert.Equal(t, "1 000", FormatMoney(1000, ""))
}

func TestCatalogTotalInvestedByYear(t *testing.T) {
	e, fake := newEngine(respondWith(sqlexec.Row{"value": "12345678.4"}))

	res, err := e.Run(context.Background(), "Quel est le total investi en 2023 ?")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "Le total est 12 345 678 TND (année 2023)", res.Text)
	assert.Equal(t, "analytics:metric", res.Used["mode"])
	assert.Equal(t, "total_investi", res.Used["kpi"])

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, `SELECT COALESCE((SELECT SUM("montant_liberation") FROM "inv_liberation_action" WHERE EXTRACT(YEAR FROM "date_liberation") = $1), 0)`+
		` + COALESCE((SELECT SUM("montant_liberation") FROM "inv_liberation_oca" WHERE EXTRACT(YEAR FROM "date_liberation") = $2), 0)`+
		` + COALESCE((SELECT SUM("montant_liberation") FROM "inv_liberation_cca" WHERE EXTRACT(YEAR FROM "date_liberation") = $3), 0) AS "value"`,
		calls[0].SQL)
	assert.Equal(t, []any{2023, 2023, 2023}, calls[0].Args)
}

func TestCatalogRouting(t *testing.T) {
	tests := []struct {
		question string
		kpi      string
	}{
		{"Combien a été investi en actions ?", "investi_actions"},
		{"Montant investi en OCA", "investi_oca"},
		{"investissements en CCA cette année", "investi_cca"},
		{"Total actif", "total_actif"},
		{"le total investi", "total_investi"},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			e, fake := newEngine(respondWith(sqlexec.Row{"value": int64(1000)}))
			res, err := e.Run(context.Background(), tt.question)
			require.NoError(t, err)
			require.NotNil(t, res)
			assert.Equal(t, tt.kpi, res.Used["kpi"])
			assert.Equal(t, "Le total est 1 000 TND", res.Text)
			assert.NotContains(t, fake.Calls()[0].SQL, "EXTRACT")
		})
	}
}

func TestFundSubscriptionTotal(t *testing.T) {
	e, fake := newEngine(respondWith(sqlexec.Row{"value": 2500000.0}))

	res, err := e.Run(context.Background(), "Quel est le montant total des souscriptions du fonds Maxula Croissance en 2023 ?")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "Le total est 2 500 000 TND (année 2023)", res.Text)
	assert.Equal(t, "Maxula Croissance", res.Used["fund"])

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, `SELECT COALESCE(SUM("s"."montant_souscription"), 0) AS "value" FROM "souscription" AS "s"`+
		` JOIN "fonds" AS "f" ON "f"."id" = "s"."fonds_id"`+
		` WHERE ("f"."denomination" ILIKE $1 OR "f"."alias" ILIKE $2) AND EXTRACT(YEAR FROM "s"."date_souscription") = $3`,
		calls[0].SQL)
	assert.Equal(t, []any{"%Maxula Croissance%", "%Maxula Croissance%", 2023}, calls[0].Args)
}

func TestGroupedAggregation(t *testing.T) {
	e, fake := newEngine(respondWith(
		sqlexec.Row{"dimension": "En cours", "value": int64(4)},
		sqlexec.Row{"dimension": "Clos", "value": int64(2)},
	))

	res, err := e.Run(context.Background(), "Nombre de projets par état")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "Résultat par etat_avancement :\n\n- En cours : 4\n- Clos : 2", res.Text)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, `SELECT COALESCE(("j1"."libelle")::text, 'N/A') AS "dimension", COUNT(*)::bigint AS "value"`+
		` FROM "projet" AS "b" LEFT JOIN "etat_avancement" AS "j1" ON "j1"."id" = "b"."etat_id"`+
		` GROUP BY 1 ORDER BY "value" DESC NULLS LAST LIMIT $1`, calls[0].SQL)
	assert.Equal(t, []any{200}, calls[0].Args)
}

func TestAverageWithFundFilter(t *testing.T) {
	e, fake := newEngine(respondWith(sqlexec.Row{"value": "150000"}))

	res, err := e.Run(context.Background(), "Moyenne du capital des projets du fonds Maxula")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "La moyenne est 150 000 TND", res.Text)
	assert.Equal(t, "capital", res.Used["metric_col"])

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, `SELECT AVG("b"."capital") AS "value" FROM "projet" AS "b"`+
		` LEFT JOIN "fonds" AS "j1" ON "j1"."id" = "b"."fonds_id"`+
		` WHERE ("j1"."denomination" ILIKE $1 OR "j1"."alias" ILIKE $2)`, calls[0].SQL)
}

func TestRunLeavesPlainCountsToPatterns(t *testing.T) {
	e, fake := newEngine(respondWith(sqlexec.Row{"n": int64(7)}))
	ctx := context.Background()
	q := "Combien de projets en 2023 ?"

	res, err := e.Run(ctx, q)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Empty(t, fake.Calls())

	res, err = e.Patterns(ctx, q)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "Le nombre est 7 (année 2023).", res.Text)
	assert.Equal(t, `SELECT COUNT(*)::bigint AS "n" FROM "projet" AS "t" WHERE EXTRACT(YEAR FROM "t"."date_lancement") = $1`, fake.Calls()[0].SQL)
}

func TestYearFilterAlwaysApplied(t *testing.T) {
	questions := []string{
		"Quel est le total investi en 2023 ?",
		"Total actif 2023",
		"Quel est le montant total des souscriptions du fonds Alpha en 2023 ?",
		"Nombre de projets par état en 2023",
		"Moyenne du capital des projets en 2023",
		"Combien de souscriptions en 2023 ?",
		"Somme des souscriptions 2023",
		"Répartition des projets par année 2023",
		"Quel est le total des souscriptions de tous les fonds en 2023 ?",
		"Montant total de chaque fonds en 2023",
	}
	for _, q := range questions {
		t.Run(q, func(t *testing.T) {
			e, fake := newEngine(respondWith(sqlexec.Row{"value": int64(1), "n": int64(1), "annee": int64(2023)}))
			ctx := context.Background()
			res, err := e.Run(ctx, q)
			require.NoError(t, err)
			if res == nil {
				res, err = e.Patterns(ctx, q)
				require.NoError(t, err)
			}
			require.NotNil(t, res)
			calls := fake.Calls()
			require.NotEmpty(t, calls)
			for _, c := range calls {
				assert.Contains(t, c.SQL, "EXTRACT(YEAR FROM ")
				assert.Contains(t, c.Args, 2023)
			}
		})
	}
}

func TestProjectSplitByYearAndState(t *testing.T) {
	e, fake := newEngine(respondWith(
		sqlexec.Row{"annee": int64(2023), "statut": "En cours", "n": int64(3)},
		sqlexec.Row{"annee": int64(-1), "statut": "N/A", "n": int64(1)},
	))

	res, err := e.Patterns(context.Background(), "Répartition des projets par année et état")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "Répartition des projets par année et état :\n\n- 2023 | En cours : 3\n- N/A | N/A : 1", res.Text)
	assert.Equal(t, "annee+etat", res.Used["by"])
	assert.Equal(t, `SELECT COALESCE(EXTRACT(YEAR FROM "p"."date_lancement")::int, -1) AS "annee",`+
		` COALESCE(("s"."libelle")::text, 'N/A') AS "statut", COUNT(*)::bigint AS "n"`+
		` FROM "projet" AS "p" LEFT JOIN "etat_avancement" AS "s" ON "s"."id" = "p"."etat_id"`+
		` WHERE "p"."date_lancement" IS NOT NULL GROUP BY 1, 2 ORDER BY 1 ASC, 2 ASC`, fake.Calls()[0].SQL)
}

func TestFundStates(t *testing.T) {
	e, fake := newEngine(respondWith(sqlexec.Row{"etat": "Actif", "n": int64(5)}))

	res, err := e.Patterns(context.Background(), "Répartition des fonds par état")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "Répartition des fonds par état :\n\n- Actif : 5", res.Text)
	assert.Contains(t, fake.Calls()[0].SQL, `LEFT JOIN "etat_fonds" AS "s" ON "s"."id" = "p"."etat_id"`)
}

func TestLists(t *testing.T) {
	tests := []struct {
		name     string
		question string
		respond  []sqlexec.Row
		wantSQL  string
		wantArgs []any
		want     string
	}{
		{
			name:     "all funds",
			question: "Liste de tous les fonds",
			respond:  []sqlexec.Row{{"label": "Alpha"}, {"label": "Beta"}},
			wantSQL:  `SELECT "t"."denomination" AS "label" FROM "fonds" AS "t" ORDER BY 1 ASC LIMIT $1`,
			wantArgs: []any{5000},
			want:     "Voici la liste :\n\n1. Alpha\n2. Beta",
		},
		{
			name:     "projects",
			question: "Donne la liste des projets",
			respond:  []sqlexec.Row{{"label": "Toscani Mannifatture"}},
			wantSQL:  `SELECT "t"."nom" AS "label" FROM "projet" AS "t" ORDER BY 1 ASC LIMIT $1`,
			wantArgs: []any{1000},
			want:     "Voici la liste :\n\n1. Toscani Mannifatture",
		},
		{
			name:     "investors by full name",
			question: "liste des investisseurs",
			respond:  []sqlexec.Row{{"label": "Sami Ben Ali"}},
			wantSQL:  `SELECT TRIM(COALESCE("t"."prenom", '') || ' ' || COALESCE("t"."nom", '')) AS "label" FROM "investisseur" AS "t" ORDER BY 1 ASC LIMIT $1`,
			wantArgs: []any{1000},
			want:     "Voici la liste :\n\n1. Sami Ben Ali",
		},
		{
			name:     "rows without a name use their fund",
			question: "Liste des souscriptions",
			respond:  []sqlexec.Row{{"label": "Alpha #7"}},
			wantSQL: `SELECT COALESCE(("p"."denomination")::text, 'N/A') || ' #' || "t"."id"::text AS "label"` +
				` FROM "souscription" AS "t" LEFT JOIN "fonds" AS "p" ON "p"."id" = "t"."fonds_id" ORDER BY 1 ASC LIMIT $1`,
			wantArgs: []any{1000},
			want:     "Voici la liste :\n\n1. Alpha #7",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, fake := newEngine(respondWith(tt.respond...))
			res, err := e.Patterns(context.Background(), tt.question)
			require.NoError(t, err)
			require.NotNil(t, res)
			assert.Equal(t, tt.want, res.Text)
			assert.Equal(t, tt.wantSQL, fake.Calls()[0].SQL)
			assert.Equal(t, tt.wantArgs, fake.Calls()[0].Args)
		})
	}
}

func TestFundAmounts(t *testing.T) {
	e, fake := newEngine(respondWith(sqlexec.Row{"label": "Alpha", "amount": "1500000.00"}))

	res, err := e.Patterns(context.Background(), "Quel est le montant de chaque fonds ?")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "Voici le montant de chaque fonds :\n\n1. Alpha : 1 500 000 TND", res.Text)
	assert.Equal(t, `SELECT "f"."denomination" AS "label", COALESCE("f"."montant", 0) AS "amount" FROM "fonds" AS "f" ORDER BY 1 ASC`, fake.Calls()[0].SQL)
}

func TestTotalOverAllFundsIsNotAList(t *testing.T) {
	e, fake := newEngine(respondWith(sqlexec.Row{"value": "2500000"}))

	res, err := e.Patterns(context.Background(), "Quel est le total des souscriptions de tous les fonds en 2023 ?")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "sql:sum", res.Used["mode"])
	assert.Equal(t, `SELECT COALESCE(SUM("t"."montant_souscription"), 0) AS "value" FROM "souscription" AS "t"`+
		` WHERE EXTRACT(YEAR FROM "t"."date_souscription") = $1`, fake.Calls()[0].SQL)
	assert.Equal(t, []any{2023}, fake.Calls()[0].Args)
}

func TestFundAmountsByYear(t *testing.T) {
	e, fake := newEngine(respondWith(sqlexec.Row{"label": "Alpha", "amount": "1500000.00"}))

	res, err := e.Patterns(context.Background(), "Montant total de chaque fonds en 2023")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 2023, res.Used["year"])
	assert.Equal(t, `SELECT "f"."denomination" AS "label", COALESCE("f"."montant", 0) AS "amount" FROM "fonds" AS "f"`+
		` WHERE EXTRACT(YEAR FROM "f"."date_lancement") = $1 ORDER BY 1 ASC`, fake.Calls()[0].SQL)
}

func TestRecognizedShapeWithoutRows(t *testing.T) {
	e, _ := newEngine(respondWith())
	res, err := e.Patterns(context.Background(), "Liste des fonds")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Hit)
	assert.Equal(t, models.RefusalData, res.Text)
}

func TestNotApplicable(t *testing.T) {
	e, fake := newEngine(respondWith(sqlexec.Row{"value": 1}))
	ctx := context.Background()
	for _, q := range []string{"", "Bonjour", "Qui est l'actionnaire du projet nommé Alpha ?"} {
		res, err := e.Run(ctx, q)
		require.NoError(t, err)
		assert.Nil(t, res, q)
		res, err = e.Patterns(ctx, q)
		require.NoError(t, err)
		assert.Nil(t, res, q)
	}
	assert.Empty(t, fake.Calls())
}

func TestExecutionErrorsPropagate(t *testing.T) {
	e, _ := newEngine(func(string, []any) ([]sqlexec.Row, error) {
		return nil, errors.New("canceling statement due to statement timeout")
	})
	_, err := e.Run(context.Background(), "Total actif")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "statement timeout"))
}
