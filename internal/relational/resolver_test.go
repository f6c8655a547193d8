package relational

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pams-ai/internal/models"
	"pams-ai/internal/schemagraph"
	"pams-ai/internal/schemagraph/schemagraphtest"
	"pams-ai/internal/sqlexec"
	"pams-ai/internal/sqlexec/sqlexectest"
)

type staticGraph struct{ g *schemagraph.Graph }

func (s staticGraph) Get(context.Context, bool) (*schemagraph.Graph, error) { return s.g, nil }

func newResolver(respond func(string, []any) ([]sqlexec.Row, error)) (*Resolver, *sqlexectest.Fake) {
	fake := &sqlexectest.Fake{Respond: respond}
	return NewResolver(staticGraph{schemagraphtest.Maxula()}, fake, 3), fake
}

func TestResolveShareholder(t *testing.T) {
	r, fake := newResolver(func(sql string, args []any) ([]sqlexec.Row, error) {
		if strings.Contains(sql, "ILIKE") {
			return []sqlexec.Row{{"id": int64(17)}}, nil
		}
		return []sqlexec.Row{{"value": "Durand"}}, nil
	})

	res, err := r.Resolve(context.Background(), "projet", "actionnaire", "Toscani Mannifatture")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "Durand", res.Text)
	assert.True(t, res.Hit)
	assert.Equal(t, "actionnaire", res.Used["to_table"])

	calls := fake.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, `SELECT "e"."id" AS "id" FROM "projet" AS "e" WHERE "e"."nom" ILIKE $1 ORDER BY "e"."id" DESC LIMIT 1`, calls[0].SQL)
	assert.Equal(t, []any{"%Toscani Mannifatture%"}, calls[0].Args)
	assert.Equal(t, `SELECT "t1"."nom" AS "value" FROM "projet" AS "e" JOIN "actionnaire" AS "t1" ON "t1"."id" = "e"."actionnaire_id" WHERE "e"."id" = $1 LIMIT 1`, calls[1].SQL)
	assert.Equal(t, []any{int64(17)}, calls[1].Args)
}

// Several rows may match a name substring; the query orders by id DESC and
// keeps one, so the most recent row wins. This is kept as is and flagged.
func TestResolveAmbiguousNameTakesHighestID(t *testing.T) {
	r, fake := newResolver(func(sql string, _ []any) ([]sqlexec.Row, error) {
		if strings.Contains(sql, "ILIKE") {
			return []sqlexec.Row{{"id": int64(90)}}, nil
		}
		return []sqlexec.Row{{"value": "Martin"}}, nil
	})
	res, err := r.Resolve(context.Background(), "projet", "actionnaire", "Toscani")
	require.NoError(t, err)
	assert.Equal(t, "Martin", res.Text)
	assert.Contains(t, fake.Calls()[0].SQL, `ORDER BY "e"."id" DESC LIMIT 1`)
}

func TestResolveStateUsesDisplayAndContainsFallback(t *testing.T) {
	r, fake := newResolver(func(sql string, _ []any) ([]sqlexec.Row, error) {
		if strings.Contains(sql, "ILIKE") {
			return []sqlexec.Row{{"id": int64(3)}}, nil
		}
		return []sqlexec.Row{{"value": "En cours"}}, nil
	})
	res, err := r.Resolve(context.Background(), "fonds", "état", "Maxula")
	require.NoError(t, err)
	assert.Equal(t, "En cours", res.Text)
	assert.Contains(t, fake.Calls()[0].SQL, `"e"."denomination" ILIKE $1`)
	assert.Contains(t, fake.Calls()[1].SQL, `SELECT "t1"."libelle" AS "value"`)
}

func TestResolveMultiHop(t *testing.T) {
	r, fake := newResolver(func(sql string, _ []any) ([]sqlexec.Row, error) {
		if strings.Contains(sql, "ILIKE") {
			return []sqlexec.Row{{"id": int64(5)}}, nil
		}
		return []sqlexec.Row{{"value": "Banque Zitouna"}}, nil
	})
	res, err := r.Resolve(context.Background(), "projet", "banque", "Alpha")
	require.NoError(t, err)
	assert.Equal(t, "Banque Zitouna", res.Text)
	assert.Equal(t, 2, res.Used["hops"])
	assert.Contains(t, fake.Calls()[1].SQL,
		`JOIN "fonds" AS "t1" ON "t1"."id" = "e"."fonds_id" JOIN "banque" AS "t2" ON "t2"."id" = "t1"."banque_id"`)
}

func TestResolveLabelForPersonTables(t *testing.T) {
	r, fake := newResolver(func(sql string, _ []any) ([]sqlexec.Row, error) {
		if strings.Contains(sql, "ILIKE") {
			return []sqlexec.Row{{"id": int64(1)}}, nil
		}
		return []sqlexec.Row{{"value": "Sami Ben Ali"}}, nil
	})
	_, err := r.Resolve(context.Background(), "souscription", "investisseur", "x12")
	require.NoError(t, err)
	calls := fake.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1].SQL, `TRIM(COALESCE("t1"."prenom", '') || ' ' || COALESCE("t1"."nom", ''))`)
}

func TestResolveFoundButEmpty(t *testing.T) {
	tests := []struct {
		name    string
		respond func(string, []any) ([]sqlexec.Row, error)
	}{
		{"entity not found", func(string, []any) ([]sqlexec.Row, error) { return nil, nil }},
		{"null value", func(sql string, _ []any) ([]sqlexec.Row, error) {
			if strings.Contains(sql, "ILIKE") {
				return []sqlexec.Row{{"id": int64(2)}}, nil
			}
			return []sqlexec.Row{{"value": nil}}, nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newResolver(tt.respond)
			res, err := r.Resolve(context.Background(), "projet", "actionnaire", "Inconnu")
			require.NoError(t, err)
			require.NotNil(t, res)
			assert.False(t, res.Hit)
			assert.Equal(t, models.RefusalData, res.Text)
			assert.Equal(t, false, res.Used["hit"])
		})
	}
}

func TestResolveNotApplicable(t *testing.T) {
	r, fake := newResolver(func(sql string, _ []any) ([]sqlexec.Row, error) {
		return []sqlexec.Row{{"id": int64(2)}}, nil
	})
	ctx := context.Background()

	res, err := r.Resolve(ctx, "client", "banque", "X")
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Empty(t, fake.Calls())

	res, err = r.Resolve(ctx, "projet", "actionnaire", "  ")
	require.NoError(t, err)
	assert.Nil(t, res)

	res, err = r.Resolve(ctx, "projet", "couleur", "Alpha")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestResolveDirectColumn(t *testing.T) {
	r, fake := newResolver(func(sql string, _ []any) ([]sqlexec.Row, error) {
		if strings.Contains(sql, "ILIKE") {
			return []sqlexec.Row{{"id": int64(17)}}, nil
		}
		return []sqlexec.Row{{"value": "250000.00"}}, nil
	})

	res, err := r.Resolve(context.Background(), "projet", "capital", "Toscani Mannifatture")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Hit)
	assert.Equal(t, "250000.00", res.Text)
	assert.Equal(t, "capital", res.Used["column"])

	calls := fake.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, `SELECT "e"."capital" AS "value" FROM "projet" AS "e" WHERE "e"."id" = $1 LIMIT 1`, calls[1].SQL)
}

func TestAttributeColumnSkipsKeys(t *testing.T) {
	projet, ok := schemagraphtest.Maxula().Table("projet")
	require.True(t, ok)
	assert.Equal(t, "capital", attributeColumn(projet, "capital"))
	assert.Equal(t, "date_lancement", attributeColumn(projet, "lancement"))
	assert.Empty(t, attributeColumn(projet, "id"))
	assert.Empty(t, attributeColumn(projet, "fonds"))
	assert.Empty(t, attributeColumn(projet, ""))
}

func TestResolvePropagatesExecutionErrors(t *testing.T) {
	r, _ := newResolver(func(string, []any) ([]sqlexec.Row, error) {
		return nil, errors.New("statement timeout")
	})
	_, err := r.Resolve(context.Background(), "projet", "actionnaire", "Alpha")
	assert.Error(t, err)
}
