package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pams-ai/internal/analytics"
	"pams-ai/internal/classifier"
	"pams-ai/internal/models"
	"pams-ai/internal/policy"
	"pams-ai/internal/rag"
	"pams-ai/internal/relational"
)

type fakeAnalytics struct {
	run      func(string) (*analytics.Result, error)
	patterns func(string) (*analytics.Result, error)

	mu    sync.Mutex
	calls []string
	roles []policy.Role
}

func (f *fakeAnalytics) record(ctx context.Context, stage string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, stage)
	f.roles = append(f.roles, policy.RoleFrom(ctx))
}

func (f *fakeAnalytics) Run(ctx context.Context, q string) (*analytics.Result, error) {
	f.record(ctx, "run")
	if f.run == nil {
		return nil, nil
	}
	return f.run(q)
}

func (f *fakeAnalytics) Patterns(ctx context.Context, q string) (*analytics.Result, error) {
	f.record(ctx, "patterns")
	if f.patterns == nil {
		return nil, nil
	}
	return f.patterns(q)
}

type fakeRelational struct {
	args   []string
	result *relational.Result
	err    error
}

func (f *fakeRelational) Resolve(_ context.Context, table, attr, name string) (*relational.Result, error) {
	f.args = []string{table, attr, name}
	return f.result, f.err
}

type fakeRetriever struct {
	req    *rag.Request
	chunks []models.Chunk
	err    error
}

func (f *fakeRetriever) Retrieve(_ context.Context, req rag.Request) (*rag.Result, error) {
	f.req = &req
	if f.err != nil {
		return nil, f.err
	}
	return &rag.Result{Chunks: f.chunks, Scope: req.SourceTypes, Domain: classifier.DomainGeneral}, nil
}

type fakeGenerator struct {
	called bool
	chunks []models.Chunk
	text   string
	err    error
}

func (f *fakeGenerator) Answer(_ context.Context, _ string, chunks []models.Chunk, _ int) (string, error) {
	f.called = true
	f.chunks = chunks
	return f.text, f.err
}

type fixture struct {
	analytics  *fakeAnalytics
	relational *fakeRelational
	retriever  *fakeRetriever
	generator  *fakeGenerator
	pipeline   *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cls, err := classifier.Default()
	require.NoError(t, err)
	f := &fixture{
		analytics:  &fakeAnalytics{},
		relational: &fakeRelational{},
		retriever:  &fakeRetriever{},
		generator:  &fakeGenerator{text: "Réponse [S1]"},
	}
	f.pipeline = &Pipeline{
		Classifier: cls,
		Analytics:  f.analytics,
		Relational: f.relational,
		Retriever:  f.retriever,
		Generator:  f.generator,
		Model:      "llama3.2",
	}
	return f
}

func fundRow() models.Chunk {
	return models.Chunk{
		ID:         3,
		SourceType: models.RowSourceType("fonds"),
		SourceID:   "id=252",
		Content:    "TABLE=fonds | PK=id=252 | denomination=FCPR X | frais_gestion=2.5",
		Metadata:   map[string]any{"table": "fonds", "pk": map[string]any{"id": float64(252)}},
		Score:      0.8,
	}
}

func TestCRUDTakesPrecedenceOverKPI(t *testing.T) {
	for _, role := range []string{"admin", "analyst"} {
		t.Run(role, func(t *testing.T) {
			f := newFixture(t)
			f.analytics.run = func(string) (*analytics.Result, error) {
				return &analytics.Result{Text: "Le total est 1 TND", Hit: true, Used: map[string]any{"mode": "analytics:metric"}}, nil
			}

			res := f.pipeline.Answer(context.Background(), Request{Message: "Ajouter le total investi de 2023", Role: role})
			assert.Equal(t, models.CRUDOffer, res.Answer)
			assert.Equal(t, "router:crud", res.Used["mode"])
			require.Len(t, res.SuggestedActions, 1)
			assert.Equal(t, "crud", res.SuggestedActions[0].Type)
			assert.Empty(t, f.analytics.calls)
		})
	}
}

func TestRoleDenials(t *testing.T) {
	tests := []struct {
		name    string
		message string
		role    string
		want    string
	}{
		{"viewer crud", "Supprimer le fonds Alpha", "viewer", models.CRUDDenied},
		{"unknown role crud", "Modifier le projet Beta", "superuser", models.CRUDDenied},
		{"analyst crud", "Mettre à jour le capital du projet Beta", "analyst", models.CRUDOffer},
		{"viewer report", "Génère un rapport mensuel", "viewer", models.ReportDenied},
		{"analyst report", "Génère un rapport mensuel", "analyst", models.ReportOffer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			res := f.pipeline.Answer(context.Background(), Request{Message: tt.message, Role: tt.role})
			assert.Equal(t, tt.want, res.Answer)
			assert.Empty(t, f.analytics.calls)
			assert.Nil(t, f.retriever.req)
			assert.False(t, f.generator.called)
		})
	}
}

func TestDefinition(t *testing.T) {
	f := newFixture(t)
	res := f.pipeline.Answer(context.Background(), Request{Message: "C'est quoi un fonds ?"})
	assert.Equal(t, models.FundDefinition, res.Answer)
	assert.Equal(t, "router:definition", res.Used["mode"])
}

func TestAnalyticsAnswer(t *testing.T) {
	f := newFixture(t)
	f.analytics.run = func(string) (*analytics.Result, error) {
		return &analytics.Result{Text: "Le total est 5 TND", Hit: true, Used: map[string]any{"mode": "analytics:metric"}}, nil
	}
	res := f.pipeline.Answer(context.Background(), Request{Message: "Quel est le total investi ?", Role: "analyst"})
	assert.Equal(t, "Le total est 5 TND", res.Answer)
	assert.Equal(t, "analytics:metric", res.Used["mode"])
	assert.Equal(t, []string{"run"}, f.analytics.calls)
	assert.Equal(t, []policy.Role{policy.Analyst}, f.analytics.roles)
	assert.Nil(t, f.retriever.req)
}

func TestRelationalAnswer(t *testing.T) {
	f := newFixture(t)
	f.relational.result = &relational.Result{Text: "Durand", Hit: true, Used: map[string]any{"mode": relational.Mode, "hit": true}}

	res := f.pipeline.Answer(context.Background(), Request{Message: "Qui est l'actionnaire du projet nommé Toscani Mannifatture ?"})
	assert.Equal(t, "Durand", res.Answer)
	assert.Equal(t, []string{"projet", "actionnaire", "Toscani Mannifatture"}, f.relational.args)
	assert.Equal(t, []string{"run"}, f.analytics.calls)
}

func TestFoundButEmptyStopsTheCascade(t *testing.T) {
	f := newFixture(t)
	f.relational.result = &relational.Result{Text: models.RefusalData, Used: map[string]any{"mode": relational.Mode, "hit": false}}

	res := f.pipeline.Answer(context.Background(), Request{Message: "Qui est l'actionnaire du projet nommé Inconnu ?"})
	assert.Equal(t, models.RefusalData, res.Answer)
	assert.Equal(t, false, res.Used["hit"])
	assert.Nil(t, f.retriever.req)
}

func TestStageErrorsFallThrough(t *testing.T) {
	f := newFixture(t)
	f.analytics.run = func(string) (*analytics.Result, error) { return nil, errors.New("connection refused") }
	f.analytics.patterns = func(string) (*analytics.Result, error) {
		return &analytics.Result{Text: "Le nombre est 3.", Hit: true, Used: map[string]any{"mode": "sql:count"}}, nil
	}
	f.relational.err = errors.New("timeout")

	res := f.pipeline.Answer(context.Background(), Request{Message: "Qui est l'actionnaire du projet nommé Alpha ?"})
	assert.Equal(t, "Le nombre est 3.", res.Answer)
	assert.Equal(t, []string{"run", "patterns"}, f.analytics.calls)
}

func TestStructuredFirst(t *testing.T) {
	f := newFixture(t)
	f.retriever.chunks = []models.Chunk{fundRow()}

	res := f.pipeline.Answer(context.Background(), Request{Message: "Quels sont les frais de gestion du fonds X ?"})
	assert.Contains(t, res.Answer, "2.5")
	assert.Equal(t, "structured-first", res.Used["mode"])
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "id=252", res.Sources[0].SourceID)
	require.Len(t, res.Navigation, 1)
	assert.Equal(t, "/fonds/252", res.Navigation[0].Payload["route"])
	assert.False(t, f.generator.called)
}

func TestGenerativeFallback(t *testing.T) {
	doc := models.Chunk{ID: 9, SourceType: models.SourceTypePDF, SourceID: "rapport.pdf", Content: "La stratégie du fonds vise les PME.", Score: 0.7}
	f := newFixture(t)
	f.retriever.chunks = []models.Chunk{doc}

	res := f.pipeline.Answer(context.Background(), Request{Message: "Quelle est la stratégie d'investissement ?", TopK: 50})
	assert.Equal(t, "Réponse [S1]", res.Answer)
	assert.Equal(t, "llm-fallback", res.Used["mode"])
	assert.Equal(t, "llama3.2", res.Used["model"])
	assert.Equal(t, 8, f.retriever.req.TopK)
	assert.Equal(t, []models.Chunk{doc}, f.generator.chunks)
	assert.Empty(t, res.Navigation)
}

func TestGenerativeFailure(t *testing.T) {
	f := newFixture(t)
	f.generator.err = errors.New("context deadline exceeded")

	res := f.pipeline.Answer(context.Background(), Request{Message: "Quelle est la stratégie d'investissement ?"})
	assert.Equal(t, models.LLMUnavailable, res.Answer)
	assert.Equal(t, "llm-error", res.Used["mode"])
}

func TestRetrievalFailureStillAnswers(t *testing.T) {
	f := newFixture(t)
	f.retriever.err = errors.New("store down")
	f.generator.text = models.RefusalDocs

	res := f.pipeline.Answer(context.Background(), Request{Message: "Quelle est la stratégie d'investissement ?"})
	assert.Equal(t, models.RefusalDocs, res.Answer)
	assert.True(t, f.generator.called)
	assert.Empty(t, f.generator.chunks)
}

func TestAgentModeSkipsSQLStages(t *testing.T) {
	f := newFixture(t)
	res := f.pipeline.Answer(context.Background(), Request{Message: `Quels sont les frais du fonds "Maxula Croissance" ?`, Mode: ModeAgent})
	assert.Equal(t, "agent", res.Used["mode"])
	assert.Empty(t, f.analytics.calls)
	require.NotNil(t, f.retriever.req)
	assert.Equal(t, "Maxula Croissance", f.retriever.req.EntityHint)
	assert.Equal(t, []string{"maxula:fonds"}, f.retriever.req.SourceTypes)
}

func TestPanicBecomesInternalError(t *testing.T) {
	f := newFixture(t)
	f.analytics.run = func(string) (*analytics.Result, error) { panic("nil map") }

	res := f.pipeline.Answer(context.Background(), Request{Message: "Quel est le total investi ?"})
	assert.Equal(t, models.InternalError, res.Answer)
	assert.Equal(t, "error", res.Used["mode"])
	assert.Equal(t, "panic: nil map", res.Used["error"])
	assert.NotNil(t, res.Sources)
	assert.NotNil(t, res.SuggestedActions)
	assert.NotNil(t, res.Navigation)
}

func TestEnvelopeDefaults(t *testing.T) {
	f := newFixture(t)
	res := f.pipeline.Answer(context.Background(), Request{Message: "C'est quoi un fonds ?"})
	assert.NotNil(t, res.Sources)
	assert.NotNil(t, res.SuggestedActions)
	assert.NotNil(t, res.Navigation)
	assert.NotEmpty(t, res.Used["request_id"])

	f.generator.text = ""
	res = f.pipeline.Answer(context.Background(), Request{Message: "Bonjour"})
	assert.Equal(t, models.RefusalData, res.Answer)
}

func TestNavigation(t *testing.T) {
	project := models.Chunk{SourceType: models.RowSourceType("projet"), Metadata: map[string]any{"table": "projet", "pk": map[string]any{"id": 42}}}
	doc := models.Chunk{SourceType: models.SourceTypePDF}

	nav := navigation([]models.Chunk{doc, project, fundRow()})
	require.Len(t, nav, 1)
	assert.Equal(t, "open_page", nav[0].Type)
	assert.Equal(t, "/projects/42", nav[0].Payload["route"])
	assert.Nil(t, navigation([]models.Chunk{doc}))
}
