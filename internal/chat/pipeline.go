// Package chat runs a question through the deterministic resolvers, then
// retrieval, then the generative fallback, and returns the first answer.
package chat

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pams-ai/internal/analytics"
	"pams-ai/internal/classifier"
	"pams-ai/internal/helper"
	"pams-ai/internal/models"
	"pams-ai/internal/plan"
	"pams-ai/internal/policy"
	"pams-ai/internal/rag"
	"pams-ai/internal/relational"
	"pams-ai/internal/structured"
)

const (
	ModeRAG   = "rag"
	ModeAgent = "agent"
)

type Request struct {
	Message string `json:"message"`
	TopK    int    `json:"top_k"`
	Role    string `json:"role"`
	// Mode is "rag" (default) or "agent".
	Mode  string `json:"mode"`
	Debug bool   `json:"debug"`
}

// Analytics is satisfied by *analytics.Engine.
type Analytics interface {
	Run(ctx context.Context, question string) (*analytics.Result, error)
	Patterns(ctx context.Context, question string) (*analytics.Result, error)
}

// Relational is satisfied by *relational.Resolver.
type Relational interface {
	Resolve(ctx context.Context, entityTable, attribute, entityName string) (*relational.Result, error)
}

// Retriever is satisfied by *rag.Retriever.
type Retriever interface {
	Retrieve(ctx context.Context, req rag.Request) (*rag.Result, error)
}

// Generator is satisfied by *rag.Generator.
type Generator interface {
	Answer(ctx context.Context, question string, chunks []models.Chunk, maxChars int) (string, error)
}

// Pipeline holds the stages. Analytics and Relational may be nil when no
// business database is configured; their stages are then skipped.
type Pipeline struct {
	Classifier *classifier.Classifier
	Analytics  Analytics
	Relational Relational
	Retriever  Retriever
	Generator  Generator
	// Model is reported in traces only.
	Model string
}

var (
	definitionRe = regexp.MustCompile(`(?i)(?:^|[^\p{L}])(?:c['’]est\s+quoi|ça\s+veut\s+dire|d[ée]finition)(?:$|[^\p{L}])`)
	fundRe       = regexp.MustCompile(`(?i)(?:^|[^\p{L}])fonds?(?:$|[^\p{L}])`)
)

// Answer always returns a complete envelope. Panics and unexpected errors
// become the internal error answer.
func (p *Pipeline) Answer(ctx context.Context, req Request) (res models.QueryResult) {
	requestID, err := helper.GenerateUUID()
	if err != nil {
		requestID = fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	role := policy.ParseRole(req.Role)
	logger := log.Ctx(ctx).With().Str("request_id", requestID).Str("role", string(role)).Logger()
	ctx = logger.WithContext(policy.WithRole(ctx, role))

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("chat pipeline panicked")
			res = internalError(fmt.Sprintf("panic: %v", r))
		}
		res.Complete()
		res.Used["request_id"] = requestID
	}()

	start := time.Now()
	res, err = p.run(ctx, req, role)
	if err != nil {
		logger.Error().Err(err).Msg("chat pipeline failed")
		res = internalError(err.Error())
	}
	logger.Info().Str("mode", fmt.Sprint(res.Used["mode"])).Dur("took", time.Since(start)).Msg("question answered")
	return res
}

func (p *Pipeline) run(ctx context.Context, req Request, role policy.Role) (models.QueryResult, error) {
	logger := zerolog.Ctx(ctx)
	msg := req.Message
	pol := policy.For(role)
	topK := pol.ClampTopK(req.TopK)
	cls := p.Classifier.Classify(msg)

	switch cls.Intent {
	case classifier.IntentReport:
		if !pol.Allows(policy.Report) {
			return denied(models.ReportDenied, "router:report"), nil
		}
		return models.QueryResult{
			Answer:           models.ReportOffer,
			SuggestedActions: []models.Action{{Type: "report", Payload: map[string]any{"name": "ask_user_params"}}},
			Used:             map[string]any{"mode": "router:report"},
		}, nil
	case classifier.IntentCRUD:
		if !pol.Allows(policy.Draft) {
			return denied(models.CRUDDenied, "router:crud"), nil
		}
		return models.QueryResult{
			Answer:           models.CRUDOffer,
			SuggestedActions: []models.Action{{Type: "crud", Payload: map[string]any{"name": "draft_action_from_user"}}},
			Used:             map[string]any{"mode": "router:crud"},
		}, nil
	}

	if definitionRe.MatchString(msg) && fundRe.MatchString(msg) {
		return models.QueryResult{Answer: models.FundDefinition, Used: map[string]any{"mode": "router:definition"}}, nil
	}

	retrieve := rag.Request{Query: msg, TopK: topK}
	if req.Mode == ModeAgent {
		retrieve.SourceTypes = pol.FilterSourceTypes(cls.Scope)
		retrieve.EntityHint = cls.EntityHint
	} else {
		if res := p.deterministic(ctx, msg); res != nil {
			return *res, nil
		}
		if len(pol.AllowedSourceTypes) > 0 {
			retrieve.SourceTypes = pol.FilterSourceTypes(cls.Scope)
		}
	}

	var chunks []models.Chunk
	used := map[string]any{"top_k": topK, "domain": string(cls.Domain), "scope": cls.Scope, "debug": req.Debug}
	if p.Retriever != nil {
		ret, err := p.Retriever.Retrieve(ctx, retrieve)
		if err != nil {
			logger.Warn().Err(err).Str("stage", "retrieve").Msg("stage failed, falling through")
		} else {
			chunks = ret.Chunks
			used["domain"] = string(ret.Domain)
			used["scope"] = ret.Scope
			used["widened"] = ret.Widened
		}
	}
	sources := models.SourcesFromChunks(chunks)
	nav := navigation(chunks)

	if req.Mode != ModeAgent {
		if text, ok := structured.Answer(msg, chunks); ok {
			used["mode"] = "structured-first"
			return models.QueryResult{Answer: text, Sources: sources, Navigation: nav, Used: used}, nil
		}
	}

	used["model"] = p.Model
	used["mode"] = "llm-fallback"
	if req.Mode == ModeAgent {
		used["mode"] = "agent"
	}
	text, err := p.Generator.Answer(ctx, msg, chunks, pol.MaxContextChars)
	if err != nil {
		logger.Warn().Err(err).Str("stage", "generate").Msg("generative fallback failed")
		used["mode"] = "llm-error"
		used["error"] = err.Error()
		text = models.LLMUnavailable
	}
	return models.QueryResult{Answer: text, Sources: sources, Navigation: nav, Used: used}, nil
}

// deterministic runs the SQL backed stages in priority order. Infrastructure
// errors are logged and the next stage is tried.
func (p *Pipeline) deterministic(ctx context.Context, msg string) *models.QueryResult {
	logger := zerolog.Ctx(ctx)
	fallThrough := func(stage string, err error) {
		logger.Warn().Err(err).Str("stage", stage).Msg("stage failed, falling through")
	}

	if p.Analytics != nil {
		res, err := p.Analytics.Run(ctx, msg)
		switch {
		case err != nil:
			fallThrough("analytics", err)
		case res != nil:
			return &models.QueryResult{Answer: res.Text, Used: res.Used}
		}
	}

	if rel, ok := plan.Parse(msg).(plan.Relational); ok && p.Relational != nil {
		res, err := p.Relational.Resolve(ctx, rel.EntityTable, rel.Attribute, rel.EntityName)
		switch {
		case err != nil:
			fallThrough("relational", err)
		case res != nil:
			return &models.QueryResult{Answer: res.Text, Used: res.Used}
		}
	}

	if p.Analytics != nil {
		res, err := p.Analytics.Patterns(ctx, msg)
		switch {
		case err != nil:
			fallThrough("patterns", err)
		case res != nil:
			return &models.QueryResult{Answer: res.Text, Used: res.Used}
		}
	}
	return nil
}

func denied(text, mode string) models.QueryResult {
	return models.QueryResult{Answer: text, Used: map[string]any{"mode": mode, "denied": true}}
}

func internalError(tag string) models.QueryResult {
	return models.QueryResult{
		Answer: models.InternalError,
		Used:   map[string]any{"mode": "error", "error": tag},
	}
}

// navigation opens the page of the first project or fund among the chunks.
func navigation(chunks []models.Chunk) []models.Action {
	routes := map[string]string{"projet": "/projects/", "fonds": "/fonds/"}
	for _, c := range chunks {
		prefix, ok := routes[c.Table()]
		if !ok {
			continue
		}
		id, ok := c.PK()["id"]
		if !ok || id == nil {
			continue
		}
		return []models.Action{{Type: "open_page", Payload: map[string]any{"route": prefix + fmt.Sprint(id)}}}
	}
	return nil
}
