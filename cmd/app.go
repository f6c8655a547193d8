package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/uptrace/bun"

	"pams-ai/internal/analytics"
	"pams-ai/internal/chat"
	"pams-ai/internal/chromemdb"
	"pams-ai/internal/classifier"
	"pams-ai/internal/config"
	"pams-ai/internal/db"
	"pams-ai/internal/embedding"
	"pams-ai/internal/ingest"
	"pams-ai/internal/llmservice"
	"pams-ai/internal/rag"
	"pams-ai/internal/relational"
	"pams-ai/internal/schemagraph"
	"pams-ai/internal/sqlexec"
)

// chunkStore is implemented by db.ChunkStore and chromemdb.Store.
type chunkStore interface {
	rag.Store
	ingest.Store
}

// app builds the components of one command lazily from cfg.
type app struct {
	cfg *config.Config

	bunDB  *bun.DB
	store  chunkStore
	embed  *embedding.Cache
	graphs *schemagraph.Cache
}

func newApp() *app {
	return &app{cfg: cfg}
}

func (a *app) Close() {
	if a.bunDB != nil {
		_ = a.bunDB.Close()
	}
}

func (a *app) hasDatabase() bool {
	return a.cfg.Database.URL != ""
}

func (a *app) database() (*bun.DB, error) {
	if a.bunDB != nil {
		return a.bunDB, nil
	}
	sqldb, err := db.ConnectDB(&a.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.bunDB = db.NewDB(sqldb, a.cfg.Database.Debug)
	return a.bunDB, nil
}

func (a *app) chunkStore(ctx context.Context) (chunkStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	switch a.cfg.Store.Backend {
	case "chromem":
		s, err := chromemdb.NewStore(ctx, a.cfg.Store.ChromemPath, a.cfg.Store.Dimension)
		if err != nil {
			return nil, err
		}
		a.store = s
	case "postgres", "":
		bdb, err := a.database()
		if err != nil {
			return nil, err
		}
		a.store = db.NewChunkStore(bdb)
	default:
		return nil, fmt.Errorf("unknown store backend %q", a.cfg.Store.Backend)
	}
	return a.store, nil
}

func (a *app) embedder() (*embedding.Cache, error) {
	if a.embed != nil {
		return a.embed, nil
	}
	inner, err := embedding.NewEmbedder(&a.cfg.EmbedLLM)
	if err != nil {
		return nil, err
	}
	a.embed = embedding.NewCache(inner, a.cfg.EmbedLLM.Timeout)
	return a.embed, nil
}

func (a *app) schema() (*schemagraph.Cache, error) {
	if a.graphs != nil {
		return a.graphs, nil
	}
	if !a.hasDatabase() {
		return nil, errors.New("no business database configured (database.url or DATABASE_URL)")
	}
	bdb, err := a.database()
	if err != nil {
		return nil, err
	}
	loader := schemagraph.NewLoader(bdb, a.cfg.Schema.Name, a.cfg.Schema.ExcludeTables)
	a.graphs = schemagraph.NewCache(loader, a.cfg.Schema.TTL)
	return a.graphs, nil
}

func (a *app) classifier() (*classifier.Classifier, error) {
	rules, err := classifier.LoadRules(a.cfg.Classifier.RulesFile)
	if err != nil {
		return nil, err
	}
	return classifier.New(rules)
}

func (a *app) retriever(ctx context.Context, cls *classifier.Classifier) (*rag.Retriever, error) {
	store, err := a.chunkStore(ctx)
	if err != nil {
		return nil, err
	}
	emb, err := a.embedder()
	if err != nil {
		return nil, err
	}
	return rag.NewRetriever(store, emb, cls, a.cfg.Retrieval, a.cfg.Store.Timeout), nil
}

// resolvers returns the SQL backed stages, or nils without a business database.
func (a *app) resolvers() (*analytics.Engine, *relational.Resolver, error) {
	if !a.hasDatabase() {
		return nil, nil, nil
	}
	graphs, err := a.schema()
	if err != nil {
		return nil, nil, err
	}
	bdb, err := a.database()
	if err != nil {
		return nil, nil, err
	}
	exec := sqlexec.NewExecutor(bdb, a.cfg.Analytics.SQLTimeout)
	return analytics.NewEngine(graphs, exec, a.cfg.Analytics),
		relational.NewResolver(graphs, exec, a.cfg.Analytics.MaxJoinHops), nil
}

func (a *app) pipeline(ctx context.Context) (*chat.Pipeline, error) {
	cls, err := a.classifier()
	if err != nil {
		return nil, err
	}
	retriever, err := a.retriever(ctx, cls)
	if err != nil {
		return nil, err
	}
	model, err := llmservice.NewModel(&a.cfg.ChatLLM)
	if err != nil {
		return nil, err
	}

	p := &chat.Pipeline{
		Classifier: cls,
		Retriever:  retriever,
		Generator:  rag.NewGenerator(llmservice.NewClient(model, a.cfg.ChatLLM), a.cfg.Retrieval.MaxContextTokens),
		Model:      a.cfg.ChatLLM.Model,
	}
	engine, resolver, err := a.resolvers()
	if err != nil {
		return nil, err
	}
	if engine != nil {
		p.Analytics = engine
		p.Relational = resolver
	} else {
		zerolog.Ctx(ctx).Warn().Msg("no business database configured, SQL stages disabled")
	}
	return p, nil
}
