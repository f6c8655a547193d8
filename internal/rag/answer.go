package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"pams-ai/internal/models"
)

// Completer is a single-turn text completion (llmservice.Client).
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Generator answers from retrieved chunks with the generative model.
type Generator struct {
	llm       Completer
	maxTokens int
}

func NewGenerator(llm Completer, maxContextTokens int) *Generator {
	return &Generator{llm: llm, maxTokens: maxContextTokens}
}

// Answer packs chunks within maxChars and asks the model to answer from that
// context only. No usable context yields the document refusal without a
// model call.
func (g *Generator) Answer(ctx context.Context, question string, chunks []models.Chunk, maxChars int) (string, error) {
	contextText, kept := PackContext(chunks, maxChars, g.maxTokens)
	if kept == 0 {
		return models.RefusalDocs, nil
	}
	zerolog.Ctx(ctx).Debug().Int("sources", kept).Int("chars", len(contextText)).Msg("context packed")

	prompt := fmt.Sprintf(models.AnswerPromptTemplate, question, contextText)
	text, err := g.llm.Complete(ctx, models.SystemPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	return strings.TrimSpace(text), nil
}
