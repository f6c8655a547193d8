package rag

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"

	"pams-ai/internal/models"
	"pams-ai/internal/structured"
)

// rowFieldPriority selects the fields of a row chunk shown to the model.
var rowFieldPriority = []string{
	"nom", "denomination", "raison_sociale", "alias",
	"activite", "secteur", "domaine",
	"montant", "duree", "capital_social", "capital",
	"frais_gestion", "frais_depositaire", "num_visa_cmf",
	"date_lancement", "date_visa_cmf", "statut",
}

const (
	rowSnippetChars = 450
	docContentChars = 1500
)

var codec = sync.OnceValues(func() (tokenizer.Codec, error) {
	return tokenizer.Get(tokenizer.Cl100kBase)
})

// CompactSource renders chunk i (1-based) as a cited context block.
func CompactSource(i int, c models.Chunk) string {
	if c.IsRow() {
		kv := structured.ParseFields(c.Content)
		var fields []string
		for _, k := range rowFieldPriority {
			if v, ok := kv[k]; ok {
				fields = append(fields, k+"="+v)
			}
		}
		head := fmt.Sprintf("[S%d] score=%.3f SOURCE=%s|%s table=%s pk=%v", i, c.Score, c.SourceType, c.SourceID, c.Table(), c.PK())
		if len(fields) > 0 {
			return head + "\nFIELDS: " + strings.Join(fields, "; ") + "\n"
		}
		return head + "\nSNIPPET: " + strings.ReplaceAll(truncateRunes(c.Content, rowSnippetChars), "\n", " ") + "\n"
	}
	return fmt.Sprintf("[S%d] score=%.3f SOURCE=%s|%s file=%v page=%v\nCONTENT:\n%s\n",
		i, c.Score, c.SourceType, c.SourceID, c.Metadata["file"], c.Metadata["page"],
		strings.TrimSpace(truncateRunes(c.Content, docContentChars)))
}

// PackContext joins compacted sources in rank order while they fit both the
// character and the token budget. It returns the context and the number of
// sources kept. A non-positive budget is unlimited.
func PackContext(chunks []models.Chunk, maxChars, maxTokens int) (string, int) {
	enc, err := codec()
	if err != nil {
		log.Warn().Err(err).Msg("tokenizer unavailable, packing by characters only")
		enc = nil
	}

	var b strings.Builder
	chars, tokens, kept := 0, 0, 0
	for i, c := range chunks {
		block := CompactSource(i+1, c)
		if kept > 0 {
			block = models.ContextSeparator + block
		}
		n := len([]rune(block))
		if maxChars > 0 && chars+n > maxChars {
			break
		}
		if enc != nil && maxTokens > 0 {
			ids, _, err := enc.Encode(block)
			if err == nil {
				if tokens+len(ids) > maxTokens {
					break
				}
				tokens += len(ids)
			}
		}
		b.WriteString(block)
		chars += n
		kept++
	}
	return b.String(), kept
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
