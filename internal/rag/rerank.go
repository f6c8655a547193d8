package rag

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"pams-ai/internal/classifier"
	"pams-ai/internal/models"
	"pams-ai/internal/plan"
	"pams-ai/internal/textnorm"
)

const (
	yearBonus        = 0.15
	partialYearBonus = 0.05
	fundBonus        = 0.10
	phraseBonus      = 0.05
	phraseBonusCap   = 0.15
	documentBonus    = 0.05
)

// financePhrases are folded key phrases of financial statements.
var financePhrases = []string{
	"actif net",
	"valeur liquidative",
	"bilan",
	"31/12",
	"etats financiers",
	"rapport annuel",
	"compte de resultat",
	"situation financiere",
	"commissaire aux comptes",
	"portefeuille",
}

// titleVocabulary marks a query that names a financial report.
var titleVocabulary = []string{
	"etats financiers",
	"etat financier",
	"rapport annuel",
	"rapport de gestion",
	"bilan",
	"actif net",
	"valeur liquidative",
	"compte de resultat",
}

var genericFundWords = map[string]bool{"fonds": true, "fond": true, "fcpr": true, "fcp": true}

type reranker struct {
	domain      classifier.Domain
	year        string
	partialYear *regexp.Regexp
	fund        []string
}

func newReranker(query string, domain classifier.Domain) *reranker {
	r := &reranker{domain: domain}
	if y := plan.Year(query); y > 0 {
		r.year = strconv.Itoa(y)
		r.partialYear = regexp.MustCompile(`\d{1,2}[/.-]\d{1,2}[/.-]` + r.year[2:] + `(?:\D|$)`)
	}
	r.fund = fundTokens(plan.FundName(query))
	return r
}

// apply returns a reranked copy of chunks, best first. Ties keep input order.
func (r *reranker) apply(chunks []models.Chunk) []models.Chunk {
	out := make([]models.Chunk, len(chunks))
	for i, c := range chunks {
		c.Score += r.bonus(c)
		out[i] = c
	}
	sortByScore(out)
	return out
}

func (r *reranker) bonus(c models.Chunk) float64 {
	folded := textnorm.Fold(c.Content)
	b := 0.0

	if r.year != "" {
		switch {
		case strings.Contains(folded, r.year):
			b += yearBonus
		case r.partialYear.MatchString(folded):
			b += partialYearBonus
		}
	}

	if len(r.fund) > 0 {
		stems := textnorm.StemSet(folded)
		hits := 0
		for _, tok := range r.fund {
			if _, ok := stems[tok]; ok {
				hits++
			}
		}
		if hits >= min(2, len(r.fund)) {
			b += fundBonus
		}
	}

	phrases := 0.0
	for _, p := range financePhrases {
		if strings.Contains(folded, p) {
			phrases += phraseBonus
		}
	}
	b += min(phrases, phraseBonusCap)

	if r.domain == classifier.DomainDocument && c.IsDocument() {
		b += documentBonus
	}
	return b
}

// fundWords returns the distinctive words of a fund name in their original
// spelling, generic words such as "fonds" removed.
func fundWords(name string) []string {
	var out []string
	for _, w := range strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		f := textnorm.Fold(w)
		if genericFundWords[f] || len(textnorm.Significant(f)) == 0 {
			continue
		}
		out = append(out, w)
	}
	return out
}

// fundTokens returns the stems of the first four distinctive words.
func fundTokens(name string) []string {
	words := fundWords(name)
	if len(words) > 4 {
		words = words[:4]
	}
	out := make([]string, 0, len(words))
	for _, w := range words {
		out = append(out, textnorm.Stem(textnorm.Fold(w)))
	}
	return out
}

// LooksLikeDocumentTitle reports whether the query reads like the title of a
// financial document: statement vocabulary, or a mostly uppercase line that
// mentions a fund.
func LooksLikeDocumentTitle(query string) bool {
	folded := textnorm.Fold(query)
	for _, v := range titleVocabulary {
		if strings.Contains(folded, v) {
			return true
		}
	}

	letters, upper := 0, 0
	for _, r := range query {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters < 8 || float64(upper)/float64(letters) < 0.6 {
		return false
	}
	for _, tok := range textnorm.Tokens(query) {
		if tok == "fonds" || tok == "fcpr" {
			return true
		}
	}
	return false
}
