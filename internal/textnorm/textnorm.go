// Package textnorm holds the text folding and tokenizing rules shared by the
// classifier, the retriever and the structured answerer.
package textnorm

import (
	"strings"
	"unicode"

	"github.com/kljensen/snowball"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stopwords = map[string]struct{}{
	"le": {}, "la": {}, "les": {}, "de": {}, "du": {}, "des": {}, "un": {}, "une": {},
	"et": {}, "ou": {}, "en": {}, "au": {}, "aux": {}, "pour": {}, "par": {}, "sur": {},
	"dans": {}, "est": {}, "sont": {}, "quel": {}, "quelle": {}, "quels": {}, "quelles": {},
	"qui": {}, "que": {}, "quoi": {}, "avec": {}, "son": {}, "sa": {}, "ses": {}, "ce": {},
	"cette": {}, "ces": {}, "the": {}, "of": {}, "and": {},
}

// Fold strips accents (NFKD, combining marks removed) and lowercases s.
func Fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

// Tokens splits the folded text on anything that is not a letter or a digit.
func Tokens(s string) []string {
	return strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Significant returns the tokens of s that are not stopwords and have at
// least three characters, in order of appearance.
func Significant(s string) []string {
	var out []string
	for _, tok := range Tokens(s) {
		if len([]rune(tok)) < 3 {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// Stem returns the French snowball stem of word, or word itself when the
// stemmer rejects it.
func Stem(word string) string {
	stemmed, err := snowball.Stem(word, "french", true)
	if err != nil || stemmed == "" {
		return word
	}
	return stemmed
}

// StemSet returns the set of stems of the tokens of s.
func StemSet(s string) map[string]struct{} {
	toks := Tokens(s)
	set := make(map[string]struct{}, len(toks))
	for _, tok := range toks {
		set[Stem(tok)] = struct{}{}
	}
	return set
}
