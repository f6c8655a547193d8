// Package structured answers single-field questions directly from the
// key=value encoding of row chunks.
package structured

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"pams-ai/internal/classifier"
	"pams-ai/internal/models"
	"pams-ai/internal/textnorm"
)

const (
	directScore  = 6
	synonymScore = 12
	synKeyScore  = 10
	hintScore    = 50
)

type synonym struct {
	field string
	terms []string
}

// synonyms is ordered; its order is also the tie-break order between fields
// with equal scores.
var synonyms = []synonym{
	{"nom", []string{"nom", "denomination", "dénomination", "raison sociale", "raison_sociale"}},
	{"alias", []string{"alias", "code", "sigle"}},
	{"statut", []string{"statut", "etat", "état"}},
	{"montant", []string{"montant", "taille", "encours"}},
	{"duree", []string{"duree", "durée"}},
	{"frais_gestion", []string{"frais de gestion", "frais gestion"}},
	{"frais_depositaire", []string{"frais depositaire", "frais dépositaire"}},
	{"num_visa_cmf", []string{"visa", "cmf", "num visa", "num_visa_cmf"}},
	{"date_lancement", []string{"date lancement", "date de lancement", "lancement"}},
	{"activite", []string{"activite", "activité", "secteur", "domaine"}},
	{"capital_social", []string{"capital social", "capital_social", "capital", "capitalisation"}},
}

type boost struct {
	field string
	terms []string
	bonus int
}

var boosts = []boost{
	{"activite", []string{"activite", "activite du projet", "secteur", "domaine"}, 25},
	{"montant", []string{"montant", "taille", "encours"}, 18},
	{"frais_gestion", []string{"frais de gestion", "frais gestion"}, 18},
	{"frais_depositaire", []string{"frais depositaire"}, 18},
	{"capital_social", []string{"capital", "capital social"}, 15},
	{"duree", []string{"duree"}, 12},
}

var nameFields = []string{"nom", "denomination", "raison_sociale", "alias"}

// Fields is the parsed key=value encoding of a row chunk, in content order.
type Fields struct {
	Keys   []string
	Values map[string]string
}

func (f Fields) Get(k string) (string, bool) {
	v, ok := f.Values[k]
	return v, ok
}

// Name returns the first name-like field value.
func (f Fields) Name() string {
	for _, k := range nameFields {
		if v := f.Values[k]; v != "" {
			return v
		}
	}
	return ""
}

// Parse reads "TABLE=t | PK=id=1 | col=val | ...". TABLE and PK are kept
// out of Keys.
func Parse(content string) Fields {
	f := Fields{Values: make(map[string]string)}
	for _, part := range strings.Split(content, "|") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k == "" {
			continue
		}
		if _, dup := f.Values[k]; !dup && k != "TABLE" && k != "PK" {
			f.Keys = append(f.Keys, k)
		}
		f.Values[k] = v
	}
	return f
}

// ParseFields returns the plain map form of Parse.
func ParseFields(content string) map[string]string {
	return Parse(content).Values
}

type candidate struct {
	score  int
	index  int
	chunk  models.Chunk
	fields Fields
}

// Answer picks the row chunk that best matches the entity hint and the field
// the question asks for. It returns false when nothing scores or the value is
// empty.
func Answer(question string, chunks []models.Chunk) (string, bool) {
	hint := textnorm.Fold(classifier.EntityHint(question))

	var cands []candidate
	for i, c := range chunks {
		if !c.IsRow() {
			continue
		}
		f := Parse(c.Content)
		if len(f.Keys) == 0 {
			continue
		}
		s := int(c.Score * 10)
		if name := textnorm.Fold(f.Name()); hint != "" && name != "" && strings.Contains(name, hint) {
			s += hintScore
		}
		cands = append(cands, candidate{score: s, index: i, chunk: c, fields: f})
	}
	if len(cands) == 0 {
		return "", false
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	best := cands[0]

	field, ok := GuessField(question, best.fields.Keys)
	if !ok {
		return "", false
	}
	val := best.fields.Values[field]
	if val == "" {
		return "", false
	}

	label := ""
	if name := best.fields.Name(); name != "" {
		label = " **" + name + "**"
	}
	return fmt.Sprintf("%s de%s : **%s**. [S%d]", capitalize(strings.ReplaceAll(field, "_", " ")), label, val, best.index+1), true
}

// GuessField scores the available fields against the question: +6 when the
// field name appears, +12 or +10 through the synonym table, plus keyword
// boosts. Equal scores go to the field that comes first in the synonym table,
// then to the first available field.
func GuessField(question string, available []string) (string, bool) {
	q := textnorm.Fold(question)
	byFolded := make(map[string]string, len(available))
	for _, f := range available {
		byFolded[textnorm.Fold(f)] = f
	}
	scores := make(map[string]int, len(available))

	for _, f := range available {
		if fn := strings.ReplaceAll(textnorm.Fold(f), "_", " "); fn != "" && strings.Contains(q, fn) {
			scores[f] += directScore
		}
	}

	for _, syn := range synonyms {
		counted := make(map[string]bool, len(syn.terms))
		for _, term := range syn.terms {
			t := textnorm.Fold(term)
			if t == "" || counted[t] || !strings.Contains(q, t) {
				continue
			}
			counted[t] = true
			if f, ok := byFolded[syn.field]; ok {
				scores[f] += synonymScore
			}
			if f, ok := byFolded[strings.ReplaceAll(t, " ", "_")]; ok && f != byFolded[syn.field] {
				scores[f] += synKeyScore
			}
		}
	}

	for _, b := range boosts {
		for _, term := range b.terms {
			if strings.Contains(q, textnorm.Fold(term)) {
				if f, ok := byFolded[b.field]; ok {
					scores[f] += b.bonus
				}
				break
			}
		}
	}

	best, bestScore := "", 0
	for _, f := range tieOrder(available, byFolded) {
		if scores[f] > bestScore {
			best, bestScore = f, scores[f]
		}
	}
	return best, bestScore > 0
}

func tieOrder(available []string, byFolded map[string]string) []string {
	seen := make(map[string]bool, len(available))
	out := make([]string, 0, len(available))
	for _, syn := range synonyms {
		if f, ok := byFolded[syn.field]; ok && !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	for _, f := range available {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

func capitalize(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[n:]
}
