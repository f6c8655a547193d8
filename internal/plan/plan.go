// Package plan parses a question into one of a few analytic shapes. Each
// shape is its own type, so a relational plan always carries its tables.
package plan

import (
	"regexp"
	"strconv"
	"strings"

	"pams-ai/internal/textnorm"
)

type Agg string

const (
	Sum   Agg = "sum"
	Count Agg = "count"
	Avg   Agg = "avg"
	Min   Agg = "min"
	Max   Agg = "max"
)

// Plan is one of Relational, Aggregation or None.
type Plan interface {
	Kind() string
	isPlan()
}

// Relational asks for an attribute of one named entity, such as the bank of
// a fund.
type Relational struct {
	EntityTable string
	// Attribute is normalized to a column-like token ("banque", "etat_fonds").
	Attribute  string
	EntityName string
	Year       int
	FundName   string
}

// Aggregation asks for a sum, count, average, minimum or maximum.
type Aggregation struct {
	Agg      Agg
	Year     int
	FundName string
}

type None struct{}

func (Relational) Kind() string  { return "rel" }
func (Aggregation) Kind() string { return "agg" }
func (None) Kind() string        { return "none" }

func (Relational) isPlan()  {}
func (Aggregation) isPlan() {}
func (None) isPlan()        {}

const wordStart = `(?:^|[^\p{L}\p{N}_])`
const wordEnd = `(?:$|[^\p{L}\p{N}_])`

var (
	relRe = regexp.MustCompile(`(?i)` + wordStart +
		`(?:qui\s+est|quel(?:le)?\s+est)\s+(?:l['’]|le\s+|la\s+|les\s+)?` +
		`([\p{L}_\- ]{2,}?)\s+(?:du|de\s+la|de\s+l['’]|des|de)\s+([\p{L}_]+)`)

	aggRules = []struct {
		agg Agg
		re  *regexp.Regexp
	}{
		{Sum, regexp.MustCompile(`(?i)` + wordStart + `(?:total|somme|global|montant\s+total)` + wordEnd)},
		{Count, regexp.MustCompile(`(?i)` + wordStart + `(?:nombre|combien|count)` + wordEnd)},
		{Avg, regexp.MustCompile(`(?i)` + wordStart + `(?:moyenne|average)` + wordEnd)},
		{Min, regexp.MustCompile(`(?i)` + wordStart + `(?:minimum|min)` + wordEnd)},
		{Max, regexp.MustCompile(`(?i)` + wordStart + `(?:maximum|max)` + wordEnd)},
	}

	yearRe     = regexp.MustCompile(`(?:^|\D)((?:19|20)\d{2})(?:\D|$)`)
	quoteRe    = regexp.MustCompile(`["“«]\s*([^"”»]{3,}?)\s*["”»]`)
	namedRe    = regexp.MustCompile(`(?i)` + wordStart + `(?:nomm[ée]e?|appel[ée]e?)\s+([^?]+)`)
	fundWordRe = regexp.MustCompile(`(?i)` + wordStart + `fonds?` + wordEnd)
	fundNameRe = regexp.MustCompile(`(?i)` + wordStart + `fonds?(?:\s+(?:nomm[ée]e?|appel[ée]e?))?\s+([^?]+)`)
	articleRe  = regexp.MustCompile(`(?i)^(?:le|la|les)\s+|^l['’]`)
	namedPfxRe = regexp.MustCompile(`(?i)^(?:nomm[ée]e?|appel[ée]e?)\s+`)
	tailRe     = regexp.MustCompile(`(?i)(?:^|\s+)(?:pour|en|de|du|des|par|sur|avec|et|au|aux)(?:\s.*)?$`)
	punctRe    = regexp.MustCompile(`[\s?.!,;:"'“”«»]+$`)
	spaceRe    = regexp.MustCompile(`\s+`)
)

// Parse returns a Relational plan for "qui/quel est <attr> du <entity> ..."
// questions, an Aggregation plan when an aggregation word is present and None
// otherwise.
func Parse(question string) Plan {
	q := strings.TrimSpace(question)
	if m := relRe.FindStringSubmatch(q); m != nil {
		entity := strings.ToLower(m[2])
		name := EntityName(q)
		if name == "" {
			name = nameAfter(q, entity)
		}
		return Relational{
			EntityTable: entity,
			Attribute:   NormalizeAttr(m[1]),
			EntityName:  name,
			Year:        Year(q),
			FundName:    FundName(q),
		}
	}
	if agg, ok := DetectAgg(q); ok {
		return Aggregation{Agg: agg, Year: Year(q), FundName: FundName(q)}
	}
	return None{}
}

// DetectAgg returns the first aggregation family found, sum first.
func DetectAgg(q string) (Agg, bool) {
	for _, r := range aggRules {
		if r.re.MatchString(q) {
			return r.agg, true
		}
	}
	return "", false
}

// Year returns the first four-digit year (19xx or 20xx) in q, or 0.
func Year(q string) int {
	m := yearRe.FindStringSubmatch(q)
	if m == nil {
		return 0
	}
	y, _ := strconv.Atoi(m[1])
	return y
}

// EntityName returns quoted text or the words after nommé/appelé.
func EntityName(q string) string {
	if m := quoteRe.FindStringSubmatch(q); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := namedRe.FindStringSubmatch(q); m != nil {
		return tidy(m[1])
	}
	return ""
}

// FundName returns the name following "fonds" ("le fonds Maxula Croissance
// en 2023" gives "Maxula Croissance"). Quoted text wins when the question
// mentions a fund.
func FundName(q string) string {
	if fundWordRe.MatchString(q) {
		if m := quoteRe.FindStringSubmatch(q); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	m := fundNameRe.FindStringSubmatch(q)
	if m == nil {
		return ""
	}
	name := tidy(namedPfxRe.ReplaceAllString(strings.TrimSpace(m[1]), ""))
	name = strings.TrimSpace(tailRe.ReplaceAllString(name, ""))
	if len([]rune(name)) < 3 {
		return ""
	}
	return name
}

// NormalizeAttr turns "la banque dépositaire" into "banque_depositaire".
func NormalizeAttr(attr string) string {
	a := articleRe.ReplaceAllString(strings.TrimSpace(attr), "")
	a = spaceRe.ReplaceAllString(strings.TrimSpace(a), " ")
	a = strings.NewReplacer(" ", "_", "-", "_").Replace(a)
	return textnorm.Fold(a)
}

func nameAfter(q, entity string) string {
	re, err := regexp.Compile(`(?i)` + wordStart + regexp.QuoteMeta(entity) + `\s+([^?]+)`)
	if err != nil {
		return ""
	}
	m := re.FindStringSubmatch(q)
	if m == nil {
		return ""
	}
	name := namedPfxRe.ReplaceAllString(tidy(m[1]), "")
	name = strings.TrimSpace(tailRe.ReplaceAllString(name, ""))
	if len([]rune(name)) < 3 {
		return ""
	}
	return name
}

func tidy(s string) string {
	s = spaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
	return strings.TrimSpace(punctRe.ReplaceAllString(s, ""))
}
