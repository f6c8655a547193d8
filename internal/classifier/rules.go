package classifier

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

type Intent string

const (
	IntentQA     Intent = "qa"
	IntentGuide  Intent = "guide"
	IntentCRUD   Intent = "crud"
	IntentReport Intent = "report"
)

type Domain string

const (
	DomainFonds        Domain = "fonds"
	DomainProjet       Domain = "projet"
	DomainSouscription Domain = "souscription"
	DomainLiberation   Domain = "liberation"
	DomainDocument     Domain = "document"
	DomainGeneral      Domain = "general"
)

// RuleSet is the data form of the classification table.
type RuleSet struct {
	Intents   []IntentRule        `yaml:"intents"`
	Domains   []DomainRule        `yaml:"domains"`
	Overrides []OverrideRule      `yaml:"overrides"`
	Scopes    map[Domain][]string `yaml:"scopes"`
}

type IntentRule struct {
	Intent Intent   `yaml:"intent"`
	Terms  []string `yaml:"terms"`
}

type DomainRule struct {
	Domain   Domain   `yaml:"domain"`
	Priority int      `yaml:"priority"`
	Terms    []string `yaml:"terms"`
}

// OverrideRule forces a domain and a merged scope when every group in All
// has a matching term.
type OverrideRule struct {
	Name      string     `yaml:"name"`
	All       [][]string `yaml:"all"`
	Domain    Domain     `yaml:"domain"`
	ScopeFrom []Domain   `yaml:"scope_from"`
}

// LoadRules reads a rule file, or the embedded table when path is empty.
func LoadRules(path string) (*RuleSet, error) {
	data := defaultRules
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read rules: %w", err)
		}
		data = b
	}
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	return &rs, nil
}

// compileTerms builds one case-insensitive pattern matching any term as a
// whole word. Go's \b is ASCII only, so boundaries are spelled out.
func compileTerms(terms []string) (*regexp.Regexp, error) {
	if len(terms) == 0 {
		return nil, fmt.Errorf("empty term list")
	}
	alts := make([]string, len(terms))
	for i, t := range terms {
		alts[i] = "(?:" + t + ")"
	}
	return regexp.Compile(`(?i)(?:^|[^\p{L}\p{N}_])(?:` + strings.Join(alts, "|") + `)(?:$|[^\p{L}\p{N}_])`)
}
