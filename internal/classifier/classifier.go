// Package classifier maps a free-text question to an intent, a domain and the
// retrieval scope of that domain, using an ordered, data-driven rule table.
package classifier

import (
	"fmt"
	"regexp"
)

// Classification is the result of Classify.
type Classification struct {
	Intent     Intent
	Domain     Domain
	Scope      []string
	EntityHint string
}

type intentMatcher struct {
	intent Intent
	re     *regexp.Regexp
}

type domainMatcher struct {
	domain   Domain
	priority int
	re       *regexp.Regexp
}

type overrideMatcher struct {
	name      string
	all       []*regexp.Regexp
	domain    Domain
	scopeFrom []Domain
}

// Classifier holds a compiled rule set. It is immutable and safe for
// concurrent use.
type Classifier struct {
	intents   []intentMatcher
	domains   []domainMatcher
	overrides []overrideMatcher
	scopes    map[Domain][]string
}

// New compiles a rule set. Domain rules are kept in priority order, stable on
// declaration order.
func New(rs *RuleSet) (*Classifier, error) {
	c := &Classifier{scopes: make(map[Domain][]string, len(rs.Scopes))}
	for d, s := range rs.Scopes {
		c.scopes[d] = append([]string(nil), s...)
	}

	for _, r := range rs.Intents {
		re, err := compileTerms(r.Terms)
		if err != nil {
			return nil, fmt.Errorf("intent %q: %w", r.Intent, err)
		}
		c.intents = append(c.intents, intentMatcher{intent: r.Intent, re: re})
	}

	for _, r := range rs.Domains {
		re, err := compileTerms(r.Terms)
		if err != nil {
			return nil, fmt.Errorf("domain %q: %w", r.Domain, err)
		}
		m := domainMatcher{domain: r.Domain, priority: r.Priority, re: re}
		i := len(c.domains)
		for i > 0 && c.domains[i-1].priority < m.priority {
			i--
		}
		c.domains = append(c.domains, domainMatcher{})
		copy(c.domains[i+1:], c.domains[i:])
		c.domains[i] = m
	}

	for _, r := range rs.Overrides {
		o := overrideMatcher{name: r.Name, domain: r.Domain, scopeFrom: r.ScopeFrom}
		for _, group := range r.All {
			re, err := compileTerms(group)
			if err != nil {
				return nil, fmt.Errorf("override %q: %w", r.Name, err)
			}
			o.all = append(o.all, re)
		}
		c.overrides = append(c.overrides, o)
	}
	return c, nil
}

// Default compiles the embedded rule table.
func Default() (*Classifier, error) {
	rs, err := LoadRules("")
	if err != nil {
		return nil, err
	}
	return New(rs)
}

// Classify evaluates intent rules in order, then domain rules by priority,
// then co-occurrence overrides. The scope covers every top priority domain.
func (c *Classifier) Classify(question string) Classification {
	out := Classification{
		Intent:     c.Intent(question),
		EntityHint: EntityHint(question),
	}
	hits := c.topDomains(question)
	out.Domain = DomainGeneral
	if len(hits) > 0 {
		out.Domain = hits[0]
	}
	out.Scope = c.mergeScopes(hits)

	for _, o := range c.overrides {
		if !o.matches(question) {
			continue
		}
		out.Domain = o.domain
		out.Scope = c.mergeScopes(o.scopeFrom)
		break
	}
	return out
}

// Intent returns the first matching intent rule, or IntentQA.
func (c *Classifier) Intent(question string) Intent {
	for _, m := range c.intents {
		if m.re.MatchString(question) {
			return m.intent
		}
	}
	return IntentQA
}

// Domain returns the highest priority matching domain, or DomainGeneral.
func (c *Classifier) Domain(question string) Domain {
	for _, m := range c.domains {
		if m.re.MatchString(question) {
			return m.domain
		}
	}
	return DomainGeneral
}

// topDomains returns every matching domain sharing the highest priority, in
// declaration order.
func (c *Classifier) topDomains(question string) []Domain {
	var out []Domain
	top := 0
	for _, m := range c.domains {
		if len(out) > 0 && m.priority < top {
			break
		}
		if m.re.MatchString(question) {
			if len(out) == 0 {
				top = m.priority
			}
			out = append(out, m.domain)
		}
	}
	return out
}

// ScopeFor returns a copy of the source types of a domain. General has none.
func (c *Classifier) ScopeFor(d Domain) []string {
	s := c.scopes[d]
	if len(s) == 0 {
		return nil
	}
	return append([]string(nil), s...)
}

func (c *Classifier) mergeScopes(domains []Domain) []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range domains {
		for _, st := range c.scopes[d] {
			if !seen[st] {
				seen[st] = true
				out = append(out, st)
			}
		}
	}
	return out
}

func (o overrideMatcher) matches(q string) bool {
	if len(o.all) == 0 {
		return false
	}
	for _, re := range o.all {
		if !re.MatchString(q) {
			return false
		}
	}
	return true
}
