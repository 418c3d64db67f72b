// Package rules holds the per-domain lock-transition table.
//
// A RuleSet maps (domain, field category) to a LockRule. Field categories are
// derived from the dot-separated field path by glob patterns ("safety.**").
// A RuleSet is loaded once per store and treated as read-only afterwards.
package rules

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/roach88/galed/internal/ir"
)

// CategoryGeneral is the fallback category for paths no pattern matches.
const CategoryGeneral = "general"

// Who names which author kinds satisfy a rule.
type Who string

const (
	WhoAny   Who = "any"
	WhoHuman Who = "human"
	WhoAI    Who = "ai"
	WhoNone  Who = "none" // nobody; the transition is frozen
)

// ValidWho defines allowed rule values.
var ValidWho = map[Who]bool{
	WhoAny:   true,
	WhoHuman: true,
	WhoAI:    true,
	WhoNone:  true,
}

// Permits reports whether an author of the given kind satisfies the rule.
// An empty Who is treated as WhoAny.
func (w Who) Permits(kind ir.AuthorKind) bool {
	switch w {
	case WhoAny, "":
		return ir.ValidAuthorKinds[kind]
	case WhoHuman:
		return kind == ir.AuthorHuman
	case WhoAI:
		return kind == ir.AuthorAI
	default:
		return false
	}
}

// LockRule is the lock-transition rule for one (domain, category).
type LockRule struct {
	// Resolve is who may accept proposals on a locked field.
	Resolve Who `yaml:"resolve"`

	// Lock is who may move a field into a locked state.
	Lock Who `yaml:"lock"`

	// Unlock is who may relax a lock (to OPEN, or LOCKED_HUMAN to LOCKED_AI).
	Unlock Who `yaml:"unlock"`

	// UnlockByProposal forbids direct unlocks: only an accepted lock proposal may unlock.
	UnlockByProposal bool `yaml:"unlock_by_proposal,omitempty"`

	// RequireLocked makes an OPEN field of this category a validation error.
	RequireLocked bool `yaml:"require_locked,omitempty"`
}

// Category groups field paths under a name by glob patterns.
// Patterns use dots as separators; "**" matches any number of segments.
type Category struct {
	Name     string   `yaml:"name"`
	Patterns []string `yaml:"patterns"`
}

// RuleSet is the complete rule table of a store.
type RuleSet struct {
	// Categories are matched in order; the first match wins.
	Categories []Category `yaml:"categories"`

	// Rules maps domain → category → rule.
	Rules map[ir.Domain]map[string]LockRule `yaml:"rules"`

	// Required lists field paths every requirement of a domain must carry.
	Required map[ir.Domain][]string `yaml:"required"`

	// Default applies when neither the domain nor the category has a rule.
	Default LockRule `yaml:"default"`
}

// Category returns the category name of a field path.
func (rs *RuleSet) Category(path string) string {
	name := strings.ReplaceAll(path, ".", "/")
	for _, c := range rs.Categories {
		for _, p := range c.Patterns {
			if ok, _ := doublestar.Match(strings.ReplaceAll(p, ".", "/"), name); ok {
				return c.Name
			}
		}
	}
	return CategoryGeneral
}

// Lookup returns the category and rule governing a field of a domain.
func (rs *RuleSet) Lookup(domain ir.Domain, path string) (string, LockRule) {
	category := rs.Category(path)
	if byCategory, ok := rs.Rules[domain]; ok {
		if rule, ok := byCategory[category]; ok {
			return category, rule
		}
		if rule, ok := byCategory[CategoryGeneral]; ok {
			return category, rule
		}
	}
	return category, rs.Default
}

// RequiredFields returns the sorted field paths a domain requires.
func (rs *RuleSet) RequiredFields(domain ir.Domain) []string {
	fields := slices.Clone(rs.Required[domain])
	slices.Sort(fields)
	return slices.Compact(fields)
}

// Validate checks the table itself. Returns all problems found.
func (rs *RuleSet) Validate() []error {
	var errs []error
	seen := make(map[string]bool)
	for i, c := range rs.Categories {
		if c.Name == "" {
			errs = append(errs, fmt.Errorf("categories[%d]: name is required", i))
		}
		if seen[c.Name] {
			errs = append(errs, fmt.Errorf("categories[%d]: duplicate category %q", i, c.Name))
		}
		seen[c.Name] = true
		for _, p := range c.Patterns {
			if !doublestar.ValidatePattern(strings.ReplaceAll(p, ".", "/")) {
				errs = append(errs, fmt.Errorf("categories[%d]: invalid pattern %q", i, p))
			}
		}
	}
	seen[CategoryGeneral] = true

	checkRule := func(where string, r LockRule) {
		for name, w := range map[string]Who{"resolve": r.Resolve, "lock": r.Lock, "unlock": r.Unlock} {
			if w != "" && !ValidWho[w] {
				errs = append(errs, fmt.Errorf("%s.%s: invalid value %q", where, name, w))
			}
		}
	}
	checkRule("default", rs.Default)

	for _, domain := range sortedDomains(rs.Rules) {
		if !ir.ValidDomains[domain] {
			errs = append(errs, fmt.Errorf("rules: unknown domain %q", domain))
		}
		byCategory := rs.Rules[domain]
		categories := make([]string, 0, len(byCategory))
		for c := range byCategory {
			categories = append(categories, c)
		}
		slices.Sort(categories)
		for _, c := range categories {
			if !seen[c] {
				errs = append(errs, fmt.Errorf("rules.%s: unknown category %q", domain, c))
			}
			checkRule(fmt.Sprintf("rules.%s.%s", domain, c), byCategory[c])
		}
	}
	return errs
}

func sortedDomains(m map[ir.Domain]map[string]LockRule) []ir.Domain {
	domains := make([]ir.Domain, 0, len(m))
	for d := range m {
		domains = append(domains, d)
	}
	slices.Sort(domains)
	return domains
}

// Parse decodes a YAML rule table. Sections absent from the document keep
// the values from Default(), so a file may override a single rule.
func Parse(data []byte) (*RuleSet, error) {
	var overlay RuleSet
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	rs := Default()
	if overlay.Categories != nil {
		rs.Categories = overlay.Categories
	}
	for domain, byCategory := range overlay.Rules {
		if rs.Rules[domain] == nil {
			rs.Rules[domain] = make(map[string]LockRule)
		}
		for c, r := range byCategory {
			rs.Rules[domain][c] = r
		}
	}
	for domain, fields := range overlay.Required {
		rs.Required[domain] = fields
	}
	if overlay.Default != (LockRule{}) {
		rs.Default = overlay.Default
	}

	if errs := rs.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid rules: %w", errs[0])
	}
	return rs, nil
}

// LoadFile reads a rule table from disk. A missing file yields Default().
func LoadFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return Parse(data)
}
