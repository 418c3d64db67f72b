package rules

import "github.com/roach88/galed/internal/ir"

// Built-in category names.
const (
	CategorySafety     = "safety"
	CategoryAcceptance = "acceptance"
	CategoryIdentity   = "identity"
)

// Default returns the built-in rule table.
//
// Regulated domains (clinical, aerospace) require human resolution for
// safety and acceptance fields, and unlocking a safety field is only possible
// through an accepted unlock proposal. Research requires humans for safety
// only. General allows any author kind everywhere.
func Default() *RuleSet {
	open := LockRule{Resolve: WhoAny, Lock: WhoAny, Unlock: WhoAny}
	humanSafety := LockRule{
		Resolve:          WhoHuman,
		Lock:             WhoAny,
		Unlock:           WhoHuman,
		UnlockByProposal: true,
		RequireLocked:    true,
	}
	humanAcceptance := LockRule{Resolve: WhoHuman, Lock: WhoAny, Unlock: WhoHuman}

	return &RuleSet{
		Categories: []Category{
			{Name: CategorySafety, Patterns: []string{"safety.**", "hazard.**", "risk.**"}},
			{Name: CategoryAcceptance, Patterns: []string{"ac.**", "acceptance.**"}},
			{Name: CategoryIdentity, Patterns: []string{"title", "statement"}},
		},
		Rules: map[ir.Domain]map[string]LockRule{
			ir.DomainClinical: {
				CategorySafety:     humanSafety,
				CategoryAcceptance: humanAcceptance,
				CategoryGeneral:    open,
			},
			ir.DomainAerospace: {
				CategorySafety:     humanSafety,
				CategoryAcceptance: humanAcceptance,
				CategoryGeneral:    open,
			},
			ir.DomainResearch: {
				CategorySafety:  LockRule{Resolve: WhoHuman, Lock: WhoAny, Unlock: WhoHuman},
				CategoryGeneral: open,
			},
			ir.DomainGeneral: {
				CategoryGeneral: open,
			},
		},
		Required: map[ir.Domain][]string{
			ir.DomainClinical:  {"title", "statement", "safety.classification"},
			ir.DomainAerospace: {"title", "statement", "safety.dal"},
			ir.DomainResearch:  {"title", "statement"},
			ir.DomainGeneral:   {"title", "statement"},
		},
		Default: open,
	}
}
