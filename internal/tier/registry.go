package tier

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
)

// Well-known external source identifiers.
const (
	SourceEconomicIndicators = "economic_indicators"
	SourceLiveMarketData     = "live_market_data"
	SourceWebSearch          = "web_search"
)

// Category groups sources for display and prompt sections.
type Category string

const (
	CategoryEconomic Category = "economic"
	CategoryMarket   Category = "market"
	CategorySearch   Category = "search"
)

// Rule is one row of the registry table.
type Rule struct {
	SourceID    string   `yaml:"id" json:"id"`
	Category    Category `yaml:"category" json:"category"`
	MinTier     Tier     `yaml:"min_tier" json:"min_tier"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
}

// SourceInfo describes a source available at some tier.
type SourceInfo struct {
	SourceID    string   `json:"source_id"`
	Category    Category `json:"category"`
	MinTier     Tier     `json:"min_tier"`
	Description string   `json:"description,omitempty"`
}

// Omission describes a source the tier cannot use, with an upgrade hint.
type Omission struct {
	SourceID     string `json:"source_id"`
	Reason       string `json:"reason"`
	RequiredTier *Tier  `json:"required_tier,omitempty"`
	UpgradeHint  string `json:"upgrade_hint,omitempty"`
}

// DefaultRules is the built-in source table.
var DefaultRules = []Rule{
	{SourceID: SourceEconomicIndicators, Category: CategoryEconomic, MinTier: Standard,
		Description: "Economic indicators (CPI, Fed funds rate, mortgage rates)"},
	{SourceID: SourceLiveMarketData, Category: CategoryMarket, MinTier: Premium,
		Description: "Live market data (CD, treasury and savings rates)"},
	{SourceID: SourceWebSearch, Category: CategorySearch, MinTier: Premium,
		Description: "Real-time financial news and institution rate search"},
}

// Registry is a static sourceID -> minimum tier lookup. A single minimum per
// source makes access monotonic in tier. Safe for concurrent reads.
type Registry struct {
	rules map[string]Rule
	order []string
}

// NewRegistry builds a registry from rules. Duplicate ids or invalid tiers
// are rejected.
func NewRegistry(rules []Rule) (*Registry, error) {
	r := &Registry{rules: make(map[string]Rule, len(rules))}
	for _, rule := range rules {
		if rule.SourceID == "" {
			return nil, fmt.Errorf("tier rule with empty source id")
		}
		if !rule.MinTier.Valid() {
			return nil, fmt.Errorf("source %s: %w: %d", rule.SourceID, ErrUnknownTier, int(rule.MinTier))
		}
		if _, dup := r.rules[rule.SourceID]; dup {
			return nil, fmt.Errorf("duplicate tier rule for source %s", rule.SourceID)
		}
		r.rules[rule.SourceID] = rule
		r.order = append(r.order, rule.SourceID)
	}
	sort.Strings(r.order)
	return r, nil
}

// DefaultRegistry returns a registry over DefaultRules.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultRules)
	if err != nil {
		panic(fmt.Sprintf("tier.DefaultRegistry: %v", err))
	}
	return r
}

// IsAllowed reports whether t may use sourceID. Unknown sources are never
// allowed.
func (r *Registry) IsAllowed(t Tier, sourceID string) bool {
	rule, ok := r.rules[sourceID]
	if !ok {
		log.Warn().Str("source_id", sourceID).Msg("tier_unknown_source")
		return false
	}
	return t.AtLeast(rule.MinTier)
}

// Rule returns the rule for sourceID.
func (r *Registry) Rule(sourceID string) (Rule, bool) {
	rule, ok := r.rules[sourceID]
	return rule, ok
}

// Sources returns every known source id, sorted.
func (r *Registry) Sources() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Available lists the sources t may use.
func (r *Registry) Available(t Tier) []SourceInfo {
	var out []SourceInfo
	for _, id := range r.order {
		rule := r.rules[id]
		if t.AtLeast(rule.MinTier) {
			out = append(out, SourceInfo{
				SourceID:    rule.SourceID,
				Category:    rule.Category,
				MinTier:     rule.MinTier,
				Description: rule.Description,
			})
		}
	}
	return out
}

// Unavailable lists the sources t may not use, each with an upgrade hint.
func (r *Registry) Unavailable(t Tier) []Omission {
	var out []Omission
	for _, id := range r.order {
		rule := r.rules[id]
		if !t.AtLeast(rule.MinTier) {
			out = append(out, Denied(rule))
		}
	}
	return out
}

// Denied builds the omission record for a tier-gated rule.
func Denied(rule Rule) Omission {
	min := rule.MinTier
	return Omission{
		SourceID:     rule.SourceID,
		Reason:       "tier",
		RequiredTier: &min,
		UpgradeHint:  UpgradeHint(rule),
	}
}

// UpgradeHint is the user-facing message for a gated source.
func UpgradeHint(rule Rule) string {
	name := rule.Description
	if name == "" {
		name = rule.SourceID
	}
	return fmt.Sprintf("Upgrade to %s to include %s.", rule.MinTier, name)
}
