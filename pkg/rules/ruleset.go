package rules

import (
	"sort"
	"strings"
	"sync"

	"github.com/coolbeans/riskscan/pkg/filing"
	"github.com/coolbeans/riskscan/pkg/section"
)

// RuleSet is a read-only, ordered view of registered rules. Rules bound to a
// label pair are compiled once and shared; a RuleSet is safe for concurrent
// use.
type RuleSet struct {
	rules []*BoundaryRule
	bound sync.Map // bindingKey -> *BoundRule
}

type bindingKey struct {
	ruleID string
	start  string
	end    string
}

// NewRuleSet builds a RuleSet from rules, ordering them for the cascade.
func NewRuleSet(rules []*BoundaryRule) *RuleSet {
	ordered := append([]*BoundaryRule(nil), rules...)
	sortCascade(ordered)
	return &RuleSet{rules: ordered}
}

// Len returns the number of rules in the set.
func (s *RuleSet) Len() int {
	return len(s.rules)
}

// Rules returns the rules in cascade order.
func (s *RuleSet) Rules() []*BoundaryRule {
	return append([]*BoundaryRule(nil), s.rules...)
}

// Active returns the rules taking part in one cascade: generic rules first,
// then the entity's overrides, each group by priority.
func (s *RuleSet) Active(kind filing.Kind, entityID string, start, end section.Label) []*BoundaryRule {
	var active []*BoundaryRule
	for _, rule := range s.rules {
		if rule.AppliesTo(kind, entityID, start, end) {
			active = append(active, rule)
		}
	}
	return active
}

// Bind returns the active rules compiled for the label pair.
func (s *RuleSet) Bind(kind filing.Kind, entityID string, start, end section.Label) ([]*BoundRule, error) {
	active := s.Active(kind, entityID, start, end)
	bound := make([]*BoundRule, 0, len(active))

	for _, rule := range active {
		key := bindingKey{ruleID: rule.ID, start: start.Number(), end: end.Number()}
		if cached, ok := s.bound.Load(key); ok {
			bound = append(bound, cached.(*BoundRule))
			continue
		}

		boundRule, err := rule.Bind(start, end)
		if err != nil {
			return nil, err
		}
		actual, _ := s.bound.LoadOrStore(key, boundRule)
		bound = append(bound, actual.(*BoundRule))
	}

	return bound, nil
}

// EntitiesWithOverrides returns the entities that have at least one
// entity-specific rule for the kind, sorted.
func (s *RuleSet) EntitiesWithOverrides(kind filing.Kind) []string {
	seen := make(map[string]bool)
	for _, rule := range s.rules {
		if rule.DocumentKind != "" && rule.DocumentKind != kind {
			continue
		}
		for _, entityID := range rule.Entities {
			seen[strings.ToUpper(entityID)] = true
		}
	}

	entities := make([]string, 0, len(seen))
	for entityID := range seen {
		entities = append(entities, entityID)
	}
	sort.Strings(entities)
	return entities
}
