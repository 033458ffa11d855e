package plan

import (
	"fmt"

	"github.com/KOMKZ/go-yogan-meter/counter"
)

// Plan is the set of limits sold under one tier
type Plan struct {
	Tier   Tier   `json:"tier"`
	Limits Limits `json:"limits"`
}

// Catalog maps every tier to its plan. It is read-only after load.
type Catalog struct {
	plans map[Tier]Plan
}

// Resolve returns the effective limits of a tier with per-entity overrides applied
func (c *Catalog) Resolve(tier Tier, overrides Limits) (Limits, error) {
	p, ok := c.plans[tier]
	if !ok {
		return nil, fmt.Errorf("no plan for tier %q", tier)
	}
	return p.Limits.Merge(overrides), nil
}

// Plan returns the plan of a tier
func (c *Catalog) Plan(tier Tier) (Plan, bool) {
	p, ok := c.plans[tier]
	return p, ok
}

// Tiers returns the tiers present in the catalogue in canonical order
func (c *Catalog) Tiers() []Tier {
	out := make([]Tier, 0, len(c.plans))
	for _, t := range tiers {
		if _, ok := c.plans[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// NewCatalog builds a catalogue from parsed plans
func NewCatalog(plans map[Tier]Limits) *Catalog {
	c := &Catalog{plans: make(map[Tier]Plan, len(plans))}
	for tier, limits := range plans {
		c.plans[tier] = Plan{Tier: tier, Limits: limits}
	}
	return c
}

// LoadCatalog parses raw config (tier -> metric -> window -> value).
// Tiers missing from raw keep their default plan.
func LoadCatalog(raw map[string]map[string]map[string]interface{}) (*Catalog, error) {
	plans := DefaultPlans()
	for tierName, metrics := range raw {
		tier, err := ParseTier(tierName)
		if err != nil {
			return nil, err
		}
		limits, err := ParseLimits(metrics)
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", tierName, err)
		}
		plans[tier] = limits
	}
	return NewCatalog(plans), nil
}

// DefaultCatalog returns the built-in plans
func DefaultCatalog() *Catalog {
	return NewCatalog(DefaultPlans())
}

// DefaultPlans returns the built-in limits of every tier
func DefaultPlans() map[Tier]Limits {
	return map[Tier]Limits{
		Free: {
			APICalls:      {counter.Hour: Of(100), counter.Day: Of(1000), counter.Month: Of(10000)},
			Validations:   {counter.Day: Of(500)},
			Bandwidth:     {counter.Month: Of(1 << 30)},
			Users:         {counter.Total: Of(3)},
			Organizations: {counter.Total: Of(1)},
		},
		Starter: {
			APICalls:      {counter.Hour: Of(1000), counter.Day: Of(10000), counter.Month: Of(200000)},
			Validations:   {counter.Day: Of(5000)},
			Bandwidth:     {counter.Month: Of(10 << 30)},
			Users:         {counter.Total: Of(10)},
			Organizations: {counter.Total: Of(3)},
		},
		Professional: {
			APICalls:      {counter.Hour: Of(10000), counter.Day: Of(100000), counter.Month: Of(2000000)},
			Validations:   {counter.Day: Of(50000)},
			Bandwidth:     {counter.Month: Of(100 << 30)},
			Users:         {counter.Total: Of(50)},
			Organizations: {counter.Total: Of(10)},
		},
		Enterprise: {
			APICalls:      {counter.Hour: Of(100000), counter.Day: Unlimited(), counter.Month: Unlimited()},
			Validations:   {counter.Day: Unlimited()},
			Bandwidth:     {counter.Month: Unlimited()},
			Users:         {counter.Total: Unlimited()},
			Organizations: {counter.Total: Unlimited()},
		},
	}
}
