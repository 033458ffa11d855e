// Package plan holds the closed vocabularies of the engine (metrics, tiers)
// and the plan catalogue that maps a tier to its limits.
package plan

import (
	"fmt"
	"sort"

	"github.com/KOMKZ/go-yogan-meter/counter"
)

// Metric is a named usage counter
type Metric string

const (
	APICalls      Metric = "api_calls"
	Validations   Metric = "validations"
	Bandwidth     Metric = "bandwidth"
	Users         Metric = "users"
	Organizations Metric = "organizations"
)

// Kind separates flow metrics (counted per window) from stock metrics (live totals)
type Kind string

const (
	Flow  Kind = "flow"
	Stock Kind = "stock"
)

// MetricSpec describes how a metric is counted and at which window its quota applies
type MetricSpec struct {
	Name      Metric
	Kind      Kind
	Canonical counter.Window
}

var metricSpecs = map[Metric]MetricSpec{
	APICalls:      {Name: APICalls, Kind: Flow, Canonical: counter.Day},
	Validations:   {Name: Validations, Kind: Flow, Canonical: counter.Day},
	Bandwidth:     {Name: Bandwidth, Kind: Flow, Canonical: counter.Month},
	Users:         {Name: Users, Kind: Stock, Canonical: counter.Total},
	Organizations: {Name: Organizations, Kind: Stock, Canonical: counter.Total},
}

// ParseMetric rejects names outside the vocabulary
func ParseMetric(s string) (Metric, error) {
	m := Metric(s)
	if _, ok := metricSpecs[m]; !ok {
		return "", fmt.Errorf("unknown metric %q", s)
	}
	return m, nil
}

// Spec returns the metric description. Unknown metrics yield a zero spec.
func (m Metric) Spec() MetricSpec {
	return metricSpecs[m]
}

// IsStock reports whether m is a live total
func (m Metric) IsStock() bool {
	return metricSpecs[m].Kind == Stock
}

// Windows the metric is counted in
func (m Metric) Windows() []counter.Window {
	if m.IsStock() {
		return []counter.Window{counter.Total}
	}
	return counter.FlowWindows
}

// AllMetrics returns the vocabulary sorted by name
func AllMetrics() []Metric {
	out := make([]Metric, 0, len(metricSpecs))
	for m := range metricSpecs {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Tier is a plan tier
type Tier string

const (
	Free         Tier = "free"
	Starter      Tier = "starter"
	Professional Tier = "professional"
	Enterprise   Tier = "enterprise"
)

var tiers = []Tier{Free, Starter, Professional, Enterprise}

// ParseTier rejects tiers outside the closed set
func ParseTier(s string) (Tier, error) {
	for _, t := range tiers {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown plan tier %q", s)
}
