// Package alert evaluates threshold rules against metric samples and keeps
// the registry of active alerts.
package alert

import (
	"fmt"
	"time"
)

// Category groups alerts by the part of the platform they concern
type Category string

const (
	CategorySystem      Category = "system"
	CategoryBusiness    Category = "business"
	CategorySecurity    Category = "security"
	CategoryPerformance Category = "performance"
)

// ParseCategory validates a category name
func ParseCategory(s string) (Category, error) {
	switch c := Category(s); c {
	case CategorySystem, CategoryBusiness, CategorySecurity, CategoryPerformance:
		return c, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// Severity of an alert
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// ParseSeverity validates a severity name
func ParseSeverity(s string) (Severity, error) {
	switch v := Severity(s); v {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return v, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityError:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Alert is a raised condition awaiting resolution
type Alert struct {
	ID         string                 `json:"id"`
	RuleID     string                 `json:"rule_id,omitempty"`
	Category   Category               `json:"category"`
	Severity   Severity               `json:"severity"`
	Title      string                 `json:"title"`
	Message    string                 `json:"message"`
	Source     string                 `json:"source"`
	Context    map[string]interface{} `json:"context,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	ResolvedBy string                 `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time             `json:"resolved_at,omitempty"`
}

// Resolved reports whether the alert has been resolved
func (a *Alert) Resolved() bool {
	return a.ResolvedAt != nil
}

func (a *Alert) clone() Alert {
	out := *a
	if a.Context != nil {
		out.Context = make(map[string]interface{}, len(a.Context))
		for k, v := range a.Context {
			out.Context[k] = v
		}
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		out.ResolvedAt = &t
	}
	return out
}

// Filter selects active alerts. Empty fields match everything.
type Filter struct {
	Severity Severity
	Category Category
}

func (f Filter) match(a *Alert) bool {
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.Category != "" && a.Category != f.Category {
		return false
	}
	return true
}
