package quota

import (
	"fmt"

	"github.com/KOMKZ/go-yogan-meter/counter"
	"github.com/KOMKZ/go-yogan-meter/plan"
)

// Severity of a violation
type Severity string

const (
	Warning  Severity = "warning"
	Critical Severity = "critical"
)

const (
	WarningRatio  = 0.8
	CriticalRatio = 1.0
)

// Violation is a metric at or above a threshold of its limit
type Violation struct {
	EntityID   string         `json:"entity_id"`
	Metric     plan.Metric    `json:"metric"`
	Window     counter.Window `json:"window"`
	Current    int64          `json:"current"`
	Limit      int64          `json:"limit"`
	Percentage float64        `json:"percentage"`
	Severity   Severity       `json:"severity"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s %s %d/%d (%s, %.0f%%)", v.Severity, v.Metric, v.Current, v.Limit, v.Window, v.Percentage*100)
}

// Detect classifies a snapshot. Unlimited metrics never violate.
func Detect(s *Snapshot) []Violation {
	var out []Violation
	for _, u := range s.Usage {
		if u.Limit.IsUnlimited() {
			continue
		}
		ratio := u.Limit.Utilization(u.Current)
		var sev Severity
		switch {
		case ratio >= CriticalRatio:
			sev = Critical
		case ratio >= WarningRatio:
			sev = Warning
		default:
			continue
		}
		out = append(out, Violation{
			EntityID:   s.EntityID,
			Metric:     u.Metric,
			Window:     u.Window,
			Current:    u.Current,
			Limit:      u.Limit.Value(),
			Percentage: ratio,
			Severity:   sev,
		})
	}
	return out
}
