package counter

import (
	"fmt"
	"time"
)

// Window is a counter window kind
type Window string

const (
	Minute Window = "minute"
	Hour   Window = "hour"
	Day    Window = "day"
	Month  Window = "month"
	// Total is the non-expiring absolute counter of stock metrics
	Total Window = "total"
)

// FlowWindows are written on every usage record, shortest first
var FlowWindows = []Window{Hour, Day, Month}

var windowLayouts = map[Window]string{
	Minute: "2006-01-02-15-04",
	Hour:   "2006-01-02-15",
	Day:    "2006-01-02",
	Month:  "2006-01",
}

// ParseWindow validates a window name
func ParseWindow(s string) (Window, error) {
	w := Window(s)
	if w == Total {
		return w, nil
	}
	if _, ok := windowLayouts[w]; !ok {
		return "", fmt.Errorf("unknown window %q", s)
	}
	return w, nil
}

// Start truncates t (in UTC) to the window boundary
func (w Window) Start(t time.Time) time.Time {
	t = t.UTC()
	switch w {
	case Minute:
		return t.Truncate(time.Minute)
	case Hour:
		return t.Truncate(time.Hour)
	case Day:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Time{}
	}
}

// End is the reset time of the window containing t. Zero for Total.
func (w Window) End(t time.Time) time.Time {
	start := w.Start(t)
	switch w {
	case Minute:
		return start.Add(time.Minute)
	case Hour:
		return start.Add(time.Hour)
	case Day:
		return start.AddDate(0, 0, 1)
	case Month:
		return start.AddDate(0, 1, 0)
	default:
		return time.Time{}
	}
}

// Key is the canonical window key of t, e.g. 2024-01-31-13 for an hour
func (w Window) Key(t time.Time) string {
	layout, ok := windowLayouts[w]
	if !ok {
		return ""
	}
	return w.Start(t).Format(layout)
}

// Length is the nominal window length. Months count as 31 days.
func (w Window) Length() time.Duration {
	switch w {
	case Minute:
		return time.Minute
	case Hour:
		return time.Hour
	case Day:
		return 24 * time.Hour
	case Month:
		return 31 * 24 * time.Hour
	default:
		return 0
	}
}

// TTL covers two window lengths plus a quarter so a closed window stays
// readable for trailing reports. Zero for Total.
func (w Window) TTL() time.Duration {
	l := w.Length()
	return 2*l + l/4
}

// UsageKey usage:{entity}:{metric}:{window}:{window_key}
// The braces make the entity a Redis Cluster hash tag so one entity's
// counters share a slot and multi-key scripts stay legal.
func UsageKey(entityID, metric string, w Window, t time.Time) string {
	if w == Total {
		return fmt.Sprintf("usage:{%s}:%s:total", entityID, metric)
	}
	return fmt.Sprintf("usage:{%s}:%s:%s:%s", entityID, metric, w, w.Key(t))
}

// OriginKey origin:{origin}:minute:{window_key}
func OriginKey(origin string, t time.Time) string {
	return fmt.Sprintf("origin:{%s}:minute:%s", origin, Minute.Key(t))
}

// NotifyKey marks a warning notification as sent for one window. Total has
// a single key that lives until the metric drops below the warning level.
func NotifyKey(entityID, metric string, w Window, t time.Time) string {
	suffix := w.Key(t)
	if w == Total {
		suffix = string(Total)
	}
	return fmt.Sprintf("notify:{%s}:%s:%s", entityID, metric, suffix)
}

// CooldownKey cooldown:{rule_id}
func CooldownKey(ruleID string) string {
	return "cooldown:" + ruleID
}

// MetricsKey metrics:{granularity}:{time_key}
func MetricsKey(granularity Window, t time.Time) string {
	return fmt.Sprintf("metrics:%s:%s", granularity, granularity.Key(t))
}
