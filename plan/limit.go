package plan

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/KOMKZ/go-yogan-meter/counter"
)

const unlimitedKeyword = "unlimited"

// Limit is a finite ceiling or the Unlimited sentinel.
// The zero value is a finite limit of 0.
type Limit struct {
	value     int64
	unlimited bool
}

// Of returns a finite limit
func Of(n int64) Limit {
	return Limit{value: n}
}

// Unlimited returns the sentinel
func Unlimited() Limit {
	return Limit{unlimited: true}
}

func (l Limit) IsUnlimited() bool { return l.unlimited }

// Value of a finite limit, -1 for Unlimited
func (l Limit) Value() int64 {
	if l.unlimited {
		return -1
	}
	return l.value
}

// Utilization is current/limit. Unlimited is always 0.
// A zero limit is fully used by any positive current.
func (l Limit) Utilization(current int64) float64 {
	if l.unlimited {
		return 0
	}
	if l.value <= 0 {
		if current > 0 {
			return 1
		}
		return 0
	}
	return float64(current) / float64(l.value)
}

// Remaining is max(0, limit-current), -1 for Unlimited
func (l Limit) Remaining(current int64) int64 {
	if l.unlimited {
		return -1
	}
	if r := l.value - current; r > 0 {
		return r
	}
	return 0
}

// Allows reports current < limit
func (l Limit) Allows(current int64) bool {
	return l.unlimited || current < l.value
}

func (l Limit) String() string {
	if l.unlimited {
		return unlimitedKeyword
	}
	return strconv.FormatInt(l.value, 10)
}

// MarshalJSON renders "unlimited" or the number
func (l Limit) MarshalJSON() ([]byte, error) {
	if l.unlimited {
		return json.Marshal(unlimitedKeyword)
	}
	return json.Marshal(l.value)
}

// UnmarshalJSON accepts "unlimited" or a non-negative number
func (l *Limit) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseLimit(raw)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLimit accepts values as decoded from YAML, JSON or env:
// integers, whole floats, numeric strings and the "unlimited" keyword.
func ParseLimit(raw interface{}) (Limit, error) {
	switch v := raw.(type) {
	case int:
		return nonNegative(int64(v))
	case int64:
		return nonNegative(v)
	case uint64:
		return nonNegative(int64(v))
	case float64:
		if v != float64(int64(v)) {
			return Limit{}, fmt.Errorf("limit must be a whole number, got %v", v)
		}
		return nonNegative(int64(v))
	case string:
		s := strings.TrimSpace(strings.ToLower(v))
		if s == unlimitedKeyword {
			return Unlimited(), nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Limit{}, fmt.Errorf("invalid limit %q", v)
		}
		return nonNegative(n)
	default:
		return Limit{}, fmt.Errorf("invalid limit %v (%T)", raw, raw)
	}
}

func nonNegative(n int64) (Limit, error) {
	if n < 0 {
		return Limit{}, fmt.Errorf("limit must be >= 0 or %q, got %d", unlimitedKeyword, n)
	}
	return Of(n), nil
}

// Limits maps metric -> window -> limit
type Limits map[Metric]map[counter.Window]Limit

// Get returns the limit of metric at window
func (l Limits) Get(m Metric, w counter.Window) (Limit, bool) {
	windows, ok := l[m]
	if !ok {
		return Limit{}, false
	}
	limit, ok := windows[w]
	return limit, ok
}

// Set stores one limit
func (l Limits) Set(m Metric, w counter.Window, limit Limit) {
	if l[m] == nil {
		l[m] = make(map[counter.Window]Limit)
	}
	l[m][w] = limit
}

// Merge returns a copy of l with overrides applied on top
func (l Limits) Merge(overrides Limits) Limits {
	out := make(Limits, len(l))
	for m, windows := range l {
		for w, limit := range windows {
			out.Set(m, w, limit)
		}
	}
	for m, windows := range overrides {
		for w, limit := range windows {
			out.Set(m, w, limit)
		}
	}
	return out
}

// ParseLimits converts raw config (metric -> window -> value) into Limits.
// Unknown metrics, unknown windows and windows that do not fit the metric
// kind are rejected.
func ParseLimits(raw map[string]map[string]interface{}) (Limits, error) {
	out := make(Limits, len(raw))
	for metricName, windows := range raw {
		m, err := ParseMetric(metricName)
		if err != nil {
			return nil, err
		}
		for windowName, value := range windows {
			w, err := ParseWindowFor(m, windowName)
			if err != nil {
				return nil, err
			}
			limit, err := ParseLimit(value)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", metricName, windowName, err)
			}
			out.Set(m, w, limit)
		}
	}
	return out, nil
}

// ParseWindowFor validates that window w can carry a limit of metric m
func ParseWindowFor(m Metric, windowName string) (counter.Window, error) {
	w, err := counter.ParseWindow(windowName)
	if err != nil {
		return "", fmt.Errorf("%s: %w", m, err)
	}
	for _, allowed := range m.Windows() {
		if allowed == w {
			return w, nil
		}
	}
	return "", fmt.Errorf("%s: window %q does not apply to a %s metric", m, windowName, m.Spec().Kind)
}
