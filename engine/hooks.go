package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/KOMKZ/go-yogan-meter/alert"
	"github.com/KOMKZ/go-yogan-meter/logger"
	"github.com/KOMKZ/go-yogan-meter/quota"
	"go.uber.org/zap"
)

// warningAlerts turns quota warnings into business notifications. Dedup per
// window is done by the enforcer, so every call is delivered.
type warningAlerts struct {
	alerts *alert.Engine
}

func (w warningAlerts) NotifyWarning(ctx context.Context, v quota.Violation) error {
	w.alerts.Notify(ctx, alert.Alert{
		Category: alert.CategoryBusiness,
		Severity: alert.SeverityWarning,
		Title:    fmt.Sprintf("%s usage at %.0f%% of limit", v.Metric, v.Percentage*100),
		Message:  fmt.Sprintf("entity %s: %s", v.EntityID, v),
		Source:   "quota",
		Context: map[string]interface{}{
			"entity_id": v.EntityID,
			"metric":    string(v.Metric),
			"window":    string(v.Window),
			"current":   v.Current,
			"limit":     v.Limit,
		},
	})
	return nil
}

// suspensionAlerts raises one active business alert per suspension
func suspensionAlerts(alerts *alert.Engine) quota.SuspensionHook {
	return func(ctx context.Context, entityID, reason string, violations []quota.Violation) {
		metrics := make([]string, 0, len(violations))
		for _, v := range violations {
			metrics = append(metrics, string(v.Metric))
		}
		_, _, err := alerts.Raise(ctx, alert.Alert{
			Category: alert.CategoryBusiness,
			Severity: alert.SeverityError,
			Title:    "Entity suspended: " + entityID,
			Message:  reason,
			Source:   "quota",
			Context: map[string]interface{}{
				"entity_id": entityID,
				"metrics":   strings.Join(metrics, ","),
			},
		}, alert.RaiseOptions{})
		if err != nil {
			logger.GetLogger("engine").ErrorCtx(ctx, "suspension alert failed",
				zap.String("entity_id", entityID), zap.Error(err))
		}
	}
}
