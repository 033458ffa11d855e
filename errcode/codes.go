package errcode

import "net/http"

// Module codes
const (
	ModuleCommon  = 10
	ModuleUsage   = 20
	ModuleLimiter = 21
	ModuleQuota   = 22
	ModuleAlert   = 23
	ModuleMetrics = 24
)

// Denial reasons shared by the check endpoint and client SDKs
const (
	ReasonRateLimited     = "rate_limited"
	ReasonQuotaExceeded   = "quota_exceeded"
	ReasonEntitySuspended = "entity_suspended"
	ReasonUnavailable     = "unavailable"
)

var (
	ErrInvalidRequest = Register(New(ModuleCommon, 1, "common", "invalid_request", "invalid request", http.StatusBadRequest))
	ErrInternal       = Register(New(ModuleCommon, 2, "common", "internal_error", "internal error", http.StatusInternalServerError))
	ErrNotFound       = Register(New(ModuleCommon, 3, "common", "not_found", "resource not found", http.StatusNotFound))

	ErrUnknownMetric = Register(New(ModuleUsage, 1, "usage", "unknown_metric", "unknown metric", http.StatusBadRequest))
	ErrInvalidAmount = Register(New(ModuleUsage, 2, "usage", "invalid_amount", "invalid amount", http.StatusBadRequest))

	ErrRateLimited = Register(New(ModuleLimiter, 1, "limiter", ReasonRateLimited, "rate limit exceeded", http.StatusTooManyRequests))
	ErrUnavailable = Register(New(ModuleLimiter, 2, "limiter", ReasonUnavailable, "usage service temporarily unavailable", http.StatusServiceUnavailable))

	ErrQuotaExceeded   = Register(New(ModuleQuota, 1, "quota", ReasonQuotaExceeded, "quota exceeded", http.StatusTooManyRequests))
	ErrEntitySuspended = Register(New(ModuleQuota, 2, "quota", ReasonEntitySuspended, "entity is suspended", http.StatusForbidden))
	ErrEntityNotFound  = Register(New(ModuleQuota, 3, "quota", "entity_not_found", "entity not found", http.StatusNotFound))

	ErrAlertNotFound        = Register(New(ModuleAlert, 1, "alert", "alert_not_found", "alert not found", http.StatusNotFound))
	ErrAlertAlreadyResolved = Register(New(ModuleAlert, 2, "alert", "alert_already_resolved", "alert already resolved", http.StatusConflict))
	ErrInvalidRule          = Register(New(ModuleAlert, 3, "alert", "invalid_rule", "invalid alert rule", http.StatusBadRequest))

	ErrInvalidRange = Register(New(ModuleMetrics, 1, "metrics", "invalid_range", "invalid history range", http.StatusBadRequest))
)
