package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/KOMKZ/go-yogan-meter/alert"
	"github.com/KOMKZ/go-yogan-meter/counter"
	"github.com/KOMKZ/go-yogan-meter/engine"
	"github.com/KOMKZ/go-yogan-meter/errcode"
	"github.com/KOMKZ/go-yogan-meter/httpx"
	"github.com/KOMKZ/go-yogan-meter/limiter"
	"github.com/KOMKZ/go-yogan-meter/metrics"
	"github.com/KOMKZ/go-yogan-meter/usage"
	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const defaultHistorySpan = time.Hour

type handlers struct {
	engine *engine.Engine
}

// CheckRequest asks whether an operation may proceed. An empty Origin is
// replaced by the client IP so every request counts against an origin.
type CheckRequest struct {
	EntityID      string `json:"entity_id"`
	Operation     string `json:"operation"`
	Origin        string `json:"origin"`
	Authenticated bool   `json:"authenticated"`
}

func (r *CheckRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.EntityID, validation.Required, validation.Length(1, 128)),
		validation.Field(&r.Operation, validation.Length(0, 64)),
		validation.Field(&r.Origin, validation.Length(0, 64)),
	)
}

// CheckResponse is an allowed decision
type CheckResponse struct {
	Allowed   bool       `json:"allowed"`
	Remaining int64      `json:"remaining"`
	Limit     int64      `json:"limit"`
	ResetAt   *time.Time `json:"reset_at,omitempty"`
	Window    string     `json:"window,omitempty"`
	Degraded  bool       `json:"degraded,omitempty"`
}

var denialErrors = map[string]*errcode.LayeredError{
	errcode.ReasonRateLimited:     errcode.ErrRateLimited,
	errcode.ReasonQuotaExceeded:   errcode.ErrQuotaExceeded,
	errcode.ReasonEntitySuspended: errcode.ErrEntitySuspended,
	errcode.ReasonUnavailable:     errcode.ErrUnavailable,
}

func (h *handlers) check(c *gin.Context, req *CheckRequest) (*CheckResponse, error) {
	origin := req.Origin
	if origin == "" {
		origin = c.ClientIP()
	}
	d, err := h.engine.Check(c.Request.Context(), limiter.Request{
		EntityID:      req.EntityID,
		Operation:     req.Operation,
		Origin:        origin,
		Authenticated: req.Authenticated,
	})
	if err != nil {
		return nil, err
	}
	if !d.Allowed {
		return nil, denial(c, d)
	}

	resp := &CheckResponse{
		Allowed:   true,
		Remaining: d.Remaining,
		Limit:     d.Limit,
		Window:    string(d.Window),
		Degraded:  d.Degraded,
	}
	if !d.ResetAt.IsZero() {
		resp.ResetAt = &d.ResetAt
	}
	return resp, nil
}

// denial maps a negative decision to its error and sets Retry-After
func denial(c *gin.Context, d limiter.Decision) error {
	base, ok := denialErrors[d.Reason]
	if !ok {
		base = errcode.ErrRateLimited
	}
	retryAfter := retryAfterSeconds(d.RetryAfter)
	if retryAfter > 0 {
		c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
	}

	err := base.WithData("allowed", false).
		WithData("reason", base.MsgKey()).
		WithData("remaining", d.Remaining).
		WithData("limit", d.Limit)
	if retryAfter > 0 {
		err = err.WithData("retry_after", retryAfter)
	}
	if !d.ResetAt.IsZero() {
		err = err.WithData("reset_at", d.ResetAt)
	}
	if d.Window != "" {
		err = err.WithData("window", string(d.Window))
	}
	return err
}

// RecordRequest is one usage event
type RecordRequest struct {
	EntityID string            `json:"entity_id"`
	Metric   string            `json:"metric"`
	Amount   int64             `json:"amount"`
	Metadata map[string]string `json:"metadata"`
}

func (r *RecordRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.EntityID, validation.Required, validation.Length(1, 128)),
		validation.Field(&r.Metric, validation.Required),
	)
}

func (h *handlers) record(c *gin.Context, req *RecordRequest) (*usage.Recorded, error) {
	return h.engine.Record(c.Request.Context(), usage.Event{
		EntityID: req.EntityID,
		Metric:   req.Metric,
		Amount:   req.Amount,
		Metadata: req.Metadata,
	})
}

// StatusRequest names the entity in the path
type StatusRequest struct {
	EntityID string `uri:"entity_id"`
}

func (h *handlers) status(c *gin.Context, req *StatusRequest) (*engine.Status, error) {
	return h.engine.Status(c.Request.Context(), req.EntityID)
}

func (h *handlers) health(c *gin.Context) {
	report := h.engine.Health.Latest()
	if report == nil {
		httpx.HandleError(c, errcode.ErrUnavailable.WithMsgf("no health report yet"))
		return
	}
	if report.IsCritical() {
		c.JSON(http.StatusServiceUnavailable, httpx.Response{
			Code: errcode.ErrUnavailable.Code(),
			Msg:  "unhealthy",
			Data: report,
		})
		return
	}
	httpx.OkJson(c, report)
}

// ListAlertsRequest filters active alerts
type ListAlertsRequest struct {
	Severity string `form:"severity"`
	Category string `form:"category"`
}

func (r *ListAlertsRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Severity, validation.By(func(interface{}) error {
			if r.Severity == "" {
				return nil
			}
			_, err := alert.ParseSeverity(r.Severity)
			return err
		})),
		validation.Field(&r.Category, validation.By(func(interface{}) error {
			if r.Category == "" {
				return nil
			}
			_, err := alert.ParseCategory(r.Category)
			return err
		})),
	)
}

// AlertList is the active alert listing
type AlertList struct {
	Alerts []alert.Alert `json:"alerts"`
	Count  int           `json:"count"`
}

func (h *handlers) listAlerts(c *gin.Context, req *ListAlertsRequest) (*AlertList, error) {
	list := h.engine.Alerts.ListActive(alert.Filter{
		Severity: alert.Severity(req.Severity),
		Category: alert.Category(req.Category),
	})
	if list == nil {
		list = []alert.Alert{}
	}
	return &AlertList{Alerts: list, Count: len(list)}, nil
}

// ResolveAlertRequest resolves one alert
type ResolveAlertRequest struct {
	ID         string `uri:"id" json:"-"`
	ResolvedBy string `json:"resolved_by"`
}

func (r *ResolveAlertRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ID, validation.Required),
		validation.Field(&r.ResolvedBy, validation.Required, validation.Length(1, 128)),
	)
}

func (h *handlers) resolveAlert(c *gin.Context, req *ResolveAlertRequest) (*alert.Alert, error) {
	return h.engine.Alerts.Resolve(c.Request.Context(), req.ID, req.ResolvedBy)
}

// HistoryRequest selects stored metric samples. Times are RFC3339; the
// default range is the last hour at minute granularity.
type HistoryRequest struct {
	Start       string `form:"start"`
	End         string `form:"end"`
	Granularity string `form:"granularity"`
}

// History is the stored sample series
type History struct {
	Start       time.Time       `json:"start"`
	End         time.Time       `json:"end"`
	Granularity string          `json:"granularity"`
	Points      []metrics.Point `json:"points"`
}

func (h *handlers) history(c *gin.Context, req *HistoryRequest) (*History, error) {
	end := time.Now().UTC()
	if req.End != "" {
		t, err := time.Parse(time.RFC3339, req.End)
		if err != nil {
			return nil, errcode.ErrInvalidRange.WithMsgf("end must be RFC3339: %q", req.End)
		}
		end = t.UTC()
	}
	start := end.Add(-defaultHistorySpan)
	if req.Start != "" {
		t, err := time.Parse(time.RFC3339, req.Start)
		if err != nil {
			return nil, errcode.ErrInvalidRange.WithMsgf("start must be RFC3339: %q", req.Start)
		}
		start = t.UTC()
	}
	granularity := counter.Minute
	if req.Granularity != "" {
		granularity = counter.Window(req.Granularity)
	}

	points, err := h.engine.Metrics.History(c.Request.Context(), start, end, granularity)
	if err != nil {
		return nil, err
	}
	if points == nil {
		points = []metrics.Point{}
	}
	return &History{Start: start, End: end, Granularity: string(granularity), Points: points}, nil
}
