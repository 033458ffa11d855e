package alert

import (
	"context"
	"encoding/json"
	"time"

	"github.com/KOMKZ/go-yogan-meter/database"
	"gorm.io/gorm"
)

// Event kinds of the alert history
const (
	EventCreated  = "created"
	EventResolved = "resolved"
)

// EventRecord is one append-only row of the alert history
type EventRecord struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	AlertID    string    `gorm:"size:36;not null;index" json:"alert_id"`
	Kind       string    `gorm:"size:16;not null" json:"kind"`
	RuleID     string    `gorm:"size:64" json:"rule_id,omitempty"`
	Category   string    `gorm:"size:16;not null" json:"category"`
	Severity   string    `gorm:"size:16;not null" json:"severity"`
	Title      string    `gorm:"size:255" json:"title"`
	Message    string    `gorm:"type:text" json:"message"`
	Source     string    `gorm:"size:128" json:"source"`
	Context    string    `gorm:"type:text" json:"context,omitempty"`
	ResolvedBy string    `gorm:"size:128" json:"resolved_by,omitempty"`
	OccurredAt time.Time `gorm:"not null;index" json:"occurred_at"`
}

func (EventRecord) TableName() string { return "alert_events" }

func newEventRecord(kind string, a *Alert, at time.Time) *EventRecord {
	rec := &EventRecord{
		AlertID:    a.ID,
		Kind:       kind,
		RuleID:     a.RuleID,
		Category:   string(a.Category),
		Severity:   string(a.Severity),
		Title:      a.Title,
		Message:    a.Message,
		Source:     a.Source,
		ResolvedBy: a.ResolvedBy,
		OccurredAt: at,
	}
	if len(a.Context) > 0 {
		if data, err := json.Marshal(a.Context); err == nil {
			rec.Context = string(data)
		}
	}
	return rec
}

// History appends alert lifecycle events
type History interface {
	Append(ctx context.Context, rec *EventRecord) error
}

// GormHistory is the relational alert history
type GormHistory struct {
	repo *database.BaseRepository[EventRecord]
}

// NewGormHistory creates the history over db
func NewGormHistory(db *gorm.DB) *GormHistory {
	return &GormHistory{repo: database.NewBaseRepository[EventRecord](db)}
}

// Migrate creates the table
func (h *GormHistory) Migrate(ctx context.Context) error {
	return h.repo.DB().WithContext(ctx).AutoMigrate(&EventRecord{})
}

func (h *GormHistory) Append(ctx context.Context, rec *EventRecord) error {
	return h.repo.Create(ctx, rec)
}

// ListByAlert returns the events of one alert, oldest first
func (h *GormHistory) ListByAlert(ctx context.Context, alertID string) ([]EventRecord, error) {
	return h.repo.FindWhere(ctx, "occurred_at ASC, id ASC", "alert_id = ?", alertID)
}
