package usage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/KOMKZ/go-yogan-meter/database"
	"gorm.io/gorm"
)

// LogRecord is one immutable row of the durable usage log
type LogRecord struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	EntityID   string    `gorm:"size:64;not null;index:idx_usage_entity_time" json:"entity_id"`
	Metric     string    `gorm:"size:32;not null" json:"metric"`
	Amount     int64     `gorm:"not null" json:"amount"`
	Metadata   string    `gorm:"type:text" json:"metadata,omitempty"`
	RecordedAt time.Time `gorm:"not null;index:idx_usage_entity_time" json:"recorded_at"`
}

func (LogRecord) TableName() string { return "usage_logs" }

// LogWriter appends usage records. Records are never updated.
type LogWriter interface {
	Append(ctx context.Context, rec *LogRecord) error
}

// GormLog is the relational usage log
type GormLog struct {
	repo *database.BaseRepository[LogRecord]
}

// NewGormLog creates the log over db
func NewGormLog(db *gorm.DB) *GormLog {
	return &GormLog{repo: database.NewBaseRepository[LogRecord](db)}
}

// Migrate creates the table
func (l *GormLog) Migrate(ctx context.Context) error {
	return l.repo.DB().WithContext(ctx).AutoMigrate(&LogRecord{})
}

func (l *GormLog) Append(ctx context.Context, rec *LogRecord) error {
	return l.repo.Create(ctx, rec)
}

// ListByEntity returns the records of an entity since a point in time, oldest first
func (l *GormLog) ListByEntity(ctx context.Context, entityID string, since time.Time) ([]LogRecord, error) {
	return l.repo.FindWhere(ctx, "recorded_at ASC, id ASC", "entity_id = ? AND recorded_at >= ?", entityID, since)
}

func encodeMetadata(md map[string]string) string {
	if len(md) == 0 {
		return ""
	}
	data, err := json.Marshal(md)
	if err != nil {
		return ""
	}
	return string(data)
}
