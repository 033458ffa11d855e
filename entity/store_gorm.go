package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/KOMKZ/go-yogan-meter/database"
	"github.com/KOMKZ/go-yogan-meter/plan"
	"gorm.io/gorm"
)

// Record is the metered_entities row
type Record struct {
	ID            string `gorm:"primaryKey;size:64"`
	Tier          string `gorm:"size:32;not null"`
	Status        string `gorm:"size:16;not null;index"`
	Overrides     string `gorm:"type:text"`
	SuspendReason string `gorm:"size:255"`
	SuspendedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (Record) TableName() string { return "metered_entities" }

// GormStore reads and updates entities in a relational table
type GormStore struct {
	repo *database.BaseRepository[Record]
	now  func() time.Time
}

// NewGormStore creates a store over db
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{repo: database.NewBaseRepository[Record](db), now: time.Now}
}

// Migrate creates the table
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.repo.DB().WithContext(ctx).AutoMigrate(&Record{})
}

// Put inserts or replaces an entity
func (s *GormStore) Put(ctx context.Context, e Limits) error {
	if e.Status == "" {
		e.Status = Active
	}
	rec := Record{ID: e.EntityID, Tier: string(e.Tier), Status: string(e.Status)}
	if len(e.Overrides) > 0 {
		data, err := json.Marshal(e.Overrides)
		if err != nil {
			return fmt.Errorf("encode overrides of %s: %w", e.EntityID, err)
		}
		rec.Overrides = string(data)
	}
	return s.repo.Save(ctx, &rec)
}

func (s *GormStore) GetLimits(ctx context.Context, id string) (*Limits, error) {
	rec, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, database.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	tier, err := plan.ParseTier(rec.Tier)
	if err != nil {
		return nil, fmt.Errorf("entity %s: %w", id, err)
	}
	status, err := ParseStatus(rec.Status)
	if err != nil {
		return nil, fmt.Errorf("entity %s: %w", id, err)
	}
	out := &Limits{EntityID: rec.ID, Tier: tier, Status: status}
	if rec.Overrides != "" {
		var raw map[string]map[string]interface{}
		if err := json.Unmarshal([]byte(rec.Overrides), &raw); err != nil {
			return nil, fmt.Errorf("entity %s: decode overrides: %w", id, err)
		}
		if out.Overrides, err = plan.ParseLimits(raw); err != nil {
			return nil, fmt.Errorf("entity %s: %w", id, err)
		}
	}
	return out, nil
}

func (s *GormStore) Suspend(ctx context.Context, id, reason string) error {
	now := s.now()
	n, err := s.repo.UpdateColumns(ctx, map[string]interface{}{
		"status":         string(Suspended),
		"suspend_reason": reason,
		"suspended_at":   &now,
	}, "id = ? AND status <> ?", id, string(Suspended))
	if err != nil {
		return err
	}
	if n == 0 {
		return s.exists(ctx, id)
	}
	return nil
}

func (s *GormStore) Reactivate(ctx context.Context, id string) error {
	n, err := s.repo.UpdateColumns(ctx, map[string]interface{}{
		"status":         string(Active),
		"suspend_reason": "",
		"suspended_at":   nil,
	}, "id = ? AND status <> ?", id, string(Active))
	if err != nil {
		return err
	}
	if n == 0 {
		return s.exists(ctx, id)
	}
	return nil
}

// CountByStatus counts entities in a status
func (s *GormStore) CountByStatus(ctx context.Context, status Status) (int64, error) {
	return s.repo.Count(ctx, "status = ?", string(status))
}

func (s *GormStore) exists(ctx context.Context, id string) error {
	n, err := s.repo.Count(ctx, "id = ?", id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
