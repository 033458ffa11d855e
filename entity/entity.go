// Package entity is the boundary to the metered entity (tenant / license)
// lifecycle. The engine reads limits and asks for suspension; ownership of
// the records stays with the embedding platform.
package entity

import (
	"context"
	"errors"
	"fmt"

	"github.com/KOMKZ/go-yogan-meter/plan"
)

// ErrNotFound is returned for unknown entity ids
var ErrNotFound = errors.New("entity not found")

// Status of a metered entity
type Status string

const (
	Active    Status = "active"
	Suspended Status = "suspended"
	Expired   Status = "expired"
)

// ParseStatus rejects unknown statuses
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case Active, Suspended, Expired:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown entity status %q", s)
}

// Limits is what the engine needs to know about an entity
type Limits struct {
	EntityID  string      `json:"entity_id"`
	Tier      plan.Tier   `json:"tier"`
	Status    Status      `json:"status"`
	Overrides plan.Limits `json:"overrides,omitempty"`
}

// Store is the external entity store. Suspend and Reactivate are idempotent.
type Store interface {
	GetLimits(ctx context.Context, id string) (*Limits, error)
	Suspend(ctx context.Context, id, reason string) error
	Reactivate(ctx context.Context, id string) error
}

// StatusCounter is implemented by stores that can report lifecycle totals
type StatusCounter interface {
	CountByStatus(ctx context.Context, status Status) (int64, error)
}
