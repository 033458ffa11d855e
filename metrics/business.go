package metrics

import (
	"context"

	"github.com/KOMKZ/go-yogan-meter/entity"
)

// EntityGauges counts entities by lifecycle status
type EntityGauges struct {
	counter entity.StatusCounter
}

// NewEntityGauges creates the business collector
func NewEntityGauges(c entity.StatusCounter) *EntityGauges {
	return &EntityGauges{counter: c}
}

func (g *EntityGauges) CollectBusiness(ctx context.Context) (*BusinessMetrics, error) {
	active, err := g.counter.CountByStatus(ctx, entity.Active)
	if err != nil {
		return nil, err
	}
	suspended, err := g.counter.CountByStatus(ctx, entity.Suspended)
	if err != nil {
		return nil, err
	}
	return &BusinessMetrics{ActiveEntities: active, ActiveSuspensions: suspended}, nil
}
