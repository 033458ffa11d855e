package engine

import (
	"context"
	"errors"

	"github.com/KOMKZ/go-yogan-meter/entity"
	"github.com/KOMKZ/go-yogan-meter/errcode"
	"github.com/KOMKZ/go-yogan-meter/limiter"
	"github.com/KOMKZ/go-yogan-meter/quota"
	"github.com/KOMKZ/go-yogan-meter/usage"
)

// Check decides whether an operation may proceed. The origin limiter runs
// first, then the entity lifecycle, then the entity's windows for the
// metric the operation consumes. Unknown entities are an error; every other
// outcome is a decision.
func (e *Engine) Check(ctx context.Context, req limiter.Request) (limiter.Decision, error) {
	if d, denied := e.Limiter.CheckOrigin(ctx, req); denied {
		return d, nil
	}

	resolved, err := e.Quota.Resolve(ctx, req.EntityID)
	if err != nil {
		if errors.Is(err, errcode.ErrEntityNotFound) {
			return limiter.Decision{}, err
		}
		return e.Limiter.Unavailable(ctx, req, "entity_store", err), nil
	}
	if resolved.Entity.Status != entity.Active {
		return limiter.Decision{
			Allowed: false,
			Limit:   -1,
			Reason:  errcode.ReasonEntitySuspended,
		}, nil
	}

	op := e.Limiter.Operation(req.Operation)
	return e.Limiter.CheckEntity(ctx, req, resolved.Limits[op.Metric]), nil
}

// Record meters one usage event
func (e *Engine) Record(ctx context.Context, ev usage.Event) (*usage.Recorded, error) {
	return e.Meter.Record(ctx, ev)
}

// Status is an entity's snapshot with its current violations
type Status struct {
	Snapshot   *quota.Snapshot   `json:"snapshot"`
	Violations []quota.Violation `json:"violations"`
}

// Status reports an entity's usage against its limits
func (e *Engine) Status(ctx context.Context, entityID string) (*Status, error) {
	s, err := e.Quota.Snapshot(ctx, entityID)
	if err != nil {
		return nil, err
	}
	v := quota.Detect(s)
	if v == nil {
		v = []quota.Violation{}
	}
	return &Status{Snapshot: s, Violations: v}, nil
}
