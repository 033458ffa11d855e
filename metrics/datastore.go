package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// DatastoreProbe measures the cache and the relational store. Either side may be nil.
type DatastoreProbe struct {
	cache redis.UniversalClient
	db    *gorm.DB
}

// NewDatastoreProbe creates the datastore collector
func NewDatastoreProbe(cache redis.UniversalClient, db *gorm.DB) *DatastoreProbe {
	return &DatastoreProbe{cache: cache, db: db}
}

func (p *DatastoreProbe) CollectDatastore(ctx context.Context) (*DatastoreMetrics, error) {
	out := &DatastoreMetrics{}
	var errs []error

	if p.cache != nil {
		start := time.Now()
		if err := p.cache.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("cache ping: %w", err))
		} else {
			out.CacheLatencyMS = millis(time.Since(start))
		}
		if st := p.cache.PoolStats(); st != nil {
			out.CacheTotalConns = st.TotalConns
			out.CacheIdleConns = st.IdleConns
			out.CacheTimeouts = st.Timeouts
		}
	}

	if p.db != nil {
		sqlDB, err := p.db.DB()
		if err != nil {
			errs = append(errs, fmt.Errorf("db handle: %w", err))
		} else {
			start := time.Now()
			if err := sqlDB.PingContext(ctx); err != nil {
				errs = append(errs, fmt.Errorf("db ping: %w", err))
			} else {
				out.DBLatencyMS = millis(time.Since(start))
			}
			st := sqlDB.Stats()
			out.DBOpenConns = st.OpenConnections
			out.DBInUse = st.InUse
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
