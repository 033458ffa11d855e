package redis

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/KOMKZ/go-yogan-meter/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Manager holds named Redis clients (standalone or cluster)
type Manager struct {
	clients map[string]redis.UniversalClient
	configs map[string]Config
	logger  *logger.CtxZapLogger
	mu      sync.RWMutex
}

// NewManager creates clients for every configured instance
func NewManager(configs map[string]Config, log *logger.CtxZapLogger) (*Manager, error) {
	if log == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	ctx := context.Background()
	m := &Manager{
		clients: make(map[string]redis.UniversalClient),
		configs: make(map[string]Config),
		logger:  log,
	}

	for name, cfg := range configs {
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("invalid config for %s: %w", name, err)
		}

		client := newClient(cfg)
		if cfg.PingOnStart {
			if err := client.Ping(ctx).Err(); err != nil {
				_ = client.Close()
				_ = m.Close()
				return nil, fmt.Errorf("ping %s failed: %w", name, err)
			}
		}

		m.clients[name] = client
		m.configs[name] = cfg

		m.logger.DebugCtx(ctx, "redis client created",
			zap.String("name", name),
			zap.String("mode", cfg.Mode),
			zap.Strings("addrs", cfg.Addrs))
	}

	return m, nil
}

func newClient(cfg Config) redis.UniversalClient {
	if cfg.Mode == ModeCluster {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addrs,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}

	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addrs[0],
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
}

// Client returns the named client, nil when unknown
func (m *Manager) Client(name string) redis.UniversalClient {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clients[name]
}

// Names returns the configured instance names, sorted
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PoolStats returns connection pool statistics of the named client
func (m *Manager) PoolStats(name string) (*redis.PoolStats, bool) {
	client := m.Client(name)
	if client == nil {
		return nil, false
	}
	return client.PoolStats(), true
}

// Ping checks every instance
func (m *Manager) Ping(ctx context.Context) error {
	for _, name := range m.Names() {
		if err := m.PingInstance(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// PingInstance checks one named instance
func (m *Manager) PingInstance(ctx context.Context, name string) error {
	client := m.Client(name)
	if client == nil {
		return fmt.Errorf("redis instance %q not configured", name)
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping %s failed: %w", name, err)
	}
	return nil
}

// Close closes all clients
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx := context.Background()
	for name, client := range m.clients {
		if err := client.Close(); err != nil {
			m.logger.ErrorCtx(ctx, "failed to close redis client", zap.String("name", name), zap.Error(err))
			continue
		}
		m.logger.DebugCtx(ctx, "redis client closed", zap.String("name", name))
	}
	m.clients = make(map[string]redis.UniversalClient)
	return nil
}
