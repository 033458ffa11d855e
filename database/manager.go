package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"github.com/KOMKZ/go-yogan-meter/logger"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Manager holds named gorm instances
type Manager struct {
	instances map[string]*gorm.DB
	configs   map[string]Config
	logger    *logger.CtxZapLogger
	mu        sync.RWMutex
}

// NewManager opens every configured database
func NewManager(configs map[string]Config, log *logger.CtxZapLogger) (*Manager, error) {
	if log == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	m := &Manager{
		instances: make(map[string]*gorm.DB),
		configs:   make(map[string]Config),
		logger:    log,
	}

	for name, cfg := range configs {
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("invalid config for %s: %w", name, err)
		}

		db, err := m.openDB(cfg)
		if err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("failed to open database %s: %w", name, err)
		}

		sqlDB, err := db.DB()
		if err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("failed to get sql.DB for %s: %w", name, err)
		}
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

		m.instances[name] = db
		m.configs[name] = cfg

		m.logger.Debug("database connected", zap.String("name", name), zap.String("driver", cfg.Driver))
	}

	return m, nil
}

func (m *Manager) openDB(cfg Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	var gl gormlogger.Interface = gormlogger.Default.LogMode(gormlogger.Silent)
	if cfg.EnableLog {
		gl = logger.NewGormLogger(m.logger, logger.GormLoggerConfig{
			SlowThreshold: cfg.SlowThreshold,
			LogLevel:      gormlogger.Warn,
		})
	}

	return gorm.Open(dialector, &gorm.Config{Logger: gl})
}

// DB returns the named instance, nil when unknown
func (m *Manager) DB(name string) *gorm.DB {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.instances[name]
}

// Config returns the effective config of the named instance
func (m *Manager) Config(name string) (Config, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[name]
	return cfg, ok
}

// GetDBNames returns instance names, sorted
func (m *Manager) GetDBNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.instances))
	for name := range m.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Ping checks every instance
func (m *Manager) Ping(ctx context.Context) error {
	for _, name := range m.GetDBNames() {
		if err := m.PingInstance(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// PingInstance checks one named instance
func (m *Manager) PingInstance(ctx context.Context, name string) error {
	db := m.DB(name)
	if db == nil {
		return fmt.Errorf("database %q not configured", name)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB for %s: %w", name, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed for %s: %w", name, err)
	}
	return nil
}

// Stats returns connection pool statistics
func (m *Manager) Stats(name string) (sql.DBStats, error) {
	db := m.DB(name)
	if db == nil {
		return sql.DBStats{}, fmt.Errorf("database %s not found", name)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return sql.DBStats{}, err
	}
	return sqlDB.Stats(), nil
}

// Close all database connections
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, db := range m.instances {
		sqlDB, err := db.DB()
		if err != nil {
			m.logger.Error("failed to get sql.DB", zap.String("name", name), zap.Error(err))
			continue
		}
		if err := sqlDB.Close(); err != nil {
			m.logger.Error("failed to close database", zap.String("name", name), zap.Error(err))
		}
	}
	m.instances = make(map[string]*gorm.DB)
	return nil
}
