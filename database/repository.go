package database

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// BaseRepository generic repository
type BaseRepository[T any] struct {
	db *gorm.DB
}

// NewBaseRepository creates a repository over db
func NewBaseRepository[T any](db *gorm.DB) *BaseRepository[T] {
	return &BaseRepository[T]{db: db}
}

// DB returns the underlying gorm handle
func (r *BaseRepository[T]) DB() *gorm.DB {
	return r.db
}

// Create inserts one record
func (r *BaseRepository[T]) Create(ctx context.Context, entity *T) error {
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return fmt.Errorf("record creation failed: %w", err)
	}
	return nil
}

// FindByID loads by primary key. Missing rows return ErrRecordNotFound.
func (r *BaseRepository[T]) FindByID(ctx context.Context, id interface{}) (*T, error) {
	var entity T
	err := r.db.WithContext(ctx).First(&entity, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query record failed (id=%v): %w", id, err)
	}
	return &entity, nil
}

// FindWhere returns records matching query, ordered by order when not empty
func (r *BaseRepository[T]) FindWhere(ctx context.Context, order string, query interface{}, args ...interface{}) ([]T, error) {
	var entities []T
	tx := r.db.WithContext(ctx).Where(query, args...)
	if order != "" {
		tx = tx.Order(order)
	}
	if err := tx.Find(&entities).Error; err != nil {
		return nil, fmt.Errorf("query records failed: %w", err)
	}
	return entities, nil
}

// Save upserts one record
func (r *BaseRepository[T]) Save(ctx context.Context, entity *T) error {
	if err := r.db.WithContext(ctx).Save(entity).Error; err != nil {
		return fmt.Errorf("save record failed: %w", err)
	}
	return nil
}

// UpdateColumns updates columns of the rows matching query and returns the affected row count
func (r *BaseRepository[T]) UpdateColumns(ctx context.Context, values map[string]interface{}, query interface{}, args ...interface{}) (int64, error) {
	var entity T
	res := r.db.WithContext(ctx).Model(&entity).Where(query, args...).Updates(values)
	if res.Error != nil {
		return 0, fmt.Errorf("update records failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Count counts the rows matching query
func (r *BaseRepository[T]) Count(ctx context.Context, query interface{}, args ...interface{}) (int64, error) {
	var count int64
	var entity T
	if err := r.db.WithContext(ctx).Model(&entity).Where(query, args...).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count records failed: %w", err)
	}
	return count, nil
}
