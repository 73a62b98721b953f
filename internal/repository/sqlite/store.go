// Package sqlite stores tasks in a SQLite file through GORM.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hiroki-koketsu/go-todo/internal/model"
	"github.com/hiroki-koketsu/go-todo/internal/repository"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// taskRecord is the table row for a task.
type taskRecord struct {
	ID              string `gorm:"primaryKey"`
	Text            string `gorm:"not null"`
	Status          string `gorm:"not null;default:pending"`
	Deadline        string `gorm:"not null"`
	Category        string `gorm:"not null"`
	OwnerID         string `gorm:"not null;index"`
	Order           *int64
	CreatedAt       time.Time
	CreatedAtClient *int64
}

func (taskRecord) TableName() string { return "tasks" }

func toRecord(t *model.Task) taskRecord {
	return taskRecord{
		ID:              t.ID,
		Text:            t.Text,
		Status:          string(t.Status),
		Deadline:        t.Deadline,
		Category:        t.Category,
		OwnerID:         t.OwnerID,
		Order:           t.Order,
		CreatedAt:       t.CreatedAt,
		CreatedAtClient: t.CreatedAtClient,
	}
}

func (r taskRecord) toTask() model.Task {
	return model.Task{
		ID:              r.ID,
		Text:            r.Text,
		Status:          model.Status(r.Status),
		Deadline:        r.Deadline,
		Category:        r.Category,
		OwnerID:         r.OwnerID,
		Order:           r.Order,
		CreatedAt:       r.CreatedAt,
		CreatedAtClient: r.CreatedAtClient,
	}
}

// Store is a GORM-backed task store.
type Store struct {
	db *gorm.DB
}

var _ repository.Store = (*Store)(nil)

// Open opens the database file at path and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(gormsqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&taskRecord{}); err != nil {
		return nil, fmt.Errorf("migrate tasks: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Insert(ctx context.Context, task *model.Task) error {
	task.ID = repository.NewID()
	task.CreatedAt = time.Now().UTC()
	rec := toRecord(task)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func (s *Store) InsertBatch(ctx context.Context, tasks []*model.Task) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, task := range tasks {
			task.ID = repository.NewID()
			task.CreatedAt = now.Add(time.Duration(i) * time.Microsecond)
			rec := toRecord(task)
			if err := tx.Create(&rec).Error; err != nil {
				return fmt.Errorf("failed to create task: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, id string) (*model.Task, error) {
	var rec taskRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to find task: %w", err)
	}
	task := rec.toTask()
	return &task, nil
}

func (s *Store) FindByOwner(ctx context.Context, ownerID string) ([]model.Task, error) {
	var recs []taskRecord
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC, id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find tasks: %w", err)
	}
	tasks := make([]model.Task, 0, len(recs))
	for _, rec := range recs {
		tasks = append(tasks, rec.toTask())
	}
	return tasks, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status model.Status) error {
	result := s.db.WithContext(ctx).Model(&taskRecord{}).Where("id = ?", id).Update("status", string(status))
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if result.RowsAffected == 0 {
		return model.ErrTaskNotFound
	}
	return nil
}

func (s *Store) UpdateOrders(ctx context.Context, ranks []model.Rank) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rank := range ranks {
			result := tx.Model(&taskRecord{}).Where("id = ?", rank.ID).Update("order", rank.Order)
			if err := result.Error; err != nil {
				return fmt.Errorf("failed to update order: %w", err)
			}
			if result.RowsAffected == 0 {
				return model.ErrTaskNotFound
			}
		}
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&taskRecord{}, "id = ?", id)
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if result.RowsAffected == 0 {
		return model.ErrTaskNotFound
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&taskRecord{}).Count(&n).Error
	return n, err
}
