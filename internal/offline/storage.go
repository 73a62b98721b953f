package offline

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/hiroki-koketsu/go-todo/internal/model"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MemoryStorage keeps entries in process memory.
type MemoryStorage struct {
	mu      sync.Mutex
	entries map[int64]Entry
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{entries: make(map[int64]Entry)}
}

func (s *MemoryStorage) Put(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.LocalID] = e
	return nil
}

func (s *MemoryStorage) All(_ context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int {
		return cmp.Compare(a.LocalID, b.LocalID)
	})
	return out, nil
}

func (s *MemoryStorage) Remove(_ context.Context, localIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range localIDs {
		delete(s.entries, id)
	}
	return nil
}

type entryRecord struct {
	LocalID         int64 `gorm:"primaryKey;autoIncrement:false"`
	Text            string
	Deadline        string
	Category        string
	Order           *float64
	CreatedAtClient int64
}

func (entryRecord) TableName() string { return "offline_tasks" }

// SQLiteStorage persists entries in a SQLite file through gorm.
type SQLiteStorage struct {
	db *gorm.DB
}

// OpenSQLite opens (and migrates) the offline buffer at path.
func OpenSQLite(path string) (*SQLiteStorage, error) {
	db, err := gorm.Open(gormsqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open offline buffer: %w", err)
	}
	return NewSQLiteStorage(db)
}

// NewSQLiteStorage wraps an open gorm handle.
func NewSQLiteStorage(db *gorm.DB) (*SQLiteStorage, error) {
	if err := db.AutoMigrate(&entryRecord{}); err != nil {
		return nil, fmt.Errorf("migrate offline buffer: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// Close releases the underlying connection.
func (s *SQLiteStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteStorage) Put(ctx context.Context, e Entry) error {
	rec := entryRecord{
		LocalID:         e.LocalID,
		Text:            e.Task.Text,
		Deadline:        e.Task.Deadline,
		Category:        e.Task.Category,
		Order:           e.Task.Order,
		CreatedAtClient: e.Task.CreatedAtClient,
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

func (s *SQLiteStorage) All(ctx context.Context) ([]Entry, error) {
	var recs []entryRecord
	if err := s.db.WithContext(ctx).Order("local_id").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]Entry, len(recs))
	for i, r := range recs {
		out[i] = Entry{
			LocalID: r.LocalID,
			Task: model.OfflineTaskInput{
				Text:            r.Text,
				Deadline:        r.Deadline,
				Category:        r.Category,
				Order:           r.Order,
				CreatedAtClient: r.CreatedAtClient,
			},
		}
	}
	return out, nil
}

func (s *SQLiteStorage) Remove(ctx context.Context, localIDs []int64) error {
	if len(localIDs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Where("local_id IN ?", localIDs).Delete(&entryRecord{}).Error
	})
}
