package store

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"rsacomm/internal/message"
)

// Store is the optional audit archive. A nil *Store disables archiving;
// every method is safe to call on it. Archive failures are logged and
// never surface into the routing path.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the sqlite archive at dsn and migrates the
// schema. Use ":memory:" for a throwaway archive.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	if err := db.AutoMigrate(&MessageRecord{}, &SessionRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate archive schema: %w", err)
	}
	return &Store{db: db}, nil
}

// RecordMessage archives the routing metadata of one relayed message.
func (s *Store) RecordMessage(msg *message.Message) {
	if s == nil {
		return
	}
	record := MessageRecord{
		Source:      msg.Source,
		Destination: msg.Destination,
		Kind:        string(msg.Kind),
		ReceivedAt:  time.Now(),
	}
	if err := s.db.Create(&record).Error; err != nil {
		slog.Error("failed to archive message", "error", err)
	}
}

// RecordLogin opens a session record for name.
func (s *Store) RecordLogin(name string) {
	if s == nil {
		return
	}
	record := SessionRecord{Name: name, ConnectedAt: time.Now()}
	if err := s.db.Create(&record).Error; err != nil {
		slog.Error("failed to archive login", "error", err)
	}
}

// RecordLogout stamps the most recent open session record for name.
func (s *Store) RecordLogout(name string) {
	if s == nil {
		return
	}
	now := time.Now()
	err := s.db.Model(&SessionRecord{}).
		Where("name = ? AND disconnected_at IS NULL", name).
		Update("disconnected_at", &now).Error
	if err != nil {
		slog.Error("failed to archive logout", "error", err)
	}
}

// RecentMessages returns up to limit archived messages, newest first.
func (s *Store) RecentMessages(limit int) ([]MessageRecord, error) {
	if s == nil {
		return nil, nil
	}
	var records []MessageRecord
	err := s.db.Order("id DESC").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query archive: %w", err)
	}
	return records, nil
}

// Sessions returns the archived session records for name, oldest first.
func (s *Store) Sessions(name string) ([]SessionRecord, error) {
	if s == nil {
		return nil, nil
	}
	var records []SessionRecord
	err := s.db.Where("name = ?", name).Order("id ASC").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query archive: %w", err)
	}
	return records, nil
}
