// Package gormstore implements a storage backend on MySQL through gorm.
package gormstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/inbucket/mailsync/pkg/config"
	"github.com/inbucket/mailsync/pkg/storage"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Row is the table model for a single record.
type Row struct {
	Family    string    `gorm:"type:varchar(32);primaryKey"`
	Key       string    `gorm:"column:record_key;type:varchar(255);primaryKey"`
	Payload   []byte    `gorm:"type:longblob;not null"`
	FetchedAt time.Time `gorm:"not null"`
}

// TableName implements gorm's tabler interface.
func (Row) TableName() string {
	return "mailsync_records"
}

// Store implements storage.Backend on a gorm database.
type Store struct {
	db *gorm.DB
}

var _ storage.Backend = &Store{}

// New opens a MySQL database using the `dsn` parameter and migrates the records table.
func New(cfg config.Storage) (storage.Backend, error) {
	dsn := cfg.Params["dsn"]
	if dsn == "" {
		return nil, errors.New("'dsn' parameter not specified")
	}
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return NewWithDB(db)
}

// NewWithDB wraps an already opened database.
func NewWithDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Row{}); err != nil {
		return nil, fmt.Errorf("%w: migrate: %v", storage.ErrUnavailable, err)
	}
	return &Store{db: db}, nil
}

// Get returns the keyed record.
func (s *Store) Get(f storage.Family, key string) (*storage.Record, error) {
	row := &Row{}
	err := s.db.Where("family = ? AND record_key = ?", string(f), key).Take(row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return &storage.Record{
		Family:    storage.Family(row.Family),
		Key:       row.Key,
		Payload:   row.Payload,
		FetchedAt: row.FetchedAt,
	}, nil
}

// Put upserts the keyed record.
func (s *Store) Put(rec *storage.Record) error {
	if err := storage.ValidFamily(rec.Family); err != nil {
		return err
	}
	row := &Row{
		Family:    string(rec.Family),
		Key:       rec.Key,
		Payload:   rec.Payload,
		FetchedAt: rec.FetchedAt.UTC(),
	}
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
}

// Remove deletes the keyed record.
func (s *Store) Remove(f storage.Family, key string) error {
	res := s.db.Where("family = ? AND record_key = ?", string(f), key).Delete(&Row{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotExist
	}
	return nil
}

// Clear deletes every record.
func (s *Store) Clear() error {
	return s.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Row{}).Error
}

// Count returns the number of records in the family.
func (s *Store) Count(f storage.Family) (int, error) {
	var n int64
	err := s.db.Model(&Row{}).Where("family = ?", string(f)).Count(&n).Error
	return int(n), err
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
