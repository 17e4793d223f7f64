// Package store implements the persistence contract on top of GORM with
// selectable SQL drivers.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Driver identifies the SQL backend the store runs on.
type Driver string

const (
	SQLite   Driver = "sqlite"
	Postgres Driver = "postgres"
	MySQL    Driver = "mysql"
)

// Config holds the persistence settings: which driver to use, its DSN, and
// connection pool limits.
type Config struct {
	Driver Driver
	DSN    string

	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// SQLStore is the GORM-backed implementation of the Store contract.
type SQLStore struct {
	db *gorm.DB
}

// Open connects to the configured database, applies pool settings, and
// migrates the room and message tables.
func Open(cfg Config) (*SQLStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store: DSN is required")
	}

	dialector, err := dialectorFor(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, unavailable(err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, unavailable(err)
	}

	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(&Room{}, &Message{}); err != nil {
		return nil, unavailable(err)
	}

	return &SQLStore{db: db}, nil
}

// dialectorFor returns the GORM dialector for the configured driver. An empty
// driver defaults to sqlite.
func dialectorFor(driver Driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case SQLite, "":
		return sqlite.Open(dsn), nil
	case Postgres:
		return postgres.Open(dsn), nil
	case MySQL:
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}
}

// FindOrCreateRoom returns the room with the given identifier, creating it
// with a default display name if absent. Concurrent callers racing on a
// never-seen identifier all observe the single created record: the loser of
// the insert race re-reads the winner's row.
func (s *SQLStore) FindOrCreateRoom(ctx context.Context, roomID string) (*Room, error) {
	var room Room
	err := s.db.WithContext(ctx).Where("room_id = ?", roomID).First(&room).Error
	if err == nil {
		return &room, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, unavailable(err)
	}

	room = Room{RoomID: roomID, Name: "Room " + roomID}
	err = s.db.WithContext(ctx).Create(&room).Error
	if err == nil {
		return &room, nil
	}
	if isDuplicateKey(err) {
		var existing Room
		if err := s.db.WithContext(ctx).Where("room_id = ?", roomID).First(&existing).Error; err != nil {
			return nil, unavailable(err)
		}
		return &existing, nil
	}
	return nil, unavailable(err)
}

// AppendMessage persists one chat record with a server-assigned timestamp.
func (s *SQLStore) AppendMessage(ctx context.Context, room *Room, username, content string) (*Message, error) {
	msg := Message{
		Username:  username,
		Content:   content,
		Timestamp: time.Now(),
		RoomID:    room.ID,
	}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, unavailable(err)
	}
	return &msg, nil
}

// ListMessages returns the room's messages ordered by timestamp ascending.
func (s *SQLStore) ListMessages(ctx context.Context, room *Room) ([]Message, error) {
	var messages []Message
	err := s.db.WithContext(ctx).
		Where("room_id = ?", room.ID).
		Order("timestamp asc, id asc").
		Find(&messages).Error
	if err != nil {
		return nil, unavailable(err)
	}
	return messages, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// isDuplicateKey detects a unique-constraint violation across the supported
// drivers; GORM only translates it for some of them.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
