// Package store persists chat rooms and their messages and defines the
// read/write contract the relay core depends on: find-or-create a room by
// identifier, append a message with a server-assigned timestamp, and list a
// room's messages in timestamp order.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates the backing store could not be reached. Callers
// decide per operation whether this is fatal (room resolution) or degrades to
// live-only delivery (message append).
var ErrUnavailable = errors.New("store: unavailable")

// Room groups connections and their persisted message history under a stable
// string identifier. Rooms are created lazily on first join and never deleted.
type Room struct {
	ID     uint   `gorm:"primaryKey"`
	RoomID string `gorm:"size:100;uniqueIndex"`
	Name   string `gorm:"size:100"`
}

// Message is one immutable chat record. Timestamp is assigned at persistence
// time, never taken from the client.
type Message struct {
	ID        uint      `gorm:"primaryKey"`
	Username  string    `gorm:"size:100"`
	Content   string    `gorm:"type:text"`
	Timestamp time.Time `gorm:"index"`
	RoomID    uint      `gorm:"index"`
}

// Store is the persistence contract the relay core requires. Implementations
// must keep FindOrCreateRoom safe under concurrent calls for the same
// never-seen identifier: exactly one room is created and every caller
// observes it.
type Store interface {
	FindOrCreateRoom(ctx context.Context, roomID string) (*Room, error)
	AppendMessage(ctx context.Context, room *Room, username, content string) (*Message, error)
	ListMessages(ctx context.Context, room *Room) ([]Message, error)
}
