package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatrelay/internal/store"
)

// stubStore is an in-memory Store used to test protocol behavior without a
// database. Failure flags simulate an unreachable backing store.
type stubStore struct {
	mu         sync.Mutex
	rooms      map[string]*store.Room
	messages   map[uint][]store.Message
	nextRoomID uint
	failFind   bool
	failAppend bool
	failList   bool
}

func newStubStore() *stubStore {
	return &stubStore{
		rooms:    make(map[string]*store.Room),
		messages: make(map[uint][]store.Message),
	}
}

func (s *stubStore) FindOrCreateRoom(_ context.Context, roomID string) (*store.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFind {
		return nil, fmt.Errorf("%w: stub refusing room lookup", store.ErrUnavailable)
	}
	if room, ok := s.rooms[roomID]; ok {
		return room, nil
	}
	s.nextRoomID++
	room := &store.Room{ID: s.nextRoomID, RoomID: roomID, Name: "Room " + roomID}
	s.rooms[roomID] = room
	return room, nil
}

func (s *stubStore) AppendMessage(_ context.Context, room *store.Room, username, content string) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppend {
		return nil, fmt.Errorf("%w: stub refusing append", store.ErrUnavailable)
	}
	msg := store.Message{
		ID:        uint(len(s.messages[room.ID]) + 1),
		Username:  username,
		Content:   content,
		Timestamp: time.Now(),
		RoomID:    room.ID,
	}
	s.messages[room.ID] = append(s.messages[room.ID], msg)
	return &msg, nil
}

func (s *stubStore) ListMessages(_ context.Context, room *store.Room) ([]store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failList {
		return nil, fmt.Errorf("%w: stub refusing list", store.ErrUnavailable)
	}
	return append([]store.Message(nil), s.messages[room.ID]...), nil
}

func (s *stubStore) seed(roomID string, messages ...store.Message) *store.Room {
	room, _ := s.FindOrCreateRoom(context.Background(), roomID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[room.ID] = append(s.messages[room.ID], messages...)
	return room
}

func newTestSession(t *testing.T, messages store.Store, roomID, username string) (*Session, *Registry) {
	t.Helper()
	registry := NewRegistry()
	session := NewSession(
		newTestClient(t, roomID, username),
		registry,
		NewBroadcaster(registry),
		messages,
		store.NewFallbackLog(),
	)
	return session, registry
}

func decodeFrame(t *testing.T, payload []byte) OutboundMessage {
	t.Helper()
	var frame OutboundMessage
	require.NoError(t, json.Unmarshal(payload, &frame))
	return frame
}

// TestRelayPersistsAndBroadcasts verifies that one inbound frame results in
// exactly one persisted record and one delivery to every room member,
// including the sender.
func TestRelayPersistsAndBroadcasts(t *testing.T) {
	messages := newStubStore()
	session, registry := newTestSession(t, messages, "lobby", "alice")

	room, err := messages.FindOrCreateRoom(context.Background(), "lobby")
	require.NoError(t, err)
	session.room = room

	bob := newTestClient(t, "lobby", "bob")
	registry.Register("lobby", session.client)
	registry.Register("lobby", bob)

	raw, _ := json.Marshal(InboundMessage{Username: "alice", Content: "hello"})
	require.NoError(t, session.relay(context.Background(), raw))

	stored, err := messages.ListMessages(context.Background(), room)
	require.NoError(t, err)
	require.Len(t, stored, 1, "message must be persisted exactly once")
	assert.Equal(t, "hello", stored[0].Content)

	for _, client := range []*Client{session.client, bob} {
		frame := decodeFrame(t, receiveFrame(t, client))
		assert.Equal(t, "alice", frame.Username)
		assert.Equal(t, "hello", frame.Content)
		assert.False(t, frame.System)
		assert.Equal(t, stored[0].Timestamp.Format(timestampLayout), frame.Timestamp)
	}
}

// TestRelayRejectsMalformedFrames verifies that bad frames terminate the
// session without broadcasting anything partial.
func TestRelayRejectsMalformedFrames(t *testing.T) {
	messages := newStubStore()
	session, registry := newTestSession(t, messages, "lobby", "alice")
	session.room = messages.seed("lobby")
	registry.Register("lobby", session.client)

	tests := []struct {
		name string
		raw  []byte
	}{
		{"not json", []byte("not json at all")},
		{"missing content", []byte(`{"username":"alice"}`)},
		{"missing username", []byte(`{"content":"hi"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, session.relay(context.Background(), tt.raw))
			assert.Empty(t, session.client.send, "nothing may be broadcast for a rejected frame")
		})
	}

	stored, err := messages.ListMessages(context.Background(), session.room)
	require.NoError(t, err)
	assert.Empty(t, stored, "rejected frames must not be persisted")
}

// TestRelayDegradedMode verifies the "chat must keep flowing" policy: when
// the append fails, the message is still broadcast and the fallback log
// records it.
func TestRelayDegradedMode(t *testing.T) {
	messages := newStubStore()
	messages.failAppend = true
	session, registry := newTestSession(t, messages, "lobby", "alice")
	session.room = &store.Room{ID: 1, RoomID: "lobby"}
	registry.Register("lobby", session.client)

	raw, _ := json.Marshal(InboundMessage{Username: "alice", Content: "still here"})
	require.NoError(t, session.relay(context.Background(), raw))

	frame := decodeFrame(t, receiveFrame(t, session.client))
	assert.Equal(t, "still here", frame.Content)
	assert.False(t, frame.System)

	entries := session.fallback.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, "still here", entries[0].Message)
}

// TestReplayHistoryOrder verifies that stored messages reach the joining
// connection in store order, tagged as non-system frames.
func TestReplayHistoryOrder(t *testing.T) {
	messages := newStubStore()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.Local)
	room := messages.seed("lobby",
		store.Message{Username: "alice", Content: "first", Timestamp: base},
		store.Message{Username: "bob", Content: "second", Timestamp: base.Add(time.Minute)},
	)

	session, registry := newTestSession(t, messages, "lobby", "carol")
	session.room = room
	registry.Register("lobby", session.client)

	require.NoError(t, session.replayHistory(context.Background()))

	first := decodeFrame(t, receiveFrame(t, session.client))
	second := decodeFrame(t, receiveFrame(t, session.client))
	assert.Equal(t, "first", first.Content)
	assert.Equal(t, "09:00", first.Timestamp)
	assert.False(t, first.System)
	assert.Equal(t, "second", second.Content)
	assert.Equal(t, "09:01", second.Timestamp)
}

// TestReplayHistoryUnavailableIsNotFatal verifies that a room still works
// live when its history cannot be loaded.
func TestReplayHistoryUnavailableIsNotFatal(t *testing.T) {
	messages := newStubStore()
	messages.failList = true
	session, registry := newTestSession(t, messages, "lobby", "alice")
	session.room = &store.Room{ID: 1, RoomID: "lobby"}
	registry.Register("lobby", session.client)

	assert.NoError(t, session.replayHistory(context.Background()))
	assert.Empty(t, session.client.send)
}

// TestLeaveNoticeIsolation verifies that deregistration happens before the
// leave notice is composed: remaining members receive it exactly once and
// the leaver receives nothing.
func TestLeaveNoticeIsolation(t *testing.T) {
	messages := newStubStore()
	session, registry := newTestSession(t, messages, "lobby", "alice")
	bob := newTestClient(t, "lobby", "bob")
	registry.Register("lobby", session.client)
	registry.Register("lobby", bob)

	session.leave()

	frame := decodeFrame(t, receiveFrame(t, bob))
	assert.True(t, frame.System)
	assert.Equal(t, systemUsername, frame.Username)
	assert.Equal(t, "❌ alice left the room", frame.Content)
	assert.Empty(t, bob.send, "leave notice must arrive exactly once")

	_, open := <-session.client.send
	assert.False(t, open, "the leaver's channel is closed and receives nothing further")
}

// TestJoinAndLeaveNoticeShapes pins the wire shape of system notices.
func TestJoinAndLeaveNoticeShapes(t *testing.T) {
	ts := time.Date(2026, 3, 1, 14, 30, 0, 0, time.Local)

	join := decodeFrame(t, joinNotice("alice", ts))
	assert.Equal(t, OutboundMessage{
		Username:  "System",
		Content:   "⭐ alice joined the room",
		Timestamp: "14:30",
		System:    true,
	}, join)

	leave := decodeFrame(t, leaveNotice("alice", ts))
	assert.Equal(t, "❌ alice left the room", leave.Content)
	assert.True(t, leave.System)
}
