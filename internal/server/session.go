// Package server drives the join, history replay, relay, and leave sequence
// for one connection via the Session type.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Tyrowin/chatrelay/internal/store"
)

// Session runs the room protocol for a single connection: resolve the room,
// register, announce the join, replay stored history, relay live messages,
// and announce the leave on disconnect. Failures stay local to the session
// that encountered them.
type Session struct {
	client      *Client
	registry    *Registry
	broadcaster *Broadcaster
	messages    store.Store
	fallback    *store.FallbackLog
	room        *store.Room
}

// NewSession creates the protocol driver for one accepted connection.
func NewSession(client *Client, registry *Registry, broadcaster *Broadcaster, messages store.Store, fallback *store.FallbackLog) *Session {
	return &Session{
		client:      client,
		registry:    registry,
		broadcaster: broadcaster,
		messages:    messages,
		fallback:    fallback,
	}
}

// Run executes the session until the connection closes or fails. It blocks,
// and always deregisters the connection before announcing the leave so the
// leaving client never receives its own leave notice.
func (s *Session) Run(ctx context.Context) {
	room, err := s.messages.FindOrCreateRoom(ctx, s.client.roomID)
	if err != nil {
		s.client.log().WithError(err).Error("room resolution failed; rejecting join")
		s.client.closeConn("join")
		return
	}
	s.room = room

	s.registry.Register(s.client.roomID, s.client)
	go s.client.writePump()

	s.client.log().WithField("members", s.registry.Count(s.client.roomID)).Info("client joined room")
	s.broadcaster.Broadcast(s.client.roomID, joinNotice(s.client.username, time.Now()))

	if err := s.replayHistory(ctx); err != nil {
		s.client.log().WithError(err).Warn("history replay aborted")
		s.leave()
		return
	}

	s.client.readPump(func(raw []byte) error {
		return s.relay(ctx, raw)
	})

	s.leave()
}

// replayHistory sends the room's stored messages, oldest first, to the
// joining connection only. An unreachable store is not fatal: the room still
// works live without its history.
func (s *Session) replayHistory(ctx context.Context) error {
	messages, err := s.messages.ListMessages(ctx, s.room)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			s.client.log().WithError(err).Error("history unavailable; continuing without replay")
			return nil
		}
		return err
	}

	for _, msg := range messages {
		payload := encodeOutbound(msg.Username, msg.Content, msg.Timestamp, false)
		if err := s.broadcaster.SendTo(s.client, payload); err != nil {
			return err
		}
	}
	return nil
}

// relay persists one inbound frame and fans the resulting record out to the
// whole room, sender included. Persist and broadcast run under the room's
// relay lock so every member observes messages in persistence-completion
// order. A malformed frame is returned as an error, which terminates the
// session without broadcasting anything partial.
func (s *Session) relay(ctx context.Context, raw []byte) error {
	var in InboundMessage
	if err := json.Unmarshal(raw, &in); err != nil {
		return fmt.Errorf("malformed frame: %w", err)
	}
	if in.Username == "" || in.Content == "" {
		return errors.New("malformed frame: missing username or content")
	}

	s.registry.sequenced(s.client.roomID, func() {
		timestamp := time.Now()
		msg, err := s.messages.AppendMessage(ctx, s.room, in.Username, in.Content)
		if err != nil {
			// Delivery outlives durability: broadcast anyway and keep the
			// record in the degraded-mode log.
			s.client.log().WithError(err).Error("message persistence failed; broadcasting live only")
			s.fallback.Append(in.Content, timestamp.Format(timestampLayout))
		} else {
			timestamp = msg.Timestamp
		}
		s.broadcaster.Broadcast(s.client.roomID, encodeOutbound(in.Username, in.Content, timestamp, false))
	})
	return nil
}

// leave deregisters the connection first, then announces the departure to the
// remaining members.
func (s *Session) leave() {
	s.registry.Deregister(s.client.roomID, s.client)
	s.client.log().WithField("members", s.registry.Count(s.client.roomID)).Info("client left room")
	s.broadcaster.Broadcast(s.client.roomID, leaveNotice(s.client.username, time.Now()))
}
