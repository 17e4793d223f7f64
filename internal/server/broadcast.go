// Package server delivers payloads to room members via the Broadcaster type,
// isolating per-connection delivery failures from the rest of the room.
package server

import "errors"

// errSendFailed reports that a point-to-point delivery could not make
// progress; the owning session cannot proceed without a working channel.
var errSendFailed = errors.New("client send channel unavailable")

// Broadcaster fans payloads out to every connection registered in a room. A
// failed delivery is logged and the stale client dropped from the registry;
// no error ever escapes a broadcast, since the dead connection's own session
// finishes the cleanup.
type Broadcaster struct {
	registry *Registry
}

// NewBroadcaster creates a broadcast engine over the given registry.
func NewBroadcaster(registry *Registry) *Broadcaster {
	return &Broadcaster{registry: registry}
}

// Broadcast delivers payload to every connection currently registered in the
// room, including the sender's own connection.
func (b *Broadcaster) Broadcast(roomID string, payload []byte) {
	if payload == nil {
		return
	}

	var stale []*Client
	for _, client := range b.registry.Members(roomID) {
		if !b.registry.safeSend(roomID, client, payload) {
			stale = append(stale, client)
		}
	}

	for _, client := range stale {
		client.log().Warn("dropping client with full or closed send buffer")
		b.registry.Deregister(roomID, client)
	}
}

// SendTo delivers payload to a single connection, used for history replay. A
// failure is returned so the caller can abort the session.
func (b *Broadcaster) SendTo(client *Client, payload []byte) error {
	if payload == nil {
		return nil
	}
	if !b.registry.safeSend(client.roomID, client, payload) {
		return errSendFailed
	}
	return nil
}
