// Package server coordinates room membership for the chat relay via the
// Registry type, which tracks which live connections belong to which room.
package server

import "sync"

// roomState holds the membership set for a single room together with the
// locks that keep its activity independent of every other room.
type roomState struct {
	// mu guards members and the closed flag of clients being removed.
	mu sync.RWMutex
	// relay serializes persist-and-broadcast so every member observes
	// messages in persistence-completion order.
	relay   sync.Mutex
	members map[*Client]struct{}
}

// Registry maintains, per room identifier, the set of active connections. It
// is constructed once and injected into every session; membership is mutated
// only by a session on behalf of its own connection.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*roomState
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*roomState)}
}

// room returns the state for roomID, creating it lazily. The registry-level
// lock is held only for the lookup, never across room activity.
func (r *Registry) room(roomID string) *roomState {
	r.mu.RLock()
	state, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if ok {
		return state
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok := r.rooms[roomID]; ok {
		return state
	}
	state = &roomState{members: make(map[*Client]struct{})}
	r.rooms[roomID] = state
	return state
}

// lookup returns the state for roomID without creating it.
func (r *Registry) lookup(roomID string) (*roomState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.rooms[roomID]
	return state, ok
}

// Register adds the client to the room's membership set, creating the room
// entry lazily. The side effect is visible to subsequent broadcasts.
func (r *Registry) Register(roomID string, client *Client) {
	state := r.room(roomID)
	state.mu.Lock()
	client.closed = false
	state.members[client] = struct{}{}
	state.mu.Unlock()
}

// Deregister removes the client from the room if present and closes its send
// channel; removing an absent client is a no-op so duplicate cleanup paths
// stay safe. The closed flag flips under the room lock, which is what lets
// safeSend never race the channel close.
func (r *Registry) Deregister(roomID string, client *Client) {
	state, ok := r.lookup(roomID)
	if !ok {
		return
	}

	state.mu.Lock()
	if _, exists := state.members[client]; !exists {
		state.mu.Unlock()
		return
	}
	delete(state.members, client)
	client.closed = true
	state.mu.Unlock()

	// Close the channel after releasing the lock; the write pump drains and
	// shuts the connection down from here.
	close(client.send)
}

// Members returns a snapshot of the room's registered connections. Iterating
// the snapshot stays safe while other sessions mutate the set.
func (r *Registry) Members(roomID string) []*Client {
	state, ok := r.lookup(roomID)
	if !ok {
		return nil
	}

	state.mu.RLock()
	defer state.mu.RUnlock()
	members := make([]*Client, 0, len(state.members))
	for client := range state.members {
		members = append(members, client)
	}
	return members
}

// Count returns the number of connections currently registered in the room.
func (r *Registry) Count(roomID string) int {
	state, ok := r.lookup(roomID)
	if !ok {
		return 0
	}
	state.mu.RLock()
	defer state.mu.RUnlock()
	return len(state.members)
}

// sequenced runs fn while holding the room's relay lock. Sessions wrap
// persist-and-broadcast in it so message order within a room matches the
// order the persistence calls completed in; rooms never contend with each
// other.
func (r *Registry) sequenced(roomID string, fn func()) {
	state := r.room(roomID)
	state.relay.Lock()
	defer state.relay.Unlock()
	fn()
}

// safeSend delivers payload to the client's buffered send channel. It holds
// the room's membership lock so the channel cannot be closed mid-send, and
// reports false when the client is gone or its buffer is full.
func (r *Registry) safeSend(roomID string, client *Client, payload []byte) bool {
	state, ok := r.lookup(roomID)
	if !ok {
		return false
	}

	state.mu.RLock()
	defer state.mu.RUnlock()

	if _, exists := state.members[client]; !exists || client.closed {
		return false
	}

	select {
	case client.send <- payload:
		return true
	default:
		return false
	}
}

// CloseAll closes every registered connection across all rooms. Used during
// graceful shutdown; each session's own disconnect path performs the
// deregistration.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	rooms := make([]*roomState, 0, len(r.rooms))
	for _, state := range r.rooms {
		rooms = append(rooms, state)
	}
	r.mu.RUnlock()

	for _, state := range rooms {
		state.mu.RLock()
		clients := make([]*Client, 0, len(state.members))
		for client := range state.members {
			clients = append(clients, client)
		}
		state.mu.RUnlock()

		for _, client := range clients {
			client.closeConn("shutdown")
		}
	}
}
