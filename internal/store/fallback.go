// Package store keeps an in-memory fallback message log for the legacy
// read-only surface, used when the relational store cannot be reached.
package store

import "sync"

// FallbackEntry is one record in the degraded-mode message log.
type FallbackEntry struct {
	Message string `json:"message"`
	Time    string `json:"time"`
}

// FallbackLog is an append-only, in-memory message list. It is independent of
// per-room persistence: the relay records messages here only when a durable
// append fails, and the legacy /messages endpoint reads it back.
type FallbackLog struct {
	mu      sync.Mutex
	entries []FallbackEntry
}

// NewFallbackLog returns an empty fallback log.
func NewFallbackLog() *FallbackLog {
	return &FallbackLog{}
}

// Append records a message with its already-formatted time.
func (l *FallbackLog) Append(message, timestamp string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, FallbackEntry{Message: message, Time: timestamp})
}

// Snapshot returns a copy of the recorded entries in append order.
func (l *FallbackLog) Snapshot() []FallbackEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := make([]FallbackEntry, len(l.entries))
	copy(entries, l.entries)
	return entries
}
