// Package server defines the JSON frames exchanged with chat clients and
// utility helpers reused across session and broadcast logic.
package server

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// systemUsername is the author attached to synthesized join/leave notices.
const systemUsername = "System"

// timestampLayout is the wire format for outbound timestamps.
const timestampLayout = "15:04"

// InboundMessage represents the JSON frame a client sends to its room.
type InboundMessage struct {
	Username string `json:"username"`
	Content  string `json:"content"`
}

// OutboundMessage represents the JSON frame delivered to room members, both
// for relayed chat messages and for synthesized system notices.
type OutboundMessage struct {
	Username  string `json:"username"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	System    bool   `json:"system"`
}

// encodeOutbound marshals an outbound frame with the server-local wire
// timestamp format.
func encodeOutbound(username, content string, ts time.Time, system bool) []byte {
	payload, err := json.Marshal(OutboundMessage{
		Username:  username,
		Content:   content,
		Timestamp: ts.Format(timestampLayout),
		System:    system,
	})
	if err != nil {
		logrus.WithError(err).Error("failed to encode outbound frame")
		return nil
	}
	return payload
}

// joinNotice builds the system frame announcing that a user entered the room.
func joinNotice(username string, ts time.Time) []byte {
	return encodeOutbound(systemUsername, fmt.Sprintf("⭐ %s joined the room", username), ts, true)
}

// leaveNotice builds the system frame announcing that a user left the room.
func leaveNotice(username string, ts time.Time) []byte {
	return encodeOutbound(systemUsername, fmt.Sprintf("❌ %s left the room", username), ts, true)
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
