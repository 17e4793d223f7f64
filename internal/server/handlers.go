// Package server exposes HTTP handlers: the room WebSocket endpoint, health
// check, the legacy message listing, and the built-in chat page.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/chatrelay/internal/store"
)

// Server bundles the collaborators every handler needs: configuration, the
// connection registry, the broadcast engine, the message store, and the
// degraded-mode fallback log. It is constructed once in main and owns no
// global state.
type Server struct {
	cfg         *Config
	registry    *Registry
	broadcaster *Broadcaster
	messages    store.Store
	fallback    *store.FallbackLog
	upgrader    websocket.Upgrader
}

// NewServer wires the relay's collaborators together.
func NewServer(cfg *Config, registry *Registry, messages store.Store) *Server {
	return &Server{
		cfg:         cfg,
		registry:    registry,
		broadcaster: NewBroadcaster(registry),
		messages:    messages,
		fallback:    store.NewFallbackLog(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.checkOrigin,
		},
	}
}

// Registry returns the connection registry, for shutdown coordination.
func (s *Server) Registry() *Registry {
	return s.registry
}

// RoomSocketHandler upgrades the request to a WebSocket and runs the room
// protocol for the connection until it closes. The room comes from the path,
// the username from the query string.
func (s *Server) RoomSocketHandler(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room")
	username := strings.TrimSpace(r.URL.Query().Get("username"))
	if roomID == "" || username == "" {
		http.Error(w, "room and username are required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).WithField("remote_addr", r.RemoteAddr).Warn("WebSocket upgrade failed")
		return
	}

	client := NewClient(conn, roomID, username, r.RemoteAddr, s.cfg)
	NewSession(client, s.registry, s.broadcaster, s.messages, s.fallback).Run(r.Context())
}

// HealthHandler provides a simple health check endpoint that returns server status.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Chat relay is running!")
}

// MessagesHandler serves the legacy read-only message list. The list is
// backed by the in-memory fallback log, independent of per-room persistence;
// it only fills up when the durable store is unreachable.
func (s *Server) MessagesHandler(w http.ResponseWriter, _ *http.Request) {
	entries := s.fallback.Snapshot()
	if entries == nil {
		entries = []store.FallbackEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	payload := struct {
		Messages []store.FallbackEntry `json:"messages"`
	}{Messages: entries}

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logrus.WithError(err).Warn("failed to write messages response")
	}
}

// ChatPageHandler serves an HTML page for joining a room and chatting through
// the WebSocket endpoint from a browser.
func (s *Server) ChatPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, chatPageHTML); err != nil {
		logrus.WithError(err).Warn("error writing HTML response")
	}
}

const chatPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Chat Relay</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] {
            width: 200px;
            padding: 5px;
            margin-right: 10px;
        }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .system { color: gray; font-style: italic; }
        .message { color: black; }
        .meta { color: #888; font-size: 0.85em; margin-left: 6px; }
    </style>
</head>
<body>
    <h1>Chat Relay</h1>

    <div>
        <input type="text" id="roomInput" placeholder="Room" value="lobby">
        <input type="text" id="usernameInput" placeholder="Username">
        <button id="joinButton" onclick="toggleConnection()">Join</button>
    </div>

    <div id="messages"></div>

    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const joinButton = document.getElementById('joinButton');

        function addMessage(frame) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            if (frame.system) {
                el.className = 'system';
                el.textContent = frame.content;
            } else {
                el.className = 'message';
                el.innerHTML = '<strong></strong><span class="meta"></span>';
                el.querySelector('strong').textContent = frame.username + ': ' + frame.content;
                el.querySelector('.meta').textContent = frame.timestamp;
            }
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function connect() {
            const room = document.getElementById('roomInput').value.trim();
            const username = document.getElementById('usernameInput').value.trim();
            if (!room || !username) {
                return;
            }

            const scheme = location.protocol === 'https:' ? 'wss' : 'ws';
            ws = new WebSocket(scheme + '://' + location.host + '/ws/' +
                encodeURIComponent(room) + '?username=' + encodeURIComponent(username));

            ws.onopen = function() {
                messageInput.disabled = false;
                sendButton.disabled = false;
                joinButton.textContent = 'Leave';
            };

            ws.onmessage = function(event) {
                addMessage(JSON.parse(event.data));
            };

            ws.onclose = function() {
                messageInput.disabled = true;
                sendButton.disabled = true;
                joinButton.textContent = 'Join';
                ws = null;
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function sendMessage() {
            const content = messageInput.value.trim();
            const username = document.getElementById('usernameInput').value.trim();
            if (content && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({username: username, content: content}));
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
