// Package realtime pushes job progress to websocket subscribers. Each job is a
// room; a connection joins the room of the job it asked for and may join or
// leave more rooms with small JSON messages.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
	"github.com/AndreVianna/VTTTools-sub035/internal/infra"
)

// MessageType enumerates websocket message kinds.
type MessageType string

const (
	MessageTypeJoin     MessageType = "join"
	MessageTypeLeave    MessageType = "leave"
	MessageTypePing     MessageType = "ping"
	MessageTypePong     MessageType = "pong"
	MessageTypeProgress MessageType = "progress"
)

// Message is the envelope exchanged with websocket clients.
type Message struct {
	Type      MessageType           `json:"type"`
	Room      string                `json:"room,omitempty"`
	Progress  *domain.ProgressEvent `json:"progress,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// Hub maintains active clients and fans progress out to job rooms.
type Hub struct {
	clients   map[*Client]bool
	rooms     map[string]map[*Client]bool
	broadcast chan *Message
	mu        sync.RWMutex
	logger    zerolog.Logger
}

// NewHub creates a hub. Run must be started before clients connect.
func NewHub(logger *infra.Logger) *Hub {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "realtime").Logger()
	}
	return &Hub{
		clients:   make(map[*Client]bool),
		rooms:     make(map[string]map[*Client]bool),
		broadcast: make(chan *Message, 256),
		logger:    l,
	}
}

// Run delivers broadcasts until ctx ends, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case message := <-h.broadcast:
			h.deliver(message)

		case <-ticker.C:
			h.mu.RLock()
			count, roomCount := len(h.clients), len(h.rooms)
			h.mu.RUnlock()
			h.logger.Debug().Int("clients", count).Int("rooms", roomCount).Msg("realtime: hub stats")
		}
	}
}

// Publish implements the progress sink used by the generation handler. It
// never blocks on slow subscribers.
func (h *Hub) Publish(ctx context.Context, event domain.ProgressEvent) error {
	msg := &Message{Type: MessageTypeProgress, Room: RoomFor(event.JobID), Progress: &event, Timestamp: time.Now().UTC()}
	select {
	case h.broadcast <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		h.logger.Warn().Str("job_id", event.JobID.String()).Msg("realtime: broadcast buffer full, dropping progress")
		return nil
	}
}

// RoomFor names the room of a job.
func RoomFor(jobID uuid.UUID) string {
	return "job:" + jobID.String()
}

func (h *Hub) add(client *Client, rooms ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
	for _, room := range rooms {
		h.joinLocked(client, room)
	}
	h.logger.Debug().Str("client_id", client.id).Msg("realtime: client registered")
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	for room := range client.rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, client)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	close(client.send)
	h.logger.Debug().Str("client_id", client.id).Msg("realtime: client unregistered")
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
	}
	h.clients = make(map[*Client]bool)
	h.rooms = make(map[string]map[*Client]bool)
}

func (h *Hub) deliver(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error().Err(err).Msg("realtime: marshal message")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.rooms[message.Room] {
		select {
		case client.send <- data:
		default:
			h.logger.Warn().Str("client_id", client.id).Msg("realtime: client send buffer full")
		}
	}
}

// JoinRoom adds a client to a room.
func (h *Hub) JoinRoom(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	h.joinLocked(client, room)
}

func (h *Hub) joinLocked(client *Client, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][client] = true
	client.rooms[room] = true
}

// LeaveRoom removes a client from a room.
func (h *Hub) LeaveRoom(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(client.rooms, room)
}

// Stats reports client and room counts for diagnostics.
func (h *Hub) Stats() (clients int, rooms map[string]int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms = make(map[string]int, len(h.rooms))
	for room, members := range h.rooms {
		rooms[room] = len(members)
	}
	return len(h.clients), rooms
}
