package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AbdullahHR10/ChatFlow/internal/metrics"
	"github.com/AbdullahHR10/ChatFlow/internal/models"
)

// Store is the persistent message store collaborator. It is the single
// source of truth; the hub's maps only track who is listening right now.
type Store interface {
	ConversationByID(ctx context.Context, id string) (*models.Conversation, error)
	ConversationsOf(ctx context.Context, userID string) ([]*models.Conversation, error)
	ConversationForGroup(ctx context.Context, groupID string) (*models.Conversation, error)
	EnsureGroupConversation(ctx context.Context, groupID string) (*models.Conversation, error)
	AppendMessage(ctx context.Context, msg *models.Message) error
	OrderedHistory(ctx context.Context, conversationID string) ([]models.Message, error)
	MessageByID(ctx context.Context, id string) (*models.Message, error)
	MarkRead(ctx context.Context, messageID string) error
	SetReaction(ctx context.Context, messageID, userID, emoji string) (map[string]string, error)
	DeleteMessage(ctx context.Context, messageID string) error
}

// Directory is the user directory collaborator.
type Directory interface {
	UserByID(ctx context.Context, id string) (*models.User, error)
	SetPresence(ctx context.Context, userID, status string, lastSeen time.Time) error
	GroupByID(ctx context.Context, id string) (*models.Group, error)
	GroupIDsOf(ctx context.Context, userID string) ([]string, error)
	IsGroupMember(ctx context.Context, groupID, userID string) (bool, error)
}

// ConversationRoom returns the room id for a conversation.
func ConversationRoom(conversationID string) string {
	return "conversation:" + conversationID
}

// GroupRoom returns the room id for a group.
func GroupRoom(groupID string) string {
	return "group:" + groupID
}

// envelope is a marshaled event queued for fan-out. An empty room means
// every connected client.
type envelope struct {
	room  string
	event string
	data  []byte
}

// Hub owns all transient connection state: which connection belongs to
// which user, which rooms each connection has joined, and the per-user
// connection refcount backing presence. All maps are guarded by mu and
// never touched outside this type. Room and registry state is rebuilt from
// the store on every connect; nothing here survives the process.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]bool
	byUser   map[string]map[*Client]bool
	rooms    map[string]map[*Client]bool
	joined   map[*Client]map[string]bool
	presence map[string]int

	broadcast chan envelope

	store     Store
	directory Directory
	logger    *zap.SugaredLogger
	metrics   *metrics.Metrics
}

func NewHub(store Store, directory Directory, logger *zap.SugaredLogger, m *metrics.Metrics) *Hub {
	return &Hub{
		clients:   make(map[*Client]bool),
		byUser:    make(map[string]map[*Client]bool),
		rooms:     make(map[string]map[*Client]bool),
		joined:    make(map[*Client]map[string]bool),
		presence:  make(map[string]int),
		broadcast: make(chan envelope, 256),
		store:     store,
		directory: directory,
		logger:    logger,
		metrics:   m,
	}
}

// Run drains the broadcast queue. All room and global fan-out flows through
// this single goroutine, so events reach the members of a room in the order
// the pipeline enqueued them.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("WebSocket hub stopped")
			return
		case env := <-h.broadcast:
			h.deliver(env)
		}
	}
}

func (h *Hub) deliver(env envelope) {
	h.mu.RLock()
	var targets []*Client
	if env.room == "" {
		targets = make([]*Client, 0, len(h.clients))
		for c := range h.clients {
			targets = append(targets, c)
		}
	} else {
		targets = make([]*Client, 0, len(h.rooms[env.room]))
		for c := range h.rooms[env.room] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.send(c, env.data)
	}
	h.metrics.EventsBroadcast.WithLabelValues(env.event).Add(float64(len(targets)))
}

// send queues data on the client's buffered channel. A client that cannot
// keep up is closed; its read pump then runs the normal disconnect cleanup.
func (h *Hub) send(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.logger.Warnf("Send buffer full for user %s, dropping connection", c.userID)
		h.metrics.EventsDropped.Inc()
		c.close()
		if c.conn == nil {
			// No read pump to trigger cleanup for connection-less clients.
			h.Disconnect(c)
		}
	}
}

// Connect registers the connection, steps the user's presence refcount,
// joins the user's rooms as derived from the store, and replays each
// room's backlog to this connection only.
func (h *Hub) Connect(ctx context.Context, c *Client) error {
	h.mu.Lock()
	h.clients[c] = true
	if h.byUser[c.userID] == nil {
		h.byUser[c.userID] = make(map[*Client]bool)
	}
	h.byUser[c.userID][c] = true
	h.presence[c.userID]++
	first := h.presence[c.userID] == 1
	total := len(h.clients)
	h.mu.Unlock()

	h.metrics.ConnectedClients.Set(float64(total))
	h.logger.Infof("Client connected: %s (user %s), total clients: %d", c.name, c.userID, total)

	if first {
		now := time.Now().UTC()
		if err := h.directory.SetPresence(ctx, c.userID, models.StatusOnline, now); err != nil {
			h.logger.Errorf("Failed to persist online presence for user %s: %v", c.userID, err)
		}
		h.BroadcastAll(Event{Type: EventStatusUpdate, Payload: StatusUpdatePayload{
			UserID: c.userID,
			Status: models.StatusOnline,
		}})
	}

	rooms, err := h.roomsFor(ctx, c.userID)
	if err != nil {
		return fmt.Errorf("resolving rooms for user %s: %w", c.userID, err)
	}

	for _, room := range rooms {
		h.JoinRoom(c, room.id)
		h.replayHistory(ctx, c, room)
	}

	return nil
}

// Disconnect removes the connection from every room it joined, unregisters
// it and steps presence down, flipping the user offline when their last
// connection closes. Unknown handles are a no-op, so the read pump's defer
// and the slow-client drop path may both call this safely.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	delete(h.byUser[c.userID], c)
	if len(h.byUser[c.userID]) == 0 {
		delete(h.byUser, c.userID)
	}
	for room := range h.joined[c] {
		delete(h.rooms[room], c)
		if len(h.rooms[room]) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(h.joined, c)
	h.presence[c.userID]--
	last := h.presence[c.userID] <= 0
	if last {
		delete(h.presence, c.userID)
	}
	total := len(h.clients)
	openRooms := len(h.rooms)
	h.mu.Unlock()

	c.close()
	h.metrics.ConnectedClients.Set(float64(total))
	h.metrics.OpenRooms.Set(float64(openRooms))
	h.logger.Infof("Client disconnected: %s (user %s), remaining clients: %d", c.name, c.userID, total)

	if last {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		now := time.Now().UTC()
		if err := h.directory.SetPresence(ctx, c.userID, models.StatusOffline, now); err != nil {
			h.logger.Errorf("Failed to persist offline presence for user %s: %v", c.userID, err)
		}
		h.BroadcastAll(Event{Type: EventStatusUpdate, Payload: StatusUpdatePayload{
			UserID:   c.userID,
			Status:   models.StatusOffline,
			LastSeen: now.Format(time.RFC3339),
		}})
	}
}

// JoinRoom adds the connection to a room. Joining a room the connection is
// already in is a no-op, so a member never sees duplicate deliveries.
func (h *Hub) JoinRoom(c *Client, roomID string) {
	h.mu.Lock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Client]bool)
	}
	h.rooms[roomID][c] = true
	if h.joined[c] == nil {
		h.joined[c] = make(map[string]bool)
	}
	h.joined[c][roomID] = true
	openRooms := len(h.rooms)
	h.mu.Unlock()

	h.metrics.OpenRooms.Set(float64(openRooms))
}

func (h *Hub) LeaveRoom(c *Client, roomID string) {
	h.mu.Lock()
	delete(h.rooms[roomID], c)
	if len(h.rooms[roomID]) == 0 {
		delete(h.rooms, roomID)
	}
	delete(h.joined[c], roomID)
	openRooms := len(h.rooms)
	h.mu.Unlock()

	h.metrics.OpenRooms.Set(float64(openRooms))
}

// MembersOf returns a snapshot of the connections currently joined to the
// room.
func (h *Hub) MembersOf(roomID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := make([]*Client, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		members = append(members, c)
	}
	return members
}

// ConnectionsFor returns a snapshot of the user's live connections.
func (h *Hub) ConnectionsFor(userID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]*Client, 0, len(h.byUser[userID]))
	for c := range h.byUser[userID] {
		conns = append(conns, c)
	}
	return conns
}

// RoomsJoined returns a snapshot of the room ids the connection is in.
func (h *Hub) RoomsJoined(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms := make([]string, 0, len(h.joined[c]))
	for room := range h.joined[c] {
		rooms = append(rooms, room)
	}
	return rooms
}

// BroadcastRoom queues an event for every connection joined to the room.
func (h *Hub) BroadcastRoom(roomID string, e Event) {
	h.enqueue(roomID, e)
}

// BroadcastAll queues an event for every connected client.
func (h *Hub) BroadcastAll(e Event) {
	h.enqueue("", e)
}

func (h *Hub) enqueue(room string, e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Errorf("Failed to marshal %s event: %v", e.Type, err)
		return
	}
	h.broadcast <- envelope{room: room, event: e.Type, data: data}
}

// SendToUser delivers an event to every live connection of one user,
// bypassing the ordered broadcast queue. Used for notification relay.
func (h *Hub) SendToUser(userID string, e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Errorf("Failed to marshal %s event: %v", e.Type, err)
		return
	}
	for _, c := range h.ConnectionsFor(userID) {
		h.send(c, data)
	}
	h.metrics.EventsBroadcast.WithLabelValues(e.Type).Inc()
}

// sendDirect delivers an event to a single connection.
func (h *Hub) sendDirect(c *Client, e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Errorf("Failed to marshal %s event: %v", e.Type, err)
		return
	}
	h.send(c, data)
}

// roomRef carries what history replay needs alongside the room id.
type roomRef struct {
	id             string
	conversationID string
	groupID        string
}

// roomsFor derives the user's rooms from the collaborators at connect time.
// Nothing is cached across connections.
func (h *Hub) roomsFor(ctx context.Context, userID string) ([]roomRef, error) {
	conversations, err := h.store.ConversationsOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	groupIDs, err := h.directory.GroupIDsOf(ctx, userID)
	if err != nil {
		return nil, err
	}

	refs := make([]roomRef, 0, len(conversations)+len(groupIDs))
	for _, conv := range conversations {
		refs = append(refs, roomRef{id: ConversationRoom(conv.ID), conversationID: conv.ID})
	}
	for _, groupID := range groupIDs {
		refs = append(refs, roomRef{id: GroupRoom(groupID), groupID: groupID})
	}
	return refs, nil
}
