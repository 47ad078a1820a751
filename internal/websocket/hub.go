package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/profile-ledger/internal/domain"
)

// Message types
const (
	MessageTypeSeasonUpdate = "season_update"
	MessageTypeRankUpdate   = "rank_update"
	MessageTypeSubscribe    = "subscribe"
	MessageTypeUnsubscribe  = "unsubscribe"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeError        = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	Season    string      `json:"season,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// SeasonUpdate contains leaderboard data for one season broadcast
type SeasonUpdate struct {
	Season       string             `json:"season"`
	Entries      []domain.RankEntry `json:"entries"`
	TotalPlayers int64              `json:"total_players"`
}

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	// Registered clients by season tag
	clients map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Inbound messages from clients
	broadcast chan *Message

	// Subscription requests
	subscribe chan *subscriptionRequest

	// Unsubscription requests
	unsubscribe chan *subscriptionRequest

	// Mutex for thread-safe operations
	mu sync.RWMutex

	// Logger
	logger *slog.Logger

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client        *Client
	season string
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[string]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				// Remove from all season subscriptions
				for lbID, clients := range h.clients {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.clients, lbID)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.clients[req.season]; !ok {
				h.clients[req.season] = make(map[*Client]bool)
			}
			h.clients[req.season][req.client] = true
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "season", req.season)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.season]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.season)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "season", req.season)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends a message to all subscribed clients
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	// If the message carries a season tag, only send to subscribed clients
	if message.Season != "" {
		if clients, ok := h.clients[message.Season]; ok {
			for client := range clients {
				select {
				case client.send <- data:
				default:
					// Client's buffer is full, skip
					h.logger.Warn("client buffer full, skipping", "client_id", client.id)
				}
			}
		}
	} else {
		// Broadcast to all clients
		for client := range h.allClients {
			select {
			case client.send <- data:
			default:
				h.logger.Warn("client buffer full, skipping", "client_id", client.id)
			}
		}
	}
}

// BroadcastSeasonUpdate sends a season leaderboard update to all subscribed clients
func (h *Hub) BroadcastSeasonUpdate(season string, entries []domain.RankEntry, totalPlayers int64) {
	message := &Message{
		Type:   MessageTypeSeasonUpdate,
		Season: season,
		Data: SeasonUpdate{
			Season:       season,
			Entries:      entries,
			TotalPlayers: totalPlayers,
		},
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

// BroadcastRankUpdate sends a single account rank change notification
func (h *Hub) BroadcastRankUpdate(season string, entry domain.RankEntry) {
	message := &Message{
		Type:      MessageTypeRankUpdate,
		Season:    season,
		Data:      entry,
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds a client to a season subscription
func (h *Hub) Subscribe(client *Client, season string) {
	h.subscribe <- &subscriptionRequest{
		client:        client,
		season: season,
	}
}

// Unsubscribe removes a client from a season subscription
func (h *Hub) Unsubscribe(client *Client, season string) {
	h.unsubscribe <- &subscriptionRequest{
		client:        client,
		season: season,
	}
}

// GetSubscriberCount returns the number of subscribers for a season
func (h *Hub) GetSubscriberCount(season string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if clients, ok := h.clients[season]; ok {
		return len(clients)
	}
	return 0
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}

