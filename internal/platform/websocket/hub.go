// Package websocket streams committed ledger events to WebSocket clients.
// Clients subscribe to topics and receive every event published to them:
//
//	all                 every event
//	medicine:<id>       events of one batch
//	type:<EventType>    events of one type, e.g. type:MedicineSold
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medsafar/supplychain/internal/domain/ledger"
	"github.com/medsafar/supplychain/internal/platform/auth"
)

const TopicAll = "all"

// MedicineTopic names the topic carrying one batch's events.
func MedicineTopic(id int64) string {
	return "medicine:" + strconv.FormatInt(id, 10)
}

// TypeTopic names the topic carrying one event type.
func TypeTopic(t ledger.EventType) string {
	return "type:" + string(t)
}

// topicsFor lists the topics an event is delivered on.
func topicsFor(e ledger.Event) []string {
	topics := []string{TopicAll, TypeTopic(e.Type)}
	if e.MedicineID > 0 {
		topics = append(topics, MedicineTopic(e.MedicineID))
	}
	return topics
}

// ClientMessage represents an inbound message from a WebSocket client.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Client represents a single WebSocket connection.
type Client struct {
	ID      string
	Account string
	Topics  []string
	Send    chan []byte
	hub     *Hub
}

// Hub tracks clients and their topic subscriptions. It implements
// ledger.Publisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> set of clients
	all     map[*Client]struct{}            // all connected clients
	logger  zerolog.Logger
	dropped atomic.Int64
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub and subscribes it to its initial topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}

	for _, topic := range client.Topics {
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][client] = struct{}{}
	}
}

// Unregister removes a client from the hub, all topic subscriptions, and
// closes the client's Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}

	for _, topic := range client.Topics {
		if subscribers, ok := h.clients[topic]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.clients, topic)
			}
		}
	}

	delete(h.all, client)
	close(client.Send)
}

// Subscribe dynamically adds topics to an already-registered client.
func (h *Hub) Subscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, topic := range topics {
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		if _, ok := h.clients[topic][client]; ok {
			continue
		}
		h.clients[topic][client] = struct{}{}
		client.Topics = append(client.Topics, topic)
	}
}

// Unsubscribe dynamically removes topics from an already-registered client.
func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	removeSet := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		removeSet[t] = struct{}{}
	}

	for _, topic := range topics {
		if subscribers, ok := h.clients[topic]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.clients, topic)
			}
		}
	}

	remaining := make([]string, 0, len(client.Topics))
	for _, t := range client.Topics {
		if _, rm := removeSet[t]; !rm {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

// ProcessMessage handles an inbound ClientMessage, dispatching to Subscribe
// or Unsubscribe as appropriate.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, normalizeTopics(msg.Topics))
	case "unsubscribe":
		h.Unsubscribe(client, normalizeTopics(msg.Topics))
	}
}

func normalizeTopics(topics []string) []string {
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Publish sends each event once to every client subscribed to any of its
// topics. Clients with a full buffer miss the event.
func (h *Hub) Publish(_ context.Context, events []ledger.Event) error {
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}

		h.mu.RLock()
		seen := make(map[*Client]struct{})
		for _, topic := range topicsFor(e) {
			for client := range h.clients[topic] {
				if _, dup := seen[client]; dup {
					continue
				}
				seen[client] = struct{}{}
				select {
				case client.Send <- data:
				default:
					h.dropped.Add(1)
					h.logger.Warn().Str("client", client.ID).Str("event_id", e.ID).Msg("stream client too slow, event dropped")
				}
			}
		}
		h.mu.RUnlock()
	}
	return nil
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of clients subscribed to a specific topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// Dropped counts deliveries skipped because a client buffer was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

var _ ledger.Publisher = (*Hub)(nil)

// Handler upgrades HTTP requests to event stream connections.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler binds a handler to hub. Browser origins outside
// allowedOrigins are refused; "*" allows any origin.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimSpace(o)] = true
	}
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed["*"] || allowed[origin]
			},
		},
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/events/stream", h.HandleConnect)
}

// HandleConnect upgrades the connection and registers the client. Initial
// topics come from the comma-separated topics query parameter and default
// to all.
func (h *Handler) HandleConnect(c echo.Context) error {
	topics := normalizeTopics(strings.Split(c.QueryParam("topics"), ","))
	if len(topics) == 0 {
		topics = []string{TopicAll}
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	account := auth.AccountFromContext(c.Request().Context())
	client := &Client{
		ID:      uuid.New().String(),
		Account: account,
		Topics:  topics,
		Send:    make(chan []byte, 256),
		hub:     h.hub,
	}

	h.hub.Register(client)
	h.hub.logger.Debug().Str("client", client.ID).Str("account", account).Strs("topics", topics).Msg("stream client connected")

	go h.writePump(client, ws)
	go h.readPump(client, ws)

	return nil
}

// readPump reads messages from the WebSocket connection and processes them.
func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
		h.hub.logger.Debug().Str("client", client.ID).Msg("stream client disconnected")
	}()

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		h.hub.ProcessMessage(client, msg)
	}
}

// writePump writes messages from the Send channel to the WebSocket connection.
func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	defer ws.Close()

	for message := range client.Send {
		if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			break
		}
	}
}
