// Package hub fans queue events out to display boards subscribed to a
// department.
package hub

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"clinicq/internal/models"
	"clinicq/internal/store"

	"github.com/rs/zerolog"
)

type Subscription struct {
	Department string
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  zerolog.Logger
}

type SubscribeMessage struct {
	Action     string `json:"action"`
	Department string `json:"department"`
}

// Envelope is what a display board receives. The entry carries no patient
// identifiers.
type Envelope struct {
	Type       string            `json:"type"`
	Department string            `json:"department"`
	Entry      models.QueueEntry `json:"entry"`
	CreatedAt  time.Time         `json:"created_at"`
}

func New(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

// Broadcast delivers payload to every client subscribed to department. Slow
// clients lose the message rather than blocking the others.
func (h *Hub) Broadcast(payload []byte, department string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.Subscription.Department == "" || client.Subscription.Department != department {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			h.logger.Warn().Str("client_id", client.ID).Msg("dropping message for slow client")
		}
	}
}

// Handle makes the hub an outbox consumer. Only queue events are broadcast.
func (h *Hub) Handle(ctx context.Context, event store.OutboxEvent) error {
	if !strings.HasPrefix(event.Type, "queue.") || event.Department == "" {
		return nil
	}
	var entry models.QueueEntry
	if err := json.Unmarshal(event.Payload, &entry); err != nil {
		h.logger.Warn().Err(err).Int64("seq", event.Seq).Msg("undecodable queue event")
		return nil
	}
	entry.PatientID = ""
	entry.AppointmentID = nil
	entry.RequestID = ""
	entry.PriorityRationale = ""
	payload, err := json.Marshal(Envelope{
		Type:       event.Type,
		Department: event.Department,
		Entry:      entry,
		CreatedAt:  event.CreatedAt,
	})
	if err != nil {
		return err
	}
	h.Broadcast(payload, event.Department)
	return nil
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	msg.Department = strings.TrimSpace(msg.Department)
	switch msg.Action {
	case "subscribe":
		return msg, msg.Department != ""
	case "unsubscribe":
		return msg, true
	}
	return SubscribeMessage{}, false
}
