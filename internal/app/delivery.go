package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mystline/advisory/internal/core"
	"github.com/mystline/advisory/internal/domain"
)

// DefaultOfflineQueueCap bounds each user's offline queue; the oldest
// message is dropped when a new one arrives at capacity.
const DefaultOfflineQueueCap = 200

// MessageDelivery routes chat payloads. Persistence and live delivery are
// decided independently: a failing store never stalls the transport and a
// missing receiver never voids the durable write.
type MessageDelivery struct {
	store    core.Store
	registry *Registry

	mu       sync.Mutex
	queues   map[domain.UserID][]*domain.ChatMessage
	queueCap int
}

func NewMessageDelivery(store core.Store, reg *Registry, queueCap int) *MessageDelivery {
	if queueCap <= 0 {
		queueCap = DefaultOfflineQueueCap
	}
	return &MessageDelivery{
		store:    store,
		registry: reg,
		queues:   make(map[domain.UserID][]*domain.ChatMessage),
		queueCap: queueCap,
	}
}

type chatEnvelope struct {
	Type    string              `json:"type"`
	Payload *domain.ChatMessage `json:"payload"`
}

// SendMessage delivers and persists msg, in that order but independently.
// Delivery goes first so the live push never waits on the store. Success
// covers the call itself; a store rejection shows up only in Persisted/Err,
// and an offline receiver only in Delivered/Queued.
func (d *MessageDelivery) SendMessage(ctx context.Context, msg *domain.ChatMessage) core.SendResult {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	if msg.Kind == "" {
		msg.Kind = domain.MessageText
	}

	res := core.SendResult{Success: true, MessageID: msg.ID}

	env := chatEnvelope{Type: "chat_message", Payload: msg}
	if d.registry.SendTo(msg.ReceiverID, env) {
		res.Delivered = true
	} else {
		d.enqueue(msg)
		res.Queued = true
	}

	if err := d.store.CreateMessage(ctx, msg); err != nil {
		// Reported once, never retried.
		res.Err = err.Error()
		log.Warn().Err(err).Str("module", "app.delivery").Str("msg", msg.ID).Msg("persist failed")
	} else {
		res.Persisted = true
	}
	return res
}

func (d *MessageDelivery) enqueue(msg *domain.ChatMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	q := d.queues[msg.ReceiverID]
	if len(q) >= d.queueCap {
		// Drop oldest first; the queue is a bounded convenience, the store
		// holds the durable copy.
		q = q[1:]
		log.Warn().Str("module", "app.delivery").Int64("user", int64(msg.ReceiverID)).Msg("offline queue full, dropping oldest")
	}
	d.queues[msg.ReceiverID] = append(q, msg)
}

// DeliverQueuedMessages drains uid's offline queue in FIFO order. The queue
// is cleared even when some sends fail; redelivery is the store's job.
func (d *MessageDelivery) DeliverQueuedMessages(uid domain.UserID) int {
	d.mu.Lock()
	q := d.queues[uid]
	delete(d.queues, uid)
	d.mu.Unlock()

	delivered := 0
	for _, msg := range q {
		if d.registry.SendTo(uid, chatEnvelope{Type: "chat_message", Payload: msg}) {
			delivered++
		}
	}
	if len(q) > 0 {
		log.Info().Str("module", "app.delivery").Int64("user", int64(uid)).Int("queued", len(q)).Int("delivered", delivered).Msg("offline queue drained")
	}
	return delivered
}

// QueuedCount reports uid's current offline backlog.
func (d *MessageDelivery) QueuedCount(uid domain.UserID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues[uid])
}

// HandleTypingIndicator relays a typing flag to the other session members.
// Fire and forget: never persisted, offline recipients are skipped.
func (d *MessageDelivery) HandleTypingIndicator(sid domain.SessionID, from domain.UserID, isTyping bool) {
	env := struct {
		Type      string           `json:"type"`
		SessionID domain.SessionID `json:"sessionId"`
		From      domain.UserID    `json:"from"`
		IsTyping  bool             `json:"isTyping"`
	}{"typing_indicator", sid, from, isTyping}

	for uid := range d.registry.MembersOf(sid) {
		if uid == from {
			continue
		}
		d.registry.SendTo(uid, env)
	}
}

// ConfirmDelivery relays a delivery acknowledgment for messageID back to
// its original sender. Best effort.
func (d *MessageDelivery) ConfirmDelivery(messageID string, sender domain.UserID) {
	env := struct {
		Type      string `json:"type"`
		MessageID string `json:"messageId"`
	}{"message_delivered", messageID}
	d.registry.SendTo(sender, env)
}

// MarkRead records the read receipt and relays it to the original sender.
// Both halves are best effort and independent.
func (d *MessageDelivery) MarkRead(ctx context.Context, messageID string, sender domain.UserID) {
	if err := d.store.MarkAsRead(ctx, messageID); err != nil {
		log.Warn().Err(err).Str("module", "app.delivery").Str("msg", messageID).Msg("mark read failed")
	}
	env := struct {
		Type      string `json:"type"`
		MessageID string `json:"messageId"`
	}{"message_read", messageID}
	d.registry.SendTo(sender, env)
}

// History is a passthrough for the request/response layer.
func (d *MessageDelivery) History(ctx context.Context, sid domain.SessionID, limit int) ([]domain.ChatMessage, error) {
	return d.store.GetConversationHistory(ctx, sid, limit)
}
