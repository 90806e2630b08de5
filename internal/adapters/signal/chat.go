package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/mystline/advisory/internal/domain"
)

func (ctl *Controller) handleChatMessage(ctx context.Context, p *peer, data []byte) {
	var env struct {
		Payload struct {
			SessionID  domain.SessionID `json:"sessionId"`
			ReceiverID domain.UserID    `json:"receiverId"`
			Content    string           `json:"content"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		ctl.sendError(p.conn, "bad_request", "malformed chat payload")
		return
	}
	if env.Payload.SessionID <= 0 || env.Payload.ReceiverID <= 0 || env.Payload.Content == "" {
		ctl.sendError(p.conn, "bad_request", "chat message requires sessionId, receiverId and content")
		return
	}

	res := ctl.Delivery.SendMessage(ctx, &domain.ChatMessage{
		SessionID:  env.Payload.SessionID,
		SenderID:   p.uid,
		ReceiverID: env.Payload.ReceiverID,
		Content:    env.Payload.Content,
	})

	// The sender learns both fates at once: whether the receiver saw it
	// and whether it will survive a restart.
	ctl.sendJSON(p.conn, struct {
		Type string `json:"type"`
		Ack  any    `json:"payload"`
	}{"message_delivered", res})
}

func (ctl *Controller) handleTyping(p *peer, data []byte) {
	var env struct {
		Payload struct {
			SessionID domain.SessionID `json:"sessionId"`
			IsTyping  bool             `json:"isTyping"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil || env.Payload.SessionID <= 0 {
		return // fire-and-forget, bad input is just dropped
	}
	ctl.Delivery.HandleTypingIndicator(env.Payload.SessionID, p.uid, env.Payload.IsTyping)
}

func (ctl *Controller) handleDeliveryReceipt(p *peer, data []byte) {
	var env struct {
		Payload struct {
			MessageID string        `json:"messageId"`
			SenderID  domain.UserID `json:"senderId"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil || env.Payload.MessageID == "" || env.Payload.SenderID <= 0 {
		return
	}
	ctl.Delivery.ConfirmDelivery(env.Payload.MessageID, env.Payload.SenderID)
}

func (ctl *Controller) handleReadReceipt(ctx context.Context, p *peer, data []byte) {
	var env struct {
		Payload struct {
			MessageID string        `json:"messageId"`
			SenderID  domain.UserID `json:"senderId"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil || env.Payload.MessageID == "" || env.Payload.SenderID <= 0 {
		return
	}
	log.Debug().Str("module", "adapters.signal").Str("msg", env.Payload.MessageID).Int64("reader", int64(p.uid)).Msg("read receipt")
	ctl.Delivery.MarkRead(ctx, env.Payload.MessageID, env.Payload.SenderID)
}
