package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mystline/advisory/internal/domain"
)

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	period := ctl.PingPeriod
	if period <= 0 {
		period = 54 * time.Second
	}
	keepalive := time.NewTicker(period)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "adapters.signal").Msg("writePump ctx done")
			return
		case <-keepalive.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "adapters.signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("module", "adapters.signal").Msg("writePump keepalive failed")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "adapters.signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "adapters.signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "adapters.signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, p *peer) {
	defer func() {
		log.Info().Str("module", "adapters.signal").Int64("user", int64(p.uid)).Msg("readPump closing")
		p.cancel()
		if p.uid != 0 {
			ctl.Registry.DisconnectOwned(p.uid, p.conn)
		} else {
			p.conn.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := p.conn.conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("module", "adapters.signal").Int64("user", int64(p.uid)).Msg("readPump read error")
				return
			}
			ctl.handleFrame(ctx, p, data)
		}
	}
}

// handleFrame dispatches one inbound envelope. A panic in any handler is
// confined to this connection; it never reaches the registry or other
// sessions.
func (ctl *Controller) handleFrame(ctx context.Context, p *peer, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("module", "adapters.signal").Int64("user", int64(p.uid)).Msg("handler panic recovered")
		}
	}()

	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		ctl.sendError(p.conn, "bad_request", "malformed JSON")
		return
	}

	if env.Type == "auth" {
		ctl.handleAuth(p, data)
		return
	}
	if p.uid == 0 {
		ctl.sendError(p.conn, "unauthorized", "authenticate first")
		return
	}
	if !ctl.Limiter.Allow(p.uid) {
		ctl.sendError(p.conn, "rate_limited", "slow down")
		return
	}

	switch env.Type {
	case "ping":
		ctl.sendJSON(p.conn, map[string]string{"type": "pong"})
	case "signal_offer", "signal_answer", "signal_ice_candidate", "signal_end":
		ctl.handleSignal(p, data)
	case "chat_message":
		ctl.handleChatMessage(ctx, p, data)
	case "typing_indicator":
		ctl.handleTyping(p, data)
	case "delivery_receipt":
		ctl.handleDeliveryReceipt(p, data)
	case "read_receipt":
		ctl.handleReadReceipt(ctx, p, data)
	default:
		log.Warn().Str("module", "adapters.signal").Str("type", env.Type).Msg("unknown envelope type")
		ctl.sendError(p.conn, "unknown_type", "unsupported message type")
	}
}

func (ctl *Controller) handleAuth(p *peer, data []byte) {
	if p.uid != 0 {
		// Re-authing the same connection would cancel its own pumps via
		// the registry's last-writer-wins path.
		ctl.sendError(p.conn, "bad_request", "already authenticated")
		return
	}
	var env struct {
		Payload struct {
			UserID domain.UserID `json:"userId"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil || env.Payload.UserID <= 0 {
		ctl.sendError(p.conn, "bad_request", "auth requires a userId")
		return
	}

	p.uid = env.Payload.UserID
	ctl.Registry.Connect(p.uid, p.conn, p.cancel)

	ctl.sendJSON(p.conn, struct {
		Type   string        `json:"type"`
		UserID domain.UserID `json:"userId"`
	}{"auth_success", p.uid})

	// Anything that piled up while this user was offline goes out now, in
	// enqueue order.
	ctl.Delivery.DeliverQueuedMessages(p.uid)
}

// handleSignal hands the raw frame to the relay. Validation failure and
// unauthorized senders are both silent drops; the relay never leaks which.
func (ctl *Controller) handleSignal(p *peer, data []byte) {
	msg := ctl.Relay.Validate(data)
	if msg == nil {
		log.Debug().Str("module", "adapters.signal").Int64("user", int64(p.uid)).Msg("invalid signal dropped")
		return
	}
	switch msg.Type {
	case domain.SignalOffer:
		ctl.Relay.HandleOffer(p.uid, msg)
	case domain.SignalAnswer:
		ctl.Relay.HandleAnswer(p.uid, msg)
	case domain.SignalICECandidate:
		ctl.Relay.HandleICECandidate(p.uid, msg)
	case domain.SignalEnd:
		ctl.Relay.HandleCallEnd(p.uid, msg)
	}
}

func (ctl *Controller) sendJSON(c *wsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *Controller) sendError(c *wsConn, code, message string) {
	ctl.sendJSON(c, struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}{"error", code, message})
}
