package app

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/mystline/advisory/internal/domain"
)

// SignalRelay shepherds the WebRTC handshake between the two parties bound
// to a session. It forwards payloads verbatim and drops anything malformed
// or unauthorized without a reply, so one bad peer cannot crash the relay
// or learn anything about the other.
type SignalRelay struct {
	Registry *Registry
	Sessions *SessionManager
}

func NewSignalRelay(reg *Registry, sm *SessionManager) *SignalRelay {
	return &SignalRelay{Registry: reg, Sessions: sm}
}

// Validate is the single gate against malformed signaling input. It returns
// nil, never an error, for every bad shape: non-JSON, null, missing
// type/sessionId/from, a non-numeric sessionId, an unknown type.
func (rl *SignalRelay) Validate(raw []byte) *domain.SignalMessage {
	var msg domain.SignalMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil
	}
	if !msg.Type.Valid() {
		return nil
	}
	if msg.SessionID <= 0 || msg.From <= 0 {
		return nil
	}
	return &msg
}

func (rl *SignalRelay) HandleOffer(sender domain.UserID, msg *domain.SignalMessage) {
	rl.forward(sender, msg)
}

func (rl *SignalRelay) HandleAnswer(sender domain.UserID, msg *domain.SignalMessage) {
	rl.forward(sender, msg)
}

func (rl *SignalRelay) HandleICECandidate(sender domain.UserID, msg *domain.SignalMessage) {
	rl.forward(sender, msg)
}

func (rl *SignalRelay) HandleCallEnd(sender domain.UserID, msg *domain.SignalMessage) {
	rl.forward(sender, msg)
}

// forward delivers msg to its target iff the session exists and both sender
// and target are the session's bound parties. Anything else returns
// silently: no error envelope, and critically nothing sent to the target.
func (rl *SignalRelay) forward(sender domain.UserID, msg *domain.SignalMessage) {
	if msg == nil {
		return
	}
	sess, ok := rl.Sessions.GetSession(msg.SessionID)
	if !ok {
		log.Debug().Str("module", "app.relay").Int64("session", int64(msg.SessionID)).Msg("signal for unknown session dropped")
		return
	}
	if !sess.Bound(sender) {
		log.Warn().Str("module", "app.relay").
			Int64("session", int64(msg.SessionID)).
			Int64("sender", int64(sender)).
			Msg("signal from non-participant dropped")
		return
	}
	// The counterparty is the only legal destination in a two-party
	// handshake; an explicit target naming anyone else is dropped.
	counterparty := sess.UserID
	if sender == sess.UserID {
		counterparty = sess.AdvisorID
	}
	target := msg.Target
	if target == 0 {
		target = counterparty
	} else if target != counterparty {
		log.Warn().Str("module", "app.relay").
			Int64("session", int64(msg.SessionID)).
			Int64("sender", int64(sender)).
			Int64("target", int64(target)).
			Msg("signal to non-counterparty dropped")
		return
	}
	if !rl.Registry.SendTo(target, msg) {
		log.Debug().Str("module", "app.relay").
			Int64("session", int64(msg.SessionID)).
			Int64("target", int64(target)).
			Str("type", string(msg.Type)).
			Msg("signal target unreachable")
	}
}
