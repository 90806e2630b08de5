package domain

import "github.com/pion/webrtc/v4"

type SignalType string

const (
	SignalOffer        SignalType = "signal_offer"
	SignalAnswer       SignalType = "signal_answer"
	SignalICECandidate SignalType = "signal_ice_candidate"
	SignalEnd          SignalType = "signal_end"
)

func (t SignalType) Valid() bool {
	switch t {
	case SignalOffer, SignalAnswer, SignalICECandidate, SignalEnd:
		return true
	}
	return false
}

// SignalMessage is transient handshake metadata. SDP and Candidate are
// forwarded verbatim; nothing in this core parses their content.
type SignalMessage struct {
	Type      SignalType               `json:"type"`
	SessionID SessionID                `json:"sessionId"`
	From      UserID                   `json:"from"`
	Target    UserID                   `json:"target"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}
