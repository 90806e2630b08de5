package domain

import "time"

type MessageKind string

const (
	MessageText MessageKind = "text"
)

// ChatMessage has two independent fates: delivery over the live transport
// and persistence in the store. Neither field here records either outcome.
type ChatMessage struct {
	ID         string      `json:"id"`
	SessionID  SessionID   `json:"session_id"`
	SenderID   UserID      `json:"sender_id"`
	ReceiverID UserID      `json:"receiver_id"`
	Content    string      `json:"content"`
	Kind       MessageKind `json:"kind"`
	SentAt     time.Time   `json:"sent_at"`
	ReadAt     time.Time   `json:"read_at,omitzero"`
}
