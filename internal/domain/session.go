// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"time"
)

type (
	SessionID int64
	UserID    int64
)

type SessionKind string

const (
	KindChat             SessionKind = "chat"
	KindAudio            SessionKind = "audio"
	KindVideo            SessionKind = "video"
	KindFreeConsultation SessionKind = "free_consultation"
)

func (k SessionKind) Valid() bool {
	switch k {
	case KindChat, KindAudio, KindVideo, KindFreeConsultation:
		return true
	}
	return false
}

type SessionStatus string

const (
	StatusScheduled  SessionStatus = "scheduled"
	StatusConnecting SessionStatus = "connecting"
	StatusActive     SessionStatus = "active"
	StatusCompleted  SessionStatus = "completed"
	StatusCancelled  SessionStatus = "cancelled"
)

var statusRank = map[SessionStatus]int{
	StatusScheduled:  0,
	StatusConnecting: 1,
	StatusActive:     2,
	StatusCompleted:  3,
	StatusCancelled:  3,
}

func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether to is reachable from s.
// Transitions only move forward; terminal states accept nothing.
func (s SessionStatus) CanTransition(to SessionStatus) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	dst, ok := statusRank[to]
	if !ok {
		return false
	}
	if s.Terminal() {
		return false
	}
	return dst > from
}

var (
	ErrInvalidParticipant = errors.New("invalid participant id")
	ErrInvalidRate        = errors.New("rate per minute must not be negative")
	ErrInvalidKind        = errors.New("unknown session kind")
)

// Session is an advisory interaction between a user and an advisor.
// RatePerMinute and BilledAmount are integer minor currency units.
type Session struct {
	ID             SessionID     `json:"id"`
	UserID         UserID        `json:"user_id"`
	AdvisorID      UserID        `json:"advisor_id"`
	Kind           SessionKind   `json:"kind"`
	Status         SessionStatus `json:"status"`
	ScheduledStart time.Time     `json:"scheduled_start,omitzero"`
	ActualStart    time.Time     `json:"actual_start,omitzero"`
	EndTime        time.Time     `json:"end_time,omitzero"`
	RatePerMinute  int64         `json:"rate_per_minute"`
	Participants   []UserID      `json:"participants,omitempty"`
	DurationMins   int64         `json:"duration_minutes"`
	BilledAmount   int64         `json:"billed_amount"`
	Notes          string        `json:"notes,omitempty"`
	EndReason      string        `json:"end_reason,omitempty"`
}

// NewSession avoids raw literals in adapters and keeps construction obvious.
func NewSession(userID, advisorID UserID, kind SessionKind, rate int64) (*Session, error) {
	if userID <= 0 || advisorID <= 0 {
		return nil, ErrInvalidParticipant
	}
	if rate < 0 {
		return nil, ErrInvalidRate
	}
	if !kind.Valid() {
		return nil, ErrInvalidKind
	}
	return &Session{
		UserID:        userID,
		AdvisorID:     advisorID,
		Kind:          kind,
		Status:        StatusConnecting,
		RatePerMinute: rate,
		Participants:  []UserID{userID, advisorID},
	}, nil
}

// Bound reports whether uid is one of the two parties the session was
// created for, as opposed to a later joiner.
func (s *Session) Bound(uid UserID) bool {
	return uid == s.UserID || uid == s.AdvisorID
}
