package core

import (
	"context"
	"errors"

	"github.com/mystline/advisory/internal/domain"
)

// ErrNotFound is returned by store lookups for unknown ids.
var ErrNotFound = errors.New("not found")

// Store is the durable collaborator. Every call may fail or stall; callers
// decide per operation whether that propagates or degrades.
type Store interface {
	CreateSession(ctx context.Context, s *domain.Session) error
	UpdateSession(ctx context.Context, s *domain.Session) error
	EndSession(ctx context.Context, s *domain.Session) error
	GetSession(ctx context.Context, id domain.SessionID) (*domain.Session, error)

	CreateMessage(ctx context.Context, m *domain.ChatMessage) error
	GetConversationHistory(ctx context.Context, id domain.SessionID, limit int) ([]domain.ChatMessage, error)
	MarkAsRead(ctx context.Context, messageID string) error

	GetUserBalance(ctx context.Context, uid domain.UserID) (int64, error)
	UpdateUserBalance(ctx context.Context, uid domain.UserID, delta int64) (int64, error)
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	GetTransactionsBySession(ctx context.Context, id domain.SessionID) ([]domain.Transaction, error)

	// DiscountRate returns the fraction (0..1) knocked off a user's session
	// cost, zero when none is on file.
	DiscountRate(ctx context.Context, uid domain.UserID) (float64, error)
}
