package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mystline/advisory/internal/core"
	"github.com/mystline/advisory/internal/domain"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "advisory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess := &domain.Session{
		UserID:        1,
		AdvisorID:     2,
		Kind:          domain.KindVideo,
		Status:        domain.StatusConnecting,
		RatePerMinute: 250,
	}
	require.NoError(t, s.CreateSession(ctx, sess))
	assert.NotZero(t, sess.ID, "store assigns the id")

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.KindVideo, got.Kind)
	assert.Equal(t, int64(250), got.RatePerMinute)

	got.Status = domain.StatusCompleted
	got.BilledAmount = 7500
	require.NoError(t, s.EndSession(ctx, got))

	final, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, final.Status)
	assert.Equal(t, int64(7500), final.BilledAmount)
}

func TestGetSessionUnknown(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetSession(context.Background(), 404)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestUpdateSessionUnknown(t *testing.T) {
	s := openTestStore(t)
	err := s.UpdateSession(context.Background(), &domain.Session{ID: 404})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestConversationHistoryOrderAndLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.CreateMessage(ctx, &domain.ChatMessage{
			ID:         fmt.Sprintf("m-%d", i),
			SessionID:  1,
			SenderID:   1,
			ReceiverID: 2,
			Content:    fmt.Sprintf("msg-%d", i),
			Kind:       domain.MessageText,
			SentAt:     time.Now(),
		}))
	}
	// A message from another session must not bleed in.
	require.NoError(t, s.CreateMessage(ctx, &domain.ChatMessage{
		ID: "other", SessionID: 2, SenderID: 3, ReceiverID: 4, Content: "x",
	}))

	history, err := s.GetConversationHistory(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, history, 5)
	for i, m := range history {
		assert.Equal(t, fmt.Sprintf("msg-%d", i), m.Content)
	}

	tail, err := s.GetConversationHistory(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "msg-3", tail[0].Content)
	assert.Equal(t, "msg-4", tail[1].Content)
}

func TestMarkAsRead(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateMessage(ctx, &domain.ChatMessage{
		ID: "m-1", SessionID: 1, SenderID: 1, ReceiverID: 2, Content: "hi",
	}))
	require.NoError(t, s.MarkAsRead(ctx, "m-1"))
	// Marking twice keeps the original timestamp.
	require.NoError(t, s.MarkAsRead(ctx, "m-1"))

	history, err := s.GetConversationHistory(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].ReadAt.IsZero())

	assert.ErrorIs(t, s.MarkAsRead(ctx, "ghost"), core.ErrNotFound)
}

func TestBalances(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	balance, err := s.GetUserBalance(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, balance, "no record means zero")

	require.NoError(t, s.SetUserBalance(ctx, 1, 1000))
	balance, err = s.UpdateUserBalance(ctx, 1, -400)
	require.NoError(t, err)
	assert.Equal(t, int64(600), balance)

	balance, err = s.GetUserBalance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(600), balance)
}

func TestTransactionsBySession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateTransaction(ctx, &domain.Transaction{
		ID: "t-1", SessionID: 1, UserID: 1, Type: domain.TxPayment, Amount: 7500, Status: domain.TxCompleted, CreatedAt: time.Now(),
	}))
	require.NoError(t, s.CreateTransaction(ctx, &domain.Transaction{
		ID: "t-2", SessionID: 2, UserID: 1, Type: domain.TxPayment, Amount: 100, Status: domain.TxCompleted, CreatedAt: time.Now(),
	}))

	txs, err := s.GetTransactionsBySession(ctx, 1)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "t-1", txs[0].ID)
}

func TestDiscountRate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rate, err := s.DiscountRate(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, rate)

	require.NoError(t, s.SetDiscountRate(ctx, 1, 0.10))
	rate, err = s.DiscountRate(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.10, rate, 1e-9)
}
