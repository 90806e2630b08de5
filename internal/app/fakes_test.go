package app

import (
	"context"
	"errors"
	"sync"

	"github.com/mystline/advisory/internal/core"
	"github.com/mystline/advisory/internal/domain"
)

var errStoreDown = errors.New("store unavailable")

// fakeConn records every frame it takes; failSend poisons the transport.
type fakeConn struct {
	mu       sync.Mutex
	frames   [][]byte
	failSend bool
	closed   bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	if c.failSend {
		return errors.New("write failed")
	}
	cp := make([]byte, len(f))
	copy(cp, f)
	c.frames = append(c.frames, cp)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

// fakeStore is an in-memory core.Store with per-operation failure toggles.
type fakeStore struct {
	mu        sync.Mutex
	nextID    int64
	sessions  map[domain.SessionID]*domain.Session
	messages  []*domain.ChatMessage
	balances  map[domain.UserID]int64
	txs       []domain.Transaction
	discounts map[domain.UserID]float64

	failCreateSession     bool
	failUpdateSession     bool
	failEndSession        bool
	failGetSession        bool
	failCreateMessage     bool
	blockCreateMessage    chan struct{}
	failCreateTransaction bool
	failGetBalance        bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:  make(map[domain.SessionID]*domain.Session),
		balances:  make(map[domain.UserID]int64),
		discounts: make(map[domain.UserID]float64),
	}
}

func (s *fakeStore) CreateSession(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreateSession {
		return errStoreDown
	}
	if sess.ID == 0 {
		s.nextID++
		sess.ID = domain.SessionID(s.nextID)
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *fakeStore) UpdateSession(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdateSession {
		return errStoreDown
	}
	if _, ok := s.sessions[sess.ID]; !ok {
		return core.ErrNotFound
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *fakeStore) EndSession(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failEndSession {
		return errStoreDown
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *fakeStore) GetSession(_ context.Context, id domain.SessionID) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGetSession {
		return nil, errStoreDown
	}
	sess, ok := s.sessions[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *fakeStore) CreateMessage(_ context.Context, m *domain.ChatMessage) error {
	if s.blockCreateMessage != nil {
		<-s.blockCreateMessage
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreateMessage {
		return errStoreDown
	}
	cp := *m
	s.messages = append(s.messages, &cp)
	return nil
}

func (s *fakeStore) GetConversationHistory(_ context.Context, id domain.SessionID, limit int) ([]domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ChatMessage
	for _, m := range s.messages {
		if m.SessionID == id {
			out = append(out, *m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *fakeStore) MarkAsRead(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == messageID {
			return nil
		}
	}
	return core.ErrNotFound
}

func (s *fakeStore) GetUserBalance(_ context.Context, uid domain.UserID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGetBalance {
		return 0, errStoreDown
	}
	return s.balances[uid], nil
}

func (s *fakeStore) UpdateUserBalance(_ context.Context, uid domain.UserID, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[uid] += delta
	return s.balances[uid], nil
}

func (s *fakeStore) CreateTransaction(_ context.Context, tx *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreateTransaction {
		return errStoreDown
	}
	s.txs = append(s.txs, *tx)
	return nil
}

func (s *fakeStore) GetTransactionsBySession(_ context.Context, id domain.SessionID) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range s.txs {
		if tx.SessionID == id {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *fakeStore) DiscountRate(_ context.Context, uid domain.UserID) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discounts[uid], nil
}

func (s *fakeStore) transactionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.txs)
}

// newTestStack wires the app services over a fake store.
func newTestStack() (*fakeStore, *Registry, *BillingEngine, *SessionManager, *MessageDelivery, *SignalRelay) {
	st := newFakeStore()
	reg := NewRegistry()
	billing := NewBillingEngine(st, 0)
	sessions := NewSessionManager(st, reg, billing)
	delivery := NewMessageDelivery(st, reg, 0)
	relay := NewSignalRelay(reg, sessions)
	return st, reg, billing, sessions, delivery, relay
}
