// Package store persists sessions, messages and money movements in a
// single BoltDB file. Logical datasets are kept in separate buckets.
package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mystline/advisory/internal/core"
	"github.com/mystline/advisory/internal/domain"
)

var (
	bucketSessions     = []byte("sessions")
	bucketMessages     = []byte("messages")
	bucketMessageIDs   = []byte("message_ids")
	bucketBalances     = []byte("balances")
	bucketTransactions = []byte("transactions")
	bucketDiscounts    = []byte("discounts")
)

type BoltStore struct {
	db *bolt.DB
}

var _ core.Store = (*BoltStore)(nil)

func Open(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{
			bucketSessions, bucketMessages, bucketMessageIDs,
			bucketBalances, bucketTransactions, bucketDiscounts,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func (s *BoltStore) CreateSession(_ context.Context, sess *domain.Session) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		if sess.ID == 0 {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			sess.ID = domain.SessionID(seq)
		}
		data, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		return b.Put(itob(uint64(sess.ID)), data)
	})
}

func (s *BoltStore) UpdateSession(_ context.Context, sess *domain.Session) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		key := itob(uint64(sess.ID))
		if b.Get(key) == nil {
			return core.ErrNotFound
		}
		data, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// EndSession is an update; the terminal status lives inside the record.
func (s *BoltStore) EndSession(ctx context.Context, sess *domain.Session) error {
	return s.UpdateSession(ctx, sess)
}

func (s *BoltStore) GetSession(_ context.Context, id domain.SessionID) (*domain.Session, error) {
	var sess domain.Session
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSessions).Get(itob(uint64(id)))
		if data == nil {
			return core.ErrNotFound
		}
		return json.Unmarshal(data, &sess)
	})
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *BoltStore) CreateMessage(_ context.Context, m *domain.ChatMessage) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		if err := b.Put(itob(seq), data); err != nil {
			return err
		}
		return tx.Bucket(bucketMessageIDs).Put([]byte(m.ID), itob(seq))
	})
}

// GetConversationHistory returns the last limit messages of a session in
// send order. Malformed entries are skipped instead of failing the read.
func (s *BoltStore) GetConversationHistory(_ context.Context, id domain.SessionID, limit int) ([]domain.ChatMessage, error) {
	var out []domain.ChatMessage
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMessages).ForEach(func(_, v []byte) error {
			var m domain.ChatMessage
			if err := json.Unmarshal(v, &m); err != nil {
				return nil
			}
			if m.SessionID == id {
				out = append(out, m)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *BoltStore) MarkAsRead(_ context.Context, messageID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketMessageIDs).Get([]byte(messageID))
		if key == nil {
			return core.ErrNotFound
		}
		b := tx.Bucket(bucketMessages)
		data := b.Get(key)
		if data == nil {
			return core.ErrNotFound
		}
		var m domain.ChatMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		if !m.ReadAt.IsZero() {
			return nil
		}
		m.ReadAt = time.Now()
		updated, err := json.Marshal(&m)
		if err != nil {
			return err
		}
		return b.Put(key, updated)
	})
}

func (s *BoltStore) GetUserBalance(_ context.Context, uid domain.UserID) (int64, error) {
	var balance int64
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBalances).Get(itob(uint64(uid)))
		if data == nil {
			return nil // no record means zero balance
		}
		return json.Unmarshal(data, &balance)
	})
	return balance, err
}

func (s *BoltStore) UpdateUserBalance(_ context.Context, uid domain.UserID, delta int64) (int64, error) {
	var balance int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBalances)
		key := itob(uint64(uid))
		if data := b.Get(key); data != nil {
			if err := json.Unmarshal(data, &balance); err != nil {
				return err
			}
		}
		balance += delta
		data, err := json.Marshal(balance)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
	return balance, err
}

// SetUserBalance overwrites a balance outright; used by provisioning, not
// by the billing path.
func (s *BoltStore) SetUserBalance(_ context.Context, uid domain.UserID, balance int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(balance)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketBalances).Put(itob(uint64(uid)), data)
	})
}

func (s *BoltStore) CreateTransaction(_ context.Context, t *domain.Transaction) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransactions)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		return b.Put(itob(seq), data)
	})
}

func (s *BoltStore) GetTransactionsBySession(_ context.Context, id domain.SessionID) ([]domain.Transaction, error) {
	var out []domain.Transaction
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTransactions).ForEach(func(_, v []byte) error {
			var t domain.Transaction
			if err := json.Unmarshal(v, &t); err != nil {
				return nil
			}
			if t.SessionID == id {
				out = append(out, t)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) DiscountRate(_ context.Context, uid domain.UserID) (float64, error) {
	var rate float64
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketDiscounts).Get(itob(uint64(uid)))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &rate)
	})
	return rate, err
}

func (s *BoltStore) SetDiscountRate(_ context.Context, uid domain.UserID, rate float64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rate)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketDiscounts).Put(itob(uint64(uid)), data)
	})
}
