package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mystline/advisory/internal/core"
	"github.com/mystline/advisory/internal/domain"
)

var (
	ErrAlreadyEnded      = errors.New("session already completed")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// sessionEntry serializes all mutation of one session. The table lock is
// only held to look entries up, so unrelated sessions never contend.
type sessionEntry struct {
	mu           sync.Mutex
	sess         *domain.Session
	participants map[domain.UserID]struct{}
}

func (e *sessionEntry) snapshot() *domain.Session {
	cp := *e.sess
	cp.Participants = make([]domain.UserID, 0, len(e.participants))
	for uid := range e.participants {
		cp.Participants = append(cp.Participants, uid)
	}
	return &cp
}

// SessionManager owns the session state machine and the billing-duration
// clock. Sessions live in memory while active and are handed to the store
// at every transition; the store is fallible and its failures only block
// creation, never teardown.
type SessionManager struct {
	store    core.Store
	registry *Registry
	billing  *BillingEngine

	mu     sync.RWMutex
	active map[domain.SessionID]*sessionEntry

	now func() time.Time
}

func NewSessionManager(store core.Store, reg *Registry, billing *BillingEngine) *SessionManager {
	return &SessionManager{
		store:    store,
		registry: reg,
		billing:  billing,
		active:   make(map[domain.SessionID]*sessionEntry),
		now:      time.Now,
	}
}

type CreateSessionInput struct {
	UserID         domain.UserID
	AdvisorID      domain.UserID
	Kind           domain.SessionKind
	RatePerMinute  int64
	ScheduledStart time.Time
	Notes          string
}

// CreateSession persists first and registers in memory second: a store
// failure propagates unchanged and no session exists without durable
// backing.
func (m *SessionManager) CreateSession(ctx context.Context, in CreateSessionInput) (*domain.Session, error) {
	sess, err := domain.NewSession(in.UserID, in.AdvisorID, in.Kind, in.RatePerMinute)
	if err != nil {
		return nil, err
	}
	sess.Notes = in.Notes
	if in.ScheduledStart.After(m.now()) {
		sess.Status = domain.StatusScheduled
		sess.ScheduledStart = in.ScheduledStart
	}

	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	entry := &sessionEntry{
		sess: sess,
		participants: map[domain.UserID]struct{}{
			sess.UserID:    {},
			sess.AdvisorID: {},
		},
	}
	m.mu.Lock()
	m.active[sess.ID] = entry
	m.mu.Unlock()

	if sess.Status == domain.StatusActive {
		m.registry.AddToSession(sess.UserID, sess.ID)
		m.registry.AddToSession(sess.AdvisorID, sess.ID)
	}

	log.Info().Str("module", "app.sessions").
		Int64("session", int64(sess.ID)).
		Str("kind", string(sess.Kind)).
		Str("status", string(sess.Status)).
		Msg("session created")
	return entry.snapshot(), nil
}

func (m *SessionManager) entry(id domain.SessionID) (*sessionEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.active[id]
	return e, ok
}

// GetSession returns a copy of an in-memory session.
func (m *SessionManager) GetSession(id domain.SessionID) (*domain.Session, bool) {
	e, ok := m.entry(id)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot(), true
}

// LookupSession checks memory first and falls back to the store, so
// terminal sessions stay queryable after teardown.
func (m *SessionManager) LookupSession(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	if sess, ok := m.GetSession(id); ok {
		return sess, nil
	}
	return m.store.GetSession(ctx, id)
}

// SetNotes updates a live session's notes. False for unknown sessions.
func (m *SessionManager) SetNotes(ctx context.Context, id domain.SessionID, notes string) bool {
	e, ok := m.entry(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	e.sess.Notes = notes
	cp := e.snapshot()
	e.mu.Unlock()

	if err := m.store.UpdateSession(ctx, cp); err != nil {
		log.Warn().Err(err).Str("module", "app.sessions").Int64("session", int64(id)).Msg("notes persist failed")
	}
	return true
}

func (m *SessionManager) GetAllActiveSessions() []*domain.Session {
	m.mu.RLock()
	entries := make([]*sessionEntry, 0, len(m.active))
	for _, e := range m.active {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]*domain.Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.snapshot())
		e.mu.Unlock()
	}
	return out
}

// UpdateSessionStatus advances the state machine. Entering active stamps
// the billing clock and notifies every current member; a store write
// failure here degrades to a log line, the in-memory transition stands.
func (m *SessionManager) UpdateSessionStatus(ctx context.Context, id domain.SessionID, to domain.SessionStatus) error {
	e, ok := m.entry(id)
	if !ok {
		return fmt.Errorf("session %d: %w", id, core.ErrNotFound)
	}

	e.mu.Lock()
	if !e.sess.Status.CanTransition(to) {
		defer e.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.sess.Status, to)
	}
	e.sess.Status = to

	switch {
	case to == domain.StatusActive:
		e.sess.ActualStart = m.now()
		for uid := range e.participants {
			m.registry.AddToSession(uid, id)
		}
		m.notifyMembers(id, e.sess.Status)
	case to.Terminal():
		e.sess.EndTime = m.now()
		if !e.sess.ActualStart.IsZero() {
			e.sess.DurationMins = MeteredMinutes(e.sess.ActualStart, e.sess.EndTime)
		}
		m.notifyMembers(id, e.sess.Status)
	}

	if err := m.store.UpdateSession(ctx, e.sess); err != nil {
		log.Warn().Err(err).Str("module", "app.sessions").Int64("session", int64(id)).Msg("status persist failed")
	}

	var participants []domain.UserID
	if to.Terminal() {
		for uid := range e.participants {
			participants = append(participants, uid)
		}
	}
	e.mu.Unlock()

	// A terminal status leaves nothing behind in memory; EndSession is the
	// billed path, this one is the administrative one.
	if to.Terminal() {
		for _, uid := range participants {
			m.registry.RemoveFromSession(uid, id)
		}
		m.mu.Lock()
		delete(m.active, id)
		m.mu.Unlock()
	}

	log.Info().Str("module", "app.sessions").Int64("session", int64(id)).Str("status", string(to)).Msg("status updated")
	return nil
}

func (m *SessionManager) notifyMembers(id domain.SessionID, status domain.SessionStatus) {
	update := struct {
		Type      string               `json:"type"`
		SessionID domain.SessionID     `json:"sessionId"`
		Status    domain.SessionStatus `json:"status"`
	}{"session_update", id, status}
	for uid := range m.registry.MembersOf(id) {
		m.registry.SendTo(uid, update)
	}
}

// AddParticipant admits an extra joiner beyond the bound pair. False for
// unknown sessions.
func (m *SessionManager) AddParticipant(id domain.SessionID, uid domain.UserID) bool {
	e, ok := m.entry(id)
	if !ok || uid <= 0 {
		return false
	}
	e.mu.Lock()
	e.participants[uid] = struct{}{}
	active := e.sess.Status == domain.StatusActive
	e.mu.Unlock()

	if active {
		m.registry.AddToSession(uid, id)
	}
	return true
}

func (m *SessionManager) RemoveParticipant(id domain.SessionID, uid domain.UserID) bool {
	e, ok := m.entry(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	delete(e.participants, uid)
	e.mu.Unlock()

	m.registry.RemoveFromSession(uid, id)
	return true
}

type EndSessionInput struct {
	EndReason string
	Notes     string
}

// EndSession settles and tears down a session. Unknown ids return nil.
// Billing or store failures are reported in the outcome but never leave the
// session behind as a phantom: in-memory removal is unconditional.
func (m *SessionManager) EndSession(ctx context.Context, id domain.SessionID, in EndSessionInput) *core.BillingOutcome {
	e, ok := m.entry(id)
	if !ok {
		// Distinguish "never existed" from "already settled" via the store.
		if prev, err := m.store.GetSession(ctx, id); err == nil && prev != nil && prev.Status.Terminal() {
			return &core.BillingOutcome{SessionID: id, Err: ErrAlreadyEnded.Error()}
		}
		return nil
	}

	e.mu.Lock()
	if e.sess.Status.Terminal() {
		e.mu.Unlock()
		return &core.BillingOutcome{SessionID: id, Err: ErrAlreadyEnded.Error()}
	}

	now := m.now()
	wasActive := e.sess.Status == domain.StatusActive
	e.sess.EndTime = now
	e.sess.EndReason = in.EndReason
	if in.Notes != "" {
		e.sess.Notes = in.Notes
	}

	outcome := &core.BillingOutcome{SessionID: id}
	if wasActive {
		e.sess.Status = domain.StatusCompleted
		cost, err := m.billing.CalculateSessionCost(ctx, CostInput{
			Start:         e.sess.ActualStart,
			End:           now,
			RatePerMinute: e.sess.RatePerMinute,
			UserID:        e.sess.UserID,
			Kind:          e.sess.Kind,
		})
		if err != nil {
			outcome.Err = err.Error()
		} else {
			outcome.Cost = cost
			e.sess.DurationMins = cost.Duration
			e.sess.BilledAmount = cost.Cost
			if !cost.Free && cost.Cost > 0 {
				pay := m.billing.ProcessSessionPayment(ctx, PaymentInput{
					SessionID: id,
					UserID:    e.sess.UserID,
					Amount:    cost.Cost,
				})
				outcome.TransactionID = pay.TransactionID
				if !pay.Success {
					outcome.Err = pay.Err
				}
			}
		}
	} else {
		// Never went active: no clock ran, nothing to charge.
		e.sess.Status = domain.StatusCancelled
	}

	if err := m.store.EndSession(ctx, e.sess); err != nil {
		log.Error().Err(err).Str("module", "app.sessions").Int64("session", int64(id)).Msg("end persist failed")
		if outcome.Err == "" {
			outcome.Err = err.Error()
		}
	}

	finalStatus := e.sess.Status
	participants := make([]domain.UserID, 0, len(e.participants))
	for uid := range e.participants {
		participants = append(participants, uid)
	}
	e.mu.Unlock()

	for _, uid := range participants {
		m.registry.RemoveFromSession(uid, id)
	}

	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()

	m.notifyEnded(id, participants, finalStatus)
	log.Info().Str("module", "app.sessions").
		Int64("session", int64(id)).
		Int64("billed", outcome.Cost.Cost).
		Str("reason", in.EndReason).
		Msg("session ended")
	return outcome
}

func (m *SessionManager) notifyEnded(id domain.SessionID, participants []domain.UserID, status domain.SessionStatus) {
	update := struct {
		Type      string               `json:"type"`
		SessionID domain.SessionID     `json:"sessionId"`
		Status    domain.SessionStatus `json:"status"`
	}{"session_update", id, status}
	for _, uid := range participants {
		m.registry.SendTo(uid, update)
	}
}

// CleanupOrphanedSessions ends every active session whose registry
// membership has lost both bound parties, billing it to the last known
// duration. Returns the reclaimed ids; the sweep is idempotent.
func (m *SessionManager) CleanupOrphanedSessions(ctx context.Context) []domain.SessionID {
	var orphans []domain.SessionID
	for _, sess := range m.GetAllActiveSessions() {
		if sess.Status != domain.StatusActive {
			continue
		}
		members := m.registry.MembersOf(sess.ID)
		_, userIn := members[sess.UserID]
		_, advisorIn := members[sess.AdvisorID]
		if userIn || advisorIn {
			continue
		}
		if m.EndSession(ctx, sess.ID, EndSessionInput{EndReason: "orphaned"}) != nil {
			orphans = append(orphans, sess.ID)
		}
	}
	if len(orphans) > 0 {
		log.Info().Str("module", "app.sessions").Int("count", len(orphans)).Msg("orphaned sessions reclaimed")
	}
	return orphans
}

// RunSweeper runs the orphan sweep on a timer until ctx is cancelled.
func (m *SessionManager) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.sessions").Msg("sweeper ctx done")
			return
		case <-ticker.C:
			m.CleanupOrphanedSessions(ctx)
		}
	}
}
