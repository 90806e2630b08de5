package app

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mystline/advisory/internal/core"
	"github.com/mystline/advisory/internal/domain"
)

type connEntry struct {
	Conn   core.SignalConnection
	Cancel context.CancelFunc
}

// Registry tracks live transports per user and the session membership
// index. The two maps are guarded separately so transport churn does not
// contend with membership lookups. Every operation is total: transport
// failures become booleans, never panics or errors.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.UserID]*connEntry

	smu     sync.RWMutex
	members map[domain.SessionID]map[domain.UserID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns:   make(map[domain.UserID]*connEntry),
		members: make(map[domain.SessionID]map[domain.UserID]struct{}),
	}
}

// Connect registers the live transport for uid. Last writer wins: a
// previous transport for the same uid is cancelled and closed.
func (r *Registry) Connect(uid domain.UserID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	prev := r.conns[uid]
	r.conns[uid] = &connEntry{Conn: conn, Cancel: cancel}
	r.mu.Unlock()

	if prev != nil {
		if prev.Cancel != nil {
			prev.Cancel()
		}
		prev.Conn.Close()
	}
	log.Info().Str("module", "app.registry").Int64("user", int64(uid)).Msg("connected")
}

// Disconnect removes the transport and every session-membership entry for
// uid. Idempotent; unknown ids are a no-op.
func (r *Registry) Disconnect(uid domain.UserID) {
	r.mu.Lock()
	entry, ok := r.conns[uid]
	delete(r.conns, uid)
	r.mu.Unlock()

	if ok {
		if entry.Cancel != nil {
			entry.Cancel()
		}
		entry.Conn.Close()
	}

	r.smu.Lock()
	for sid, set := range r.members {
		if _, in := set[uid]; in {
			delete(set, uid)
			if len(set) == 0 {
				delete(r.members, sid)
			}
		}
	}
	r.smu.Unlock()
	log.Info().Str("module", "app.registry").Int64("user", int64(uid)).Msg("disconnected")
}

// DisconnectOwned removes uid's registration only while conn is still the
// registered transport, so a replaced connection's pump cannot tear down
// its successor on the way out.
func (r *Registry) DisconnectOwned(uid domain.UserID, conn core.SignalConnection) {
	r.mu.Lock()
	entry, ok := r.conns[uid]
	if !ok || entry.Conn != conn {
		r.mu.Unlock()
		conn.Close()
		return
	}
	r.mu.Unlock()
	r.Disconnect(uid)
}

// SendTo serializes v and writes it to uid's transport. False means "not
// delivered": no connection, connection closed, or the write failed.
func (r *Registry) SendTo(uid domain.UserID, v any) bool {
	r.mu.RLock()
	entry, ok := r.conns[uid]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Msg("sendTo marshal")
		return false
	}
	if err := entry.Conn.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "app.registry").Int64("user", int64(uid)).Msg("sendTo dropped")
		return false
	}
	return true
}

// Broadcast attempts SendTo for every connected user and returns how many
// transports took the frame. One poisoned connection never blocks the rest.
func (r *Registry) Broadcast(v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Msg("broadcast marshal")
		return 0
	}

	r.mu.RLock()
	snapshot := make(map[domain.UserID]core.SignalConnection, len(r.conns))
	for uid, e := range r.conns {
		snapshot[uid] = e.Conn
	}
	r.mu.RUnlock()

	sent := 0
	for uid, conn := range snapshot {
		if err := conn.TrySend(data); err != nil {
			log.Warn().Err(err).Str("module", "app.registry").Int64("user", int64(uid)).Msg("broadcast dropped")
			continue
		}
		sent++
	}
	log.Debug().Str("module", "app.registry").Int("sent_to", sent).Int("total", len(snapshot)).Msg("broadcast result")
	return sent
}

func (r *Registry) AddToSession(uid domain.UserID, sid domain.SessionID) {
	r.smu.Lock()
	defer r.smu.Unlock()
	set, ok := r.members[sid]
	if !ok {
		set = make(map[domain.UserID]struct{})
		r.members[sid] = set
	}
	set[uid] = struct{}{}
}

func (r *Registry) RemoveFromSession(uid domain.UserID, sid domain.SessionID) {
	r.smu.Lock()
	defer r.smu.Unlock()
	set, ok := r.members[sid]
	if !ok {
		return
	}
	delete(set, uid)
	if len(set) == 0 {
		delete(r.members, sid)
	}
}

// MembersOf returns a copy of the membership set; empty for unknown ids.
// Membership is independent of liveness.
func (r *Registry) MembersOf(sid domain.SessionID) map[domain.UserID]struct{} {
	r.smu.RLock()
	defer r.smu.RUnlock()
	out := make(map[domain.UserID]struct{}, len(r.members[sid]))
	for uid := range r.members[sid] {
		out[uid] = struct{}{}
	}
	return out
}

func (r *Registry) ConnectedUsers() []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UserID, 0, len(r.conns))
	for uid := range r.conns {
		out = append(out, uid)
	}
	return out
}

func (r *Registry) IsConnected(uid domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[uid]
	return ok
}
