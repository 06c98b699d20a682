package app

import (
	"github.com/rs/zerolog/log"

	"github.com/okram/tunesync/internal/core"
	"github.com/okram/tunesync/internal/domain"
)

type regEntry struct {
	Session  *core.Session
	RoomCode domain.RoomCode
}

// Registry owns the connection↔room relation: which session a connection
// carries and which room, if any, it currently belongs to. It holds no lock;
// the Router serializes all access (see Router).
type Registry struct {
	entries map[core.SessionID]*regEntry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[core.SessionID]*regEntry)}
}

// Bind registers a fresh connection with its ephemeral identity.
func (r *Registry) Bind(sid core.SessionID, sess *core.Session) {
	r.entries[sid] = &regEntry{Session: sess}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("member", string(sess.Member.ID)).Msg("session bound")
}

func (r *Registry) Unbind(sid core.SessionID) {
	delete(r.entries, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("session unbound")
}

// Session returns the live session for sid.
func (r *Registry) Session(sid core.SessionID) (*core.Session, bool) {
	e, ok := r.entries[sid]
	if !ok {
		return nil, false
	}
	return e.Session, true
}

// RoomOf returns the room code a connection is a member of, if any.
func (r *Registry) RoomOf(sid core.SessionID) (domain.RoomCode, bool) {
	e, ok := r.entries[sid]
	if !ok || e.RoomCode == "" {
		return "", false
	}
	return e.RoomCode, true
}

// SetRoom records membership. An empty code clears it.
func (r *Registry) SetRoom(sid core.SessionID, code domain.RoomCode) {
	if e, ok := r.entries[sid]; ok {
		e.RoomCode = code
	}
}
