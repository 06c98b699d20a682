package core

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/okram/tunesync/internal/domain"
)

// MaxListeners is the admission cap per room; the 51st listener is rejected
// with domain.ErrRoomFull.
const MaxListeners = 50

// MemberDTO is a read-only member view for replies (no transport fields).
type MemberDTO struct {
	ID   domain.MemberID `json:"id"`
	Name string          `json:"name"`
}

// Room unites one host and its listeners under a shared code. Listeners keep
// insertion order for fan-out. Rooms carry no locks: the app router
// serializes every mutation (see app.Router).
type Room struct {
	Code      domain.RoomCode
	CreatedAt time.Time

	HostSID SessionID
	Host    *Session

	Track *domain.TrackState

	listeners map[SessionID]*Session
	order     []SessionID
}

func NewRoom(code domain.RoomCode, hostSID SessionID, host *Session, now time.Time) *Room {
	return &Room{
		Code:      code,
		CreatedAt: now,
		HostSID:   hostSID,
		Host:      host,
		listeners: make(map[SessionID]*Session),
	}
}

func (r *Room) ListenerCount() int { return len(r.listeners) }

// AddListener admits a session or rejects it when the room is at capacity.
func (r *Room) AddListener(sid SessionID, s *Session) error {
	if len(r.listeners) >= MaxListeners {
		return domain.ErrRoomFull
	}
	if _, ok := r.listeners[sid]; !ok {
		r.order = append(r.order, sid)
	}
	r.listeners[sid] = s
	return nil
}

func (r *Room) RemoveListener(sid SessionID) {
	if _, ok := r.listeners[sid]; !ok {
		return
	}
	delete(r.listeners, sid)
	for i, id := range r.order {
		if id == sid {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Member returns the session for sid, host included.
func (r *Room) Member(sid SessionID) (*Session, bool) {
	if sid == r.HostSID {
		return r.Host, true
	}
	s, ok := r.listeners[sid]
	return s, ok
}

// ResolveMember finds a member session by its wire identity. Used by the
// signaling relay to pick a unicast target.
func (r *Room) ResolveMember(id domain.MemberID) (SessionID, *Session, bool) {
	if r.Host != nil && r.Host.Member.ID == id {
		return r.HostSID, r.Host, true
	}
	for _, sid := range r.order {
		if s := r.listeners[sid]; s.Member.ID == id {
			return sid, s, true
		}
	}
	return "", nil, false
}

// ListenerSIDs returns listener session ids in insertion order.
func (r *Room) ListenerSIDs() []SessionID {
	out := make([]SessionID, len(r.order))
	copy(out, r.order)
	return out
}

// Listeners returns the read-only roster in insertion order.
func (r *Room) Listeners() []MemberDTO {
	out := make([]MemberDTO, 0, len(r.order))
	for _, sid := range r.order {
		m := r.listeners[sid].Member
		out = append(out, MemberDTO{ID: m.ID, Name: m.Name})
	}
	return out
}

// Broadcast delivers a frame to the host and every listener except exclude,
// skipping closed transports. Fire-and-forget: failed sends are dropped,
// cleanup belongs to the disconnect path.
func (r *Room) Broadcast(frame Frame, exclude SessionID) int {
	sent := 0
	if r.Host != nil && r.HostSID != exclude && send(r.Host, frame) {
		sent++
	}
	for _, sid := range r.order {
		if sid == exclude {
			continue
		}
		if send(r.listeners[sid], frame) {
			sent++
		}
	}
	return sent
}

// SendHost unicasts to the host, if its transport is still open.
func (r *Room) SendHost(frame Frame) bool {
	return r.Host != nil && send(r.Host, frame)
}

func send(s *Session, frame Frame) bool {
	if !s.Conn.IsOpen() {
		return false
	}
	if err := s.Conn.TrySend(frame); err != nil {
		log.Debug().Str("module", "core.room").Str("member", string(s.Member.ID)).Err(err).Msg("send dropped")
		return false
	}
	return true
}
