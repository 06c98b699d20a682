package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/okram/tunesync/internal/core"
	"github.com/okram/tunesync/internal/domain"
	"github.com/okram/tunesync/internal/protocol"
)

// Router owns the Registry and RoomStore and is the only code that mutates
// them. One mutex serializes every dispatch, so each message handler sees
// and leaves fully-consistent state, the same atomicity a single-threaded
// event loop gives for free. Transport pumps never touch these maps.
type Router struct {
	mu       sync.Mutex
	registry *Registry
	rooms    *core.RoomStore
	limiter  *RateLimiter

	now func() time.Time
}

func NewRouter(limiter *RateLimiter) *Router {
	return &Router{
		registry: NewRegistry(),
		rooms:    core.NewRoomStore(),
		limiter:  limiter,
		now:      time.Now,
	}
}

// Connect registers a new connection with a fresh ephemeral identity.
// The display name arrives later, with CREATE_ROOM or JOIN_ROOM.
func (rt *Router) Connect(sid core.SessionID, conn core.SignalConnection) *domain.Member {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	member := domain.NewMember("", domain.RoleListener)
	rt.registry.Bind(sid, core.NewSession(member, conn))
	return member
}

// Disconnect runs the unified leave path. It is idempotent: explicit leave,
// socket close and liveness timeout may all race onto it, only the first
// one acts.
func (rt *Router) Disconnect(sid core.SessionID) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if _, ok := rt.registry.Session(sid); !ok {
		return
	}
	rt.leaveCurrentRoom(sid)
	rt.registry.Unbind(sid)
	if rt.limiter != nil {
		rt.limiter.Forget(sid)
	}
}

// HandleMessage parses, validates and dispatches one inbound envelope.
// Malformed input, unknown types and precondition failures are dropped
// without a reply; only room lookup/admission failures answer with ERROR.
func (rt *Router) HandleMessage(sid core.SessionID, data []byte) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	sess, ok := rt.registry.Session(sid)
	if !ok {
		return
	}

	if rt.limiter != nil && !rt.limiter.Allow(sid) {
		log.Debug().Str("module", "app.router").Str("sid", string(sid)).Msg("rate limited, dropped")
		return
	}

	typ, msg, err := protocol.DecodeInbound(data)
	if err != nil {
		log.Debug().Str("module", "app.router").Str("sid", string(sid)).Str("type", typ).Err(err).Msg("dropped")
		return
	}

	room, inRoom := rt.roomOf(sid)
	if pol, ok := policyFor[typ]; ok {
		if pol.needsRoom && !inRoom {
			log.Debug().Str("module", "app.router").Str("sid", string(sid)).Str("type", typ).Msg("not a member, dropped")
			return
		}
		if pol.role != "" && sess.Member.Role != pol.role {
			log.Debug().Str("module", "app.router").Str("sid", string(sid)).Str("type", typ).Msg("role mismatch, dropped")
			return
		}
		if pol.needsHost && (room.Host == nil || !room.Host.Conn.IsOpen()) {
			log.Debug().Str("module", "app.router").Str("sid", string(sid)).Str("type", typ).Msg("no host, dropped")
			return
		}
	}

	switch m := msg.(type) {
	case protocol.CreateRoom:
		rt.handleCreate(sid, sess, m)
	case protocol.JoinRoom:
		rt.handleJoin(sid, sess, m)
	case protocol.LeaveRoom:
		rt.handleLeave(sid, sess)
	case protocol.TrackUpdate:
		rt.handleTrackUpdate(sid, room, m)
	case protocol.Sync:
		rt.handleSync(sid, room, m)
	case protocol.Control:
		rt.handleControl(sess, room, m)
	case protocol.Search:
		rt.handleSearch(sess, room, m)
	case protocol.Chat:
		rt.handleChat(sess, room, m)
	case protocol.Reaction:
		rt.handleReaction(sid, sess, room, m)
	case protocol.Signal:
		rt.handleSignal(sid, sess, room, m)
	}
}

func (rt *Router) roomOf(sid core.SessionID) (*core.Room, bool) {
	code, ok := rt.registry.RoomOf(sid)
	if !ok {
		return nil, false
	}
	room, ok := rt.rooms.Get(code)
	return room, ok
}

func (rt *Router) handleCreate(sid core.SessionID, sess *core.Session, m protocol.CreateRoom) {
	rt.leaveCurrentRoom(sid)

	sess.Member.Name = domain.CleanName(m.Name)
	sess.Member.Role = domain.RoleHost

	room := rt.rooms.Create(sid, sess, rt.now())
	rt.registry.SetRoom(sid, room.Code)

	reply(sess, protocol.NewRoomCreated(room.Code, sess.Member))
	log.Info().Str("module", "app.router").Str("sid", string(sid)).Str("code", string(room.Code)).Str("name", sess.Member.Name).Msg("room created")
}

func (rt *Router) handleJoin(sid core.SessionID, sess *core.Session, m protocol.JoinRoom) {
	code := domain.RoomCode(m.RoomCode)
	room, ok := rt.rooms.Get(code)
	if !ok {
		reply(sess, protocol.NewError(protocol.CodeRoomNotFound, "no room with that code"))
		return
	}
	if room.ListenerCount() >= core.MaxListeners {
		reply(sess, protocol.NewError(protocol.CodeRoomFull, "room is full"))
		return
	}

	// Joining implicitly leaves any prior room, the one being joined
	// included, so a re-join stays a single membership. If the sender
	// hosted the target room, leaving just destroyed it.
	rt.leaveCurrentRoom(sid)
	if room, ok = rt.rooms.Get(code); !ok {
		reply(sess, protocol.NewError(protocol.CodeRoomNotFound, "no room with that code"))
		return
	}

	sess.Member.Name = domain.CleanName(m.Name)
	sess.Member.Role = domain.RoleListener

	if err := room.AddListener(sid, sess); err != nil {
		reply(sess, protocol.NewError(protocol.CodeRoomFull, "room is full"))
		return
	}
	rt.registry.SetRoom(sid, room.Code)

	reply(sess, protocol.RoomJoined{
		Type:          protocol.TypeRoomJoined,
		RoomCode:      room.Code,
		MemberID:      sess.Member.ID,
		Name:          sess.Member.Name,
		Role:          sess.Member.Role,
		Listeners:     room.Listeners(),
		ListenerCount: room.ListenerCount(),
		Track:         room.Track,
	})
	room.Broadcast(protocol.Encode(protocol.UserJoined{
		Type:          protocol.TypeUserJoined,
		MemberID:      sess.Member.ID,
		Name:          sess.Member.Name,
		ListenerCount: room.ListenerCount(),
	}), sid)
	log.Info().Str("module", "app.router").Str("sid", string(sid)).Str("code", string(room.Code)).Str("name", sess.Member.Name).Msg("joined room")
}

func (rt *Router) handleLeave(sid core.SessionID, sess *core.Session) {
	rt.leaveCurrentRoom(sid)
	reply(sess, protocol.LeftRoom{Type: protocol.TypeLeftRoom})
}

func (rt *Router) handleTrackUpdate(sid core.SessionID, room *core.Room, m protocol.TrackUpdate) {
	room.Track = domain.NewTrackState(m.VideoID, m.Title, m.Artist, m.Playing, m.Position, rt.now())
	room.Broadcast(protocol.Encode(protocol.TrackRelay{
		Type:  protocol.TypeTrackUpdate,
		Track: room.Track,
	}), sid)
}

func (rt *Router) handleSync(sid core.SessionID, room *core.Room, m protocol.Sync) {
	if room.Track != nil {
		switch m.Action {
		case protocol.ActionPlay:
			room.Track.Playing = true
		case protocol.ActionPause:
			room.Track.Playing = false
		}
		room.Track.Position = m.Position
		room.Track.UpdatedAt = rt.now()
	}
	room.Broadcast(protocol.Encode(protocol.SyncRelay{
		Type:     protocol.TypeSync,
		Action:   m.Action,
		Position: m.Position,
	}), sid)
}

func (rt *Router) handleControl(sess *core.Session, room *core.Room, m protocol.Control) {
	room.SendHost(protocol.Encode(protocol.ControlRelay{
		Type:     protocol.TypeControl,
		Action:   m.Action,
		FromID:   sess.Member.ID,
		FromName: sess.Member.Name,
	}))
}

func (rt *Router) handleSearch(sess *core.Session, room *core.Room, m protocol.Search) {
	room.SendHost(protocol.Encode(protocol.SearchRelay{
		Type:     protocol.TypeSearch,
		Query:    m.Query,
		FromID:   sess.Member.ID,
		FromName: sess.Member.Name,
	}))
}

func (rt *Router) handleChat(sess *core.Session, room *core.Room, m protocol.Chat) {
	// Chat echoes to everyone, the sender included.
	room.Broadcast(protocol.Encode(protocol.ChatRelay{
		Type:     protocol.TypeChat,
		Text:     m.Text,
		FromID:   sess.Member.ID,
		FromName: sess.Member.Name,
	}), "")
}

func (rt *Router) handleReaction(sid core.SessionID, sess *core.Session, room *core.Room, m protocol.Reaction) {
	room.Broadcast(protocol.Encode(protocol.ReactionRelay{
		Type:     protocol.TypeReaction,
		Emoji:    m.Emoji,
		FromID:   sess.Member.ID,
		FromName: sess.Member.Name,
	}), sid)
}

func (rt *Router) handleSignal(sid core.SessionID, sess *core.Session, room *core.Room, m protocol.Signal) {
	targetSID, target, ok := room.ResolveMember(domain.MemberID(m.To))
	if !ok || targetSID == sid {
		log.Debug().Str("module", "app.router").Str("sid", string(sid)).Str("to", m.To).Msg("signal target unresolvable, dropped")
		return
	}
	if !target.Conn.IsOpen() {
		return
	}
	_ = target.Conn.TrySend(protocol.Encode(protocol.SignalRelay{
		Type:      protocol.TypeSignal,
		Kind:      m.Kind,
		SDP:       m.SDP,
		Candidate: m.Candidate,
		FromID:    sess.Member.ID,
		FromName:  sess.Member.Name,
	}))
}

// leaveCurrentRoom removes sid from whatever room it is in. Host departure
// destroys the room; listener departure shrinks the roster. No-op for
// non-members, so every trigger (explicit leave, create/join displacement,
// disconnect, liveness timeout) can call it safely.
func (rt *Router) leaveCurrentRoom(sid core.SessionID) {
	room, ok := rt.roomOf(sid)
	if !ok {
		rt.registry.SetRoom(sid, "")
		return
	}

	if room.HostSID == sid {
		rt.destroyRoom(room)
		return
	}

	sess, _ := room.Member(sid)
	room.RemoveListener(sid)
	rt.registry.SetRoom(sid, "")
	if sess != nil {
		room.Broadcast(protocol.Encode(protocol.UserLeft{
			Type:          protocol.TypeUserLeft,
			MemberID:      sess.Member.ID,
			Name:          sess.Member.Name,
			ListenerCount: room.ListenerCount(),
		}), sid)
	}
}

// destroyRoom tears a room down and tells every remaining member exactly
// once. Clearing each member's registry binding is what makes a second
// trigger a no-op.
func (rt *Router) destroyRoom(room *core.Room) {
	closed := protocol.Encode(protocol.RoomClosed{Type: protocol.TypeRoomClosed, RoomCode: room.Code})

	rt.registry.SetRoom(room.HostSID, "")
	for _, sid := range room.ListenerSIDs() {
		if sess, ok := room.Member(sid); ok && sess.Conn.IsOpen() {
			_ = sess.Conn.TrySend(closed)
		}
		rt.registry.SetRoom(sid, "")
	}
	rt.rooms.Remove(room.Code)
	log.Info().Str("module", "app.router").Str("code", string(room.Code)).Msg("room destroyed")
}

// Sweep destroys stale rooms. Runs under the same mutex as message
// dispatch, so the sweeper never observes a half-updated room.
func (rt *Router) Sweep(now time.Time, ttl time.Duration) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	swept := rt.rooms.SweepStale(now, ttl)
	for _, room := range swept {
		rt.registry.SetRoom(room.HostSID, "")
	}
	return len(swept)
}

// Rooms lists live rooms for the debug endpoint.
func (rt *Router) Rooms() []core.RoomInfo {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.rooms.List()
}

func reply(sess *core.Session, v any) {
	if !sess.Conn.IsOpen() {
		return
	}
	_ = sess.Conn.TrySend(protocol.Encode(v))
}
