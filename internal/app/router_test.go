package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/okram/tunesync/internal/core"
	"github.com/okram/tunesync/internal/domain"
	"github.com/okram/tunesync/internal/protocol"
)

type fakeConn struct {
	open   bool
	frames []core.Frame
}

func (c *fakeConn) TrySend(f core.Frame) error {
	if !c.open {
		return errors.New("closed")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) IsOpen() bool { return c.open }
func (c *fakeConn) Close()       { c.open = false }

func (c *fakeConn) decoded(t *testing.T) []map[string]any {
	t.Helper()
	out := make([]map[string]any, 0, len(c.frames))
	for _, f := range c.frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err != nil {
			t.Fatalf("undecodable frame %q: %v", f, err)
		}
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) ofType(t *testing.T, typ string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, m := range c.decoded(t) {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) lastOfType(t *testing.T, typ string) map[string]any {
	t.Helper()
	msgs := c.ofType(t, typ)
	if len(msgs) == 0 {
		t.Fatalf("no %s frame received", typ)
	}
	return msgs[len(msgs)-1]
}

func connect(rt *Router, sid string) *fakeConn {
	c := &fakeConn{open: true}
	rt.Connect(core.SessionID(sid), c)
	return c
}

func sendJSON(rt *Router, sid string, format string, args ...any) {
	rt.HandleMessage(core.SessionID(sid), []byte(fmt.Sprintf(format, args...)))
}

func createRoom(t *testing.T, rt *Router, sid, name string) string {
	t.Helper()
	sendJSON(rt, sid, `{"type":"CREATE_ROOM","name":%q}`, name)
	sess, _ := rt.registry.Session(core.SessionID(sid))
	created := sess.Conn.(*fakeConn).lastOfType(t, protocol.TypeRoomCreated)
	return created["roomCode"].(string)
}

func TestCreateRoomScenario(t *testing.T) {
	rt := NewRouter(nil)
	h := connect(rt, "H")

	sendJSON(rt, "H", `{"type":"CREATE_ROOM","name":"Alice"}`)

	created := h.lastOfType(t, protocol.TypeRoomCreated)
	code := created["roomCode"].(string)
	if !domain.ValidRoomCode(code) {
		t.Errorf("room code %q invalid", code)
	}
	if created["role"] != string(domain.RoleHost) {
		t.Errorf("role = %v, want host", created["role"])
	}
	if created["name"] != "Alice" {
		t.Errorf("name = %v, want Alice", created["name"])
	}
	if ls, ok := created["listeners"].([]any); !ok || len(ls) != 0 {
		t.Errorf("listeners = %v, want empty list", created["listeners"])
	}
	if track, ok := created["track"]; !ok || track != nil {
		t.Errorf("track = %v (present=%v), want explicit null", track, ok)
	}
}

func TestJoinRoomScenario(t *testing.T) {
	rt := NewRouter(nil)
	h := connect(rt, "H")
	l := connect(rt, "L")
	code := createRoom(t, rt, "H", "Alice")

	sendJSON(rt, "L", `{"type":"JOIN_ROOM","roomCode":%q,"name":"Bob"}`, code)

	joined := l.lastOfType(t, protocol.TypeRoomJoined)
	if joined["listenerCount"].(float64) != 1 {
		t.Errorf("joiner listenerCount = %v, want 1", joined["listenerCount"])
	}
	if joined["roomCode"] != code {
		t.Errorf("roomCode = %v, want %s", joined["roomCode"], code)
	}

	userJoined := h.lastOfType(t, protocol.TypeUserJoined)
	if userJoined["name"] != "Bob" || userJoined["listenerCount"].(float64) != 1 {
		t.Errorf("host USER_JOINED = %v", userJoined)
	}
}

func TestJoinRoomCaseInsensitiveCode(t *testing.T) {
	rt := NewRouter(nil)
	connect(rt, "H")
	l := connect(rt, "L")
	code := createRoom(t, rt, "H", "Alice")

	sendJSON(rt, "L", `{"type":"JOIN_ROOM","roomCode":%q,"name":"Bob"}`, strings.ToLower(code))
	if len(l.ofType(t, protocol.TypeRoomJoined)) != 1 {
		t.Fatal("lowercased code should join")
	}

	l2 := connect(rt, "L2")
	sendJSON(rt, "L2", `{"type":"JOIN_ROOM","roomCode":%q,"name":"Eve"}`, " "+code+" ")
	if len(l2.ofType(t, protocol.TypeRoomJoined)) != 1 {
		t.Fatal("padded code should join after trimming")
	}
}

func TestJoinUnknownRoom(t *testing.T) {
	rt := NewRouter(nil)
	l := connect(rt, "L")

	sendJSON(rt, "L", `{"type":"JOIN_ROOM","roomCode":"ZZZZZZ","name":"Bob"}`)
	reply := l.lastOfType(t, protocol.TypeError)
	if reply["code"] != protocol.CodeRoomNotFound {
		t.Errorf("error code = %v, want %s", reply["code"], protocol.CodeRoomNotFound)
	}
}

func TestRoomFullAtExactlyFifty(t *testing.T) {
	rt := NewRouter(nil)
	connect(rt, "H")
	code := createRoom(t, rt, "H", "Alice")

	for i := 0; i < core.MaxListeners; i++ {
		sid := fmt.Sprintf("L%d", i)
		c := connect(rt, sid)
		sendJSON(rt, sid, `{"type":"JOIN_ROOM","roomCode":%q,"name":"x"}`, code)
		if len(c.ofType(t, protocol.TypeRoomJoined)) != 1 {
			t.Fatalf("listener %d rejected before the cap", i)
		}
	}

	over := connect(rt, "L-over")
	sendJSON(rt, "L-over", `{"type":"JOIN_ROOM","roomCode":%q,"name":"x"}`, code)
	reply := over.lastOfType(t, protocol.TypeError)
	if reply["code"] != protocol.CodeRoomFull {
		t.Errorf("error code = %v, want %s", reply["code"], protocol.CodeRoomFull)
	}
}

func TestJoinIsIdempotentAcrossRooms(t *testing.T) {
	rt := NewRouter(nil)
	connect(rt, "HA")
	ha := createRoom(t, rt, "HA", "HostA")
	connect(rt, "HB")
	hb := createRoom(t, rt, "HB", "HostB")

	l := connect(rt, "L")
	sendJSON(rt, "L", `{"type":"JOIN_ROOM","roomCode":%q,"name":"Bob"}`, ha)
	sendJSON(rt, "L", `{"type":"JOIN_ROOM","roomCode":%q,"name":"Bob"}`, hb)

	roomA, _ := rt.rooms.Get(domain.RoomCode(ha))
	roomB, _ := rt.rooms.Get(domain.RoomCode(hb))
	if roomA.ListenerCount() != 0 {
		t.Errorf("room A still has %d listeners", roomA.ListenerCount())
	}
	if roomB.ListenerCount() != 1 {
		t.Errorf("room B has %d listeners, want 1", roomB.ListenerCount())
	}
	if code, _ := rt.registry.RoomOf("L"); code != domain.RoomCode(hb) {
		t.Errorf("registry says L is in %q, want %q", code, hb)
	}
	if len(l.ofType(t, protocol.TypeRoomJoined)) != 2 {
		t.Error("both joins should have been acknowledged")
	}
}

func TestHostJoiningElsewhereDestroysOwnRoom(t *testing.T) {
	rt := NewRouter(nil)
	connect(rt, "HA")
	ha := createRoom(t, rt, "HA", "HostA")
	connect(rt, "HB")
	hb := createRoom(t, rt, "HB", "HostB")
	l := connect(rt, "L")
	sendJSON(rt, "L", `{"type":"JOIN_ROOM","roomCode":%q,"name":"Bob"}`, ha)

	sendJSON(rt, "HA", `{"type":"JOIN_ROOM","roomCode":%q,"name":"HostA"}`, hb)

	if _, ok := rt.rooms.Get(domain.RoomCode(ha)); ok {
		t.Error("room A should be destroyed when its host joins elsewhere")
	}
	if len(l.ofType(t, protocol.TypeRoomClosed)) != 1 {
		t.Error("listener should get exactly one ROOM_CLOSED")
	}
}

func TestTrackUpdateBroadcastScenario(t *testing.T) {
	rt := NewRouter(nil)
	h := connect(rt, "H")
	l := connect(rt, "L")
	code := createRoom(t, rt, "H", "Alice")
	sendJSON(rt, "L", `{"type":"JOIN_ROOM","roomCode":%q,"name":"Bob"}`, code)

	sendJSON(rt, "H", `{"type":"TRACK_UPDATE","videoId":"dQw4w9WgXcQ","title":"Never Gonna Give You Up","playing":true,"position":0}`)

	update := l.lastOfType(t, protocol.TypeTrackUpdate)
	track := update["track"].(map[string]any)
	if track["videoId"] != "dQw4w9WgXcQ" || track["playing"] != true {
		t.Errorf("listener track = %v", track)
	}
	if len(h.ofType(t, protocol.TypeTrackUpdate)) != 0 {
		t.Error("host must not receive its own track update")
	}

	room, _ := rt.rooms.Get(domain.RoomCode(code))
	if room.Track == nil || room.Track.Title != "Never Gonna Give You Up" {
		t.Error("session state not stored on the room")
	}
}

func TestTrackUpdateFromListenerDropped(t *testing.T) {
	rt := NewRouter(nil)
	h := connect(rt, "H")
	connect(rt, "L")
	code := createRoom(t, rt, "H", "Alice")
	sendJSON(rt, "L", `{"type":"JOIN_ROOM","roomCode":%q,"name":"Bob"}`, code)

	sendJSON(rt, "L", `{"type":"TRACK_UPDATE","videoId":"x","title":"nope","playing":true,"position":0}`)

	room, _ := rt.rooms.Get(domain.RoomCode(code))
	if room.Track != nil {
		t.Error("listener must not mutate session state")
	}
	if len(h.ofType(t, protocol.TypeTrackUpdate)) != 0 {
		t.Error("nothing should be relayed for an unauthorized update")
	}
}

func TestSyncForwardedToListenersOnly(t *testing.T) {
	rt := NewRouter(nil)
	h := connect(rt, "H")
	l1 := connect(rt, "L1")
	l2 := connect(rt, "L2")
	code := createRoom(t, rt, "H", "Alice")
	sendJSON(rt, "L1", `{"type":"JOIN_ROOM","roomCode":%q,"name":"Bob"}`, code)
	sendJSON(rt, "L2", `{"type":"JOIN_ROOM","roomCode":%q,"name":"Carol"}`, code)
	sendJSON(rt, "H", `{"type":"TRACK_UPDATE","videoId":"v","title":"t","playing":true,"position":0}`)

	sendJSON(rt, "H", `{"type":"SYNC","action":"seek","position":42.5}`)

	for _, c := range []*fakeConn{l1, l2} {
		sync := c.lastOfType(t, protocol.TypeSync)
		if sync["action"] != "seek" || sync["position"].(float64) != 42.5 {
			t.Errorf("sync relay = %v", sync)
		}
	}
	if len(h.ofType(t, protocol.TypeSync)) != 0 {
		t.Error("host must not echo its own sync")
	}
	room, _ := rt.rooms.Get(domain.RoomCode(code))
	if room.Track.Position != 42.5 || !room.Track.Playing {
		t.Errorf("seek should move position without touching the playing flag, got %+v", room.Track)
	}
}

func TestControlScenario(t *testing.T) {
	rt := NewRouter(nil)
	h := connect(rt, "H")
	l1 := connect(rt, "L1")
	l2 := connect(rt, "L2")
	code := createRoom(t, rt, "H", "Alice")
	sendJSON(rt, "L1", `{"type":"JOIN_ROOM","roomCode":%q,"name":"Bob"}`, code)
	sendJSON(rt, "L2", `{"type":"JOIN_ROOM","roomCode":%q,"name":"Carol"}`, code)
	l1.frames, l2.frames = nil, nil

	sendJSON(rt, "L1", `{"type":"CONTROL","action":"TOGGLE"}`)

	ctrl := h.lastOfType(t, protocol.TypeControl)
	if ctrl["action"] != "TOGGLE" || ctrl["fromName"] != "Bob" {
		t.Errorf("host CONTROL = %v", ctrl)
	}
	if len(l1.frames) != 0 || len(l2.frames) != 0 {
		t.Error("CONTROL must never be broadcast to listeners")
	}
}

func TestControlDroppedWithoutOpenHost(t *testing.T) {
	rt := NewRouter(nil)
	h := connect(rt, "H")
	l := connect(rt, "L")
	code := createRoom(t, rt, "H", "Alice")
	sendJSON(rt, "L", `{"type":"JOIN_ROOM","roomCode":%q,"name":"Bob"}`, code)
	h.Close()

	hostBefore, senderBefore := len(h.frames), len(l.frames)
	sendJSON(rt, "L", `{"type":"CONTROL","action":"TOGGLE"}`)
	if len(h.frames) != hostBefore {
		t.Error("closed host must not receive CONTROL")
	}
	if len(l.frames) != senderBefore {
		t.Error("sender must get no reply for a dropped CONTROL")
	}
}

func TestSearchForwardedToHostOnly(t *testing.T) {
	rt := NewRouter(nil)
	h := connect(rt, "H")
	connect(rt, "L1")
	l2 := connect(rt, "L2")
	code := createRoom(t, rt, "H", "Alice")
	sendJSON(rt, "L1", `{"type":"JOIN_ROOM","roomCode":%q,"name":"Bob"}`, code)
	sendJSON(rt, "L2", `{"type":"JOIN_ROOM","roomCode":%q,"name":"Carol"}`, code)
	l2.frames = nil

	sendJSON(rt, "L1", `{"type":"SEARCH","query":"daft punk"}`)

	search := h.lastOfType(t, protocol.TypeSearch)
	if search["query"] != "daft punk" || search["fromName"] != "Bob" {
		t.Errorf("host SEARCH = %v", search)
	}
	if len(l2.ofType(t, protocol.TypeSearch)) != 0 {
		t.Error("SEARCH must not reach listeners")
	}
}

func TestChatEchoesToEveryone(t *testing.T) {
	rt := NewRouter(nil)
	h := connect(rt, "H")
	l := connect(rt, "L")
	code := createRoom(t, rt, "H", "Alice")
	sendJSON(rt, "L", `{"type":"JOIN_ROOM","roomCode":%q,"name":"Bob"}`, code)

	sendJSON(rt, "L", `{"type":"CHAT","text":"hi all"}`)

	for _, c := range []*fakeConn{h, l} {
		chat := c.lastOfType(t, protocol.TypeChat)
		if chat["text"] != "hi all" || chat["fromName"] != "Bob" {
			t.Errorf("chat = %v", chat)
		}
	}
}

func TestReactionExcludesSender(t *testing.T) {
	rt := NewRouter(nil)
	h := connect(rt, "H")
	l := connect(rt, "L")
	code := createRoom(t, rt, "H", "Alice")
	sendJSON(rt, "L", `{"type":"JOIN_ROOM","roomCode":%q,"name":"Bob"}`, code)

	sendJSON(rt, "L", `{"type":"REACTION","emoji":"🔥"}`)

	if len(h.ofType(t, protocol.TypeReaction)) != 1 {
		t.Error("host should receive the reaction")
	}
	if len(l.ofType(t, protocol.TypeReaction)) != 0 {
		t.Error("sender must not receive its own reaction")
	}
}

func TestChatStaysInOwnRoom(t *testing.T) {
	rt := NewRouter(nil)
	connect(rt, "HA")
	ha := createRoom(t, rt, "HA", "HostA")
	hb := connect(rt, "HB")
	hbCode := createRoom(t, rt, "HB", "HostB")
	lb := connect(rt, "LB")
	sendJSON(rt, "LB", `{"type":"JOIN_ROOM","roomCode":%q,"name":"Eve"}`, hbCode)
	la := connect(rt, "LA")
	sendJSON(rt, "LA", `{"type":"JOIN_ROOM","roomCode":%q,"name":"Bob"}`, ha)

	sendJSON(rt, "LA", `{"type":"CHAT","text":"room A only"}`)

	if len(hb.ofType(t, protocol.TypeChat)) != 0 || len(lb.ofType(t, protocol.TypeChat)) != 0 {
		t.Error("chat leaked into another room")
	}
	if len(la.ofType(t, protocol.TypeChat)) != 1 {
		t.Error("sender's own room should see the chat")
	}
}

func TestSignalUnicast(t *testing.T) {
	rt := NewRouter(nil)
	h := connect(rt, "H")
	l1 := connect(rt, "L1")
	l2 := connect(rt, "L2")
	code := createRoom(t, rt, "H", "Alice")
	sendJSON(rt, "L1", `{"type":"JOIN_ROOM","roomCode":%q,"name":"Bob"}`, code)
	sendJSON(rt, "L2", `{"type":"JOIN_ROOM","roomCode":%q,"name":"Carol"}`, code)

	hostID := h.lastOfType(t, protocol.TypeRoomCreated)["memberId"].(string)
	l1ID := l1.lastOfType(t, protocol.TypeRoomJoined)["memberId"].(string)

	sendJSON(rt, "H", `{"type":"SIGNAL","to":%q,"kind":"offer","sdp":{"type":"offer","sdp":"v=0"}}`, l1ID)

	sig := l1.lastOfType(t, protocol.TypeSignal)
	if sig["kind"] != "offer" || sig["fromId"] != hostID {
		t.Errorf("signal relay = %v", sig)
	}
	if len(l2.ofType(t, protocol.TypeSignal)) != 0 || len(h.ofType(t, protocol.TypeSignal)) != 0 {
		t.Error("signal must be unicast to its target only")
	}

	// Unresolvable target: dropped without any reply.
	before := len(h.frames)
	sendJSON(rt, "H", `{"type":"SIGNAL","to":"ZZZZZZZZ","kind":"offer","sdp":{"type":"offer","sdp":"v=0"}}`)
	if len(h.frames) != before {
		t.Error("unresolvable signal target must fail silently")
	}
}

func TestLeaveRoom(t *testing.T) {
	rt := NewRouter(nil)
	h := connect(rt, "H")
	l := connect(rt, "L")
	code := createRoom(t, rt, "H", "Alice")
	sendJSON(rt, "L", `{"type":"JOIN_ROOM","roomCode":%q,"name":"Bob"}`, code)

	sendJSON(rt, "L", `{"type":"LEAVE_ROOM"}`)

	if len(l.ofType(t, protocol.TypeLeftRoom)) != 1 {
		t.Error("leaver should get LEFT_ROOM")
	}
	left := h.lastOfType(t, protocol.TypeUserLeft)
	if left["name"] != "Bob" || left["listenerCount"].(float64) != 0 {
		t.Errorf("host USER_LEFT = %v", left)
	}
	room, _ := rt.rooms.Get(domain.RoomCode(code))
	if room.ListenerCount() != 0 {
		t.Error("listener still in room after leave")
	}
}

func TestHostDisconnectClosesRoomOnce(t *testing.T) {
	rt := NewRouter(nil)
	connect(rt, "H")
	l := connect(rt, "L")
	code := createRoom(t, rt, "H", "Alice")
	sendJSON(rt, "L", `{"type":"JOIN_ROOM","roomCode":%q,"name":"Bob"}`, code)

	// Liveness timeout and socket close can both fire; the second must be
	// a no-op.
	rt.Disconnect("H")
	rt.Disconnect("H")

	if got := len(l.ofType(t, protocol.TypeRoomClosed)); got != 1 {
		t.Fatalf("listener got %d ROOM_CLOSED, want exactly 1", got)
	}
	if _, ok := rt.rooms.Get(domain.RoomCode(code)); ok {
		t.Error("room should be destroyed with its host")
	}

	// The old code is dead for future joiners.
	j := connect(rt, "J")
	sendJSON(rt, "J", `{"type":"JOIN_ROOM","roomCode":%q,"name":"Late"}`, code)
	if j.lastOfType(t, protocol.TypeError)["code"] != protocol.CodeRoomNotFound {
		t.Error("stale code should yield ROOM_NOT_FOUND")
	}
}

func TestListenerDisconnectNotifiesRoom(t *testing.T) {
	rt := NewRouter(nil)
	h := connect(rt, "H")
	connect(rt, "L")
	code := createRoom(t, rt, "H", "Alice")
	sendJSON(rt, "L", `{"type":"JOIN_ROOM","roomCode":%q,"name":"Bob"}`, code)

	rt.Disconnect("L")

	left := h.lastOfType(t, protocol.TypeUserLeft)
	if left["name"] != "Bob" {
		t.Errorf("USER_LEFT = %v", left)
	}
	room, _ := rt.rooms.Get(domain.RoomCode(code))
	if room.ListenerCount() != 0 {
		t.Error("disconnected listener still counted")
	}
}

func TestMalformedAndUnknownDroppedSilently(t *testing.T) {
	rt := NewRouter(nil)
	h := connect(rt, "H")
	createRoom(t, rt, "H", "Alice")
	before := len(h.frames)

	sendJSON(rt, "H", `{broken`)
	sendJSON(rt, "H", `{"type":"FORMAT_DISK"}`)
	sendJSON(rt, "H", `{"type":"CONTROL","action":"TOGGLE"}`) // host may not send CONTROL

	if len(h.frames) != before {
		t.Error("malformed/unknown/unauthorized messages must produce no reply")
	}
}

func TestMessagesFromStrangersDropped(t *testing.T) {
	rt := NewRouter(nil)
	s := connect(rt, "S")

	sendJSON(rt, "S", `{"type":"CHAT","text":"hello?"}`)
	sendJSON(rt, "S", `{"type":"LEAVE_ROOM"}`)
	if len(s.frames) != 0 {
		t.Error("non-members must get nothing back for member-only messages")
	}
}

func TestSweepViaRouter(t *testing.T) {
	rt := NewRouter(nil)
	h := connect(rt, "H")
	code := createRoom(t, rt, "H", "Alice")
	room, _ := rt.rooms.Get(domain.RoomCode(code))
	room.CreatedAt = time.Now().Add(-7 * time.Hour)

	if n := rt.Sweep(time.Now(), 6*time.Hour); n != 0 {
		t.Fatal("room with a live host must survive the sweep")
	}

	h.Close()
	if n := rt.Sweep(time.Now(), 6*time.Hour); n != 1 {
		t.Fatal("room with a dead host past ttl should be swept")
	}
	if code, _ := rt.registry.RoomOf("H"); code != "" {
		t.Error("swept room must be cleared from the registry")
	}
}

func TestRateLimitedMessagesDropped(t *testing.T) {
	rt := NewRouter(NewRateLimiter(2, time.Minute))
	h := connect(rt, "H")
	createRoom(t, rt, "H", "Alice")

	before := len(h.frames)
	sendJSON(rt, "H", `{"type":"TRACK_UPDATE","videoId":"v","title":"t","playing":true,"position":0}`)
	// Third message in the window: dropped before decode.
	sendJSON(rt, "H", `{"type":"CREATE_ROOM","name":"Again"}`)
	if len(h.frames) != before {
		t.Error("over-limit message should be dropped silently")
	}
}
