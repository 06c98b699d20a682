package core

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/okram/tunesync/internal/domain"
)

// RoomInfo is the store's read-only listing view.
type RoomInfo struct {
	Code          domain.RoomCode `json:"code"`
	ListenerCount int             `json:"listenerCount"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// RoomStore owns every live room, keyed by code. Like Room it carries no
// lock of its own; the app router serializes access.
type RoomStore struct {
	rooms map[domain.RoomCode]*Room
}

func NewRoomStore() *RoomStore {
	return &RoomStore{rooms: make(map[domain.RoomCode]*Room)}
}

// Create issues an unused code and registers a room under it. The code space
// is 32^6 so collisions are near-impossible, but they are still checked.
func (s *RoomStore) Create(hostSID SessionID, host *Session, now time.Time) *Room {
	var code domain.RoomCode
	for {
		code = domain.RoomCode(domain.NewRoomCode())
		if _, exists := s.rooms[code]; !exists {
			break
		}
	}
	room := NewRoom(code, hostSID, host, now)
	s.rooms[code] = room
	log.Info().Str("module", "core.store").Str("code", string(code)).Msg("room created")
	return room
}

func (s *RoomStore) Get(code domain.RoomCode) (*Room, bool) {
	room, ok := s.rooms[code]
	return room, ok
}

func (s *RoomStore) Remove(code domain.RoomCode) {
	delete(s.rooms, code)
	log.Info().Str("module", "core.store").Str("code", string(code)).Msg("room removed")
}

func (s *RoomStore) Len() int { return len(s.rooms) }

func (s *RoomStore) List() []RoomInfo {
	out := make([]RoomInfo, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, RoomInfo{Code: r.Code, ListenerCount: r.ListenerCount(), CreatedAt: r.CreatedAt})
	}
	return out
}

// SweepStale removes rooms past ttl that have no listeners and whose host
// transport is gone. A connected host keeps its room alive indefinitely;
// the sweep is a backstop for rooms whose disconnect path never fired.
func (s *RoomStore) SweepStale(now time.Time, ttl time.Duration) []*Room {
	var swept []*Room
	for code, r := range s.rooms {
		if now.Sub(r.CreatedAt) < ttl {
			continue
		}
		if r.ListenerCount() > 0 {
			continue
		}
		if r.Host != nil && r.Host.Conn.IsOpen() {
			continue
		}
		delete(s.rooms, code)
		swept = append(swept, r)
		log.Info().Str("module", "core.store").Str("code", string(code)).Msg("stale room swept")
	}
	return swept
}
