package protocol

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/okram/tunesync/internal/core"
	"github.com/okram/tunesync/internal/domain"
)

// Encode marshals an outbound message. Our own types cannot fail to
// marshal; a failure here is a programming error worth a log line, not a
// crash.
func Encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Str("module", "protocol").Err(err).Msg("encode failed")
		return nil
	}
	return b
}

type RoomCreated struct {
	Type      string             `json:"type"`
	RoomCode  domain.RoomCode    `json:"roomCode"`
	MemberID  domain.MemberID    `json:"memberId"`
	Name      string             `json:"name"`
	Role      domain.Role        `json:"role"`
	Listeners []core.MemberDTO   `json:"listeners"`
	Track     *domain.TrackState `json:"track"`
}

func NewRoomCreated(code domain.RoomCode, m *domain.Member) RoomCreated {
	return RoomCreated{
		Type:      TypeRoomCreated,
		RoomCode:  code,
		MemberID:  m.ID,
		Name:      m.Name,
		Role:      m.Role,
		Listeners: []core.MemberDTO{},
	}
}

type RoomJoined struct {
	Type          string             `json:"type"`
	RoomCode      domain.RoomCode    `json:"roomCode"`
	MemberID      domain.MemberID    `json:"memberId"`
	Name          string             `json:"name"`
	Role          domain.Role        `json:"role"`
	Listeners     []core.MemberDTO   `json:"listeners"`
	ListenerCount int                `json:"listenerCount"`
	Track         *domain.TrackState `json:"track"`
}

type UserJoined struct {
	Type          string          `json:"type"`
	MemberID      domain.MemberID `json:"memberId"`
	Name          string          `json:"name"`
	ListenerCount int             `json:"listenerCount"`
}

type UserLeft struct {
	Type          string          `json:"type"`
	MemberID      domain.MemberID `json:"memberId"`
	Name          string          `json:"name"`
	ListenerCount int             `json:"listenerCount"`
}

type LeftRoom struct {
	Type string `json:"type"`
}

type RoomClosed struct {
	Type     string          `json:"type"`
	RoomCode domain.RoomCode `json:"roomCode"`
}

type ErrorReply struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewError(code, message string) ErrorReply {
	return ErrorReply{Type: TypeError, Code: code, Message: message}
}

// TrackRelay is the host's track update as listeners see it.
type TrackRelay struct {
	Type  string             `json:"type"`
	Track *domain.TrackState `json:"track"`
}

// SyncRelay forwards a play/pause/seek action to listeners.
type SyncRelay struct {
	Type     string  `json:"type"`
	Action   string  `json:"action"`
	Position float64 `json:"position"`
}

// ControlRelay is a listener's playback request as the host sees it.
type ControlRelay struct {
	Type     string          `json:"type"`
	Action   string          `json:"action"`
	FromID   domain.MemberID `json:"fromId"`
	FromName string          `json:"fromName"`
}

type SearchRelay struct {
	Type     string          `json:"type"`
	Query    string          `json:"query"`
	FromID   domain.MemberID `json:"fromId"`
	FromName string          `json:"fromName"`
}

type ChatRelay struct {
	Type     string          `json:"type"`
	Text     string          `json:"text"`
	FromID   domain.MemberID `json:"fromId"`
	FromName string          `json:"fromName"`
}

type ReactionRelay struct {
	Type     string          `json:"type"`
	Emoji    string          `json:"emoji"`
	FromID   domain.MemberID `json:"fromId"`
	FromName string          `json:"fromName"`
}

// SignalRelay is a Signal as its target receives it: the routing "to" field
// is stripped and the sender identity attached.
type SignalRelay struct {
	Type      string                     `json:"type"`
	Kind      string                     `json:"kind"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	FromID    domain.MemberID            `json:"fromId"`
	FromName  string                     `json:"fromName"`
}
