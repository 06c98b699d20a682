// Package protocol defines the wire envelopes the relay speaks. Every
// message carries a "type" discriminator; inbound payloads are a closed set
// of tagged variants, clamped at the decode boundary before anything is
// stored or relayed.
package protocol

import (
	"encoding/json"
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/okram/tunesync/internal/domain"
)

// Inbound message types.
const (
	TypeCreateRoom  = "CREATE_ROOM"
	TypeJoinRoom    = "JOIN_ROOM"
	TypeLeaveRoom   = "LEAVE_ROOM"
	TypeTrackUpdate = "TRACK_UPDATE"
	TypeSync        = "SYNC"
	TypeControl     = "CONTROL"
	TypeSearch      = "SEARCH"
	TypeChat        = "CHAT"
	TypeReaction    = "REACTION"
	TypeSignal      = "SIGNAL"
)

// Outbound-only message types.
const (
	TypeRoomCreated = "ROOM_CREATED"
	TypeRoomJoined  = "ROOM_JOINED"
	TypeUserJoined  = "USER_JOINED"
	TypeUserLeft    = "USER_LEFT"
	TypeLeftRoom    = "LEFT_ROOM"
	TypeRoomClosed  = "ROOM_CLOSED"
	TypeError       = "ERROR"
)

// Error codes surfaced to clients. Everything else fails closed and silent.
const (
	CodeRoomNotFound = "ROOM_NOT_FOUND"
	CodeRoomFull     = "ROOM_FULL"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

// Sync actions the host may issue; Control actions listeners may request.
const (
	ActionPlay  = "play"
	ActionPause = "pause"
	ActionSeek  = "seek"
)

// Signal kinds.
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
)

type Inbound interface{ inbound() }

type CreateRoom struct {
	Name string `json:"name"`
}

type JoinRoom struct {
	RoomCode string `json:"roomCode"`
	Name     string `json:"name"`
}

type LeaveRoom struct{}

type TrackUpdate struct {
	VideoID  string  `json:"videoId"`
	Title    string  `json:"title"`
	Artist   string  `json:"artist,omitempty"`
	Playing  bool    `json:"playing"`
	Position float64 `json:"position"`
}

type Sync struct {
	Action   string  `json:"action"`
	Position float64 `json:"position"`
}

type Control struct {
	Action string `json:"action"`
}

type Search struct {
	Query string `json:"query"`
}

type Chat struct {
	Text string `json:"text"`
}

type Reaction struct {
	Emoji string `json:"emoji"`
}

// Signal carries opaque peer-negotiation payloads between two members. The
// relay never inspects the SDP; pion types are used purely as wire structs.
type Signal struct {
	To        string                     `json:"to"`
	Kind      string                     `json:"kind"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

func (CreateRoom) inbound()  {}
func (JoinRoom) inbound()    {}
func (LeaveRoom) inbound()   {}
func (TrackUpdate) inbound() {}
func (Sync) inbound()        {}
func (Control) inbound()     {}
func (Search) inbound()      {}
func (Chat) inbound()        {}
func (Reaction) inbound()    {}
func (Signal) inbound()      {}

// DecodeInbound parses one envelope into its tagged variant, clamping every
// client-controlled string. Unknown tags and broken JSON come back as errors
// the router drops without a reply.
func DecodeInbound(data []byte) (string, Inbound, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, ErrMalformed
	}

	var (
		msg Inbound
		err error
	)
	switch env.Type {
	case TypeCreateRoom:
		var m CreateRoom
		if err = json.Unmarshal(data, &m); err == nil {
			m.Name = domain.Clamp(m.Name, domain.MaxNameLen)
			msg = m
		}
	case TypeJoinRoom:
		var m JoinRoom
		if err = json.Unmarshal(data, &m); err == nil {
			m.RoomCode = domain.Clamp(domain.NormalizeRoomCode(m.RoomCode), domain.RoomCodeLen)
			m.Name = domain.Clamp(m.Name, domain.MaxNameLen)
			msg = m
		}
	case TypeLeaveRoom:
		msg = LeaveRoom{}
	case TypeTrackUpdate:
		var m TrackUpdate
		if err = json.Unmarshal(data, &m); err == nil {
			m.VideoID = domain.Clamp(m.VideoID, domain.MaxVideoIDLen)
			m.Title = domain.Clamp(m.Title, domain.MaxTitleLen)
			m.Artist = domain.Clamp(m.Artist, domain.MaxTitleLen)
			msg = m
		}
	case TypeSync:
		var m Sync
		if err = json.Unmarshal(data, &m); err == nil {
			if m.Action != ActionPlay && m.Action != ActionPause && m.Action != ActionSeek {
				return env.Type, nil, ErrMalformed
			}
			msg = m
		}
	case TypeControl:
		var m Control
		if err = json.Unmarshal(data, &m); err == nil {
			m.Action = domain.Clamp(m.Action, domain.MaxNameLen)
			msg = m
		}
	case TypeSearch:
		var m Search
		if err = json.Unmarshal(data, &m); err == nil {
			m.Query = domain.Clamp(m.Query, domain.MaxSearchLen)
			msg = m
		}
	case TypeChat:
		var m Chat
		if err = json.Unmarshal(data, &m); err == nil {
			m.Text = domain.Clamp(m.Text, domain.MaxChatLen)
			msg = m
		}
	case TypeReaction:
		var m Reaction
		if err = json.Unmarshal(data, &m); err == nil {
			m.Emoji = domain.Clamp(m.Emoji, domain.MaxEmojiLen)
			msg = m
		}
	case TypeSignal:
		var m Signal
		if err = json.Unmarshal(data, &m); err == nil {
			if m.Kind != SignalOffer && m.Kind != SignalAnswer && m.Kind != SignalCandidate {
				return env.Type, nil, ErrMalformed
			}
			m.To = domain.Clamp(m.To, domain.MemberIDLen)
			msg = m
		}
	default:
		return env.Type, nil, ErrUnknownType
	}
	if err != nil {
		return env.Type, nil, ErrMalformed
	}
	return env.Type, msg, nil
}
