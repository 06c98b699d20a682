// Package domain contains entities without logic, just meta-data and the
// input bounds the relay enforces on them.
package domain

import (
	"errors"
	"unicode/utf8"
)

type Role string

const (
	RoleHost     Role = "host"
	RoleListener Role = "listener"
)

const (
	MaxNameLen    = 30
	MaxChatLen    = 500
	MaxSearchLen  = 200
	MaxEmojiLen   = 4
	MaxTitleLen   = 100
	MaxVideoIDLen = 64

	DefaultName = "anonymous"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room full")
	ErrNotMember    = errors.New("not a room member")
)

type MemberID string

// Member is the ephemeral per-connection identity. It lives exactly as long
// as the connection that created it.
type Member struct {
	ID   MemberID `json:"id"`
	Name string   `json:"name"`
	Role Role     `json:"role"`
}

// NewMember builds an identity with the display name clamped and defaulted.
func NewMember(name string, role Role) *Member {
	return &Member{
		ID:   MemberID(NewMemberID()),
		Name: CleanName(name),
		Role: role,
	}
}

// CleanName trims, truncates and defaults a display name from the wire.
func CleanName(name string) string {
	name = Clamp(name, MaxNameLen)
	if name == "" {
		return DefaultName
	}
	return name
}

// Clamp truncates untrusted input to at most n bytes without splitting a
// rune: the cut backs up to the nearest boundary so multi-byte input stays
// valid UTF-8. Every string field a client can set passes through here
// before storage or relay.
func Clamp(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
