package domain

import (
	"crypto/rand"
	"strings"
)

// CodeAlphabet deliberately excludes I, O, 0 and 1 so codes survive being
// read aloud or scribbled on a napkin.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	RoomCodeLen = 6
	MemberIDLen = 8
)

func randomToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	for i, b := range buf {
		buf[i] = CodeAlphabet[int(b)%len(CodeAlphabet)]
	}
	return string(buf)
}

// NewRoomCode returns a fresh candidate room code. Uniqueness against live
// rooms is the store's job, not ours.
func NewRoomCode() string {
	return randomToken(RoomCodeLen)
}

// NewMemberID returns an opaque per-connection identity token.
func NewMemberID() string {
	return randomToken(MemberIDLen)
}

// NormalizeRoomCode uppercases user input; codes are case-insensitive on the
// wire but stored uppercase.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidRoomCode reports whether code has the right length and alphabet after
// normalization.
func ValidRoomCode(code string) bool {
	if len(code) != RoomCodeLen {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(CodeAlphabet, rune(code[i])) {
			return false
		}
	}
	return true
}
