package core

import "github.com/okram/tunesync/internal/domain"

// Frame is an encoded message ready for the wire.
type Frame []byte

// SessionID identifies one live connection for its whole lifetime.
type SessionID string

// SignalConnection abstracts the messaging transport endpoint.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend queues a frame without blocking. Delivery is best-effort:
	// a full buffer or closed transport is the caller's signal to move on,
	// never to retry.
	TrySend(Frame) error
	// IsOpen reports whether the transport can still accept frames.
	IsOpen() bool
	Close()
}

// Session binds an ephemeral member identity to its transport endpoint.
// This is what a room stores and fans out to.
type Session struct {
	Member *domain.Member
	Conn   SignalConnection
}

func NewSession(member *domain.Member, conn SignalConnection) *Session {
	return &Session{Member: member, Conn: conn}
}
