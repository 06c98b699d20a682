package app

import (
	"github.com/okram/tunesync/internal/domain"
	"github.com/okram/tunesync/internal/protocol"
)

// precondition is what a message type demands of its sender before the
// handler runs. Checked uniformly by the Router so the rules live in one
// table instead of scattered per-handler ifs.
type precondition struct {
	// needsRoom: sender must currently be a room member.
	needsRoom bool
	// role: required sender role within the room ("" = any).
	role domain.Role
	// needsHost: the room's host transport must still be open.
	needsHost bool
}

// policyFor maps inbound message types to their preconditions. CREATE_ROOM
// and JOIN_ROOM are absent on purpose: they have none.
var policyFor = map[string]precondition{
	protocol.TypeLeaveRoom:   {needsRoom: true},
	protocol.TypeTrackUpdate: {needsRoom: true, role: domain.RoleHost},
	protocol.TypeSync:        {needsRoom: true, role: domain.RoleHost},
	protocol.TypeControl:     {needsRoom: true, role: domain.RoleListener, needsHost: true},
	protocol.TypeSearch:      {needsRoom: true, needsHost: true},
	protocol.TypeChat:        {needsRoom: true},
	protocol.TypeReaction:    {needsRoom: true},
	protocol.TypeSignal:      {needsRoom: true},
}
