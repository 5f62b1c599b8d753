package room

import (
	"errors"
	"fmt"
	"strings"
)

var ErrBadIdentity = errors.New("malformed identity")

type IdentityKind string

const (
	IdentityAccount IdentityKind = "account"
	IdentityGuest   IdentityKind = "guest"
)

// Identity is the durable reference a connection claims: an account id for
// authenticated users or a guest id minted by the client. Slots are matched
// on identity equality, never on connection identity, so a reconnect (or a
// duplicate tab) always lands back on the same seat.
type Identity struct {
	Kind IdentityKind
	ID   string
}

// ParseIdentity parses the "account:<id>" / "guest:<id>" wire form.
func ParseIdentity(s string) (Identity, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Identity{}, fmt.Errorf("%w: %q", ErrBadIdentity, s)
	}
	switch IdentityKind(kind) {
	case IdentityAccount, IdentityGuest:
		return Identity{Kind: IdentityKind(kind), ID: id}, nil
	default:
		return Identity{}, fmt.Errorf("%w: unknown kind %q", ErrBadIdentity, kind)
	}
}

func (id Identity) String() string {
	return string(id.Kind) + ":" + id.ID
}

// Slot is a logical player seat. Identity is fixed at join time; ConnID is
// volatile and rebound on every reconnect. An empty ConnID means the player
// is disconnected but still seated, not that the seat is vacant.
type Slot struct {
	Player      int
	Identity    Identity
	ConnID      string
	DisplayName string
}

// resolveSlot maps a claimed identity to a seat: the existing slot with an
// equal identity wins, otherwise the next free seat is allocated while the
// room is still waiting.
func (r *Room) resolveSlot(id Identity) (*Slot, error) {
	for _, s := range r.slots {
		if s != nil && s.Identity == id {
			return s, nil
		}
	}
	if r.slots[0] != nil && r.slots[1] != nil {
		return nil, ErrRoomFull
	}
	if r.status != StatusWaiting {
		return nil, ErrIdentityConflict
	}
	for i := range r.slots {
		if r.slots[i] == nil {
			s := &Slot{Player: i + 1, Identity: id}
			r.slots[i] = s
			return s, nil
		}
	}
	return nil, ErrRoomFull
}
