package pkg

import (
	"encoding/json"
	"time"
)

// RoomCapacity is the number of seats in a room.
const RoomCapacity = 2

type RoomID string

type RoomState int

const (
	RoomEmpty RoomState = iota
	RoomAwaitingOpponent
	RoomFull
)

func (s RoomState) String() string {
	switch s {
	case RoomEmpty:
		return "empty"
	case RoomAwaitingOpponent:
		return "awaiting_opponent"
	case RoomFull:
		return "full"
	default:
		return "unknown"
	}
}

// Seat is a caller asking for a place in a room.
type Seat struct {
	Token    SessionToken
	Conn     ConnID
	Username string
}

// Occupant holds a seat. Username is captured when the seat is taken.
type Occupant struct {
	Token      SessionToken
	Conn       ConnID
	Username   string
	Connected  bool
	DetachedAt time.Time

	// backlog holds moves relayed while the occupant was detached.
	backlog []json.RawMessage
}

type Player struct {
	ID       ConnID `json:"id"`
	Username string `json:"username"`

	Connected bool `json:"-"`
}

// RoomSnapshot is a copy of a room's membership, safe to hand out.
type RoomSnapshot struct {
	RoomID  RoomID   `json:"roomId"`
	Players []Player `json:"players"`
}

// Recipients lists the connected players other than exclude, in seat order.
func (s RoomSnapshot) Recipients(exclude ConnID) []ConnID {
	out := make([]ConnID, 0, len(s.Players))
	for _, p := range s.Players {
		if p.Connected && p.ID != exclude {
			out = append(out, p.ID)
		}
	}
	return out
}

// Room is a two-seat session. It is not safe for concurrent use; rooms
// are only touched under the Registry's lock.
type Room struct {
	id         RoomID
	occupants  []*Occupant
	createdAt  time.Time
	activeAt   time.Time
	emptySince time.Time
	moves      int
}

func newRoom(id RoomID, now time.Time) *Room {
	return &Room{
		id:        id,
		occupants: make([]*Occupant, 0, RoomCapacity),
		createdAt: now,
		activeAt:  now,
	}
}

func (r *Room) ID() RoomID { return r.id }

func (r *Room) CreatedAt() time.Time { return r.createdAt }

func (r *Room) State() RoomState {
	switch len(r.occupants) {
	case 0:
		return RoomEmpty
	case 1:
		return RoomAwaitingOpponent
	default:
		return RoomFull
	}
}

func (r *Room) Snapshot() RoomSnapshot {
	players := make([]Player, 0, len(r.occupants))
	for _, o := range r.occupants {
		players = append(players, Player{
			ID:        o.Conn,
			Username:  o.Username,
			Connected: o.Connected,
		})
	}
	return RoomSnapshot{RoomID: r.id, Players: players}
}

func (r *Room) indexOf(token SessionToken) int {
	for i, o := range r.occupants {
		if o.Token == token {
			return i
		}
	}
	return -1
}

func (r *Room) occupantByConn(conn ConnID) *Occupant {
	for _, o := range r.occupants {
		if o.Conn == conn {
			return o
		}
	}
	return nil
}

func (r *Room) occupant(token SessionToken) *Occupant {
	if i := r.indexOf(token); i >= 0 {
		return r.occupants[i]
	}
	return nil
}

func (r *Room) seat(s Seat, now time.Time) {
	r.occupants = append(r.occupants, &Occupant{
		Token:     s.Token,
		Conn:      s.Conn,
		Username:  s.Username,
		Connected: true,
	})
	r.emptySince = time.Time{}
	r.activeAt = now
	// A newly seated opponent starts a new game.
	r.moves = 0
}

func (r *Room) remove(token SessionToken, now time.Time) *Occupant {
	i := r.indexOf(token)
	if i < 0 {
		return nil
	}
	o := r.occupants[i]
	r.occupants = append(r.occupants[:i], r.occupants[i+1:]...)
	if len(r.occupants) == 0 {
		r.emptySince = now
	}
	return o
}

// turn returns the occupant expected to move next. The first occupant
// moves first.
func (r *Room) turn() *Occupant {
	if len(r.occupants) == 0 {
		return nil
	}
	return r.occupants[r.moves%len(r.occupants)]
}
