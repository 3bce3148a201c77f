package pkg

import (
	"encoding/json"
	"sync"
	"time"
)

type DepartureReason string

const (
	DepartureLeft     DepartureReason = "left"
	DepartureDetached DepartureReason = "detached"
	DepartureExpired  DepartureReason = "expired"
	DepartureClosed   DepartureReason = "closed"
)

// Departure describes an occupant leaving or losing its connection.
// Remaining is the room as the other occupants now see it.
type Departure struct {
	Room      RoomID
	Token     SessionToken
	Conn      ConnID
	Reason    DepartureReason
	Remaining RoomSnapshot
}

type RegistryOption func(*Registry)

func WithIDGenerator(gen IDGenerator) RegistryOption {
	return func(r *Registry) { r.newID = gen }
}

func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// WithReconnectGrace keeps a dropped occupant's seat for d. Zero removes
// the occupant on disconnect.
func WithReconnectGrace(d time.Duration) RegistryOption {
	return func(r *Registry) { r.grace = d }
}

// WithEmptyTTL retains vacated rooms for d. Zero deletes them at once.
func WithEmptyTTL(d time.Duration) RegistryOption {
	return func(r *Registry) { r.emptyTTL = d }
}

// WithIdleTTL closes rooms without join or move activity for d.
func WithIdleTTL(d time.Duration) RegistryOption {
	return func(r *Registry) { r.idleTTL = d }
}

// DefaultBacklogLimit is the number of moves queued for a detached
// occupant before further moves are refused.
const DefaultBacklogLimit = 256

// WithBacklogLimit caps the moves queued for a detached occupant. Zero
// or less removes the cap.
func WithBacklogLimit(n int) RegistryOption {
	return func(r *Registry) { r.backlogLimit = n }
}

// Registry owns every live room. All methods are safe for concurrent use.
type Registry struct {
	lock  sync.RWMutex
	rooms map[RoomID]*Room
	seats map[SessionToken]RoomID

	newID    IDGenerator
	now      func() time.Time
	grace    time.Duration
	emptyTTL time.Duration
	idleTTL  time.Duration

	backlogLimit int
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		rooms: make(map[RoomID]*Room),
		seats: make(map[SessionToken]RoomID),
		newID: UUIDRoomID,
		now:   time.Now,

		backlogLimit: DefaultBacklogLimit,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateRoom seats the creator alone in a room with a fresh id. A creator
// already seated elsewhere is moved out of that room first.
func (r *Registry) CreateRoom(creator Seat) RoomID {
	r.lock.Lock()
	defer r.lock.Unlock()

	now := r.now()
	r.vacate(creator.Token, now)

	id := r.newID()
	for {
		if _, ok := r.rooms[id]; !ok {
			break
		}
		id = r.newID()
	}

	room := newRoom(id, now)
	room.seat(creator, now)
	r.rooms[id] = room
	r.seats[creator.Token] = id

	RelayRoomsGauge.Set(float64(len(r.rooms)))
	return id
}

// JoinRoom appends the joiner to the room's occupants. A joiner already
// seated in this room gets the current snapshot back unchanged.
func (r *Registry) JoinRoom(id RoomID, joiner Seat) (RoomSnapshot, error) {
	snapshot, _, err := r.joinRoom(id, joiner)
	return snapshot, err
}

// joinRoom is JoinRoom that also reports the seat the joiner gave up in
// another room, if any.
func (r *Registry) joinRoom(id RoomID, joiner Seat) (RoomSnapshot, *Departure, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	room, ok := r.rooms[id]
	if !ok {
		return RoomSnapshot{}, nil, &JoinError{Kind: JoinErrorNotFound, Room: id}
	}
	if room.indexOf(joiner.Token) >= 0 {
		return room.Snapshot(), nil, nil
	}
	switch room.State() {
	case RoomEmpty:
		return RoomSnapshot{}, nil, &JoinError{Kind: JoinErrorEmpty, Room: id}
	case RoomFull:
		return RoomSnapshot{}, nil, &JoinError{Kind: JoinErrorFull, Room: id}
	}

	now := r.now()
	var previous *Departure
	if dep, ok := r.vacate(joiner.Token, now); ok {
		previous = &dep
	}
	room.seat(joiner, now)
	r.seats[joiner.Token] = id

	return room.Snapshot(), previous, nil
}

// Leave removes the token's occupant from its room.
func (r *Registry) Leave(token SessionToken) (Departure, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.vacate(token, r.now())
}

// Disconnect handles the loss of conn for the occupant holding token. With
// a reconnect grace the seat is kept and marked detached, otherwise the
// occupant leaves. A conn that no longer holds the seat is ignored.
func (r *Registry) Disconnect(token SessionToken, conn ConnID) (Departure, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	id, ok := r.seats[token]
	if !ok {
		return Departure{}, false
	}
	room := r.rooms[id]
	o := room.occupant(token)
	if o == nil || o.Conn != conn || !o.Connected {
		return Departure{}, false
	}

	now := r.now()
	if r.grace <= 0 {
		return r.vacate(token, now)
	}

	o.Connected = false
	o.DetachedAt = now
	return Departure{
		Room:      id,
		Token:     token,
		Conn:      conn,
		Reason:    DepartureDetached,
		Remaining: room.Snapshot(),
	}, true
}

// Reattach binds conn to the token's existing seat and hands back the
// moves queued while it was detached.
func (r *Registry) Reattach(token SessionToken, conn ConnID) (RoomSnapshot, []json.RawMessage, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	id, ok := r.seats[token]
	if !ok {
		return RoomSnapshot{}, nil, false
	}
	room := r.rooms[id]
	o := room.occupant(token)
	if o == nil {
		return RoomSnapshot{}, nil, false
	}

	o.Conn = conn
	o.Connected = true
	o.DetachedAt = time.Time{}
	backlog := o.backlog
	o.backlog = nil

	return room.Snapshot(), backlog, true
}

// Sweep expires detached seats past the reconnect grace, closes idle rooms
// and deletes empty rooms past their retention.
func (r *Registry) Sweep(now time.Time) []Departure {
	r.lock.Lock()
	defer r.lock.Unlock()

	var out []Departure
	for id, room := range r.rooms {
		if r.idleTTL > 0 && room.State() != RoomEmpty && now.Sub(room.activeAt) >= r.idleTTL {
			for _, o := range append([]*Occupant(nil), room.occupants...) {
				room.remove(o.Token, now)
				delete(r.seats, o.Token)
				out = append(out, Departure{
					Room:      id,
					Token:     o.Token,
					Conn:      o.Conn,
					Reason:    DepartureClosed,
					Remaining: room.Snapshot(),
				})
			}
		}

		for _, o := range append([]*Occupant(nil), room.occupants...) {
			if o.Connected || now.Sub(o.DetachedAt) < r.grace {
				continue
			}
			room.remove(o.Token, now)
			delete(r.seats, o.Token)
			out = append(out, Departure{
				Room:      id,
				Token:     o.Token,
				Conn:      o.Conn,
				Reason:    DepartureExpired,
				Remaining: room.Snapshot(),
			})
		}

		if room.State() == RoomEmpty && now.Sub(room.emptySince) >= r.emptyTTL {
			delete(r.rooms, id)
		}
	}

	RelayRoomsGauge.Set(float64(len(r.rooms)))
	return out
}

func (r *Registry) Room(id RoomID) (RoomSnapshot, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	room, ok := r.rooms[id]
	if !ok {
		return RoomSnapshot{}, false
	}
	return room.Snapshot(), true
}

// RoomOf returns the room the token is seated in.
func (r *Registry) RoomOf(token SessionToken) (RoomID, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	id, ok := r.seats[token]
	return id, ok
}

func (r *Registry) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.rooms)
}

// routeMove validates a move from sender and returns the connected
// recipients. Detached recipients get the payload queued instead.
func (r *Registry) routeMove(id RoomID, sender ConnID, payload json.RawMessage, enforceTurns bool) ([]ConnID, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	room, ok := r.rooms[id]
	if !ok {
		return nil, &RelayError{Room: id, Reason: RelayRoomNotFound}
	}
	from := room.occupantByConn(sender)
	if from == nil || !from.Connected {
		return nil, &RelayError{Room: id, Reason: RelayNotOccupant}
	}
	if len(room.occupants) < 2 {
		return nil, &RelayError{Room: id, Reason: RelayNoPeer}
	}
	if enforceTurns && room.turn() != from {
		return nil, &RelayError{Room: id, Reason: RelayOutOfTurn}
	}

	for _, o := range room.occupants {
		if o != from && !o.Connected && r.backlogLimit > 0 && len(o.backlog) >= r.backlogLimit {
			return nil, &RelayError{Room: id, Reason: RelayBacklogFull}
		}
	}

	recipients := make([]ConnID, 0, len(room.occupants)-1)
	for _, o := range room.occupants {
		if o == from {
			continue
		}
		if o.Connected {
			recipients = append(recipients, o.Conn)
		} else {
			o.backlog = append(o.backlog, payload)
		}
	}

	room.moves++
	room.activeAt = r.now()
	return recipients, nil
}

// vacate removes the token's occupant. Callers hold r.lock.
func (r *Registry) vacate(token SessionToken, now time.Time) (Departure, bool) {
	id, ok := r.seats[token]
	if !ok {
		return Departure{}, false
	}
	delete(r.seats, token)

	room := r.rooms[id]
	o := room.remove(token, now)
	if o == nil {
		return Departure{}, false
	}

	dep := Departure{
		Room:      id,
		Token:     token,
		Conn:      o.Conn,
		Reason:    DepartureLeft,
		Remaining: room.Snapshot(),
	}
	if room.State() == RoomEmpty && r.emptyTTL <= 0 {
		delete(r.rooms, id)
	}
	RelayRoomsGauge.Set(float64(len(r.rooms)))
	return dep, true
}
