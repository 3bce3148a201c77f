package pkg

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func seat(name string) Seat {
	return Seat{
		Token:    SessionToken("tok-" + name),
		Conn:     ConnID("conn-" + name),
		Username: name,
	}
}

func TestRegistry_CreateRoom(t *testing.T) {
	r := NewRegistry()
	id := r.CreateRoom(seat("alice"))
	require.NotEmpty(t, id)

	snap, ok := r.Room(id)
	require.True(t, ok)
	assert.Equal(t, id, snap.RoomID)
	assert.Equal(t, []Player{{ID: "conn-alice", Username: "alice", Connected: true}}, snap.Players)

	room, ok := r.RoomOf("tok-alice")
	require.True(t, ok)
	assert.Equal(t, id, room)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_CreateRoomRetriesCollisions(t *testing.T) {
	ids := []RoomID{"a", "a", "a", "b"}
	gen := func() RoomID {
		id := ids[0]
		ids = ids[1:]
		return id
	}
	r := NewRegistry(WithIDGenerator(gen))

	assert.Equal(t, RoomID("a"), r.CreateRoom(seat("alice")))
	assert.Equal(t, RoomID("b"), r.CreateRoom(seat("bob")))
}

func TestRegistry_CreateRoomIDsAreUnique(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		style := rapid.SampledFrom([]string{"uuid", "words"}).Draw(t, "style")
		gen, err := NewIDGenerator(style)
		require.NoError(t, err)

		r := NewRegistry(WithIDGenerator(gen))
		n := rapid.IntRange(1, 200).Draw(t, "rooms")
		seen := make(map[RoomID]bool, n)
		for i := 0; i < n; i++ {
			id := r.CreateRoom(seat(fmt.Sprintf("p%d", i)))
			if seen[id] {
				t.Fatalf("duplicate room id %q", id)
			}
			seen[id] = true
		}
		assert.Equal(t, n, r.Len())
	})
}

func TestRegistry_JoinRoom(t *testing.T) {
	r := NewRegistry()
	id := r.CreateRoom(seat("alice"))

	snap, err := r.JoinRoom(id, seat("bob"))
	require.NoError(t, err)
	assert.Equal(t, id, snap.RoomID)
	require.Len(t, snap.Players, 2)
	assert.Equal(t, "alice", snap.Players[0].Username)
	assert.Equal(t, "bob", snap.Players[1].Username)
}

func TestRegistry_JoinRoomNotFound(t *testing.T) {
	r := NewRegistry()
	_, err := r.JoinRoom("nonexistent", seat("bob"))

	var joinErr *JoinError
	require.True(t, errors.As(err, &joinErr))
	assert.Equal(t, JoinErrorNotFound, joinErr.Kind)
	assert.Equal(t, "Room does not exist", err.Error())
}

func TestRegistry_JoinRoomFull(t *testing.T) {
	r := NewRegistry()
	id := r.CreateRoom(seat("alice"))
	_, err := r.JoinRoom(id, seat("bob"))
	require.NoError(t, err)

	_, err = r.JoinRoom(id, seat("carol"))
	assert.ErrorIs(t, err, &JoinError{Kind: JoinErrorFull})
	assert.Equal(t, "Room is full", err.Error())

	snap, _ := r.Room(id)
	assert.Len(t, snap.Players, 2)
	_, seated := r.RoomOf("tok-carol")
	assert.False(t, seated)
}

func TestRegistry_JoinRoomEmpty(t *testing.T) {
	r := NewRegistry(WithEmptyTTL(time.Minute))
	id := r.CreateRoom(seat("alice"))
	_, ok := r.Leave("tok-alice")
	require.True(t, ok)

	_, err := r.JoinRoom(id, seat("bob"))
	assert.ErrorIs(t, err, &JoinError{Kind: JoinErrorEmpty})
	assert.Equal(t, "Room is empty", err.Error())
}

func TestRegistry_JoinRoomTwiceIsIdempotent(t *testing.T) {
	r := NewRegistry()
	id := r.CreateRoom(seat("alice"))

	first, err := r.JoinRoom(id, seat("alice"))
	require.NoError(t, err)
	assert.Len(t, first.Players, 1)
}

func TestRegistry_JoinRoomMovesJoinerOutOfOldRoom(t *testing.T) {
	r := NewRegistry()
	old := r.CreateRoom(seat("alice"))
	_, err := r.JoinRoom(old, seat("bob"))
	require.NoError(t, err)
	other := r.CreateRoom(seat("carol"))

	snap, previous, err := r.joinRoom(other, seat("bob"))
	require.NoError(t, err)
	require.NotNil(t, previous)
	assert.Equal(t, old, previous.Room)
	assert.Len(t, previous.Remaining.Players, 1)
	assert.Len(t, snap.Players, 2)

	oldSnap, _ := r.Room(old)
	assert.Equal(t, "alice", oldSnap.Players[0].Username)
	assert.Len(t, oldSnap.Players, 1)
}

func TestRegistry_LeaveDeletesEmptyRoom(t *testing.T) {
	r := NewRegistry()
	id := r.CreateRoom(seat("alice"))
	_, err := r.JoinRoom(id, seat("bob"))
	require.NoError(t, err)

	dep, ok := r.Leave("tok-alice")
	require.True(t, ok)
	assert.Equal(t, DepartureLeft, dep.Reason)
	assert.Equal(t, ConnID("conn-alice"), dep.Conn)
	require.Len(t, dep.Remaining.Players, 1)
	assert.Equal(t, "bob", dep.Remaining.Players[0].Username)

	_, ok = r.Leave("tok-bob")
	require.True(t, ok)
	_, exists := r.Room(id)
	assert.False(t, exists)
	assert.Equal(t, 0, r.Len())

	_, ok = r.Leave("tok-bob")
	assert.False(t, ok)
}

func TestRegistry_DisconnectWithoutGraceLeaves(t *testing.T) {
	r := NewRegistry()
	id := r.CreateRoom(seat("alice"))
	_, err := r.JoinRoom(id, seat("bob"))
	require.NoError(t, err)

	dep, ok := r.Disconnect("tok-alice", "conn-alice")
	require.True(t, ok)
	assert.Equal(t, DepartureLeft, dep.Reason)

	snap, _ := r.Room(id)
	assert.Len(t, snap.Players, 1)
}

func TestRegistry_DisconnectIgnoresStaleConn(t *testing.T) {
	r := NewRegistry(WithReconnectGrace(time.Minute))
	r.CreateRoom(seat("alice"))
	_, _, ok := r.Reattach("tok-alice", "conn-new")
	require.True(t, ok)

	_, ok = r.Disconnect("tok-alice", "conn-alice")
	assert.False(t, ok)
}

func TestRegistry_DetachAndReattach(t *testing.T) {
	clock := newTestClock()
	r := NewRegistry(WithClock(clock.Now), WithReconnectGrace(time.Minute))
	id := r.CreateRoom(seat("alice"))
	_, err := r.JoinRoom(id, seat("bob"))
	require.NoError(t, err)

	dep, ok := r.Disconnect("tok-alice", "conn-alice")
	require.True(t, ok)
	assert.Equal(t, DepartureDetached, dep.Reason)
	assert.False(t, dep.Remaining.Players[0].Connected)
	assert.Equal(t, []ConnID{"conn-bob"}, dep.Remaining.Recipients(""))

	_, err = r.routeMove(id, "conn-bob", json.RawMessage(`"e7e5"`), false)
	require.NoError(t, err)
	_, err = r.routeMove(id, "conn-bob", json.RawMessage(`"d7d5"`), false)
	require.NoError(t, err)

	snap, backlog, ok := r.Reattach("tok-alice", "conn-alice2")
	require.True(t, ok)
	assert.Equal(t, ConnID("conn-alice2"), snap.Players[0].ID)
	assert.True(t, snap.Players[0].Connected)
	assert.Equal(t, []json.RawMessage{json.RawMessage(`"e7e5"`), json.RawMessage(`"d7d5"`)}, backlog)

	_, backlog, _ = r.Reattach("tok-alice", "conn-alice2")
	assert.Empty(t, backlog)
}

func TestRegistry_BacklogLimit(t *testing.T) {
	r := NewRegistry(WithReconnectGrace(time.Minute), WithBacklogLimit(2))
	id := r.CreateRoom(seat("alice"))
	_, err := r.JoinRoom(id, seat("bob"))
	require.NoError(t, err)
	_, ok := r.Disconnect("tok-alice", "conn-alice")
	require.True(t, ok)

	for _, move := range []string{`"e7e5"`, `"d7d5"`} {
		_, err = r.routeMove(id, "conn-bob", json.RawMessage(move), false)
		require.NoError(t, err)
	}

	_, err = r.routeMove(id, "conn-bob", json.RawMessage(`"c7c5"`), false)
	var relayErr *RelayError
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, RelayBacklogFull, relayErr.Reason)

	_, backlog, ok := r.Reattach("tok-alice", "conn-alice2")
	require.True(t, ok)
	assert.Len(t, backlog, 2)

	// Once reattached the cap no longer applies.
	_, err = r.routeMove(id, "conn-bob", json.RawMessage(`"c7c5"`), false)
	assert.NoError(t, err)
}

func TestRegistry_BacklogUnlimited(t *testing.T) {
	r := NewRegistry(WithReconnectGrace(time.Minute), WithBacklogLimit(0))
	id := r.CreateRoom(seat("alice"))
	_, err := r.JoinRoom(id, seat("bob"))
	require.NoError(t, err)
	_, ok := r.Disconnect("tok-alice", "conn-alice")
	require.True(t, ok)

	for i := 0; i < DefaultBacklogLimit+10; i++ {
		_, err = r.routeMove(id, "conn-bob", json.RawMessage(`"e7e5"`), false)
		require.NoError(t, err)
	}
	_, backlog, _ := r.Reattach("tok-alice", "conn-alice2")
	assert.Len(t, backlog, DefaultBacklogLimit+10)
}

func TestRegistry_SweepExpiresDetachedSeats(t *testing.T) {
	clock := newTestClock()
	r := NewRegistry(WithClock(clock.Now), WithReconnectGrace(time.Minute))
	id := r.CreateRoom(seat("alice"))
	_, err := r.JoinRoom(id, seat("bob"))
	require.NoError(t, err)
	_, ok := r.Disconnect("tok-alice", "conn-alice")
	require.True(t, ok)

	clock.Advance(30 * time.Second)
	assert.Empty(t, r.Sweep(clock.Now()))

	clock.Advance(30 * time.Second)
	deps := r.Sweep(clock.Now())
	require.Len(t, deps, 1)
	assert.Equal(t, DepartureExpired, deps[0].Reason)
	assert.Equal(t, SessionToken("tok-alice"), deps[0].Token)
	require.Len(t, deps[0].Remaining.Players, 1)
	assert.Equal(t, "bob", deps[0].Remaining.Players[0].Username)

	_, seated := r.RoomOf("tok-alice")
	assert.False(t, seated)
}

func TestRegistry_SweepDeletesExpiredEmptyRooms(t *testing.T) {
	clock := newTestClock()
	r := NewRegistry(WithClock(clock.Now), WithEmptyTTL(time.Minute))
	id := r.CreateRoom(seat("alice"))
	_, ok := r.Leave("tok-alice")
	require.True(t, ok)

	r.Sweep(clock.Now())
	_, exists := r.Room(id)
	assert.True(t, exists)

	clock.Advance(time.Minute)
	r.Sweep(clock.Now())
	_, exists = r.Room(id)
	assert.False(t, exists)
}

func TestRegistry_SweepClosesIdleRooms(t *testing.T) {
	clock := newTestClock()
	r := NewRegistry(WithClock(clock.Now), WithIdleTTL(10*time.Minute))
	id := r.CreateRoom(seat("alice"))
	_, err := r.JoinRoom(id, seat("bob"))
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	_, err = r.routeMove(id, "conn-alice", json.RawMessage(`1`), false)
	require.NoError(t, err)

	clock.Advance(9 * time.Minute)
	assert.Empty(t, r.Sweep(clock.Now()))

	clock.Advance(time.Minute)
	deps := r.Sweep(clock.Now())
	require.Len(t, deps, 2)
	for _, dep := range deps {
		assert.Equal(t, DepartureClosed, dep.Reason)
	}
	assert.Equal(t, 0, r.Len())
}

// TestRegistry_Invariants drives random operations and checks that no room
// ever exceeds capacity or seats a token twice, and that the seat index
// agrees with room membership.
func TestRegistry_Invariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewRegistry(WithEmptyTTL(time.Duration(rapid.IntRange(0, 1).Draw(t, "retain"))))
		players := []string{"a", "b", "c", "d", "e"}
		var created []RoomID

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			p := seat(rapid.SampledFrom(players).Draw(t, "player"))
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				created = append(created, r.CreateRoom(p))
			case 1:
				id := RoomID("bogus")
				if len(created) > 0 && rapid.Bool().Draw(t, "known") {
					id = rapid.SampledFrom(created).Draw(t, "room")
				}
				before, existed := r.Room(id)
				_, err := r.JoinRoom(id, p)
				if !existed {
					require.ErrorIs(t, err, &JoinError{Kind: JoinErrorNotFound})
				}
				if existed && len(before.Players) == RoomCapacity && !hasToken(r, id, p.Token) {
					require.ErrorIs(t, err, &JoinError{Kind: JoinErrorFull})
				}
			case 2:
				r.Leave(p.Token)
			}
			checkInvariants(t, r)
		}
	})
}

func hasToken(r *Registry, id RoomID, token SessionToken) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.seats[token] == id
}

func checkInvariants(t *rapid.T, r *Registry) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	seated := 0
	for id, room := range r.rooms {
		if len(room.occupants) > RoomCapacity {
			t.Fatalf("room %q has %d occupants", id, len(room.occupants))
		}
		tokens := make(map[SessionToken]bool)
		for _, o := range room.occupants {
			if tokens[o.Token] {
				t.Fatalf("room %q seats %q twice", id, o.Token)
			}
			tokens[o.Token] = true
			if r.seats[o.Token] != id {
				t.Fatalf("seat index has %q in %q, room %q holds it", o.Token, r.seats[o.Token], id)
			}
			seated++
		}
	}
	if seated != len(r.seats) {
		t.Fatalf("seat index has %d entries, rooms hold %d occupants", len(r.seats), seated)
	}
}
