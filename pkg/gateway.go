package pkg

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Peer is the gateway's handle on one transport connection.
type Peer interface {
	ID() ConnID
	// Send queues env without blocking.
	Send(env *Envelope) error
	Close()
}

// peerSet is the Outbox over connected peers. Callers hold the gateway
// lock.
type peerSet map[ConnID]Peer

func (p peerSet) Send(to ConnID, env *Envelope) {
	peer, ok := p[to]
	if !ok {
		return
	}
	if err := peer.Send(env); err != nil {
		log.WithFields(log.Fields{
			"conn":  to,
			"event": env.Event,
		}).Warn("Dropping slow or closed peer: ", err)
		peer.Close()
	}
}

// Gateway binds connection events to the registry and the relay. Every
// event runs to completion under one lock, and outbound envelopes are
// queued before the lock is released, so peers see a room's events in the
// order they were accepted.
type Gateway struct {
	lock      sync.Mutex
	registry  *Registry
	directory *Directory
	relay     *Relay
	peers     peerSet
}

func NewGateway(registry *Registry, directory *Directory, enforceTurns bool) *Gateway {
	peers := make(peerSet)
	return &Gateway{
		registry:  registry,
		directory: directory,
		relay:     NewRelay(registry, peers, enforceTurns),
		peers:     peers,
	}
}

func (g *Gateway) Connect(peer Peer) {
	g.lock.Lock()
	defer g.lock.Unlock()

	g.peers[peer.ID()] = peer
	g.directory.Connect(peer.ID())
	RelaySessionsGauge.Inc()
}

// Disconnect releases the connection's seat. Peers are told the opponent
// disconnected while the seat is held for reconnection, or that it left.
func (g *Gateway) Disconnect(conn ConnID) {
	g.lock.Lock()
	defer g.lock.Unlock()

	if _, ok := g.peers[conn]; !ok {
		return
	}
	delete(g.peers, conn)
	RelaySessionsGauge.Dec()

	ident, ok := g.directory.Disconnect(conn)
	if !ok || ident.Token == "" {
		return
	}

	dep, ok := g.registry.Disconnect(ident.Token, conn)
	if !ok {
		g.directory.Forget(ident.Token)
		return
	}

	fields := log.Fields{"conn": conn, "room": dep.Room}
	if dep.Reason == DepartureDetached {
		log.WithFields(fields).Info("Occupant disconnected, holding seat")
		g.broadcast(dep.Remaining.Recipients(conn), EventTypeOpponentDisconnected, dep.Remaining)
		return
	}

	log.WithFields(fields).Info("Occupant disconnected, seat released")
	g.directory.Forget(ident.Token)
	g.broadcast(dep.Remaining.Recipients(conn), EventTypeOpponentLeft, dep.Remaining)
}

// Handle processes one inbound frame from conn.
func (g *Gateway) Handle(conn ConnID, message []byte) {
	env, err := decodeEnvelope(message)
	if err != nil {
		log.WithField("conn", conn).Warn("Failed to decode message: ", err)
		return
	}

	g.lock.Lock()
	defer g.lock.Unlock()

	if _, ok := g.peers[conn]; !ok {
		return
	}
	RelayEventsCounter.WithLabelValues(string(env.Event)).Inc()

	switch env.Event {
	case EventTypeUsername:
		err = g.handleUsername(conn, env)
	case EventTypeCreateRoom:
		err = g.handleCreateRoom(conn, env)
	case EventTypeJoinRoom:
		err = g.handleJoinRoom(conn, env)
	case EventTypeMove:
		err = g.handleMove(conn, env)
	case EventTypeLeaveRoom:
		err = g.handleLeaveRoom(conn, env)
	case EventTypeResume:
		err = g.handleResume(conn, env)
	default:
		err = fmt.Errorf("%w: unknown event %q", ErrBadRequest, env.Event)
	}

	if err != nil {
		log.WithFields(log.Fields{
			"conn":  conn,
			"event": env.Event,
		}).Info("Request failed: ", err)
		g.reply(conn, env, EventTypeError, errorReply(err))
	}
}

func (g *Gateway) handleUsername(conn ConnID, env *Envelope) error {
	name, err := env.decodeUsername()
	if err != nil {
		return err
	}
	ident, err := g.directory.SetUsername(conn, name)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"conn":     conn,
		"username": name,
	}).Debug("Username set")

	info := SessionInfo{Token: ident.Token, Username: ident.Username}
	if env.Ack != 0 {
		g.ack(conn, env.Ack, info)
		return nil
	}
	g.emit(conn, EventTypeSession, info)
	return nil
}

func (g *Gateway) handleCreateRoom(conn ConnID, env *Envelope) error {
	ident, err := g.directory.Token(conn)
	if err != nil {
		return err
	}
	g.leave(ident.Token)

	id := g.registry.CreateRoom(Seat{
		Token:    ident.Token,
		Conn:     conn,
		Username: ident.Username,
	})

	log.WithFields(log.Fields{
		"conn": conn,
		"room": id,
	}).Info("Room created")

	g.reply(conn, env, EventTypeRoomCreated, id)
	return nil
}

func (g *Gateway) handleJoinRoom(conn ConnID, env *Envelope) error {
	var req JoinRoomRequest
	if err := env.decodeData(&req); err != nil {
		return err
	}
	ident, err := g.directory.Token(conn)
	if err != nil {
		return err
	}

	if current, ok := g.registry.RoomOf(ident.Token); ok && current == req.RoomID {
		snapshot, _ := g.registry.Room(current)
		g.reply(conn, env, EventTypeRoomJoined, snapshot)
		return nil
	}

	seat := Seat{Token: ident.Token, Conn: conn, Username: ident.Username}
	snapshot, previous, err := g.registry.joinRoom(req.RoomID, seat)
	if err != nil {
		var joinErr *JoinError
		if errors.As(err, &joinErr) {
			RelayJoinFailuresCounter.WithLabelValues(string(joinErr.Kind)).Inc()
		}
		return err
	}
	if previous != nil {
		g.broadcast(previous.Remaining.Recipients(conn), EventTypeOpponentLeft, previous.Remaining)
	}

	log.WithFields(log.Fields{
		"conn": conn,
		"room": req.RoomID,
	}).Info("Room joined")

	g.reply(conn, env, EventTypeRoomJoined, snapshot)
	g.broadcast(snapshot.Recipients(conn), EventTypeOpponentJoined, snapshot)
	return nil
}

func (g *Gateway) handleMove(conn ConnID, env *Envelope) error {
	var req MoveRequest
	if err := env.decodeData(&req); err != nil {
		return err
	}
	if err := g.relay.RelayMove(req.Room, conn, req.Move); err != nil {
		return err
	}
	if env.Ack != 0 {
		g.ack(conn, env.Ack, true)
	}
	return nil
}

func (g *Gateway) handleLeaveRoom(conn ConnID, env *Envelope) error {
	ident, ok := g.directory.Lookup(conn)
	if !ok || ident.Token == "" {
		return ErrNotInRoom
	}
	dep, ok := g.leave(ident.Token)
	if !ok {
		return ErrNotInRoom
	}
	g.reply(conn, env, EventTypeRoomLeft, RoomNotice{RoomID: dep.Room})
	return nil
}

func (g *Gateway) handleResume(conn ConnID, env *Envelope) error {
	var req ResumeRequest
	if err := env.decodeData(&req); err != nil {
		return err
	}

	if !g.directory.Known(req.Token) {
		return ErrUnknownSession
	}
	cur, _ := g.directory.Lookup(conn)
	if cur.Token != "" && cur.Token != req.Token {
		g.leave(cur.Token)
	}
	// A connection resuming the token it already presents still holds its
	// seat, so peers are not told anything.
	resumingSelf := cur.Token == req.Token

	ident, displaced, err := g.directory.Resume(conn, req.Token)
	if err != nil {
		return err
	}
	if peer, ok := g.peers[displaced]; ok {
		log.WithField("conn", displaced).Info("Session taken over by a new connection")
		peer.Close()
	}

	reply := ResumeReply{Token: ident.Token, Username: ident.Username}
	snapshot, backlog, seated := g.registry.Reattach(ident.Token, conn)
	if seated {
		reply.Room = &snapshot
	}

	log.WithFields(log.Fields{
		"conn":   conn,
		"seated": seated,
	}).Info("Session resumed")

	g.reply(conn, env, EventTypeResumed, reply)
	if !seated || resumingSelf {
		return nil
	}

	g.broadcast(snapshot.Recipients(conn), EventTypeOpponentReconnected, snapshot)
	for _, move := range backlog {
		g.peers.Send(conn, &Envelope{Event: EventTypeMove, Data: move})
	}
	return nil
}

// Sweep applies the registry's expiry rules and notifies the affected
// peers.
func (g *Gateway) Sweep(now time.Time) {
	g.lock.Lock()
	defer g.lock.Unlock()

	for _, dep := range g.registry.Sweep(now) {
		fields := log.Fields{"room": dep.Room, "conn": dep.Conn}
		switch dep.Reason {
		case DepartureExpired:
			log.WithFields(fields).Info("Reconnect grace expired, seat released")
			g.broadcast(dep.Remaining.Recipients(dep.Conn), EventTypeOpponentLeft, dep.Remaining)
		case DepartureClosed:
			log.WithFields(fields).Info("Idle room closed")
			g.emit(dep.Conn, EventTypeRoomClosed, RoomNotice{RoomID: dep.Room})
		}
		g.directory.Forget(dep.Token)
	}
}

// CloseAll closes every connected peer.
func (g *Gateway) CloseAll() {
	g.lock.Lock()
	defer g.lock.Unlock()

	for _, peer := range g.peers {
		peer.Close()
	}
}

// RunJanitor sweeps every interval until ctx is done.
func (g *Gateway) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Sweep(g.registry.now())
		}
	}
}

// leave vacates the token's seat and tells the rest of the room.
func (g *Gateway) leave(token SessionToken) (Departure, bool) {
	dep, ok := g.registry.Leave(token)
	if !ok {
		return Departure{}, false
	}
	log.WithFields(log.Fields{
		"conn": dep.Conn,
		"room": dep.Room,
	}).Info("Room left")
	g.broadcast(dep.Remaining.Recipients(dep.Conn), EventTypeOpponentLeft, dep.Remaining)
	return dep, true
}

// reply answers through the ack channel when the request carried an ack
// id, and otherwise pushes event to the requester.
func (g *Gateway) reply(conn ConnID, req *Envelope, event EventType, data any) {
	if req.Ack != 0 {
		g.ack(conn, req.Ack, data)
		return
	}
	g.emit(conn, event, data)
}

func (g *Gateway) ack(conn ConnID, id uint64, data any) {
	env, err := newEnvelope(EventTypeAck, data)
	if err != nil {
		log.Error("Failed to encode ack: ", err)
		return
	}
	env.Ack = id
	g.peers.Send(conn, env)
}

func (g *Gateway) emit(conn ConnID, event EventType, data any) {
	g.broadcast([]ConnID{conn}, event, data)
}

func (g *Gateway) broadcast(to []ConnID, event EventType, data any) {
	if len(to) == 0 {
		return
	}
	env, err := newEnvelope(event, data)
	if err != nil {
		log.Error("Failed to encode event: ", err)
		return
	}
	for _, conn := range to {
		g.peers.Send(conn, env)
	}
}
