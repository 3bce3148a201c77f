package pkg

import (
	"sync"

	"github.com/google/uuid"
)

// ConnID identifies one transport connection for its lifetime.
type ConnID string

// SessionToken outlives connections; a client presents it again to resume
// its seat after reconnecting.
type SessionToken string

func newConnID() ConnID {
	return ConnID(uuid.NewString())
}

func newSessionToken() SessionToken {
	return SessionToken(uuid.NewString())
}

// Identity is what the server knows about the caller behind a connection.
// Token is empty until the caller sets a display name or takes a seat.
type Identity struct {
	Conn     ConnID
	Token    SessionToken
	Username string
}

// Directory maps connections to identities and session tokens back to the
// connection currently presenting them.
type Directory struct {
	lock    sync.RWMutex
	byConn  map[ConnID]*Identity
	byToken map[SessionToken]*Identity
}

func NewDirectory() *Directory {
	return &Directory{
		byConn:  make(map[ConnID]*Identity),
		byToken: make(map[SessionToken]*Identity),
	}
}

// Connect registers a fresh connection with no name and no token.
func (d *Directory) Connect(conn ConnID) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if _, ok := d.byConn[conn]; !ok {
		d.byConn[conn] = &Identity{Conn: conn}
	}
}

func (d *Directory) Lookup(conn ConnID) (Identity, bool) {
	d.lock.RLock()
	defer d.lock.RUnlock()

	ident, ok := d.byConn[conn]
	if !ok {
		return Identity{}, false
	}
	return *ident, true
}

// SetUsername stores the display name, overwriting any earlier one, and
// assigns a session token if the connection has none yet.
func (d *Directory) SetUsername(conn ConnID, username string) (Identity, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	ident, ok := d.byConn[conn]
	if !ok {
		return Identity{}, ErrUnknownConn
	}
	ident.Username = username
	d.ensureToken(ident)
	return *ident, nil
}

// Token returns the connection's identity, assigning a token if needed.
func (d *Directory) Token(conn ConnID) (Identity, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	ident, ok := d.byConn[conn]
	if !ok {
		return Identity{}, ErrUnknownConn
	}
	d.ensureToken(ident)
	return *ident, nil
}

func (d *Directory) ensureToken(ident *Identity) {
	if ident.Token != "" {
		return
	}
	ident.Token = newSessionToken()
	d.byToken[ident.Token] = ident
}

// Known reports whether token can be resumed.
func (d *Directory) Known(token SessionToken) bool {
	d.lock.RLock()
	defer d.lock.RUnlock()

	_, ok := d.byToken[token]
	return ok
}

// Resume binds conn to the identity holding token. The token the
// connection held before, if any, is dropped. When another connection was
// still presenting the token it is returned as displaced and left with a
// blank identity.
func (d *Directory) Resume(conn ConnID, token SessionToken) (ident Identity, displaced ConnID, err error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	cur, ok := d.byConn[conn]
	if !ok {
		return Identity{}, "", ErrUnknownConn
	}
	target, ok := d.byToken[token]
	if !ok {
		return Identity{}, "", ErrUnknownSession
	}
	if cur == target {
		return *target, "", nil
	}

	if cur.Token != "" {
		delete(d.byToken, cur.Token)
	}
	if target.Conn != "" {
		displaced = target.Conn
		d.byConn[displaced] = &Identity{Conn: displaced}
	}

	target.Conn = conn
	d.byConn[conn] = target
	return *target, displaced, nil
}

// Disconnect forgets the connection. The session token, if any, stays
// resumable until Forget is called.
func (d *Directory) Disconnect(conn ConnID) (Identity, bool) {
	d.lock.Lock()
	defer d.lock.Unlock()

	ident, ok := d.byConn[conn]
	if !ok {
		return Identity{}, false
	}
	delete(d.byConn, conn)

	out := *ident
	if ident.Conn == conn {
		ident.Conn = ""
	}
	return out, true
}

// Forget drops a token that no live connection is presenting.
func (d *Directory) Forget(token SessionToken) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if ident, ok := d.byToken[token]; ok && ident.Conn == "" {
		delete(d.byToken, token)
	}
}

// Len reports live connections and retained tokens.
func (d *Directory) Len() (conns, tokens int) {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return len(d.byConn), len(d.byToken)
}
