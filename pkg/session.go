package pkg

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/mtaylor91/chess-relay/pkg/config"
)

var (
	errSessionClosed  = errors.New("session closed")
	errSendBufferFull = errors.New("send buffer full")
)

// Session is one websocket connection. Reads and writes each run on
// their own goroutine; Send never blocks the gateway.
type Session struct {
	gateway *Gateway
	id      ConnID
	conn    *websocket.Conn
	cfg     config.SocketConfig
	send    chan *Envelope

	closeOnce sync.Once
	done      chan struct{}
}

func newSession(gateway *Gateway, conn *websocket.Conn, cfg config.SocketConfig) *Session {
	return &Session{
		gateway: gateway,
		id:      newConnID(),
		conn:    conn,
		cfg:     cfg,
		send:    make(chan *Envelope, cfg.SendBuffer),
		done:    make(chan struct{}),
	}
}

func (s *Session) ID() ConnID { return s.id }

func (s *Session) Send(env *Envelope) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}

	select {
	case s.send <- env:
		return nil
	default:
		return errSendBufferFull
	}
}

// Close stops the write loop, which then closes the socket.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Session) read() {
	defer s.Close()

	s.conn.SetReadLimit(s.cfg.MaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway) {
				log.WithField("conn", s.id).Error("Failed to read message: ", err)
			}
			return
		}

		s.gateway.Handle(s.id, message)
	}
}

func (s *Session) write() {
	ticker := time.NewTicker(s.cfg.PingPeriod())
	defer ticker.Stop()

	for {
		select {
		case env := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := s.conn.WriteJSON(env); err != nil {
				log.WithField("conn", s.id).Error("Failed to write message: ", err)
				s.Close()
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}

		case <-s.done:
			s.flush()
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever was queued before the session closed.
func (s *Session) flush() {
	for {
		select {
		case env := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := s.conn.WriteJSON(env); err != nil {
				return
			}
		default:
			return
		}
	}
}
