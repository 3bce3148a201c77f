package pkg

import (
	"net/http"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/mtaylor91/chess-relay/pkg/config"
)

// SocketServer upgrades HTTP requests to websocket sessions on a gateway.
type SocketServer struct {
	gateway  *Gateway
	cfg      config.SocketConfig
	upgrader websocket.Upgrader
}

func NewSocketServer(gateway *Gateway, cfg config.SocketConfig) *SocketServer {
	return &SocketServer{
		gateway: gateway,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBuffer,
			WriteBufferSize: cfg.WriteBuffer,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *SocketServer) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
}

func (s *SocketServer) SocketHandler(w http.ResponseWriter, r *http.Request) {
	// Set the response headers
	w.Header().Set("Cache-Control", "no-cache")

	// Upgrade the connection to a websocket connection
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("Failed to upgrade connection: ", err)
		return
	}

	defer conn.Close()

	session := newSession(s.gateway, conn, s.cfg)
	s.gateway.Connect(session)

	defer s.gateway.Disconnect(session.id)

	logFields := log.Fields{
		"conn":   session.id,
		"remote": conn.RemoteAddr().String(),
	}

	log.WithFields(logFields).Info("New session")

	// Start reading messages from the connection
	go session.read()

	// Write messages to the connection
	session.write()

	log.WithFields(logFields).Info("Closed session")
}
