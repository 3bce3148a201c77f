package pkg

type EventType string

// Client to server.
const (
	EventTypeUsername   EventType = "username"
	EventTypeCreateRoom EventType = "createRoom"
	EventTypeJoinRoom   EventType = "joinRoom"
	EventTypeMove       EventType = "move"
	EventTypeLeaveRoom  EventType = "leaveRoom"
	EventTypeResume     EventType = "resume"
)

// Server to client. EventTypeMove is used in both directions.
const (
	EventTypeAck                  EventType = "ack"
	EventTypeSession              EventType = "session"
	EventTypeRoomCreated          EventType = "roomCreated"
	EventTypeRoomJoined           EventType = "roomJoined"
	EventTypeRoomLeft             EventType = "roomLeft"
	EventTypeResumed              EventType = "resumed"
	EventTypeError                EventType = "error"
	EventTypeOpponentJoined       EventType = "opponentJoined"
	EventTypeOpponentLeft         EventType = "opponentLeft"
	EventTypeOpponentDisconnected EventType = "opponentDisconnected"
	EventTypeOpponentReconnected  EventType = "opponentReconnected"
	EventTypeRoomClosed           EventType = "roomClosed"
)
