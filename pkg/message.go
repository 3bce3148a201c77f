package pkg

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope is the JSON frame exchanged over the socket in both directions.
// A client sets Ack to a non-zero id when it wants a direct reply; the
// server answers with an EventTypeAck envelope carrying the same id.
type Envelope struct {
	Event EventType       `json:"event"`
	Ack   uint64          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type UsernameRequest struct {
	Username string `json:"username"`
}

type JoinRoomRequest struct {
	RoomID RoomID `json:"roomId"`
}

// MoveRequest carries an opaque move. Move is forwarded byte for byte.
type MoveRequest struct {
	Room RoomID          `json:"room"`
	Move json.RawMessage `json:"move"`
}

type ResumeRequest struct {
	Token SessionToken `json:"token"`
}

type SessionInfo struct {
	Token    SessionToken `json:"token"`
	Username string       `json:"username"`
}

// ResumeReply answers a resume request. Room is nil when the session holds
// no seat.
type ResumeReply struct {
	Token    SessionToken  `json:"token"`
	Username string        `json:"username"`
	Room     *RoomSnapshot `json:"room,omitempty"`
}

// RoomNotice names the room a roomLeft or roomClosed event refers to.
type RoomNotice struct {
	RoomID RoomID `json:"roomId"`
}

// ErrorReply is sent to the requester only, never broadcast.
type ErrorReply struct {
	Error   bool   `json:"error"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func decodeEnvelope(message []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: missing event", ErrBadRequest)
	}
	return &env, nil
}

func newEnvelope(event EventType, data any) (*Envelope, error) {
	env := &Envelope{Event: event}
	if data == nil {
		return env, nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		env.Data = raw
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	env.Data = raw
	return env, nil
}

func (e *Envelope) decodeData(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: %s requires data", ErrBadRequest, e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadRequest, e.Event, err)
	}
	return nil
}

// decodeUsername accepts either {"username": "..."} or a bare JSON string.
func (e *Envelope) decodeUsername() (string, error) {
	if data := bytes.TrimSpace(e.Data); len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrBadRequest, e.Event, err)
		}
		return name, nil
	}
	var req UsernameRequest
	if err := e.decodeData(&req); err != nil {
		return "", err
	}
	return req.Username, nil
}
