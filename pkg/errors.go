package pkg

import (
	"errors"
	"fmt"
)

var (
	ErrBadRequest     = errors.New("bad request")
	ErrUnknownSession = errors.New("unknown session")
	ErrNotInRoom      = errors.New("not in a room")
	ErrUnknownConn    = errors.New("unknown connection")

	// ErrRelayFailed is wrapped by every *RelayError.
	ErrRelayFailed = errors.New("relay failed")
)

type JoinErrorKind string

const (
	JoinErrorNotFound JoinErrorKind = "not_found"
	JoinErrorEmpty    JoinErrorKind = "empty"
	JoinErrorFull     JoinErrorKind = "full"
)

var joinErrorMessages = map[JoinErrorKind]string{
	JoinErrorNotFound: "Room does not exist",
	JoinErrorEmpty:    "Room is empty",
	JoinErrorFull:     "Room is full",
}

// JoinError is returned by Registry.JoinRoom. It is non-fatal and the
// caller may retry.
type JoinError struct {
	Kind JoinErrorKind
	Room RoomID
}

func (e *JoinError) Error() string {
	return joinErrorMessages[e.Kind]
}

// Is matches another *JoinError of the same kind, so callers can write
// errors.Is(err, &JoinError{Kind: JoinErrorFull}).
func (e *JoinError) Is(target error) bool {
	t, ok := target.(*JoinError)
	return ok && t.Kind == e.Kind
}

type RelayReason string

const (
	RelayRoomNotFound RelayReason = "room_not_found"
	RelayNotOccupant  RelayReason = "not_an_occupant"
	RelayNoPeer       RelayReason = "no_peer"
	RelayOutOfTurn    RelayReason = "out_of_turn"
	RelayBacklogFull  RelayReason = "backlog_full"
)

var relayErrorMessages = map[RelayReason]string{
	RelayRoomNotFound: "Room does not exist",
	RelayNotOccupant:  "Not seated in this room",
	RelayNoPeer:       "Waiting for an opponent",
	RelayOutOfTurn:    "Not your turn",
	RelayBacklogFull:  "Opponent is away and cannot take more moves",
}

// RelayError reports why a move was not relayed.
type RelayError struct {
	Room   RoomID
	Reason RelayReason
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay to room %q failed: %s", e.Room, e.Reason)
}

func (e *RelayError) Unwrap() error {
	return ErrRelayFailed
}

// Message is the text shown to the sender.
func (e *RelayError) Message() string {
	if msg, ok := relayErrorMessages[e.Reason]; ok {
		return msg
	}
	return "Move not relayed"
}

// errorReply maps an error onto the wire shape sent back to a requester.
func errorReply(err error) ErrorReply {
	var joinErr *JoinError
	var relayErr *RelayError

	switch {
	case errors.As(err, &joinErr):
		return ErrorReply{Error: true, Kind: string(joinErr.Kind), Message: joinErr.Error()}
	case errors.As(err, &relayErr):
		return ErrorReply{Error: true, Kind: string(relayErr.Reason), Message: relayErr.Message()}
	case errors.Is(err, ErrUnknownSession):
		return ErrorReply{Error: true, Kind: "unknown_session", Message: "Unknown session"}
	case errors.Is(err, ErrNotInRoom):
		return ErrorReply{Error: true, Kind: "not_in_room", Message: "Not in a room"}
	case errors.Is(err, ErrBadRequest):
		return ErrorReply{Error: true, Kind: "bad_request", Message: err.Error()}
	default:
		return ErrorReply{Error: true, Kind: "internal", Message: "Internal error"}
	}
}
