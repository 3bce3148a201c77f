package pkg

import (
	"encoding/json"
	"errors"
)

// Outbox delivers envelopes to connections. Unknown connections are
// skipped.
type Outbox interface {
	Send(to ConnID, env *Envelope)
}

// Relay forwards opaque move payloads between the occupants of a room.
// Legality is never checked here; each client runs its own rules engine.
type Relay struct {
	registry     *Registry
	outbox       Outbox
	enforceTurns bool
}

func NewRelay(registry *Registry, outbox Outbox, enforceTurns bool) *Relay {
	return &Relay{
		registry:     registry,
		outbox:       outbox,
		enforceTurns: enforceTurns,
	}
}

// RelayMove delivers payload unchanged to every occupant of the room other
// than sender. It returns a *RelayError when nothing could be relayed.
func (r *Relay) RelayMove(room RoomID, sender ConnID, payload json.RawMessage) error {
	recipients, err := r.registry.routeMove(room, sender, payload, r.enforceTurns)
	if err != nil {
		var relayErr *RelayError
		if errors.As(err, &relayErr) {
			RelayFailuresCounter.WithLabelValues(string(relayErr.Reason)).Inc()
		}
		return err
	}

	env := &Envelope{Event: EventTypeMove, Data: payload}
	for _, to := range recipients {
		r.outbox.Send(to, env)
	}
	RelayMovesCounter.Inc()
	return nil
}
