package stairway

import (
	"context"
	"encoding/json"
	"fmt"
)

// QueueTransport is the narrow collaborator the core consumes for the
// cluster work queue (spec.md §4.6/§6). Concrete transports (e.g.
// package queue's MemoryTransport and RedisTransport) are external
// collaborators; the core only depends on this interface.
type QueueTransport interface {
	// Enqueue blocks until msg is durably accepted by the transport.
	Enqueue(ctx context.Context, msg string) error

	// Dispatch pulls up to maxMessages messages and calls process for
	// each. A true return acknowledges the message; false or an error
	// abandons it for redelivery. Dispatch returns an error for
	// transport-level failures (e.g. cannot reach the broker), and when
	// process returns an error Dispatch stops and returns that error.
	Dispatch(ctx context.Context, maxMessages int, process func(ctx context.Context, msg string) (bool, error)) error

	// Purge drains the queue without processing any message.
	Purge(ctx context.Context) error
}

// envelopeVersion is the message-format version tag (spec.md §4.6).
// Unknown versions are logged and dropped rather than rejected, so a
// rolling upgrade can run mixed versions briefly.
const envelopeVersion = 1

// messageType tags the payload carried by an envelope. The only type
// spec.md defines is READY; the tag exists so future message kinds can
// be added without breaking already-deployed consumers (they simply
// drop what they don't recognise).
type messageType string

const messageTypeReady messageType = "READY"

// envelope is the wire format every queue message uses (spec.md §4.6
// "Message format"): a version tag, a type tag, and a type-specific
// payload.
type envelope struct {
	Version int         `json:"version"`
	Type    messageType `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type readyPayload struct {
	FlightID string `json:"flight_id"`
}

// encodeReadyMessage builds the wire form of a READY(flightID)
// message (spec.md §4.6 "The only message type defined: READY(flight_id)").
func encodeReadyMessage(flightID string) (string, error) {
	payload, err := json.Marshal(readyPayload{FlightID: flightID})
	if err != nil {
		return "", fmt.Errorf("stairway: encode READY message: %w", err)
	}
	env := envelope{Version: envelopeVersion, Type: messageTypeReady, Payload: payload}
	b, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("stairway: encode envelope: %w", err)
	}
	return string(b), nil
}

// decodeReadyMessage parses msg's envelope and returns the flight id
// if it is a recognised, current-version READY message. ok is false
// for any other envelope — an unknown type or version is logged and
// dropped by the caller, never an error (spec.md §4.6).
func decodeReadyMessage(msg string) (flightID string, ok bool, err error) {
	var env envelope
	if err := json.Unmarshal([]byte(msg), &env); err != nil {
		return "", false, fmt.Errorf("stairway: malformed queue envelope: %w", err)
	}
	if env.Version != envelopeVersion || env.Type != messageTypeReady {
		return "", false, nil
	}
	var p readyPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return "", false, fmt.Errorf("stairway: malformed READY payload: %w", err)
	}
	return p.FlightID, true, nil
}
