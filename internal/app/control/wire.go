// Package control implements C8: the control-plane server exposed over
// a local Unix socket, and the client helpers horustctl uses to talk to
// it (spec.md §4.8). The wire format is a 4-byte big-endian length
// prefix followed by a JSON-encoded Envelope; JSON stands in for the
// literal binary sum-type encoding spec.md §6 describes, the same way
// the teacher's own log-streaming protocol frames newline-delimited
// JSON over its socket rather than a hand-rolled binary tag (DESIGN.md).
package control

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"horust/internal/app/bus"
	"horust/internal/app/errors"
)

// MessageKind tags an Envelope's payload (spec.md §6's Request/Response
// sum types, flattened into one envelope the way bus.Event flattens
// its own tagged union).
type MessageKind string

const (
	KindStatusRequest  MessageKind = "status_request"
	KindChangeRequest  MessageKind = "change_request"
	KindStatusResponse MessageKind = "status_response"
	KindError          MessageKind = "error"
)

// Envelope is the single wire message shape. Only the fields relevant
// to Kind are populated.
type Envelope struct {
	Kind      MessageKind `json:"kind"`
	Name      string      `json:"name,omitempty"`
	Status    bus.Status  `json:"status,omitempty"`
	NewStatus bus.Status  `json:"new_status,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// StatusRequestMessage builds a StatusRequest envelope.
func StatusRequestMessage(name string) Envelope {
	return Envelope{Kind: KindStatusRequest, Name: name}
}

// ChangeRequestMessage builds a ChangeRequest envelope.
func ChangeRequestMessage(name string, newStatus bus.Status) Envelope {
	return Envelope{Kind: KindChangeRequest, Name: name, NewStatus: newStatus}
}

// StatusResponseMessage builds a StatusResponse envelope.
func StatusResponseMessage(name string, status bus.Status) Envelope {
	return Envelope{Kind: KindStatusResponse, Name: name, Status: status}
}

// ErrorMessage builds an Error envelope.
func ErrorMessage(msg string) Envelope {
	return Envelope{Kind: KindError, Error: msg}
}

const maxMessageSize = 1 << 20

// WriteMessage frames env as a 4-byte big-endian length prefix
// followed by its JSON encoding.
func WriteMessage(w io.Writer, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: %w", errors.ErrFailedToEncodeMessage, err)
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrFailedToWriteSocket, err)
	}

	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrFailedToWriteSocket, err)
	}

	return nil
}

// ReadMessage reads one length-prefixed JSON envelope from r.
func ReadMessage(r io.Reader) (Envelope, error) {
	var header [4]byte

	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", errors.ErrFailedToReadSocket, err)
	}

	size := binary.BigEndian.Uint32(header[:])
	if size == 0 || size > maxMessageSize {
		return Envelope{}, fmt.Errorf("%w: message size %d out of bounds", errors.ErrMalformedMessage, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", errors.ErrFailedToReadSocket, err)
	}

	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", errors.ErrMalformedMessage, err)
	}

	return env, nil
}
