package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned for payloads that are not valid JSON objects,
	// carry no discriminator, or are missing a required field.
	ErrMalformed = errors.New("malformed message")
	// ErrUnrecognized is returned for a well-formed message whose type is not
	// part of the message set. Callers log and discard it.
	ErrUnrecognized = errors.New("unrecognized message")
)

type validator interface {
	validate() error
}

// Encode serialises m with its discriminator as the first key.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil message", ErrMalformed)
	}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.MessageType(), err)
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("%w: %T does not encode to an object", ErrMalformed, m)
	}
	typ, err := json.Marshal(string(m.MessageType()))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + len(typ) + 9)
	buf.WriteString(`{"type":`)
	buf.Write(typ)
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// PeekType returns the discriminator of data without decoding the body.
func PeekType(data []byte) (Type, error) {
	var envelope struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if envelope.Type == "" {
		return "", fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return envelope.Type, nil
}

// Decode parses data into its typed message. Unknown fields are ignored.
func Decode(data []byte) (Message, error) {
	typ, err := PeekType(data)
	if err != nil {
		return nil, err
	}
	factory, ok := factories[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnrecognized, typ)
	}

	m := factory()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, typ, err)
	}
	if v, ok := m.(validator); ok {
		if err := v.validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, typ, err)
		}
	}
	return m, nil
}

func required(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

func (m *Subscribe) validate() error        { return required("streamerId", m.StreamerID) }
func (m *Offer) validate() error            { return required("sdp", m.SDP) }
func (m *Answer) validate() error           { return required("sdp", m.SDP) }
func (m *DisconnectPlayer) validate() error { return required("playerId", m.PlayerID) }
func (m *PlayerConnected) validate() error  { return required("playerId", m.PlayerID) }
func (m *PeerDataChannels) validate() error { return required("playerId", m.PlayerID) }
