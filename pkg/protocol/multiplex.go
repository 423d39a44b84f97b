package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

// Frame kinds. These are fixed by the streamer plugin and never negotiated.
const (
	KindMultiplexed byte = 0xC7
	KindRelayStatus byte = 0xC6
)

const (
	frameHeaderSize   = 3
	maxPlayerIDLength = 0xFFFF
)

var (
	ErrFrameTooShort     = errors.New("multiplex frame too short")
	ErrUnknownFrameKind  = errors.New("unknown multiplex frame kind")
	ErrPlayerIDLength    = errors.New("invalid player id length")
	ErrRelayStatusLength = errors.New("relay status frame must carry exactly one status byte")
	ErrRelayStatusValue  = errors.New("relay status byte must be 0 or 1")
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// Frame is a decoded multiplex frame. Payload aliases the decoded buffer.
type Frame struct {
	Kind     byte
	PlayerID string
	Payload  []byte
	Attached bool
}

// MultiplexHeader returns the kind byte, length and UTF-16LE player id that
// prefix a multiplexed data frame.
func MultiplexHeader(playerID string) ([]byte, error) {
	return header(KindMultiplexed, playerID, 0)
}

// EncodeMultiplexed wraps payload in a data frame addressed to playerID.
func EncodeMultiplexed(playerID string, payload []byte) ([]byte, error) {
	buf, err := header(KindMultiplexed, playerID, len(payload))
	if err != nil {
		return nil, err
	}
	return append(buf, payload...), nil
}

// EncodeRelayStatus builds the frame telling the streamer a player's data
// channel was attached or detached.
func EncodeRelayStatus(playerID string, attached bool) ([]byte, error) {
	buf, err := header(KindRelayStatus, playerID, 1)
	if err != nil {
		return nil, err
	}
	var status byte
	if attached {
		status = 1
	}
	return append(buf, status), nil
}

func header(kind byte, playerID string, extra int) ([]byte, error) {
	id, err := utf16le.NewEncoder().Bytes([]byte(playerID))
	if err != nil {
		return nil, fmt.Errorf("encode player id: %w", err)
	}
	if len(id) > maxPlayerIDLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrPlayerIDLength, len(id))
	}

	buf := make([]byte, frameHeaderSize, frameHeaderSize+len(id)+extra)
	buf[0] = kind
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(id)))
	return append(buf, id...), nil
}

// DecodeFrame parses a multiplex frame of either kind.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) < frameHeaderSize {
		return Frame{}, ErrFrameTooShort
	}
	kind := b[0]
	if kind != KindMultiplexed && kind != KindRelayStatus {
		return Frame{}, fmt.Errorf("%w: 0x%02X", ErrUnknownFrameKind, kind)
	}

	idLen := int(binary.LittleEndian.Uint16(b[1:3]))
	if idLen%2 != 0 {
		return Frame{}, fmt.Errorf("%w: odd length %d", ErrPlayerIDLength, idLen)
	}
	end := frameHeaderSize + idLen
	if end > len(b) {
		return Frame{}, fmt.Errorf("%w: declared %d bytes, %d available", ErrPlayerIDLength, idLen, len(b)-frameHeaderSize)
	}

	id, err := utf16le.NewDecoder().Bytes(b[frameHeaderSize:end])
	if err != nil {
		return Frame{}, fmt.Errorf("decode player id: %w", err)
	}
	frame := Frame{Kind: kind, PlayerID: string(id)}

	if kind == KindMultiplexed {
		frame.Payload = b[end:]
		return frame, nil
	}

	if len(b)-end != 1 {
		return Frame{}, ErrRelayStatusLength
	}
	switch b[end] {
	case 0:
	case 1:
		frame.Attached = true
	default:
		return Frame{}, fmt.Errorf("%w: %d", ErrRelayStatusValue, b[end])
	}
	return frame, nil
}
