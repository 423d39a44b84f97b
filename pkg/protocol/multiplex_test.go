package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiplexed_RoundTrip(t *testing.T) {
	frame, err := EncodeMultiplexed("Player3", []byte{1, 2, 3})
	require.NoError(t, err)

	// "Player3" is 7 UTF-16 code units.
	assert.Equal(t, KindMultiplexed, frame[0])
	assert.Equal(t, []byte{14, 0}, frame[1:3])
	assert.Equal(t, []byte{'P', 0, 'l', 0}, frame[3:7])
	assert.Len(t, frame, 3+14+3)

	decoded, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, "Player3", decoded.PlayerID)
	assert.Equal(t, []byte{1, 2, 3}, decoded.Payload)
}

func TestMultiplexHeader_PrefixesPayload(t *testing.T) {
	h, err := MultiplexHeader("P")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xC7, 2, 0, 'P', 0}, h)

	full, err := EncodeMultiplexed("P", []byte{9})
	require.NoError(t, err)
	assert.Equal(t, append(h, 9), full)
}

func TestMultiplexed_NonASCIIPlayerID(t *testing.T) {
	frame, err := EncodeMultiplexed("Игрок😀", []byte("x"))
	require.NoError(t, err)

	decoded, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, "Игрок😀", decoded.PlayerID)
	assert.Equal(t, []byte("x"), decoded.Payload)
}

func TestMultiplexed_EmptyPayload(t *testing.T) {
	frame, err := EncodeMultiplexed("Player0", nil)
	require.NoError(t, err)

	decoded, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Empty(t, decoded.Payload)
}

func TestRelayStatus(t *testing.T) {
	on, err := EncodeRelayStatus("Player3", true)
	require.NoError(t, err)
	assert.Equal(t, KindRelayStatus, on[0])
	assert.Equal(t, byte(1), on[len(on)-1])

	decoded, err := DecodeFrame(on)
	require.NoError(t, err)
	assert.True(t, decoded.Attached)
	assert.Equal(t, "Player3", decoded.PlayerID)

	off, err := EncodeRelayStatus("Player3", false)
	require.NoError(t, err)
	decoded, err = DecodeFrame(off)
	require.NoError(t, err)
	assert.False(t, decoded.Attached)
}

func TestDecodeFrame_Rejects(t *testing.T) {
	status, _ := EncodeRelayStatus("P", true)

	cases := []struct {
		name  string
		frame []byte
		want  error
	}{
		{"empty", nil, ErrFrameTooShort},
		{"short header", []byte{0xC7, 2}, ErrFrameTooShort},
		{"unknown kind", []byte{0x01, 0, 0}, ErrUnknownFrameKind},
		{"odd length", []byte{0xC7, 3, 0, 'P', 0, 0}, ErrPlayerIDLength},
		{"length past end", []byte{0xC7, 10, 0, 'P', 0}, ErrPlayerIDLength},
		{"status missing", status[:len(status)-1], ErrRelayStatusLength},
		{"status trailing bytes", append(append([]byte{}, status...), 0), ErrRelayStatusLength},
		{"status out of range", append(append([]byte{}, status[:len(status)-1]...), 2), ErrRelayStatusValue},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeFrame(tc.frame)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}
