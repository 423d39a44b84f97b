package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_TypeFirst(t *testing.T) {
	data, err := Encode(&Subscribe{StreamerID: "DefaultStreamer"})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"subscribe","streamerId":"DefaultStreamer"}`, string(data))

	data, err = Encode(&Identify{})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"identify"}`, string(data))
}

func TestEncode_StripsEmptyPlayerID(t *testing.T) {
	data, err := Encode(&Offer{SDP: "v=0"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "playerId")
}

func TestDecode_Variants(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Message
	}{
		{"identify", `{"type":"identify"}`, &Identify{}},
		{"endpointId", `{"type":"endpointId","id":"Player7"}`, &EndpointID{ID: "Player7"}},
		{"endpointIdConfirm", `{"type":"endpointIdConfirm","committedId":"A0"}`, &EndpointIDConfirm{CommittedID: "A0"}},
		{"streamerList", `{"type":"streamerList","ids":["a","b"]}`, &StreamerList{IDs: []string{"a", "b"}}},
		{"offer", `{"type":"offer","sdp":"v=0","playerId":"P","scalabilityMode":"L1T3","multiplex":true}`,
			&Offer{SDP: "v=0", PlayerID: "P", ScalabilityMode: "L1T3", Multiplex: true}},
		{"answer", `{"type":"answer","sdp":"v=0"}`, &Answer{SDP: "v=0"}},
		{"playerCount", `{"type":"playerCount","count":4}`, &PlayerCount{Count: 4}},
		{"layerPreference", `{"type":"layerPreference","spatialLayer":1,"temporalLayer":2,"playerId":"P"}`,
			&LayerPreference{SpatialLayer: 1, TemporalLayer: 2, PlayerID: "P"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecode_ICECandidate(t *testing.T) {
	raw := `{"type":"iceCandidate","playerId":"Player0","candidate":{"candidate":"candidate:1 1 udp 1 1.2.3.4 5 typ host","sdpMid":"0","sdpMLineIndex":0}}`
	msg, err := Decode([]byte(raw))
	require.NoError(t, err)

	cand, ok := msg.(*ICECandidate)
	require.True(t, ok)
	assert.Equal(t, "Player0", cand.PlayerID)
	require.NotNil(t, cand.Candidate.SDPMid)
	assert.Equal(t, "0", *cand.Candidate.SDPMid)
	require.NotNil(t, cand.Candidate.SDPMLineIndex)
	assert.Equal(t, uint16(0), *cand.Candidate.SDPMLineIndex)
}

func TestDecode_ConfigKeepsOptionsVerbatim(t *testing.T) {
	raw := `{"type":"config","protocolVersion":"1.0.0","peerConnectionOptions":{"iceServers":[{"urls":["stun:x"]}]}}`
	msg, err := Decode([]byte(raw))
	require.NoError(t, err)

	cfg := msg.(*Config)
	assert.Equal(t, SignallingVersion, cfg.ProtocolVersion)
	assert.JSONEq(t, `{"iceServers":[{"urls":["stun:x"]}]}`, string(cfg.PeerConnectionOptions))
}

func TestDecode_Unrecognized(t *testing.T) {
	_, err := Decode([]byte(`{"type":"somethingNew","x":1}`))
	assert.ErrorIs(t, err, ErrUnrecognized)
	assert.NotErrorIs(t, err, ErrMalformed)
}

func TestDecode_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":         `{"type":`,
		"array":            `[1,2]`,
		"missing type":     `{"id":"x"}`,
		"subscribe no id":  `{"type":"subscribe"}`,
		"offer no sdp":     `{"type":"offer","playerId":"P"}`,
		"wrong field type": `{"type":"playerCount","count":"four"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecode_IgnoresUnknownFields(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"subscribe","streamerId":"S","future":{"a":1}}`))
	require.NoError(t, err)
	assert.Equal(t, &Subscribe{StreamerID: "S"}, msg)
}

func TestEncodeDecode_AllKnownTypes(t *testing.T) {
	for typ, factory := range factories {
		m := factory()
		switch v := m.(type) {
		case *Subscribe:
			v.StreamerID = "S"
		case *Offer:
			v.SDP = "v=0"
		case *Answer:
			v.SDP = "v=0"
		case *DisconnectPlayer:
			v.PlayerID = "P"
		case *PlayerConnected:
			v.PlayerID = "P"
		case *PeerDataChannels:
			v.PlayerID = "P"
		case *Config:
			v.PeerConnectionOptions = json.RawMessage(`{}`)
		}

		data, err := Encode(m)
		require.NoError(t, err, typ)
		decoded, err := Decode(data)
		require.NoError(t, err, typ)
		assert.Equal(t, typ, decoded.MessageType())
	}
}
