package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/lobby-sync/internal/types"
)

func TestPlayerInfo_RoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		record types.PlayerRecord
	}{
		{
			name: "full record",
			record: types.PlayerRecord{
				DisplayName: "Kestrel", FrameID: "frame_gold", IconID: "icon_07",
				CharacterID: 12, SkinIndex: 3, MasteryLevel: 40,
			},
		},
		{
			name:   "empty strings",
			record: types.PlayerRecord{CharacterID: -1},
		},
		{
			name:   "unicode name",
			record: types.PlayerRecord{DisplayName: "Ünïcødé 玩家", MasteryLevel: 2147483647},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := PlayerInfo{Peer: 7, Record: tc.record}
			frame, err := Encode(in)
			require.NoError(t, err)
			assert.Equal(t, byte(TagPlayerInfo), frame[0])

			out, err := Decode(frame)
			require.NoError(t, err)
			assert.Equal(t, in, out)
		})
	}
}

func TestEncode_TagOnlyMessages(t *testing.T) {
	ack, err := Encode(MatchStartAck{})
	require.NoError(t, err)
	assert.Equal(t, []byte{3}, ack)

	ready, err := Encode(SceneReady{})
	require.NoError(t, err)
	assert.Equal(t, []byte{4}, ready)
}

func TestMatchStart_Layout(t *testing.T) {
	frame, err := Encode(MatchStart{SceneIndex: 258})
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 2, 1, 0, 0}, frame)

	m, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, MatchStart{SceneIndex: 258}, m)
}

func TestDecode_Errors(t *testing.T) {
	cases := []struct {
		name    string
		frame   []byte
		wantErr error
	}{
		{name: "empty", frame: nil, wantErr: ErrEmptyFrame},
		{name: "unknown tag", frame: []byte{9}, wantErr: ErrUnknownTag},
		{name: "truncated match start", frame: []byte{2, 1, 0}, wantErr: ErrShortBuffer},
		{name: "truncated string", frame: []byte{1, 1, 0, 0, 0, 5, 'a'}, wantErr: ErrShortBuffer},
		{name: "ack with payload", frame: []byte{3, 0}, wantErr: ErrTrailingBytes},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.frame)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}
