package bittorrent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfoHashFromBytes(t *testing.T) {
	b := make([]byte, 20)
	for i := range b {
		b[i] = byte(i)
	}

	ih := InfoHashFromBytes(b)
	assert.Equal(t, b, ih[:])
}

func TestInfoHashFromBytesPanicsOnBadLength(t *testing.T) {
	assert.Panics(t, func() { InfoHashFromBytes(make([]byte, 19)) })
}

func TestInfoHashHexString(t *testing.T) {
	ih := InfoHashFromString("aaaabbbbccccddddeeee")
	require.Len(t, ih.HexString(), 40)
	assert.Equal(t, "6161616162626262636363636464646465656565", ih.HexString())
}

func TestInfoHashShardKeyIsDeterministic(t *testing.T) {
	ih := InfoHashFromString("aaaabbbbccccddddeeee")
	assert.Equal(t, ih.ShardKey(), ih.ShardKey())
}

func TestNewEvent(t *testing.T) {
	table := []struct {
		in   string
		want Event
	}{
		{"", None},
		{"update", None},
		{"started", Started},
		{"stopped", Stopped},
		{"completed", Completed},
		{"STARTED", Started},
	}

	for _, tt := range table {
		got, err := NewEvent(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestNewEventUnknown(t *testing.T) {
	_, err := NewEvent("garbage")
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestPeerEqual(t *testing.T) {
	a := Peer{ID: PeerIDFromString("aaaaaaaaaaaaaaaaaaaa")}
	b := Peer{ID: PeerIDFromString("aaaaaaaaaaaaaaaaaaaa"), Port: 6881}
	c := Peer{ID: PeerIDFromString("bbbbbbbbbbbbbbbbbbbb")}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
