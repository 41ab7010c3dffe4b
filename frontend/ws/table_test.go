package ws

import (
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAssignsIncrementingTokensStartingAtOne(t *testing.T) {
	table := newTable()

	c1 := table.register(&websocket.Conn{}, 100)
	c2 := table.register(&websocket.Conn{}, 100)

	assert.Equal(t, uint64(1), c1.Token)
	assert.Equal(t, uint64(2), c2.Token)
}

func TestRegisterEvictsCollidingToken(t *testing.T) {
	table := newTable()
	table.nextTok = ^uint64(0) // next register wraps to 1

	old := table.register(&websocket.Conn{}, 100)
	require.Equal(t, uint64(1), old.Token)

	table.nextTok = ^uint64(0) // force the same token again
	_, stillThere := table.get(1)
	require.True(t, stillThere)

	replaced := table.register(&websocket.Conn{}, 200)
	assert.Equal(t, uint64(1), replaced.Token)

	_, oldSendOk := <-old.Send
	assert.False(t, oldSendOk, "evicted connection's Send channel must be closed")
}

func TestUnregisterRemovesAndClosesSend(t *testing.T) {
	table := newTable()
	c := table.register(&websocket.Conn{}, 100)

	table.unregister(c.Token)

	_, ok := table.get(c.Token)
	assert.False(t, ok)
	_, sendOk := <-c.Send
	assert.False(t, sendOk)
}

func TestRefreshUpdatesValidUntil(t *testing.T) {
	table := newTable()
	c := table.register(&websocket.Conn{}, 100)

	table.refresh(c.Token, 500)

	got, ok := table.get(c.Token)
	require.True(t, ok)
	assert.Equal(t, int64(500), got.ValidUntil)
}

func TestPruneExpiredEvictsOnlyExpired(t *testing.T) {
	table := newTable()
	fresh := table.register(&websocket.Conn{}, 1000)
	stale := table.register(&websocket.Conn{}, 1)

	evicted := table.PruneExpired(500)

	assert.Equal(t, 1, evicted)
	_, freshOk := table.get(fresh.Token)
	assert.True(t, freshOk)
	_, staleOk := table.get(stale.Token)
	assert.False(t, staleOk)
}
