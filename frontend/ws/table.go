package ws

import (
	"net"
	"sync"
	"time"
)

const sendBuffer = 64

// wsConn is the subset of *websocket.Conn the table and worker depend on,
// factored out so tests can substitute a fake instead of standing up a
// real socket.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	SetWriteDeadline(time.Time) error
	RemoteAddr() net.Addr
	Close() error
}

// Connection is one established WebSocket connection, registered in a
// Table under a dense token. ValidUntil is refreshed on every successful
// read and checked by PruneExpired, mirroring the swarm shard's peer
// expiry model but for transport-layer connections rather than torrent
// participants.
type Connection struct {
	Token      uint64
	Conn       wsConn
	Send       chan []byte
	ValidUntil int64 // unix nanoseconds
}

// Table is the token -> Connection map for one socket worker. Unlike the
// swarm shards, it is guarded by a plain mutex: the cleaner prunes it
// directly from its own goroutine (spec's "prune the WebSocket connection
// table of expired tokens"), so there is no single owning goroutine to
// delegate pruning to the way there is for a swarm shard.
type Table struct {
	mu      sync.Mutex
	conns   map[uint64]*Connection
	nextTok uint64
}

func newTable() *Table {
	return &Table{conns: make(map[uint64]*Connection)}
}

// register assigns the next token to conn, evicting whatever connection
// currently holds that token. Token 0 is reserved (unused here, carried
// over from the original's "0 reserved for the listener") so the counter
// always starts from 1, and wraps back to 1 on uint64 overflow rather than
// erroring.
func (t *Table) register(conn wsConn, validUntil int64) *Connection {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextTok++
	if t.nextTok == 0 {
		t.nextTok = 1
	}
	if old, ok := t.conns[t.nextTok]; ok {
		close(old.Send)
	}

	c := &Connection{
		Token:      t.nextTok,
		Conn:       conn,
		Send:       make(chan []byte, sendBuffer),
		ValidUntil: validUntil,
	}
	t.conns[c.Token] = c
	return c
}

func (t *Table) get(token uint64) (*Connection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conns[token]
	return c, ok
}

func (t *Table) refresh(token uint64, validUntil int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[token]; ok {
		c.ValidUntil = validUntil
	}
}

func (t *Table) unregister(token uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[token]; ok {
		delete(t.conns, token)
		close(c.Send)
	}
}

// PruneExpired removes every connection whose ValidUntil has passed,
// closing its send channel and underlying socket. It implements
// cleaner.Pruner.
func (t *Table) PruneExpired(now int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0
	for tok, c := range t.conns {
		if c.ValidUntil < now {
			delete(t.conns, tok)
			close(c.Send)
			_ = c.Conn.Close()
			evicted++
		}
	}
	return evicted
}

// Len reports the number of live connections, for statistics reporting.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}
