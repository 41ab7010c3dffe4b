package cleaner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracktile/tracktile/bittorrent"
	"github.com/tracktile/tracktile/connid"
	"github.com/tracktile/tracktile/swarm"
)

func TestRunOnceEvictsExpiredPeers(t *testing.T) {
	shard := swarm.NewShard(1, 2)
	var ih bittorrent.InfoHash
	ih[7] = 1

	shard.Announce(swarm.AnnounceUpdate{
		InfoHash: ih, Family: bittorrent.IPv4,
		Peer:       swarm.Peer{ID: bittorrent.PeerID{1}},
		Event:      bittorrent.Started,
		ValidUntil: 1,
	})

	secrets := connid.NewSnapshot()
	c := New(Config{CleaningInterval: time.Second, ConnectionIDLifetime: time.Minute}, []*swarm.Shard{shard}, secrets, nil)

	c.RunOnce(time.Unix(0, 1000))

	_, ok := shard.Lookup(ih, bittorrent.IPv4)
	assert.False(t, ok)
}

func TestRunOnceRotatesSecretAfterHalfLifetime(t *testing.T) {
	shard := swarm.NewShard(1, 2)
	secrets := connid.NewSnapshot()
	c := New(Config{CleaningInterval: time.Second, ConnectionIDLifetime: 2 * time.Minute}, []*swarm.Shard{shard}, secrets, nil)

	ip := []byte{192, 0, 2, 1}
	id := secrets.Generate(ip)

	c.RunOnce(time.Now().Add(90 * time.Second))
	assert.True(t, secrets.Validate(id, ip), "token minted before rotation must still validate via previous secret")

	c.RunOnce(time.Now().Add(200 * time.Second))
	assert.False(t, secrets.Validate(id, ip), "token must not survive two rotations")
}

type fakePruner struct{ called bool }

func (f *fakePruner) PruneExpired(now int64) int {
	f.called = true
	return 3
}

func TestRunOnceInvokesPruner(t *testing.T) {
	shard := swarm.NewShard(1, 2)
	secrets := connid.NewSnapshot()
	p := &fakePruner{}
	c := New(Config{CleaningInterval: time.Second, ConnectionIDLifetime: time.Minute}, []*swarm.Shard{shard}, secrets, p)

	c.RunOnce(time.Now())
	require.True(t, p.called)
}
