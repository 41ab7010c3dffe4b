package requestworker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracktile/tracktile/accesslist"
	"github.com/tracktile/tracktile/bittorrent"
	"github.com/tracktile/tracktile/dispatch"
	"github.com/tracktile/tracktile/swarm"
)

func testPeerID(b byte) bittorrent.PeerID {
	var id [20]byte
	for i := range id {
		id[i] = b
	}
	return bittorrent.PeerID(id)
}

func testInfoHash(b byte) bittorrent.InfoHash {
	var ih [20]byte
	ih[7] = b // keep shard key small and deterministic
	return bittorrent.InfoHash(ih)
}

func newTestWorker(t *testing.T) (*Worker, *dispatch.Fabric) {
	t.Helper()
	fabric := dispatch.NewFabric(1, 1, 0)
	shard := swarm.NewShard(1, 2)
	access := accesslist.NewSnapshot(accesslist.Ignore)

	w := NewWorker(Config{
		PeerAnnounceInterval: time.Minute,
		ToleranceFactor:      2,
		MaxPeers:             50,
	}, shard, access, fabric.RequestSide(0))

	return w, fabric
}

func TestHandleAnnounceStartedReturnsInterval(t *testing.T) {
	w, fabric := newTestWorker(t)
	ih := testInfoHash(1)

	job := dispatch.Job{
		Kind: dispatch.JobAnnounce,
		Origin: dispatch.Origin{SocketWorker: 0},
		Announce: &bittorrent.AnnounceRequest{
			InfoHash: ih,
			Event:    bittorrent.Started,
			Left:     1, // bytes still to download: announces as a leecher
			Peer: bittorrent.Peer{
				ID:   testPeerID(1),
				Addr: bittorrent.IP{IP: []byte{1, 2, 3, 4}, AddressFamily: bittorrent.IPv4},
				Port: 6881,
			},
			NumWant: 10,
		},
	}
	w.handleAnnounce(job)

	sock := fabric.SocketSide(0)
	results, _ := sock.PollResults(0, 10)
	require.Len(t, results, 1)
	assert.Equal(t, time.Minute, results[0].Announce.Interval)
	assert.Equal(t, int32(0), results[0].Announce.Complete)
	assert.Equal(t, int32(1), results[0].Announce.Incomplete)
}

func TestHandleAnnounceExcludesSelf(t *testing.T) {
	w, fabric := newTestWorker(t)
	ih := testInfoHash(1)
	sock := fabric.SocketSide(0)

	for i := byte(1); i <= 3; i++ {
		w.handleAnnounce(dispatch.Job{
			Kind: dispatch.JobAnnounce,
			Announce: &bittorrent.AnnounceRequest{
				InfoHash: ih,
				Event:    bittorrent.Started,
				Peer: bittorrent.Peer{
					ID:   testPeerID(i),
					Addr: bittorrent.IP{IP: []byte{1, 2, 3, i}, AddressFamily: bittorrent.IPv4},
					Port: 6881,
				},
				NumWant: 10,
			},
		})
		sock.PollResults(0, 10)
	}

	w.handleAnnounce(dispatch.Job{
		Kind: dispatch.JobAnnounce,
		Announce: &bittorrent.AnnounceRequest{
			InfoHash: ih,
			Event:    bittorrent.None,
			Peer: bittorrent.Peer{
				ID:   testPeerID(1),
				Addr: bittorrent.IP{IP: []byte{1, 2, 3, 1}, AddressFamily: bittorrent.IPv4},
				Port: 6881,
			},
			NumWant: 10,
		},
	})
	results, _ := sock.PollResults(0, 10)
	require.Len(t, results, 1)
	for _, p := range results[0].Announce.Peers {
		assert.NotEqual(t, testPeerID(1), p.ID)
	}
}

func TestHandleAnnounceDeniedByAccessListReturnsEmptyPeers(t *testing.T) {
	fabric := dispatch.NewFabric(1, 1, 0)
	shard := swarm.NewShard(1, 2)
	access := accesslist.NewSnapshot(accesslist.Require) // empty list: denies everything

	w := NewWorker(Config{PeerAnnounceInterval: time.Minute, ToleranceFactor: 2, MaxPeers: 50}, shard, access, fabric.RequestSide(0))

	ih := testInfoHash(1)
	w.handleAnnounce(dispatch.Job{
		Kind: dispatch.JobAnnounce,
		Announce: &bittorrent.AnnounceRequest{
			InfoHash: ih,
			Event:    bittorrent.Started,
			Peer: bittorrent.Peer{
				ID:   testPeerID(1),
				Addr: bittorrent.IP{IP: []byte{1, 2, 3, 4}, AddressFamily: bittorrent.IPv4},
			},
		},
	})

	sock := fabric.SocketSide(0)
	results, _ := sock.PollResults(0, 10)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Announce.Peers)

	_, ok := shard.Lookup(ih, bittorrent.IPv4)
	assert.False(t, ok, "a denied announce must not record the peer")
}

func TestHandleScrapeUnknownHashYieldsZeros(t *testing.T) {
	w, fabric := newTestWorker(t)

	w.handleScrape(dispatch.Job{
		Kind:   dispatch.JobScrape,
		Scrape: &bittorrent.ScrapeRequest{InfoHashes: []bittorrent.InfoHash{testInfoHash(9)}},
	})

	sock := fabric.SocketSide(0)
	results, _ := sock.PollResults(0, 10)
	require.Len(t, results, 1)
	s := results[0].Scrape.Files[testInfoHash(9)]
	assert.Equal(t, bittorrent.Scrape{}, s)
}

func TestCleanEvictsExpiredPeersFromOwnShard(t *testing.T) {
	fabric := dispatch.NewFabric(1, 1, 0)
	shard := swarm.NewShard(1, 2)
	access := accesslist.NewSnapshot(accesslist.Ignore)

	w := NewWorker(Config{
		PeerAnnounceInterval: time.Minute,
		ToleranceFactor:      2,
		MaxPeers:             50,
	}, shard, access, fabric.RequestSide(0))

	ih := testInfoHash(1)
	shard.Announce(swarm.AnnounceUpdate{
		InfoHash: ih, Family: bittorrent.IPv4,
		Peer: swarm.Peer{ID: testPeerID(1)}, Event: bittorrent.Started, ValidUntil: 100,
	})

	w.clean(time.Unix(0, 200))

	_, ok := shard.Lookup(ih, bittorrent.IPv4)
	assert.False(t, ok, "clean must evict a peer whose ValidUntil has passed")
}

func TestRunStopsAfterFabricCloses(t *testing.T) {
	fabric := dispatch.NewFabric(1, 1, 0)
	shard := swarm.NewShard(1, 2)
	access := accesslist.NewSnapshot(accesslist.Ignore)

	w := NewWorker(Config{
		PeerAnnounceInterval: time.Minute,
		ToleranceFactor:      2,
		MaxPeers:             50,
		CleaningInterval:     5 * time.Millisecond,
	}, shard, access, fabric.RequestSide(0))

	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()

	fabric.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after its inbound queues closed")
	}
}
