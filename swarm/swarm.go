// Package swarm implements the sharded, in-memory peer store: one Shard per
// request worker, each holding a disjoint slice of the InfoHash space with
// no lock of its own. Because exactly one goroutine ever touches a given
// Shard, announce, scrape, and cleaning can all mutate it directly — there
// is nothing to contend with.
package swarm

import (
	"github.com/tracktile/tracktile/bittorrent"
	"github.com/tracktile/tracktile/pkg/xorshift"
)

// Peer is a single torrent participant, keyed by PeerID within a Torrent.
type Peer struct {
	ID         bittorrent.PeerID
	Addr       bittorrent.IP
	Port       uint16
	Seeder     bool
	ValidUntil int64 // unix nanoseconds; see pkg/timecache

	// Loc locates the connection this peer announced on, for the
	// WebSocket frontend's WebRTC offer/answer relay. The zero value is
	// never a valid location (ConnToken 0 is reserved for the listener),
	// so UDP peers simply leave it unset.
	Loc PeerLocation
}

// PeerLocation identifies the WebSocket connection backing a Peer, so
// another peer's offer/answer can be routed to it through the dispatch
// fabric without the swarm store itself depending on any transport type.
type PeerLocation struct {
	SocketWorker int
	ConnToken    uint64
}

// Torrent holds the peer set for one info hash within one IP family.
// NumSeeders and NumLeechers are maintained incrementally on every mutation
// and must always equal the counts derivable from Peers.
type Torrent struct {
	Peers       map[bittorrent.PeerID]Peer
	NumSeeders  int
	NumLeechers int

	// Completed is a monotonic counter of `completed` events ever seen by
	// this torrent. It is never decremented, and it survives a peer's
	// removal — it is not derived from Peers.
	Completed uint64
}

func newTorrent() *Torrent {
	return &Torrent{Peers: make(map[bittorrent.PeerID]Peer)}
}

// adjust adds delta to the counter (seeders or leechers) a peer with the
// given seeder flag belongs to.
func (t *Torrent) adjust(seeder bool, delta int) {
	if seeder {
		t.NumSeeders += delta
	} else {
		t.NumLeechers += delta
	}
}

// Shard is the swarm state owned exclusively by one request worker,
// partitioned by IP family so that IPv4 and IPv6 peers are never mixed in a
// single response.
type Shard struct {
	ipv4 map[bittorrent.InfoHash]*Torrent
	ipv6 map[bittorrent.InfoHash]*Torrent
	rng  *xorshift.XORShift128Plus
}

// NewShard creates an empty Shard seeded with s0/s1, which should be
// distinct per shard (e.g. derived from the shard index) so that announce
// interval jitter does not correlate across shards.
func NewShard(s0, s1 uint64) *Shard {
	return &Shard{
		ipv4: make(map[bittorrent.InfoHash]*Torrent),
		ipv6: make(map[bittorrent.InfoHash]*Torrent),
		rng:  xorshift.NewXORShift128Plus(s0, s1),
	}
}

func (s *Shard) family(af bittorrent.AddressFamily) map[bittorrent.InfoHash]*Torrent {
	if af == bittorrent.IPv6 {
		return s.ipv6
	}
	return s.ipv4
}

// Torrent returns the Torrent for ih in family af, creating it if absent.
func (s *Shard) torrent(ih bittorrent.InfoHash, af bittorrent.AddressFamily) *Torrent {
	m := s.family(af)
	t, ok := m[ih]
	if !ok {
		t = newTorrent()
		m[ih] = t
	}
	return t
}

// Lookup returns the Torrent for ih in family af without creating it. The
// second return value is false if no torrent exists, matching "unknown
// hashes yield zeros" for scrape.
func (s *Shard) Lookup(ih bittorrent.InfoHash, af bittorrent.AddressFamily) (*Torrent, bool) {
	t, ok := s.family(af)[ih]
	return t, ok
}

// FindPeer looks up id within ih's peer set, checking both address
// families since the WebRTC answer relay path only knows the info hash and
// the target peer id, not which family it announced under.
func (s *Shard) FindPeer(ih bittorrent.InfoHash, id bittorrent.PeerID) (Peer, bool) {
	for _, af := range [...]bittorrent.AddressFamily{bittorrent.IPv4, bittorrent.IPv6} {
		if t, ok := s.Lookup(ih, af); ok {
			if p, ok := t.Peers[id]; ok {
				return p, true
			}
		}
	}
	return Peer{}, false
}

// AnnounceUpdate describes the effect of one announce on a torrent's peer
// set. validUntil is in unix nanoseconds (pkg/timecache.NowUnixNano()).
type AnnounceUpdate struct {
	InfoHash   bittorrent.InfoHash
	Family     bittorrent.AddressFamily
	Peer       Peer
	Event      bittorrent.Event
	ValidUntil int64
}

// Announce applies one peer's announce to the owning torrent, per the
// event transition rules: started/none inserts or refreshes, completed
// marks as seeder and bumps the completed counter, stopped removes.
// The seeder/leecher counters are kept consistent with Peers at every step.
func (s *Shard) Announce(u AnnounceUpdate) *Torrent {
	t := s.torrent(u.InfoHash, u.Family)

	existing, had := t.Peers[u.Peer.ID]

	switch u.Event {
	case bittorrent.Stopped:
		if had {
			t.adjust(existing.Seeder, -1)
			delete(t.Peers, u.Peer.ID)
		}
		return t

	case bittorrent.Completed:
		np := u.Peer
		np.Seeder = true
		np.ValidUntil = u.ValidUntil
		if had {
			if !existing.Seeder {
				t.adjust(false, -1)
				t.adjust(true, +1)
			}
		} else {
			t.adjust(true, +1)
		}
		t.Completed++
		t.Peers[u.Peer.ID] = np
		return t

	default: // Started, None
		np := u.Peer
		np.ValidUntil = u.ValidUntil
		if had {
			if existing.Seeder != np.Seeder {
				t.adjust(existing.Seeder, -1)
				t.adjust(np.Seeder, +1)
			}
		} else {
			t.adjust(np.Seeder, +1)
		}
		t.Peers[u.Peer.ID] = np
		return t
	}
}

// SelectPeers returns up to n distinct peers from t's peer set, excluding
// exclude, without replacement. It relies on a single range over the map for
// both the randomization and the no-duplicates guarantee: the Go runtime
// already randomizes map iteration order per call, and ranging exactly once
// means every key is visited at most once, unlike drawing a random offset
// and re-ranging from the start on a second pass, which reshuffles the
// order each time and can re-emit a peer the first pass already collected.
func (t *Torrent) SelectPeers(n int, exclude bittorrent.PeerID) []Peer {
	if len(t.Peers) == 0 || n <= 0 {
		return nil
	}

	out := make([]Peer, 0, n)
	for id, p := range t.Peers {
		if id == exclude {
			continue
		}
		out = append(out, p)
		if len(out) == n {
			break
		}
	}
	return out
}

// Clean removes peers whose ValidUntil has passed (< now) from every
// torrent in family af, then drops torrents left with an empty peer set.
// It processes one family at a time so a caller driving incremental
// cleaning across many ticks can bound how much work happens per call.
func (s *Shard) Clean(af bittorrent.AddressFamily, now int64) (peersRemoved, torrentsDropped int) {
	m := s.family(af)
	for ih, t := range m {
		for id, p := range t.Peers {
			if p.ValidUntil < now {
				t.adjust(p.Seeder, -1)
				delete(t.Peers, id)
				peersRemoved++
			}
		}
		if len(t.Peers) == 0 {
			delete(m, ih)
			torrentsDropped++
		}
	}
	return peersRemoved, torrentsDropped
}

// CleanIncremental is like Clean but visits at most maxTorrents torrents
// per call — this bounds per-tick latency for a very large shard instead of
// sweeping it stop-the-world. It returns only the removal counts, not the
// torrents it skipped; each call starts a fresh range over the map, so which
// torrents a later call visits follows Go's map iteration order.
func (s *Shard) CleanIncremental(af bittorrent.AddressFamily, now int64, maxTorrents int) (peersRemoved, torrentsDropped int) {
	m := s.family(af)
	visited := 0
	for ih, t := range m {
		if visited >= maxTorrents {
			break
		}
		visited++

		for id, p := range t.Peers {
			if p.ValidUntil < now {
				t.adjust(p.Seeder, -1)
				delete(t.Peers, id)
				peersRemoved++
			}
		}
		if len(t.Peers) == 0 {
			delete(m, ih)
			torrentsDropped++
		}
	}
	return peersRemoved, torrentsDropped
}

// Rand exposes the shard's private PRNG, used by the request worker when
// randomizing the announce interval within a configured band.
func (s *Shard) Rand() *xorshift.XORShift128Plus { return s.rng }

// InfoHashCount returns the number of distinct torrents tracked across
// both families, for statistics reporting.
func (s *Shard) InfoHashCount() int { return len(s.ipv4) + len(s.ipv6) }

// TotalPeers sums NumSeeders+NumLeechers across every torrent in both
// families. It walks the torrent maps (not the peer maps), so it is cheap
// enough for periodic statistics reporting but is not called on the
// per-announce hot path.
func (s *Shard) TotalPeers() int {
	var n int
	for _, t := range s.ipv4 {
		n += t.NumSeeders + t.NumLeechers
	}
	for _, t := range s.ipv6 {
		n += t.NumSeeders + t.NumLeechers
	}
	return n
}
