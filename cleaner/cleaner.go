// Package cleaner implements the periodic eviction task described in
// spec §4.6: dead peers and empty torrents are swept from every swarm
// shard, the connection-id secret is rotated, and (for the WebSocket
// frontend) the connection table is pruned — all incrementally, so a
// single tick never stops a shard for more than a few milliseconds.
package cleaner

import (
	"time"

	"github.com/tracktile/tracktile/bittorrent"
	"github.com/tracktile/tracktile/connid"
	"github.com/tracktile/tracktile/pkg/log"
	"github.com/tracktile/tracktile/pkg/stop"
	"github.com/tracktile/tracktile/pkg/timecache"
	"github.com/tracktile/tracktile/swarm"
)

// Pruner is implemented by a WebSocket frontend's connection table, kept as
// an interface so the cleaner does not import the WebSocket package
// directly — a UDP-only deployment registers no Pruner.
type Pruner interface {
	PruneExpired(now int64) (evicted int)
}

// maxTorrentsPerTick bounds how many torrents one Clean call visits per
// shard per IP family per tick, splitting a very large shard's cleaning
// across multiple ticks instead of sweeping it stop-the-world.
const maxTorrentsPerTick = 4096

// Config configures the cleaner.
type Config struct {
	CleaningInterval     time.Duration
	ConnectionIDLifetime time.Duration
}

// Cleaner drives a cleaning pass across every registered shard on a timer,
// and owns the connection-id secret rotation cadence — the only writer
// connid.Snapshot ever has.
//
// Shard.CleanIncremental mutates shard state with no lock, the same as
// Announce/Scrape, so whatever goroutine calls RunOnce must be the only
// goroutine touching that shard at that moment. cmd/tracktile therefore
// gives the Cleaner no shards at all: each request worker evicts dead peers
// from its own shard on its own goroutine (requestworker.Config's
// CleaningInterval), and the Cleaner, running on its own goroutine, only
// rotates secrets and prunes the connection table.
type Cleaner struct {
	cfg     Config
	shards  []*swarm.Shard
	secrets *connid.Snapshot
	prune   Pruner

	lastRotation time.Time

	closing chan struct{}
	done    chan struct{}
}

// New creates a Cleaner over shards, sharing the same *connid.Snapshot the
// socket workers validate against. prune may be nil when no WebSocket
// frontend is running.
func New(cfg Config, shards []*swarm.Shard, secrets *connid.Snapshot, prune Pruner) *Cleaner {
	return &Cleaner{
		cfg:          cfg,
		shards:       shards,
		secrets:      secrets,
		prune:        prune,
		lastRotation: time.Now(),
		closing:      make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Run blocks, calling RunOnce every cfg.CleaningInterval until Stop is
// called. Any shards given to New must not be touched by another goroutine
// while Run is active; cmd/tracktile runs it with no shards, so its ticks
// only rotate secrets and prune connections.
func (c *Cleaner) Run() {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.CleaningInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closing:
			return
		case now := <-ticker.C:
			c.RunOnce(now)
		}
	}
}

// Stop signals Run to exit after finishing any in-flight tick.
func (c *Cleaner) Stop() stop.Result {
	ch := make(stop.Channel)
	go func() {
		close(c.closing)
		<-c.done
		ch.Done(nil)
	}()
	return ch.Result()
}

// RunOnce performs exactly one cleaning pass: evict dead peers/empty
// torrents from every shard (both IP families), rotate the connection-id
// secret if a rotation period has elapsed, and prune the WebSocket
// connection table.
func (c *Cleaner) RunOnce(now time.Time) {
	nowNano := now.UnixNano()

	var totalPeers, totalTorrents int
	for _, s := range c.shards {
		p4, t4 := s.CleanIncremental(bittorrent.IPv4, nowNano, maxTorrentsPerTick)
		p6, t6 := s.CleanIncremental(bittorrent.IPv6, nowNano, maxTorrentsPerTick)
		totalPeers += p4 + p6
		totalTorrents += t4 + t6
	}

	rotationPeriod := c.cfg.ConnectionIDLifetime / 2
	if rotationPeriod > 0 && now.Sub(c.lastRotation) >= rotationPeriod {
		c.secrets.Rotate()
		c.lastRotation = now
	}

	var evicted int
	if c.prune != nil {
		evicted = c.prune.PruneExpired(timecache.NowUnixNano())
	}

	log.With("cleaner").Debug().
		Int("peers_removed", totalPeers).
		Int("torrents_dropped", totalTorrents).
		Int("connections_evicted", evicted).
		Msg("cleaning pass complete")
}
