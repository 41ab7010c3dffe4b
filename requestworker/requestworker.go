// Package requestworker implements the request worker: the owner of one
// swarm shard, consuming Jobs from the dispatch fabric and emitting
// Results, per spec §4.3.
package requestworker

import (
	"time"

	"github.com/tracktile/tracktile/accesslist"
	"github.com/tracktile/tracktile/bittorrent"
	"github.com/tracktile/tracktile/dispatch"
	"github.com/tracktile/tracktile/pkg/log"
	"github.com/tracktile/tracktile/pkg/timecache"
	"github.com/tracktile/tracktile/pkg/xorshift"
	"github.com/tracktile/tracktile/stats"
	"github.com/tracktile/tracktile/swarm"
)

// Config configures a request worker.
type Config struct {
	Index                int
	PeerAnnounceInterval time.Duration
	ToleranceFactor      float64
	MaxPeers             int
	IntervalJitter       time.Duration // smear band added/subtracted from the base interval

	// CleaningInterval, if positive, makes the worker evict dead peers and
	// empty torrents from its own shard on this cadence, interleaved with
	// its normal receive loop via RequestEndpoint.NextTimeout — cleaning
	// this way only ever runs on the shard's owning goroutine, per spec
	// §4.6's "each request worker self-scheduling" option. Zero disables
	// self-cleaning (e.g. a test driving Shard.CleanIncremental directly).
	CleaningInterval time.Duration

	// Counters receives this worker's published request/peer counts for
	// the statistics collector. Nil disables publishing.
	Counters *stats.WorkerCounters
}

// maxTorrentsPerTick bounds how many torrents one self-clean pass visits
// per shard per IP family, so a very large shard's cleaning is split
// across multiple ticks instead of happening stop-the-world.
const maxTorrentsPerTick = 4096

// pollTimeout bounds how long NextTimeout blocks waiting for a Job before
// Run rechecks the cleaning ticker and the closing signal.
const pollTimeout = 50 * time.Millisecond

// Worker owns shard's entire lifetime: every mutation to it happens on this
// goroutine, so shard needs no lock.
type Worker struct {
	cfg    Config
	shard  *swarm.Shard
	access *accesslist.Snapshot
	in     *dispatch.RequestEndpoint

	closing chan struct{}
	done    chan struct{}
}

// NewWorker creates a Worker around shard, which must not be touched by any
// other goroutine for the lifetime of the Worker.
func NewWorker(cfg Config, shard *swarm.Shard, access *accesslist.Snapshot, in *dispatch.RequestEndpoint) *Worker {
	return &Worker{
		cfg:     cfg,
		shard:   shard,
		access:  access,
		in:      in,
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Run consumes Jobs until the fabric's inbound queues are closed and
// drained, or Stop is called. A panic is recovered only to be logged at
// Fatal level, which exits the process, so a single corrupted shard cannot
// be silently served.
func (w *Worker) Run() {
	defer close(w.done)
	logger := log.With("requestworker").With().Int("worker_index", w.cfg.Index).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Fatal().Interface("panic", r).Msg("request worker panicked")
			panic(r)
		}
	}()

	var ticker *time.Ticker
	if w.cfg.CleaningInterval > 0 {
		ticker = time.NewTicker(w.cfg.CleaningInterval)
		defer ticker.Stop()
	}

	cursor := 0
	for {
		select {
		case <-w.closing:
			return
		default:
		}

		if ticker != nil {
			select {
			case now := <-ticker.C:
				w.clean(now)
			default:
			}
		}

		job, ok, open := w.in.NextTimeout(&cursor, pollTimeout)
		if !open {
			return
		}
		if !ok {
			continue
		}

		switch job.Kind {
		case dispatch.JobAnnounce:
			w.handleAnnounce(job)
		case dispatch.JobScrape:
			w.handleScrape(job)
		case dispatch.JobAnswer:
			w.handleAnswer(job)
		}

		if w.cfg.Counters != nil {
			w.cfg.Counters.IncRequestsProcessed()
			w.cfg.Counters.SetPeerCount(uint64(w.shard.TotalPeers()))
		}
	}
}

// clean evicts dead peers and empty torrents from this worker's own shard.
// Called only from Run's own goroutine, so it never races Announce/Scrape.
func (w *Worker) clean(now time.Time) {
	nowNano := now.UnixNano()
	p4, t4 := w.shard.CleanIncremental(bittorrent.IPv4, nowNano, maxTorrentsPerTick)
	p6, t6 := w.shard.CleanIncremental(bittorrent.IPv6, nowNano, maxTorrentsPerTick)

	if p4+p6+t4+t6 == 0 {
		return
	}
	log.With("requestworker").Debug().
		Int("worker_index", w.cfg.Index).
		Int("peers_removed", p4+p6).
		Int("torrents_dropped", t4+t6).
		Msg("shard cleaning pass complete")
}

// Stop requests the worker to exit; it will finish any in-flight Job first.
func (w *Worker) Stop() <-chan struct{} {
	close(w.closing)
	return w.done
}

func (w *Worker) handleAnnounce(job dispatch.Job) {
	req := job.Announce
	af := req.Peer.Addr.AddressFamily

	if !w.access.Allows(req.InfoHash) {
		w.in.Reply(dispatch.Result{
			Kind:   dispatch.JobAnnounce,
			Origin: job.Origin,
			Announce: &bittorrent.AnnounceResponse{
				Interval: w.interval(),
			},
		})
		return
	}

	now := timecache.NowUnixNano()
	validUntil := now + int64(float64(w.cfg.PeerAnnounceInterval)*w.cfg.ToleranceFactor)

	torrent := w.shard.Announce(swarm.AnnounceUpdate{
		InfoHash: req.InfoHash,
		Family:   af,
		Peer: swarm.Peer{
			ID:     req.Peer.ID,
			Addr:   req.Peer.Addr,
			Port:   req.Peer.Port,
			Seeder: req.Left == 0,
			Loc:    swarm.PeerLocation{SocketWorker: job.Origin.SocketWorker, ConnToken: job.Origin.ConnToken},
		},
		Event:      req.Event,
		ValidUntil: validUntil,
	})

	numWant := int(req.NumWant)
	if numWant > w.cfg.MaxPeers {
		numWant = w.cfg.MaxPeers
	}

	var peers []bittorrent.Peer
	var selected []swarm.Peer
	if req.Event != bittorrent.Stopped {
		selected = torrent.SelectPeers(numWant, req.Peer.ID)
		peers = make([]bittorrent.Peer, len(selected))
		for i, p := range selected {
			peers[i] = bittorrent.Peer{ID: p.ID, Addr: p.Addr, Port: p.Port, Seeder: p.Seeder}
		}
	}

	// Pair each WebRTC offer bundled with a WebSocket announce with one
	// distinct peer from the same selection and relay it there, per
	// WebTorrent's signalling model (UDP announces never carry Offers).
	var relays []dispatch.Relay
	for i, offer := range req.Offers {
		if i >= len(selected) {
			break
		}
		target := selected[i]
		relays = append(relays, dispatch.Relay{
			Target: dispatch.Origin{SocketWorker: target.Loc.SocketWorker, ConnToken: target.Loc.ConnToken},
			Offer: &bittorrent.OfferRelay{
				InfoHash:   req.InfoHash,
				FromPeerID: req.Peer.ID,
				OfferID:    offer.OfferID,
				SDP:        offer.SDP,
			},
		})
	}

	w.in.Reply(dispatch.Result{
		Kind:   dispatch.JobAnnounce,
		Origin: job.Origin,
		Announce: &bittorrent.AnnounceResponse{
			Interval:   w.interval(),
			Complete:   int32(torrent.NumSeeders),
			Incomplete: int32(torrent.NumLeechers),
			Peers:      peers,
		},
		Relays: relays,
	})
}

// handleAnswer relays a WebRTC answer from the peer that received an offer
// back to the peer that made it. It produces no direct response to the
// submitting connection — only a Relay addressed at the original offerer.
func (w *Worker) handleAnswer(job dispatch.Job) {
	a := job.Answer

	target, ok := w.shard.FindPeer(a.InfoHash, a.ToPeerID)
	if !ok {
		// The offering peer has since disconnected or timed out; the
		// answer has nowhere to go.
		return
	}

	w.in.Reply(dispatch.Result{
		Kind:   dispatch.JobAnswer,
		Origin: job.Origin,
		Relays: []dispatch.Relay{{
			Target: dispatch.Origin{SocketWorker: target.Loc.SocketWorker, ConnToken: target.Loc.ConnToken},
			Answer: a,
		}},
	})
}

func (w *Worker) handleScrape(job dispatch.Job) {
	files := make(map[bittorrent.InfoHash]bittorrent.Scrape, len(job.Scrape.InfoHashes))

	for _, ih := range job.Scrape.InfoHashes {
		var scrape bittorrent.Scrape
		if t4, ok := w.shard.Lookup(ih, bittorrent.IPv4); ok {
			scrape.Complete += uint32(t4.NumSeeders)
			scrape.Incomplete += uint32(t4.NumLeechers)
			scrape.Downloaded += uint32(t4.Completed)
		}
		if t6, ok := w.shard.Lookup(ih, bittorrent.IPv6); ok {
			scrape.Complete += uint32(t6.NumSeeders)
			scrape.Incomplete += uint32(t6.NumLeechers)
			scrape.Downloaded += uint32(t6.Completed)
		}
		files[ih] = scrape
	}

	w.in.Reply(dispatch.Result{
		Kind:   dispatch.JobScrape,
		Origin: job.Origin,
		Scrape: &bittorrent.ScrapeResponse{Files: files},
	})
}

// interval returns the configured announce interval smeared by a random
// jitter band, to avoid every peer in a swarm re-announcing in lockstep.
func (w *Worker) interval() time.Duration {
	if w.cfg.IntervalJitter <= 0 {
		return w.cfg.PeerAnnounceInterval
	}
	n := xorshift.Intn(w.shard.Rand(), int(2*w.cfg.IntervalJitter)+1)
	offset := time.Duration(n) - w.cfg.IntervalJitter
	return w.cfg.PeerAnnounceInterval + offset
}
