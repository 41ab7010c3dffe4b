package udp

import (
	"errors"
	"net"
	"time"

	"github.com/tracktile/tracktile/accesslist"
	"github.com/tracktile/tracktile/bittorrent"
	"github.com/tracktile/tracktile/connid"
	"github.com/tracktile/tracktile/dispatch"
	"github.com/tracktile/tracktile/pkg/log"
	"github.com/tracktile/tracktile/pkg/stop"
	"github.com/tracktile/tracktile/stats"
)

// Config configures a UDP socket worker.
type Config struct {
	Index           int
	Addr            string
	MaxReceiveBatch int
	PollTimeout     time.Duration
	DefaultNumWant  uint32
	MaxScrapeHashes int

	// Counters receives this worker's published byte/request/drop counts
	// for the statistics collector. Nil disables publishing.
	Counters *stats.WorkerCounters
}

// Worker owns one UDP listening socket. It decodes and validates incoming
// datagrams, routes announce/scrape requests to the request worker that
// owns the relevant info hash, answers connect requests directly (no
// cross-worker hop needed — BEP 15 delegates that entirely to connid), and
// drains its inbound Result queues to send responses back out.
type Worker struct {
	cfg     Config
	conn    *net.UDPConn
	fabric  *dispatch.Fabric
	socket  *dispatch.SocketEndpoint
	secrets *connid.Snapshot
	access  *accesslist.Snapshot

	closing chan struct{}
	done    chan struct{}

	resultCursor   int
	pendingScrapes map[[4]byte]*scrapeGather
}

// NewWorker binds the socket and returns a Worker ready to Run.
func NewWorker(cfg Config, fabric *dispatch.Fabric, secrets *connid.Snapshot, access *accesslist.Snapshot) (*Worker, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", cfg.Addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}

	return &Worker{
		cfg:     cfg,
		conn:    conn,
		fabric:  fabric,
		socket:  fabric.SocketSide(cfg.Index),
		secrets: secrets,
		access:  access,
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Run blocks, serving datagrams until Stop is called. Worker panics are
// never swallowed: a recover at this single entry point only logs at Fatal
// level, which exits the process (the panic(r) after it is a fallback for a
// disabled Fatal level), per the "a swallowed panic would silently serve a
// dead shard" design note.
func (w *Worker) Run() {
	defer close(w.done)
	logger := log.With("udp.worker").With().Int("worker_index", w.cfg.Index).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Fatal().Interface("panic", r).Msg("udp socket worker panicked")
			panic(r)
		}
	}()

	buf := make([]byte, 65507)
	for {
		select {
		case <-w.closing:
			return
		default:
		}

		for i := 0; i < w.cfg.MaxReceiveBatch; i++ {
			_ = w.conn.SetReadDeadline(time.Now().Add(w.cfg.PollTimeout))
			n, addr, err := w.conn.ReadFromUDP(buf)
			if err != nil {
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					break
				}
				select {
				case <-w.closing:
					return
				default:
				}
				logger.Debug().Err(err).Msg("udp read error")
				break
			}
			if n == 0 {
				continue
			}
			if w.cfg.Counters != nil {
				w.cfg.Counters.AddBytesIn(uint64(n))
			}

			w.handlePacket(buf[:n], addr)
		}

		w.drainResults()
	}
}

func (w *Worker) handlePacket(packet []byte, addr *net.UDPAddr) {
	action, txnID, connID, err := ParseAction(packet)
	if err != nil {
		// Malformed header: do not respond, per spec's "do not amplify".
		return
	}

	switch action {
	case ActionConnect:
		if _, err := ParseConnect(packet); err != nil {
			return
		}
		id := w.secrets.Generate(addr.IP)
		w.send(WriteConnect(txnID, id), addr)

	case ActionAnnounce:
		if !w.secrets.Validate(connID, addr.IP) {
			return
		}
		req, err := ParseAnnounce(packet, addr.IP)
		if err != nil {
			w.send(WriteError(txnID, err), addr)
			return
		}
		if req.Inner.NumWant == 0 {
			req.Inner.NumWant = w.cfg.DefaultNumWant
		}

		job := dispatch.Job{
			Kind: dispatch.JobAnnounce,
			Origin: dispatch.Origin{
				SocketWorker: w.cfg.Index,
				ClientAddr:   req.Inner.Peer.Addr,
				ClientPort:   uint16(addr.Port),
				TxnID:        txnID,
			},
			Announce: &req.Inner,
		}
		if dropped := w.socket.Submit(req.Inner.InfoHash, job); dropped && w.cfg.Counters != nil {
			w.cfg.Counters.IncDropped()
		}

	case ActionScrape:
		if !w.secrets.Validate(connID, addr.IP) {
			return
		}
		req, err := ParseScrape(packet, w.cfg.MaxScrapeHashes)
		if err != nil {
			w.send(WriteError(txnID, err), addr)
			return
		}
		if len(req.Inner.InfoHashes) == 0 {
			w.send(WriteScrape(txnID, nil, &bittorrent.ScrapeResponse{Files: map[bittorrent.InfoHash]bittorrent.Scrape{}}), addr)
			return
		}
		// Scrape fans out per info hash to each owning shard; the worker
		// only needs a stable place to collect partial results, so it
		// submits one job per shard group and a merge happens in
		// drainResults via pendingScrapes.
		w.submitScrape(txnID, addr, req.Inner.InfoHashes)

	default:
		w.send(WriteError(txnID, errors.New("unknown action")), addr)
	}
}

// scrapeGather accumulates partial ScrapeResponses for one in-flight scrape
// until every shard that owns one of the requested hashes has replied.
type scrapeGather struct {
	addr      *net.UDPAddr
	txnID     [4]byte
	requested []bittorrent.InfoHash
	remaining int
	files     map[bittorrent.InfoHash]bittorrent.Scrape
}

func (w *Worker) submitScrape(txnID [4]byte, addr *net.UDPAddr, hashes []bittorrent.InfoHash) {
	byShard := make(map[int][]bittorrent.InfoHash)
	for _, ih := range hashes {
		r := w.fabric.ShardFor(ih)
		byShard[r] = append(byShard[r], ih)
	}

	gather := &scrapeGather{
		addr:      addr,
		txnID:     txnID,
		requested: hashes,
		remaining: len(byShard),
		files:     make(map[bittorrent.InfoHash]bittorrent.Scrape),
	}
	if w.pendingScrapes == nil {
		w.pendingScrapes = make(map[[4]byte]*scrapeGather)
	}
	w.pendingScrapes[txnID] = gather

	for _, group := range byShard {
		job := dispatch.Job{
			Kind: dispatch.JobScrape,
			Origin: dispatch.Origin{
				SocketWorker: w.cfg.Index,
				TxnID:        txnID,
			},
			Scrape: &bittorrent.ScrapeRequest{InfoHashes: group},
		}
		if dropped := w.socket.Submit(group[0], job); dropped && w.cfg.Counters != nil {
			w.cfg.Counters.IncDropped()
		}
	}
}

func (w *Worker) drainResults() {
	results, cursor := w.socket.PollResults(w.resultCursor, 4096)
	w.resultCursor = cursor

	for _, r := range results {
		switch r.Kind {
		case dispatch.JobAnnounce:
			if r.Err != nil {
				w.sendTo(WriteError(r.Origin.TxnID, r.Err), r.Origin)
				continue
			}
			w.sendTo(WriteAnnounce(r.Origin.TxnID, r.Announce), r.Origin)

		case dispatch.JobScrape:
			gather, ok := w.pendingScrapes[r.Origin.TxnID]
			if !ok {
				continue
			}
			if r.Scrape != nil {
				for ih, s := range r.Scrape.Files {
					gather.files[ih] = s
				}
			}
			gather.remaining--
			if gather.remaining <= 0 {
				resp := &bittorrent.ScrapeResponse{Files: gather.files}
				w.send(WriteScrape(gather.txnID, gather.requested, resp), gather.addr)
				delete(w.pendingScrapes, r.Origin.TxnID)
			}
		}
	}
}

func (w *Worker) send(b []byte, addr *net.UDPAddr) {
	n, _ := w.conn.WriteToUDP(b, addr)
	if w.cfg.Counters != nil {
		w.cfg.Counters.AddBytesOut(uint64(n))
	}
}

func (w *Worker) sendTo(b []byte, origin dispatch.Origin) {
	addr := &net.UDPAddr{IP: origin.ClientAddr.IP, Port: int(origin.ClientPort)}
	w.send(b, addr)
}

// Stop shuts the worker down: it stops accepting new datagrams, unblocks
// any in-flight ReadFromUDP, and waits for Run to return.
func (w *Worker) Stop() stop.Result {
	c := make(stop.Channel)
	go func() {
		close(w.closing)
		_ = w.conn.SetReadDeadline(time.Now())
		<-w.done
		c.Done(w.conn.Close())
	}()
	return c.Result()
}
