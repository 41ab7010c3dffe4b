package ws

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tracktile/tracktile/accesslist"
	"github.com/tracktile/tracktile/bittorrent"
	"github.com/tracktile/tracktile/dispatch"
	"github.com/tracktile/tracktile/pkg/log"
	"github.com/tracktile/tracktile/pkg/stop"
	"github.com/tracktile/tracktile/pkg/timecache"
	"github.com/tracktile/tracktile/stats"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Config configures a WebSocket socket worker.
type Config struct {
	Index            int
	Addr             string
	MaxConnectionAge time.Duration
	DefaultNumWant   uint32

	// Counters receives this worker's published byte/request/drop counts
	// for the statistics collector. Nil disables publishing.
	Counters *stats.WorkerCounters
}

// Worker owns one WebSocket listener. Unlike the UDP frontend's batch
// receive loop, each connection is served by its own pair of goroutines (a
// read pump and a write pump) fed into a shared dispatch.SocketEndpoint —
// the idiomatic Go substitute for the original's readiness-polling state
// machine, per the decision recorded for this rewrite.
type Worker struct {
	cfg    Config
	table  *Table
	fabric *dispatch.Fabric
	socket *dispatch.SocketEndpoint
	access *accesslist.Snapshot
	server *http.Server

	closing chan struct{}
	done    chan struct{}
}

// NewWorker creates a Worker. Call Run to start serving.
func NewWorker(cfg Config, fabric *dispatch.Fabric, access *accesslist.Snapshot) *Worker {
	w := &Worker{
		cfg:     cfg,
		table:   newTable(),
		fabric:  fabric,
		socket:  fabric.SocketSide(cfg.Index),
		access:  access,
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", w.serveUpgrade)
	w.server = &http.Server{Addr: cfg.Addr, Handler: mux}
	return w
}

// Table exposes the connection table for the cleaner and statistics
// collector to wire against.
func (w *Worker) Table() *Table { return w.table }

// Run blocks serving WebSocket connections until Stop is called. A panic is
// recovered only to be logged at Fatal level, which exits the process,
// matching every other worker in this module.
func (w *Worker) Run() {
	defer close(w.done)
	logger := log.With("ws.worker").With().Int("worker_index", w.cfg.Index).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Fatal().Interface("panic", r).Msg("websocket socket worker panicked")
			panic(r)
		}
	}()

	go w.resultLoop()

	if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("websocket listener exited")
	}
}

// Stop closes the listener and every live connection, then waits for the
// result-delivery loop to drain.
func (w *Worker) Stop() stop.Result {
	c := make(stop.Channel)
	go func() {
		close(w.closing)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := w.server.Shutdown(ctx)
		w.socket.Close()
		<-w.done
		c.Done(err)
	}()
	return c.Result()
}

func (w *Worker) serveUpgrade(wr http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(wr, r, nil)
	if err != nil {
		return
	}

	validUntil := timecache.NowUnixNano() + int64(w.cfg.MaxConnectionAge)
	c := w.table.register(conn, validUntil)

	go w.writePump(c)
	go w.readPump(c)
}

func (w *Worker) readPump(c *Connection) {
	defer func() {
		w.table.unregister(c.Token)
		_ = c.Conn.Close()
	}()

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			return
		}
		if w.cfg.Counters != nil {
			w.cfg.Counters.AddBytesIn(uint64(len(data)))
			w.cfg.Counters.IncRequestsProcessed()
		}
		w.table.refresh(c.Token, timecache.NowUnixNano()+int64(w.cfg.MaxConnectionAge))
		w.handleMessage(c, data)
	}
}

func (w *Worker) writePump(c *Connection) {
	for msg := range c.Send {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
		if w.cfg.Counters != nil {
			w.cfg.Counters.AddBytesOut(uint64(len(msg)))
		}
	}
	_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (w *Worker) handleMessage(c *Connection, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	ih, err := decodeInfoHash(msg.InfoHash)
	if err != nil {
		w.sendJSON(c, failureMessage{FailureReason: "invalid info_hash"})
		return
	}
	peerID, err := decodePeerID(msg.PeerID)
	if err != nil {
		w.sendJSON(c, failureMessage{FailureReason: "invalid peer_id"})
		return
	}

	if msg.Answer != nil {
		toPeerID, err := decodePeerID(msg.ToPeerID)
		if err != nil {
			return
		}
		job := dispatch.Job{
			Kind:   dispatch.JobAnswer,
			Origin: dispatch.Origin{SocketWorker: w.cfg.Index, ConnToken: c.Token, InfoHash: ih},
			Answer: &bittorrent.AnswerRelay{
				InfoHash:   ih,
				FromPeerID: peerID,
				ToPeerID:   toPeerID,
				OfferID:    msg.OfferID,
				SDP:        msg.Answer,
			},
		}
		if dropped := w.socket.Submit(ih, job); dropped && w.cfg.Counters != nil {
			w.cfg.Counters.IncDropped()
		}
		return
	}

	event, err := bittorrent.NewEvent(msg.Event)
	if err != nil {
		w.sendJSON(c, failureMessage{FailureReason: "invalid event"})
		return
	}

	numWant := uint32(msg.NumWant)
	if numWant == 0 {
		numWant = w.cfg.DefaultNumWant
	}
	if len(msg.Offers) > 0 && uint32(len(msg.Offers)) < numWant {
		numWant = uint32(len(msg.Offers))
	}

	offers := make([]bittorrent.Offer, len(msg.Offers))
	for i, o := range msg.Offers {
		offers[i] = bittorrent.Offer{OfferID: o.OfferID, SDP: o.Offer}
	}

	addr, _ := bittorrent.AssignFamily(remoteIP(c.Conn))

	job := dispatch.Job{
		Kind:   dispatch.JobAnnounce,
		Origin: dispatch.Origin{SocketWorker: w.cfg.Index, ConnToken: c.Token, InfoHash: ih},
		Announce: &bittorrent.AnnounceRequest{
			Event:    event,
			InfoHash: ih,
			NumWant:  numWant,
			Peer:     bittorrent.Peer{ID: peerID, Addr: addr},
			Offers:   offers,
		},
	}
	if dropped := w.socket.Submit(ih, job); dropped && w.cfg.Counters != nil {
		w.cfg.Counters.IncDropped()
	}
}

func (w *Worker) resultLoop() {
	cursor := 0
	for {
		r, ok := w.socket.Next(&cursor)
		if !ok {
			return
		}
		w.deliver(r)
	}
}

func (w *Worker) deliver(r dispatch.Result) {
	switch r.Kind {
	case dispatch.JobAnnounce:
		c, ok := w.table.get(r.Origin.ConnToken)
		if !ok {
			return
		}
		if r.Err != nil {
			w.sendJSON(c, failureMessage{FailureReason: r.Err.Error()})
			return
		}
		w.sendJSON(c, announceResponse{
			InfoHash:   hex.EncodeToString(r.Origin.InfoHash[:]),
			Interval:   int(r.Announce.Interval / time.Second),
			Complete:   r.Announce.Complete,
			Incomplete: r.Announce.Incomplete,
		})

	case dispatch.JobRelay:
		for _, relay := range r.Relays {
			c, ok := w.table.get(relay.Target.ConnToken)
			if !ok {
				continue
			}
			switch {
			case relay.Offer != nil:
				w.sendJSON(c, offerRelayMessage{
					InfoHash: hex.EncodeToString(relay.Offer.InfoHash[:]),
					PeerID:   hex.EncodeToString(relay.Offer.FromPeerID[:]),
					OfferID:  relay.Offer.OfferID,
					Offer:    relay.Offer.SDP,
				})
			case relay.Answer != nil:
				w.sendJSON(c, answerRelayMessage{
					InfoHash: hex.EncodeToString(relay.Answer.InfoHash[:]),
					PeerID:   hex.EncodeToString(relay.Answer.FromPeerID[:]),
					OfferID:  relay.Answer.OfferID,
					Answer:   relay.Answer.SDP,
				})
			}
		}
	}
}

func (w *Worker) sendJSON(c *Connection, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.Send <- b:
	default:
		// Send buffer full: the connection is not draining fast enough to
		// keep up, so drop rather than block the result-delivery loop that
		// every other connection also depends on.
	}
}

func decodeInfoHash(s string) (bittorrent.InfoHash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return bittorrent.InfoHash{}, err
	}
	if len(b) != 20 {
		return bittorrent.InfoHash{}, errors.New("ws: info_hash must be 20 bytes")
	}
	return bittorrent.InfoHashFromBytes(b), nil
}

func decodePeerID(s string) (bittorrent.PeerID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return bittorrent.PeerID{}, err
	}
	if len(b) != 20 {
		return bittorrent.PeerID{}, errors.New("ws: peer_id must be 20 bytes")
	}
	return bittorrent.PeerIDFromBytes(b), nil
}

func remoteIP(conn wsConn) net.IP {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return net.ParseIP(conn.RemoteAddr().String())
	}
	return net.ParseIP(host)
}
