package dispatch

import "github.com/tracktile/tracktile/bittorrent"

// Origin tags a Job with where its Result must be delivered: the socket
// worker that received it, the client address on that socket worker's
// transport, and (for UDP) the transaction id to echo back.
type Origin struct {
	SocketWorker int
	ClientAddr   bittorrent.IP
	ClientPort   uint16
	TxnID        [4]byte         // UDP only
	ConnToken    uint64          // WebSocket only: the connection table token
	InfoHash     bittorrent.InfoHash // WebSocket only: echoed back in the announce reply
}

// JobKind distinguishes the request shapes a request worker handles.
type JobKind uint8

const (
	JobAnnounce JobKind = iota
	JobScrape
	// JobAnswer relays a WebRTC answer to the peer that made the matching
	// offer. It carries no response of its own load; any Result it
	// produces is delivered purely via Relays.
	JobAnswer
	// JobRelay tags a Result synthesized by Reply to deliver a single
	// Relay to a connection other than the one that submitted the
	// original Job. Never appears on a Job.
	JobRelay
)

// Job is one unit of work routed from a socket worker to the request
// worker that owns the relevant info hash shard.
type Job struct {
	Kind     JobKind
	Origin   Origin
	Announce *bittorrent.AnnounceRequest
	Scrape   *bittorrent.ScrapeRequest
	Answer   *bittorrent.AnswerRelay
}

// Relay is an additional message a request worker wants delivered to a
// connection other than the one that submitted the Job — used to fan a
// WebSocket announce's offers out to the peers selected to receive them,
// and to route a WebRTC answer back to the peer that made the offer.
type Relay struct {
	Target Origin
	Offer  *bittorrent.OfferRelay
	Answer *bittorrent.AnswerRelay
}

// Result is the response routed back from a request worker to the
// originating socket worker.
type Result struct {
	Kind     JobKind
	Origin   Origin
	Announce *bittorrent.AnnounceResponse
	Scrape   *bittorrent.ScrapeResponse
	Relays   []Relay
	Err      error
}

// Fabric is the full R×S dispatch topology: one Queue per (socket, request)
// pair in each direction, so that a given socket worker and a given request
// worker never share a queue endpoint with any other worker.
type Fabric struct {
	numSocket  int
	numRequest int

	// toRequest[r][s] carries Jobs from socket worker s to request worker r.
	toRequest [][]*Queue[Job]
	// toSocket[s][r] carries Results from request worker r to socket worker s.
	toSocket [][]*Queue[Result]
}

// NewFabric builds a Fabric for numSocket socket workers and numRequest
// request workers. channelSize <= 0 means unbounded, matching
// worker_channel_size == 0 in the configuration.
func NewFabric(numSocket, numRequest, channelSize int) *Fabric {
	f := &Fabric{
		numSocket:  numSocket,
		numRequest: numRequest,
		toRequest:  make([][]*Queue[Job], numRequest),
		toSocket:   make([][]*Queue[Result], numSocket),
	}

	for r := 0; r < numRequest; r++ {
		f.toRequest[r] = make([]*Queue[Job], numSocket)
		for s := 0; s < numSocket; s++ {
			f.toRequest[r][s] = NewQueue[Job](channelSize)
		}
	}
	for s := 0; s < numSocket; s++ {
		f.toSocket[s] = make([]*Queue[Result], numRequest)
		for r := 0; r < numRequest; r++ {
			f.toSocket[s][r] = NewQueue[Result](channelSize)
		}
	}

	return f
}

// ShardFor returns the request worker index owning ih, per spec's
// "info_hash[0..8] interpreted as u64, then mod num_request_workers".
func (f *Fabric) ShardFor(ih bittorrent.InfoHash) int {
	return int(ih.ShardKey() % uint64(f.numRequest))
}

// SocketSide returns the view of the fabric used by socket worker index s:
// a Submit function routing a Job to its owning request worker, and a
// FanIn reader pulling Results from every request worker in turn.
func (f *Fabric) SocketSide(s int) *SocketEndpoint {
	in := make([]*Queue[Result], f.numRequest)
	for r := 0; r < f.numRequest; r++ {
		in[r] = f.toSocket[s][r]
	}
	return &SocketEndpoint{fabric: f, index: s, in: in}
}

// RequestSide returns the view of the fabric used by request worker index
// r: a fan-in reader pulling Jobs from every socket worker, and a Reply
// function routing a Result back to its originating socket worker.
func (f *Fabric) RequestSide(r int) *RequestEndpoint {
	in := make([]*Queue[Job], f.numSocket)
	for s := 0; s < f.numSocket; s++ {
		in[s] = f.toRequest[r][s]
	}
	return &RequestEndpoint{fabric: f, index: r, in: in}
}

// NumRequest reports the number of request workers, for the statistics
// collector and the fair fan-in rotation.
func (f *Fabric) NumRequest() int { return f.numRequest }

// NumSocket reports the number of socket workers.
func (f *Fabric) NumSocket() int { return f.numSocket }

// Close shuts down every queue in the fabric, used during graceful
// shutdown once every worker has stopped producing.
func (f *Fabric) Close() {
	for _, row := range f.toRequest {
		for _, q := range row {
			q.Close()
		}
	}
	for _, row := range f.toSocket {
		for _, q := range row {
			q.Close()
		}
	}
}
