package dispatch

import (
	"time"

	"github.com/tracktile/tracktile/bittorrent"
)

// SocketEndpoint is the fabric view held by one socket worker.
type SocketEndpoint struct {
	fabric *Fabric
	index  int
	in     []*Queue[Result]
}

// Submit routes job to the request worker owning job's info hash. Submit
// never blocks: a full bounded queue drops the job and reports dropped.
func (e *SocketEndpoint) Submit(ih bittorrent.InfoHash, job Job) (dropped bool) {
	r := e.fabric.ShardFor(ih)
	return e.fabric.toRequest[r][e.index].Push(job)
}

// PollResults drains every available Result across all request workers in
// round-robin order starting just after the last worker served, so a
// request worker under heavy load cannot starve the others' Results from
// reaching this socket worker.
func (e *SocketEndpoint) PollResults(next int, max int) ([]Result, int) {
	if len(e.in) == 0 {
		return nil, next
	}

	var out []Result
	n := len(e.in)
	cursor := next % n
	for scanned := 0; scanned < n && len(out) < max; scanned++ {
		idx := (cursor + scanned) % n
		for len(out) < max {
			v, ok := e.in[idx].TryPop()
			if !ok {
				break
			}
			out = append(out, v)
		}
	}
	return out, (cursor + 1) % n
}

// Next blocks until a Result is available from any request worker, fanning
// in round-robin like RequestEndpoint.Next. Used by socket workers with no
// read loop of their own to interleave polling with (the WebSocket
// frontend, whose connections are served by per-connection goroutines
// rather than a batch receive loop).
func (e *SocketEndpoint) Next(cursor *int) (Result, bool) {
	n := len(e.in)
	if n == 0 {
		return Result{}, false
	}

	for {
		for scanned := 0; scanned < n; scanned++ {
			idx := (*cursor + scanned) % n
			if v, ok := e.in[idx].TryPop(); ok {
				*cursor = (idx + 1) % n
				return v, true
			}
		}

		idx := *cursor % n
		v, ok := e.in[idx].Pop()
		if ok {
			*cursor = (idx + 1) % n
			return v, true
		}
		allClosed := true
		for _, q := range e.in {
			if !q.closedAndEmpty() {
				allClosed = false
				break
			}
		}
		if allClosed {
			return Result{}, false
		}
		*cursor = (idx + 1) % n
	}
}

// Close shuts down every inbound Result queue for this socket worker.
func (e *SocketEndpoint) Close() {
	for _, q := range e.in {
		q.Close()
	}
}

// RequestEndpoint is the fabric view held by one request worker.
type RequestEndpoint struct {
	fabric *Fabric
	index  int
	in     []*Queue[Job]
}

// Reply routes result back to the socket worker that originated it, and
// fans out any Relays to their own targets' socket workers — which may
// differ from the originating one, since a WebSocket offer/answer relay is
// addressed to whichever connection the swarm store says is holding the
// other end of the signalling exchange.
func (e *RequestEndpoint) Reply(result Result) {
	e.fabric.toSocket[result.Origin.SocketWorker][e.index].Push(result)
	for _, relay := range result.Relays {
		e.fabric.toSocket[relay.Target.SocketWorker][e.index].Push(Result{
			Kind:   JobRelay,
			Origin: relay.Target,
			Relays: []Relay{relay},
		})
	}
}

// Next blocks until a Job is available from any socket worker, visiting
// inbound queues in round-robin order so no single socket worker can starve
// the others. It returns ok=false once every inbound queue is closed and
// drained, signalling the request worker to exit.
func (e *RequestEndpoint) Next(cursor *int) (Job, bool) {
	n := len(e.in)
	if n == 0 {
		return Job{}, false
	}

	for {
		allClosed := true
		for scanned := 0; scanned < n; scanned++ {
			idx := (*cursor + scanned) % n
			if v, ok := e.in[idx].TryPop(); ok {
				*cursor = (idx + 1) % n
				return v, true
			}
		}

		// Nothing ready anywhere: block on the next queue in rotation so we
		// don't spin, then re-scan from there once it wakes.
		idx := *cursor % n
		v, ok := e.in[idx].Pop()
		if ok {
			*cursor = (idx + 1) % n
			return v, true
		}
		// This queue closed with nothing left; check whether they all are.
		for _, q := range e.in {
			if !q.closedAndEmpty() {
				allClosed = false
				break
			}
		}
		if allClosed {
			return Job{}, false
		}
		*cursor = (idx + 1) % n
	}
}

// NextTimeout is like Next but gives up and returns (zero, false, true)
// once timeout elapses with nothing to deliver, instead of blocking
// indefinitely. The request worker uses this to interleave its normal
// receive loop with periodic shard cleaning (spec §5's "request workers
// suspend on their inbound channel set, blocking receive with timeout").
// The third return value is false only once every inbound queue has been
// closed and drained, signalling the worker to exit for good.
func (e *RequestEndpoint) NextTimeout(cursor *int, timeout time.Duration) (job Job, ok bool, open bool) {
	n := len(e.in)
	if n == 0 {
		return Job{}, false, false
	}

	const pollInterval = time.Millisecond
	deadline := time.Now().Add(timeout)

	for {
		for scanned := 0; scanned < n; scanned++ {
			idx := (*cursor + scanned) % n
			if v, ok := e.in[idx].TryPop(); ok {
				*cursor = (idx + 1) % n
				return v, true, true
			}
		}

		allClosed := true
		for _, q := range e.in {
			if !q.closedAndEmpty() {
				allClosed = false
				break
			}
		}
		if allClosed {
			return Job{}, false, false
		}
		if time.Now().After(deadline) {
			return Job{}, false, true
		}
		time.Sleep(pollInterval)
	}
}

// closedAndEmpty reports whether q is closed and has no buffered items.
func (q *Queue[T]) closedAndEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.items) == 0
}
