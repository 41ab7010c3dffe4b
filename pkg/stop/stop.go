// Package stop implements a pattern for asynchronous, idempotent shutdown.
//
// A component's Stop method returns immediately and hands back a Result the
// caller can wait on for the real teardown — draining channels, closing
// sockets, joining goroutines — to finish in the background.
package stop

import "sync"

// Result is returned by a Stop method. The caller receives at most one
// value (nil on a clean shutdown, non-nil on a shutdown error) and the
// channel is always closed afterward.
type Result <-chan error

// Channel is the producer side of a Result.
type Channel chan error

// Done reports the outcome of a shutdown and closes the channel. Calling it
// twice panics, since that indicates two goroutines raced to finish the
// same shutdown.
func (c Channel) Done(err error) {
	if err != nil {
		c <- err
	}
	close(c)
}

// Result exposes c as a read-only Result.
func (c Channel) Result() Result { return Result((chan error)(c)) }

// AlreadyStopped is a Result that is already closed, for Stop
// implementations called on an already-stopped component.
var AlreadyStopped Result

func init() {
	c := make(Channel)
	close(c)
	AlreadyStopped = c.Result()
}

// Stopper is anything that can be asked to shut down.
type Stopper interface {
	Stop() Result
}

// Group stops a collection of Stoppers concurrently and waits for all of
// them to finish, used by the supervisor to tear down every socket worker,
// request worker, the cleaner, and the metrics server together on SIGTERM.
type Group struct {
	mu        sync.Mutex
	stoppable []Stopper
}

// NewGroup allocates an empty Group.
func NewGroup() *Group { return &Group{} }

// Add registers a Stopper with the group.
func (g *Group) Add(s Stopper) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stoppable = append(g.stoppable, s)
}

// Stop stops every registered member concurrently and blocks until all have
// finished, returning every non-nil error encountered.
func (g *Group) Stop() []error {
	g.mu.Lock()
	members := append([]Stopper(nil), g.stoppable...)
	g.mu.Unlock()

	results := make([]Result, len(members))
	for i, m := range members {
		results[i] = m.Stop()
	}

	var errs []error
	for _, r := range results {
		if err := <-r; err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
