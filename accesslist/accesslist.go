// Package accesslist implements the tracker's access control list: a set of
// 20-byte info hashes plus a mode (require/forbid/ignore) that every
// announce and scrape is checked against before it is allowed to touch the
// swarm store.
//
// A List is published behind an atomic.Pointer so that readers — every
// request worker, on every announce — never block, even while the
// supervisor is loading a replacement from disk in response to SIGUSR1.
package accesslist

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/tracktile/tracktile/bittorrent"
)

// Mode selects how a List's membership is interpreted.
type Mode string

const (
	// Require allows only info hashes present in the list.
	Require Mode = "require"
	// Forbid allows every info hash except those present in the list.
	Forbid Mode = "forbid"
	// Ignore allows everything regardless of list contents.
	Ignore Mode = "ignore"
)

// List is an immutable snapshot of the access list's hash set. Once built,
// a List is never mutated — reload replaces it wholesale.
type List struct {
	hashes map[bittorrent.InfoHash]struct{}
}

// Allows reports whether mode permits info hash ih given l's membership.
// Ignore always returns true regardless of l, matching the "short-circuit"
// behavior specified for that mode.
func (l *List) Allows(mode Mode, ih bittorrent.InfoHash) bool {
	if mode == Ignore {
		return true
	}

	_, present := l.hashes[ih]
	switch mode {
	case Require:
		return present
	case Forbid:
		return !present
	default:
		return true
	}
}

// Len reports how many info hashes are present in the list.
func (l *List) Len() int { return len(l.hashes) }

// empty is the List held before the first successful load, behaving like an
// empty set (Require denies everything, Forbid/Ignore allow everything).
var empty = &List{hashes: map[bittorrent.InfoHash]struct{}{}}

// LoadFromPath reads a newline-separated file of lowercase 40-character hex
// info hashes and builds a List from it. Empty lines and malformed lines
// (wrong length, bad hex, or uppercase) are rejected with an error — the
// caller should keep serving the previous snapshot rather than install a
// partially-parsed list.
func LoadFromPath(path string) (*List, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	hashes := make(map[bittorrent.InfoHash]struct{})

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if text == "" {
			return nil, fmt.Errorf("accesslist: %s:%d: empty line is not a valid info hash", path, line)
		}

		ih, err := parseHexInfoHash(text)
		if err != nil {
			return nil, fmt.Errorf("accesslist: %s:%d: %w", path, line, err)
		}

		hashes[ih] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return &List{hashes: hashes}, nil
}

func parseHexInfoHash(s string) (bittorrent.InfoHash, error) {
	if len(s) != 40 {
		return bittorrent.InfoHash{}, fmt.Errorf("info hash %q must be 40 hex characters, got %d", s, len(s))
	}

	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			return bittorrent.InfoHash{}, fmt.Errorf("info hash %q must be lowercase", s)
		}
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return bittorrent.InfoHash{}, fmt.Errorf("info hash %q is not valid hex: %w", s, err)
	}

	return bittorrent.InfoHashFromBytes(b), nil
}

// Snapshot is the atomically-swapped shared pointer publishing the current
// List and Mode to every reader. Install is the only writer; Current is
// called on the hot announce/scrape path and never blocks.
type Snapshot struct {
	mode Mode
	ptr  atomic.Pointer[List]
}

// NewSnapshot creates a Snapshot in the given mode, initially publishing an
// empty List — the supervisor is expected to call Install once a real list
// has been loaded from disk at startup.
func NewSnapshot(mode Mode) *Snapshot {
	s := &Snapshot{mode: mode}
	s.ptr.Store(empty)
	return s
}

// Mode returns the configured access-list mode.
func (s *Snapshot) Mode() Mode { return s.mode }

// Install atomically publishes l as the current List. Concurrent readers
// either see the old List or the new one in its entirety — there is no
// moment at which a reader observes a half-applied list.
func (s *Snapshot) Install(l *List) { s.ptr.Store(l) }

// Current returns the List currently published. The returned pointer is
// safe to keep and query after a concurrent Install — List is immutable.
func (s *Snapshot) Current() *List { return s.ptr.Load() }

// Allows is a convenience wrapper around Current().Allows(s.Mode(), ih).
func (s *Snapshot) Allows(ih bittorrent.InfoHash) bool {
	return s.Current().Allows(s.mode, ih)
}

// Reload loads a fresh List from path and installs it if parsing succeeds.
// Reloading an unchanged file produces an observably identical List (same
// membership), satisfying idempotent reload.
func (s *Snapshot) Reload(path string) error {
	if s.mode == Ignore {
		// Still validate the file so operator typos surface, but an Ignore
		// mode tracker's observable behavior never depends on it.
		l, err := LoadFromPath(path)
		if err != nil {
			return err
		}
		s.Install(l)
		return nil
	}

	l, err := LoadFromPath(path)
	if err != nil {
		return err
	}
	s.Install(l)
	return nil
}
