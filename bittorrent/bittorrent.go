// Copyright 2016 Jimmy Zelinskie
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bittorrent holds the protocol-agnostic types shared by every
// tracker frontend and by the swarm store: info hashes, peer IDs, announce
// and scrape requests/responses, and the client-vs-internal error split.
package bittorrent

import (
	"encoding/json"
	"time"
)

// Peer is the connection information a tracker keeps about one swarm
// participant. Identity within a torrent is PeerID: a re-announce from the
// same PeerID updates Addr, Seeder and ValidUntil in place rather than
// creating a second entry.
type Peer struct {
	ID        PeerID
	Addr      IP
	Port      uint16
	Seeder    bool
	ValidUntil time.Time
}

// Equal reports whether p and x refer to the same peer identity.
func (p Peer) Equal(x Peer) bool { return p.ID == x.ID }

// AnnounceRequest is the parsed, sanitized form of an announce, common to
// both wire protocols.
type AnnounceRequest struct {
	Event      Event
	InfoHash   InfoHash
	NumWant    uint32
	Left       uint64
	Downloaded uint64
	Uploaded   uint64
	Peer       Peer

	// Offers carries WebRTC SDP offers bundled with a WebSocket announce.
	// Each is paired with one distinct peer selected from the swarm and
	// relayed to it; nil for the UDP frontend, which has no signalling
	// concept.
	Offers []Offer
}

// Offer is one WebRTC SDP offer a WebSocket-announcing peer wants relayed
// to a single other swarm member, identified by OfferID once a matching
// Answer comes back.
type Offer struct {
	OfferID string
	SDP     json.RawMessage
}

// OfferRelay is an Offer addressed to the specific peer selected to receive
// it, carrying the originating peer's identity so the recipient can target
// its Answer back.
type OfferRelay struct {
	InfoHash   InfoHash
	FromPeerID PeerID
	OfferID    string
	SDP        json.RawMessage
}

// AnswerRelay is a WebRTC SDP answer relayed from the peer that received an
// Offer back to the peer that made it.
type AnswerRelay struct {
	InfoHash   InfoHash
	FromPeerID PeerID
	ToPeerID   PeerID
	OfferID    string
	SDP        json.RawMessage
}

// AnnounceResponse is the tracker's reply to an AnnounceRequest.
type AnnounceResponse struct {
	Interval   time.Duration
	Complete   int32
	Incomplete int32
	Peers      []Peer
}

// ScrapeRequest asks for aggregate swarm counters for up to
// max_scrape_torrents info hashes.
type ScrapeRequest struct {
	InfoHashes []InfoHash
}

// Scrape is the aggregate state of one swarm returned in a ScrapeResponse.
type Scrape struct {
	Complete   uint32
	Incomplete uint32
	Downloaded uint32
}

// ScrapeResponse maps each requested info hash to its Scrape. Info hashes
// unknown to the tracker are present with a zero Scrape.
type ScrapeResponse struct {
	Files map[InfoHash]Scrape
}

// ClientError is an error that is safe to echo back to the client over the
// wire (malformed request, access denied, etc). Any other error is treated
// as internal and is never echoed verbatim.
type ClientError string

func (c ClientError) Error() string { return string(c) }
