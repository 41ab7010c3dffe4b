// Package ws implements the WebTorrent frontend: WebSocket connections
// carrying JSON announce/offer/answer messages, routed through the same
// dispatch fabric and swarm shards as the UDP frontend.
//
// info_hash and peer_id travel over the wire as lowercase hex, the same
// encoding the access list file uses — WebTorrent clients in the wild send
// raw 20-byte binary strings squeezed into a JSON string, which this
// rewrite does not attempt to reproduce byte-for-byte since JSON requires
// valid UTF-8 and the binary-string convention is itself a browser-side
// workaround, not part of spec.md's wire contract.
package ws

import "encoding/json"

// clientMessage is the single incoming frame shape: a plain announce (no
// Offers/Answer), an announce bundling WebRTC offers for new peers, or a
// answer relayed back to the peer that made an offer.
type clientMessage struct {
	InfoHash string          `json:"info_hash"`
	PeerID   string          `json:"peer_id"`
	Event    string          `json:"event,omitempty"`
	NumWant  int             `json:"numwant,omitempty"`
	Offers   []offerMessage  `json:"offers,omitempty"`
	Answer   json.RawMessage `json:"answer,omitempty"`
	ToPeerID string          `json:"to_peer_id,omitempty"`
	OfferID  string          `json:"offer_id,omitempty"`
}

type offerMessage struct {
	OfferID string          `json:"offer_id"`
	Offer   json.RawMessage `json:"offer"`
}

// announceResponse is the reply to a plain or offer-bearing announce.
type announceResponse struct {
	InfoHash   string `json:"info_hash"`
	Interval   int    `json:"interval"`
	Complete   int32  `json:"complete"`
	Incomplete int32  `json:"incomplete"`
}

// offerRelayMessage delivers one peer's offer to the peer selected to
// receive it.
type offerRelayMessage struct {
	InfoHash string          `json:"info_hash"`
	PeerID   string          `json:"peer_id"`
	OfferID  string          `json:"offer_id"`
	Offer    json.RawMessage `json:"offer"`
}

// answerRelayMessage delivers an answer back to the peer that made the
// matching offer.
type answerRelayMessage struct {
	InfoHash string          `json:"info_hash"`
	PeerID   string          `json:"peer_id"`
	OfferID  string          `json:"offer_id"`
	Answer   json.RawMessage `json:"answer"`
}

// failureMessage reports a client-visible error without closing the
// connection, mirroring the UDP frontend's error action.
type failureMessage struct {
	FailureReason string `json:"failure_reason"`
}
