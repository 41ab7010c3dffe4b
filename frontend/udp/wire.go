// Package udp implements the BEP-15 UDP tracker protocol: wire codec in
// this file, the socket worker in worker.go.
package udp

import (
	"encoding/binary"
	"net"

	"github.com/tracktile/tracktile/bittorrent"
)

// Action identifies a UDP tracker request/response as specified by BEP 15.
type Action uint32

const (
	ActionConnect Action = iota
	ActionAnnounce
	ActionScrape
	ActionError
)

// protocolID is the BEP-15 magic constant that must prefix every connect
// request.
const protocolID uint64 = 0x41727101980

// wireEventByID maps the wire's event encoding (0=none,1=completed,
// 2=started,3=stopped — NOT the same ordinal order as bittorrent.Event) to
// the shared Event type.
var wireEventByID = [...]bittorrent.Event{
	bittorrent.None,
	bittorrent.Completed,
	bittorrent.Started,
	bittorrent.Stopped,
}

var wireEventID = map[bittorrent.Event]uint32{
	bittorrent.None:      0,
	bittorrent.Completed: 1,
	bittorrent.Started:   2,
	bittorrent.Stopped:   3,
}

var (
	errMalformedPacket = bittorrent.ClientError("malformed packet")
	errUnknownAction   = bittorrent.ClientError("unknown action")
	errBadConnectionID = bittorrent.ClientError("bad connection id")
)

// ConnectRequest is a parsed BEP-15 connect request.
type ConnectRequest struct {
	TxnID [4]byte
}

// ParseConnect parses a connect request. packet must already have been
// routed here because its action field decoded to ActionConnect.
func ParseConnect(packet []byte) (*ConnectRequest, error) {
	if len(packet) < 16 {
		return nil, errMalformedPacket
	}
	if binary.BigEndian.Uint64(packet[0:8]) != protocolID {
		return nil, errMalformedPacket
	}

	var req ConnectRequest
	copy(req.TxnID[:], packet[12:16])
	return &req, nil
}

// WriteConnect encodes a connect response: connection_id keyed to the
// requester's source address.
func WriteConnect(txnID [4]byte, connectionID uint64) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint32(buf[0:4], uint32(ActionConnect))
	copy(buf[4:8], txnID[:])
	binary.BigEndian.PutUint64(buf[8:16], connectionID)
	return buf
}

// AnnounceRequest is a parsed BEP-15 announce request, including the
// fields not carried by bittorrent.AnnounceRequest (txn id, connection id,
// key, explicit IP override, requested port).
type AnnounceRequest struct {
	ConnectionID uint64
	TxnID        [4]byte
	Inner        bittorrent.AnnounceRequest
	Key          uint32
	Port         uint16
	IPOverride   net.IP // nil unless the client set the ip field (non-zero)
}

// announceRequestLen is the fixed length of a BEP-15 announce request:
// conn_id(8) action(4) txn_id(4) info_hash(20) peer_id(20) downloaded(8)
// left(8) uploaded(8) event(4) ip(4) key(4) num_want(4) port(2).
const announceRequestLen = 8 + 4 + 4 + 20 + 20 + 8 + 8 + 8 + 4 + 4 + 4 + 4 + 2

// ParseAnnounce parses an announce request. sourceIP is the UDP packet's
// actual source address, used unless the client set a non-zero ip field.
func ParseAnnounce(packet []byte, sourceIP net.IP) (*AnnounceRequest, error) {
	if len(packet) < announceRequestLen {
		return nil, errMalformedPacket
	}

	var req AnnounceRequest
	req.ConnectionID = binary.BigEndian.Uint64(packet[0:8])
	copy(req.TxnID[:], packet[12:16])

	infoHash := packet[16:36]
	peerID := packet[36:56]
	downloaded := binary.BigEndian.Uint64(packet[56:64])
	left := binary.BigEndian.Uint64(packet[64:72])
	uploaded := binary.BigEndian.Uint64(packet[72:80])

	eventID := binary.BigEndian.Uint32(packet[80:84])
	if int(eventID) >= len(wireEventByID) {
		return nil, errMalformedPacket
	}

	ipField := binary.BigEndian.Uint32(packet[84:88])
	req.Key = binary.BigEndian.Uint32(packet[88:92])

	numWant := int32(binary.BigEndian.Uint32(packet[92:96]))
	req.Port = binary.BigEndian.Uint16(packet[96:98])

	ip := sourceIP
	if ipField != 0 {
		b := make(net.IP, 4)
		binary.BigEndian.PutUint32(b, ipField)
		req.IPOverride = b
		ip = b
	}

	addr, ok := bittorrent.AssignFamily(ip)
	if !ok {
		return nil, errMalformedPacket
	}

	var numWantU uint32
	if numWant < 0 {
		numWantU = 0 // socket worker substitutes the configured default
	} else {
		numWantU = uint32(numWant)
	}

	req.Inner = bittorrent.AnnounceRequest{
		Event:      wireEventByID[eventID],
		InfoHash:   bittorrent.InfoHashFromBytes(infoHash),
		NumWant:    numWantU,
		Left:       left,
		Downloaded: downloaded,
		Uploaded:   uploaded,
		Peer: bittorrent.Peer{
			ID:   bittorrent.PeerIDFromBytes(peerID),
			Addr: addr,
			Port: req.Port,
		},
	}

	return &req, nil
}

// WriteAnnounce encodes an announce response, emitting each peer's address
// in its native 4- or 16-byte form.
func WriteAnnounce(txnID [4]byte, resp *bittorrent.AnnounceResponse) []byte {
	buf := make([]byte, 20, 20+len(resp.Peers)*18)
	binary.BigEndian.PutUint32(buf[0:4], uint32(ActionAnnounce))
	copy(buf[4:8], txnID[:])
	binary.BigEndian.PutUint32(buf[8:12], uint32(resp.Interval.Seconds()))
	binary.BigEndian.PutUint32(buf[12:16], uint32(resp.Incomplete))
	binary.BigEndian.PutUint32(buf[16:20], uint32(resp.Complete))

	for _, p := range resp.Peers {
		buf = append(buf, p.Addr.IP...)
		var portBuf [2]byte
		binary.BigEndian.PutUint16(portBuf[:], p.Port)
		buf = append(buf, portBuf[:]...)
	}

	return buf
}

// ScrapeRequest is a parsed BEP-15 scrape request.
type ScrapeRequest struct {
	ConnectionID uint64
	TxnID        [4]byte
	Inner        bittorrent.ScrapeRequest
}

// ParseScrape parses a scrape request. maxInfoHashes enforces spec.md's
// 74-hash UDP MTU limit (configurable as max_scrape_torrents).
func ParseScrape(packet []byte, maxInfoHashes int) (*ScrapeRequest, error) {
	if len(packet) < 16 || (len(packet)-16)%20 != 0 {
		return nil, errMalformedPacket
	}

	var req ScrapeRequest
	req.ConnectionID = binary.BigEndian.Uint64(packet[0:8])
	copy(req.TxnID[:], packet[12:16])

	rest := packet[16:]
	n := len(rest) / 20
	if n > maxInfoHashes {
		n = maxInfoHashes
	}

	hashes := make([]bittorrent.InfoHash, 0, n)
	for i := 0; i < n; i++ {
		hashes = append(hashes, bittorrent.InfoHashFromBytes(rest[i*20:i*20+20]))
	}
	req.Inner = bittorrent.ScrapeRequest{InfoHashes: hashes}

	return &req, nil
}

// WriteScrape encodes a scrape response, one (seeders, completed, leechers)
// triple per requested info hash in request order. resp.Files entries
// missing a hash are encoded as all-zero, matching "unknown hashes yield
// zeros".
func WriteScrape(txnID [4]byte, requested []bittorrent.InfoHash, resp *bittorrent.ScrapeResponse) []byte {
	buf := make([]byte, 8, 8+len(requested)*12)
	binary.BigEndian.PutUint32(buf[0:4], uint32(ActionScrape))
	copy(buf[4:8], txnID[:])

	for _, ih := range requested {
		s := resp.Files[ih]
		var triple [12]byte
		binary.BigEndian.PutUint32(triple[0:4], s.Complete)
		binary.BigEndian.PutUint32(triple[4:8], s.Downloaded)
		binary.BigEndian.PutUint32(triple[8:12], s.Incomplete)
		buf = append(buf, triple[:]...)
	}

	return buf
}

// WriteError encodes a BEP-15 error response: action=3, txn id, then the
// error message as ASCII (no trailing NUL — BEP 15 treats the rest of the
// packet as the message).
func WriteError(txnID [4]byte, err error) []byte {
	msg := err.Error()
	if _, ok := err.(bittorrent.ClientError); !ok {
		msg = "internal error occurred"
	}

	buf := make([]byte, 8, 8+len(msg))
	binary.BigEndian.PutUint32(buf[0:4], uint32(ActionError))
	copy(buf[4:8], txnID[:])
	buf = append(buf, msg...)
	return buf
}

// ParseAction reads just the action field from a raw packet, used by the
// socket worker to decide how to dispatch before doing the full parse.
func ParseAction(packet []byte) (Action, [4]byte, uint64, error) {
	if len(packet) < 16 {
		return 0, [4]byte{}, 0, errMalformedPacket
	}

	connID := binary.BigEndian.Uint64(packet[0:8])
	action := Action(binary.BigEndian.Uint32(packet[8:12]))
	var txnID [4]byte
	copy(txnID[:], packet[12:16])

	if action > ActionError {
		return 0, txnID, 0, errUnknownAction
	}

	return action, txnID, connID, nil
}
