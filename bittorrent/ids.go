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

package bittorrent

// PeerID is an opaque, client-supplied 20-byte peer identifier.
type PeerID [20]byte

// PeerIDFromBytes creates a PeerID from a byte slice.
//
// It panics if b is not 20 bytes long.
func PeerIDFromBytes(b []byte) PeerID {
	if len(b) != 20 {
		panic("peer ID must be 20 bytes")
	}

	var buf [20]byte
	copy(buf[:], b)
	return PeerID(buf)
}

// PeerIDFromString creates a PeerID from a string.
//
// It panics if s is not 20 bytes long.
func PeerIDFromString(s string) PeerID {
	if len(s) != 20 {
		panic("peer ID must be 20 bytes")
	}

	var buf [20]byte
	copy(buf[:], s)
	return PeerID(buf)
}

func (p PeerID) String() string { return string(p[:]) }

// InfoHash is the 20-byte SHA-1 identity of a swarm.
type InfoHash [20]byte

// InfoHashFromBytes creates an InfoHash from a byte slice.
//
// It panics if b is not 20 bytes long.
func InfoHashFromBytes(b []byte) InfoHash {
	if len(b) != 20 {
		panic("infohash must be 20 bytes")
	}

	var buf [20]byte
	copy(buf[:], b)
	return InfoHash(buf)
}

// InfoHashFromString creates an InfoHash from a string.
//
// It panics if s is not 20 bytes long.
func InfoHashFromString(s string) InfoHash {
	if len(s) != 20 {
		panic("infohash must be 20 bytes")
	}

	var buf [20]byte
	copy(buf[:], s)
	return InfoHash(buf)
}

func (i InfoHash) String() string { return string(i[:]) }

// HexString renders the infohash as 40 lowercase hex characters, the format
// used by the access list file and by magnet links.
func (i InfoHash) HexString() string {
	const hextable = "0123456789abcdef"
	var buf [40]byte
	for n, b := range i {
		buf[n*2] = hextable[b>>4]
		buf[n*2+1] = hextable[b&0x0f]
	}
	return string(buf[:])
}

// ShardKey returns the first 8 bytes of the infohash interpreted as a
// big-endian uint64, used by the dispatch fabric to deterministically
// assign an infohash to a request worker without giving an adversary any
// say over which shard it lands on short of grinding the hash itself.
func (i InfoHash) ShardKey() uint64 {
	return uint64(i[0])<<56 | uint64(i[1])<<48 | uint64(i[2])<<40 | uint64(i[3])<<32 |
		uint64(i[4])<<24 | uint64(i[5])<<16 | uint64(i[6])<<8 | uint64(i[7])
}
