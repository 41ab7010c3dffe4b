package accesslist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracktile/tracktile/bittorrent"
)

const (
	hashA = "0123456789abcdef0123456789abcdef01234567"[:40]
	hashB = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
)

func writeList(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "access.list")
	var content string
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFromPath(t *testing.T) {
	path := writeList(t, hashA, hashB)

	l, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 2, l.Len())
	assert.True(t, l.Allows(Require, bittorrent.InfoHashFromString(mustHex(t, hashA))))
}

func TestLoadFromPathRejectsMalformed(t *testing.T) {
	cases := [][]string{
		{"not-hex"},
		{hashA[:38]},
		{"ABCDEF0123456789ABCDEF0123456789ABCDEF01"},
		{""},
	}
	for _, lines := range cases {
		path := writeList(t, lines...)
		_, err := LoadFromPath(path)
		assert.Error(t, err)
	}
}

func TestModeRequire(t *testing.T) {
	path := writeList(t, hashA)
	l, err := LoadFromPath(path)
	require.NoError(t, err)

	in := bittorrent.InfoHashFromString(mustHex(t, hashA))
	out := bittorrent.InfoHashFromString(mustHex(t, hashB))

	assert.True(t, l.Allows(Require, in))
	assert.False(t, l.Allows(Require, out))
}

func TestModeForbid(t *testing.T) {
	path := writeList(t, hashA)
	l, err := LoadFromPath(path)
	require.NoError(t, err)

	in := bittorrent.InfoHashFromString(mustHex(t, hashA))
	out := bittorrent.InfoHashFromString(mustHex(t, hashB))

	assert.False(t, l.Allows(Forbid, in))
	assert.True(t, l.Allows(Forbid, out))
}

func TestModeIgnoreShortCircuits(t *testing.T) {
	l := empty
	out := bittorrent.InfoHashFromString(mustHex(t, hashB))
	assert.True(t, l.Allows(Ignore, out))
}

func TestSnapshotReloadIsVisibleToReaders(t *testing.T) {
	s := NewSnapshot(Require)
	ih := bittorrent.InfoHashFromString(mustHex(t, hashA))
	assert.False(t, s.Allows(ih))

	path := writeList(t, hashA)
	require.NoError(t, s.Reload(path))
	assert.True(t, s.Allows(ih))
}

func TestSnapshotReloadIsIdempotent(t *testing.T) {
	s := NewSnapshot(Require)
	path := writeList(t, hashA, hashB)

	require.NoError(t, s.Reload(path))
	first := s.Current()

	require.NoError(t, s.Reload(path))
	second := s.Current()

	assert.Equal(t, first.Len(), second.Len())
	ih := bittorrent.InfoHashFromString(mustHex(t, hashA))
	assert.Equal(t, first.Allows(Require, ih), second.Allows(Require, ih))
}

// mustHex decodes a 40-character hex info hash into its raw 20-byte form,
// mirroring what parseHexInfoHash does internally.
func mustHex(t *testing.T, s string) string {
	t.Helper()
	require.Len(t, s, 40)
	b := make([]byte, 20)
	for i := 0; i < 20; i++ {
		hi := hexNibble(t, s[i*2])
		lo := hexNibble(t, s[i*2+1])
		b[i] = hi<<4 | lo
	}
	return string(b)
}

func hexNibble(t *testing.T, c byte) byte {
	t.Helper()
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		t.Fatalf("invalid hex nibble %q", c)
		return 0
	}
}
