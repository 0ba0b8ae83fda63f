package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfoHashFromBytes(t *testing.T) {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = byte(i)
	}

	h, err := InfoHashFromBytes(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, h.Bytes())

	_, err = InfoHashFromBytes(raw[:10])
	assert.Error(t, err)
}

func TestInfoHashFromHex(t *testing.T) {
	h, err := InfoHashFromHex("0102030405060708090a0b0c0d0e0f1011121314")
	require.NoError(t, err)
	assert.Equal(t, "0102030405060708090a0b0c0d0e0f1011121314", h.String())
}

func TestInfoHashLess(t *testing.T) {
	a, _ := InfoHashFromBytes(make([]byte, 20))
	b := a
	b[19] = 1
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.False(t, a.Less(a))
}

func TestNewPeerIdHasAzureusPrefix(t *testing.T) {
	id, err := NewPeerId()
	require.NoError(t, err)
	s := string(id[:])
	assert.Equal(t, "-GC0001-", s[:8])

	other, err := NewPeerId()
	require.NoError(t, err)
	assert.NotEqual(t, id, other, "random suffix should differ across calls")
}

func TestPeerIdFromBytes(t *testing.T) {
	raw := make([]byte, 20)
	id, err := PeerIdFromBytes(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, id.Bytes())

	_, err = PeerIdFromBytes(raw[:5])
	assert.Error(t, err)
}
