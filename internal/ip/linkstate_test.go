package ip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/anser/internal/route"
)

func TestLinkStateCodec(t *testing.T) {
	prefixes := []route.Prefix{
		{Addr: 0x0a640100, Mask: 0xffffff00},
		{Addr: 0x0a640200, Mask: 0xffffff00},
	}
	neighbors := []route.Neighbor{
		{Addr: 0x0a640202, Cost: 1},
	}
	b := marshalLinkState(7, 60, prefixes, neighbors)

	rec, err := parseLinkState(0x0a640101, b)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x0a640101), rec.Origin)
	assert.Equal(t, uint32(7), rec.Seq)
	assert.Equal(t, uint32(60), rec.Age)
	assert.Equal(t, prefixes, rec.Prefixes)
	assert.Equal(t, neighbors, rec.Neighbors)
}

func TestLinkStateTruncated(t *testing.T) {
	b := marshalLinkState(1, 60, []route.Prefix{{Addr: 1, Mask: 0xffffffff}}, nil)
	_, err := parseLinkState(42, b[:len(b)-2])
	assert.Error(t, err)

	_, err = parseLinkState(42, b[:8])
	assert.Error(t, err)
}

func TestLinkStateEmpty(t *testing.T) {
	b := marshalLinkState(3, 50, nil, nil)
	rec, err := parseLinkState(9, b)
	require.NoError(t, err)
	assert.Empty(t, rec.Prefixes)
	assert.Empty(t, rec.Neighbors)
}
