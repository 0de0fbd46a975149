package ip

import (
	"encoding/binary"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksumRoundTrip(t *testing.T) {
	// Header with version/IHL=0x45, TOS=0, total-length=40, id=0,
	// flags=0x40, offset=0, TTL=255, protocol=6, src=10.100.1.1,
	// dst=10.100.2.3.
	header := []byte{
		0x45, 0x00, 0x00, 0x28,
		0x00, 0x00, 0x40, 0x00,
		0xff, 0x06, 0x00, 0x00,
		10, 100, 1, 1,
		10, 100, 2, 3,
	}
	sum := Checksum(header)
	require.NotZero(t, sum)
	binary.BigEndian.PutUint16(header[10:12], sum)

	assert.True(t, VerifySum(header), "verification over header including checksum must be zero")
}

func TestChecksumIsOwnInverse(t *testing.T) {
	data := make([]byte, 20)
	for i := range data {
		data[i] = byte(i*7 + 3)
	}
	sum := Checksum(data)
	withSum := append(append([]byte{}, data...), byte(sum>>8), byte(sum))
	assert.Zero(t, Checksum(withSum))
}

func TestChecksumOddLength(t *testing.T) {
	// A trailing odd byte is padded with zero on the right.
	odd := []byte{0x12, 0x34, 0xab}
	even := []byte{0x12, 0x34, 0xab, 0x00}
	assert.Equal(t, Checksum(even), Checksum(odd))
}

func TestChecksumFoldsAllCarries(t *testing.T) {
	// Enough 0xffff words to overflow the 16-bit sum many times over
	// (32768 words sum to 0x7fff8000); folding the carries yields 0xffff.
	data := make([]byte, 1<<16)
	for i := range data {
		data[i] = 0xff
	}
	assert.Zero(t, Checksum(data), "all-ones data sums to 0xffff, complement zero")
}

func TestMarshalHeaderVerifies(t *testing.T) {
	b := make([]byte, HeaderLen)
	marshalHeader(b, netip.MustParseAddr("10.100.1.1"), netip.MustParseAddr("10.100.2.3"), ProtoTCP, 20)
	assert.True(t, VerifySum(b))

	h, err := parseHeader(b)
	require.NoError(t, err)
	assert.Equal(t, uint8(4), h.Version)
	assert.Equal(t, uint8(5), h.IHL)
	assert.Equal(t, uint16(40), h.TotalLen)
	assert.Equal(t, uint8(255), h.TTL)
	assert.Equal(t, uint16(flagDontFrag), h.FlagsOffset)
	assert.Equal(t, netip.MustParseAddr("10.100.1.1"), h.Src)
	assert.Equal(t, netip.MustParseAddr("10.100.2.3"), h.Dst)
}
