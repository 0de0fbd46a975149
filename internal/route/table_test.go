package route

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addr(s string) netip.Addr { return netip.MustParseAddr(s) }

func TestLookupLongestPrefix(t *testing.T) {
	tbl := NewTable()
	tbl.SetLocalPrefixes([]Entry{
		{Addr: 0x0a640100, Mask: 0xffffff00, Dev: 0}, // 10.100.1.0/24
	})
	tbl.mu.Lock()
	tbl.entries = []Entry{
		{Addr: 0x0a000000, Mask: 0xff000000, Dev: 1}, // 10.0.0.0/8
		{Addr: 0x0a640000, Mask: 0xffff0000, Dev: 2}, // 10.100.0.0/16
	}
	tbl.mu.Unlock()

	// The mask applies to the destination before comparing; the most
	// specific match wins.
	assert.Equal(t, 0, tbl.Lookup(addr("10.100.1.42")))
	assert.Equal(t, 2, tbl.Lookup(addr("10.100.9.1")))
	assert.Equal(t, 1, tbl.Lookup(addr("10.3.0.1")))
	assert.Equal(t, -1, tbl.Lookup(addr("192.168.0.1")))
}

func TestSetLocalPrefixesRejectsNonContiguousMask(t *testing.T) {
	tbl := NewTable()
	tbl.SetLocalPrefixes([]Entry{
		{Addr: 0x0a640100, Mask: 0xff00ff00, Dev: 0}, // holes in the mask
		{Addr: 0x0a640200, Mask: 0xffffff00, Dev: 1},
	})
	assert.Equal(t, -1, tbl.Lookup(addr("10.100.1.1")))
	assert.Equal(t, 1, tbl.Lookup(addr("10.100.2.1")))
}

func TestAdjacencyAging(t *testing.T) {
	tbl := NewTable()
	tbl.UpsertAdjacency(addr("10.100.1.2"), 25, 0)
	tbl.UpsertAdjacency(addr("10.100.2.2"), 60, 1)

	tbl.Age(10)
	assert.Len(t, tbl.Adjacencies(), 2)

	tbl.Age(10)
	tbl.Age(10)
	adjs := tbl.Adjacencies()
	require.Len(t, adjs, 1, "the 25-tick adjacency expires after three steps of 10")
	assert.Equal(t, uint32(0x0a640202), adjs[0].Peer)
}

func TestUpdateLinkStateSequence(t *testing.T) {
	tbl := NewTable()
	first := LinkState{Origin: 1, Seq: 5, Age: 60}
	assert.True(t, tbl.UpdateLinkState(first), "a new originator is stored and flooded")

	stale := LinkState{Origin: 1, Seq: 4, Age: 60}
	assert.False(t, tbl.UpdateLinkState(stale), "an older sequence is ignored")

	equal := LinkState{Origin: 1, Seq: 5, Age: 60}
	assert.True(t, tbl.UpdateLinkState(equal), "an equal sequence replaces and refloods")
}

// Topology: self -- n1 (10.100.1.2) -- n2 (10.100.9.9). n1 is our direct
// adjacency on device 3; n2 is reachable only through n1 and announces
// 10.200.0.0/16.
func TestRecomputeFirstHop(t *testing.T) {
	tbl := NewTable()
	tbl.UpsertAdjacency(addr("10.100.1.2"), 60, 3)
	tbl.UpdateLinkState(LinkState{
		Origin:    0x0a640102, // 10.100.1.2
		Seq:       1,
		Age:       60,
		Prefixes:  []Prefix{{Addr: 0x0a640100, Mask: 0xffffff00}},
		Neighbors: []Neighbor{{Addr: 0x0a640909, Cost: 1}},
	})
	tbl.UpdateLinkState(LinkState{
		Origin:    0x0a640909, // 10.100.9.9
		Seq:       1,
		Age:       60,
		Prefixes:  []Prefix{{Addr: 0x0ac80000, Mask: 0xffff0000}},
		Neighbors: []Neighbor{{Addr: 0x0a640102, Cost: 1}},
	})
	tbl.Recompute()

	// Both destinations leave through the device facing the first hop.
	assert.Equal(t, 3, tbl.Lookup(addr("10.100.1.77")))
	assert.Equal(t, 3, tbl.Lookup(addr("10.200.3.4")))
}

func TestRecomputeDeduplicatesPrefixes(t *testing.T) {
	tbl := NewTable()
	tbl.UpsertAdjacency(addr("10.100.1.2"), 60, 0)
	tbl.UpsertAdjacency(addr("10.100.2.2"), 60, 1)
	shared := Prefix{Addr: 0x0ac80000, Mask: 0xffff0000}
	tbl.UpdateLinkState(LinkState{Origin: 0x0a640102, Seq: 1, Age: 60,
		Prefixes: []Prefix{shared}})
	tbl.UpdateLinkState(LinkState{Origin: 0x0a640202, Seq: 1, Age: 60,
		Prefixes: []Prefix{shared}})
	tbl.Recompute()

	count := 0
	for _, e := range tbl.Entries() {
		if e.Addr == shared.Addr && e.Mask == shared.Mask {
			count++
		}
	}
	assert.Equal(t, 1, count, "duplicate (address, mask) entries are dropped")
}

func TestExpiredLinkStateLeavesNoRoute(t *testing.T) {
	tbl := NewTable()
	tbl.UpsertAdjacency(addr("10.100.1.2"), 60, 0)
	tbl.UpdateLinkState(LinkState{Origin: 0x0a640102, Seq: 1, Age: 20,
		Prefixes: []Prefix{{Addr: 0x0ac80000, Mask: 0xffff0000}}})
	tbl.Recompute()
	require.NotEqual(t, -1, tbl.Lookup(addr("10.200.0.1")))

	tbl.Age(10)
	tbl.Age(10)
	assert.Equal(t, -1, tbl.Lookup(addr("10.200.0.1")))
}

// Chain topology: self -- n1 -- n2 -- n3. Every destination behind the
// chain must resolve to the device facing n1.
func TestRecomputeMultiHopChain(t *testing.T) {
	tbl := NewTable()
	tbl.UpsertAdjacency(addr("10.100.1.2"), 60, 7)

	n1, n2, n3 := uint32(0x0a640102), uint32(0x0a640202), uint32(0x0a640302)
	tbl.UpdateLinkState(LinkState{Origin: n1, Seq: 1, Age: 60,
		Prefixes:  []Prefix{{Addr: 0x0a640100, Mask: 0xffffff00}},
		Neighbors: []Neighbor{{Addr: n2, Cost: 1}}})
	tbl.UpdateLinkState(LinkState{Origin: n2, Seq: 1, Age: 60,
		Prefixes:  []Prefix{{Addr: 0x0a640200, Mask: 0xffffff00}},
		Neighbors: []Neighbor{{Addr: n1, Cost: 1}, {Addr: n3, Cost: 1}}})
	tbl.UpdateLinkState(LinkState{Origin: n3, Seq: 1, Age: 60,
		Prefixes:  []Prefix{{Addr: 0x0a640300, Mask: 0xffffff00}},
		Neighbors: []Neighbor{{Addr: n2, Cost: 1}}})
	tbl.Recompute()

	assert.Equal(t, 7, tbl.Lookup(addr("10.100.1.50")))
	assert.Equal(t, 7, tbl.Lookup(addr("10.100.2.50")))
	assert.Equal(t, 7, tbl.Lookup(addr("10.100.3.50")))
}

// A cheaper two-hop path must beat a costly direct edge.
func TestRecomputePrefersCheaperPath(t *testing.T) {
	tbl := NewTable()
	tbl.UpsertAdjacency(addr("10.100.1.2"), 60, 1)
	tbl.UpsertAdjacency(addr("10.100.2.2"), 60, 2)

	n1, n2, target := uint32(0x0a640102), uint32(0x0a640202), uint32(0x0a640909)
	tbl.UpdateLinkState(LinkState{Origin: n1, Seq: 1, Age: 60,
		Neighbors: []Neighbor{{Addr: target, Cost: 1}}})
	tbl.UpdateLinkState(LinkState{Origin: n2, Seq: 1, Age: 60,
		Neighbors: []Neighbor{{Addr: target, Cost: 10}}})
	tbl.UpdateLinkState(LinkState{Origin: target, Seq: 1, Age: 60,
		Prefixes:  []Prefix{{Addr: 0x0ac80000, Mask: 0xffff0000}},
		Neighbors: []Neighbor{{Addr: n1, Cost: 1}, {Addr: n2, Cost: 10}}})
	tbl.Recompute()

	found := false
	for _, e := range tbl.Entries() {
		if e.Addr == 0x0ac80000 {
			assert.Equal(t, 1, e.Dev, "the route goes through the cheaper neighbor")
			found = true
		}
	}
	assert.True(t, found)
}
