// Package route maintains the distributed routing state: the forwarding
// table, the adjacency table fed by hello packets, and the link-state
// database fed by flooding. The table is recomputed from scratch after each
// aging pass.
package route

import (
	"net/netip"
	"sync"

	"firestige.xyz/anser/internal/core"
	"firestige.xyz/anser/internal/metrics"
)

// Entry is one forwarding rule: datagrams whose destination matches
// (Addr, Mask) leave through device Dev.
type Entry struct {
	Addr uint32 // network-order address bits, already masked
	Mask uint32 // contiguous high-bits mask
	Dev  int
}

// Adjacency records that we have recently heard a hello from a peer.
type Adjacency struct {
	Peer uint32
	Age  uint16
	Dev  int // device the hello arrived on
}

// Neighbor is one edge announced in a link-state record.
type Neighbor struct {
	Addr uint32
	Cost uint32
}

// Prefix is one (address, mask) pair an originator claims to own.
type Prefix struct {
	Addr uint32
	Mask uint32
}

// LinkState is the stored record for one originator.
type LinkState struct {
	Origin    uint32
	Seq       uint32
	Age       uint32
	Prefixes  []Prefix
	Neighbors []Neighbor
}

// Table holds all routing state. Lookups scan the current entry slice under
// the table mutex; Recompute replaces the slice atomically.
type Table struct {
	mu      sync.Mutex
	entries []Entry
	adj     map[uint32]*Adjacency
	lsdb    map[uint32]*LinkState
	local   []Entry // own prefixes, installed directly and kept across recomputes
}

func NewTable() *Table {
	return &Table{
		adj:  make(map[uint32]*Adjacency),
		lsdb: make(map[uint32]*LinkState),
	}
}

// SetLocalPrefixes installs the prefixes owned by this host's endpoints.
// They participate in longest-prefix matching alongside learned entries.
func (t *Table) SetLocalPrefixes(entries []Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.local = nil
	for _, e := range entries {
		if !core.ContiguousMask(e.Mask) {
			continue
		}
		t.local = append(t.local, Entry{Addr: e.Addr & e.Mask, Mask: e.Mask, Dev: e.Dev})
	}
}

// Lookup returns the device handle for the longest-prefix match on dst,
// or -1 when no entry matches.
func (t *Table) Lookup(dst netip.Addr) int {
	addr := core.AddrToUint32(dst)
	t.mu.Lock()
	defer t.mu.Unlock()

	dev := -1
	var best uint32
	match := func(entries []Entry) {
		for _, e := range entries {
			if (addr & e.Mask) == e.Addr {
				if dev == -1 || e.Mask > best {
					best = e.Mask
					dev = e.Dev
				}
			}
		}
	}
	match(t.entries)
	match(t.local)
	return dev
}

// UpsertAdjacency inserts or refreshes the record for peer; age becomes the
// initial remaining age.
func (t *Table) UpsertAdjacency(peer netip.Addr, age uint16, dev int) {
	p := core.AddrToUint32(peer)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.adj[p] = &Adjacency{Peer: p, Age: age, Dev: dev}
}

// Adjacencies returns a snapshot of the current adjacency records.
func (t *Table) Adjacencies() []Adjacency {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Adjacency, 0, len(t.adj))
	for _, a := range t.adj {
		out = append(out, *a)
	}
	return out
}

// UpdateLinkState stores a received record. It reports whether the record
// was new or at least as recent as the stored one, in which case the caller
// must flood it on every endpoint except the arrival one.
func (t *Table) UpdateLinkState(rec LinkState) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	old, ok := t.lsdb[rec.Origin]
	if ok && rec.Seq < old.Seq {
		return false
	}
	t.lsdb[rec.Origin] = &rec
	return true
}

// Age decrements every adjacency and link-state age by step and removes
// expired records, then recomputes the forwarding table.
func (t *Table) Age(step uint32) {
	t.mu.Lock()
	for peer, a := range t.adj {
		if uint32(a.Age) <= step {
			delete(t.adj, peer)
			continue
		}
		a.Age -= uint16(step)
	}
	for origin, ls := range t.lsdb {
		if ls.Age <= step {
			delete(t.lsdb, origin)
			continue
		}
		ls.Age -= step
	}
	t.mu.Unlock()

	t.Recompute()
}

// Recompute rebuilds the forwarding table from the adjacency table and the
// link-state database and swaps it in atomically.
func (t *Table) Recompute() {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := t.shortestPaths()
	t.entries = entries
	metrics.RoutingEntries.Set(float64(len(entries) + len(t.local)))
}

// Entries returns a copy of the learned entries, for diagnostics and tests.
func (t *Table) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}
