package route

import "firestige.xyz/anser/internal/core"

const infinity = ^uint32(0)

// shortestPaths runs Dijkstra over the graph formed by our adjacencies and
// the link-state database, then derives one forwarding entry per announced
// prefix of every reachable originator. The caller holds t.mu.
//
// Node 0 is self. Nodes 1..n are link-state originators. Self-to-neighbor
// edges come from the adjacency table; originator edges come from each
// record's neighbor list.
func (t *Table) shortestPaths() []Entry {
	// Index originators.
	index := make(map[uint32]int, len(t.lsdb))
	origins := make([]uint32, 0, len(t.lsdb))
	for origin := range t.lsdb {
		index[origin] = len(origins) + 1
		origins = append(origins, origin)
	}
	n := len(origins) + 1

	// Adjacency matrix of edge costs.
	cost := make([][]uint32, n)
	for i := range cost {
		cost[i] = make([]uint32, n)
		for j := range cost[i] {
			cost[i][j] = infinity
		}
		cost[i][i] = 0
	}
	for _, a := range t.adj {
		if j, ok := index[a.Peer]; ok {
			cost[0][j] = 1
			cost[j][0] = 1
		}
	}
	for origin, ls := range t.lsdb {
		i := index[origin]
		for _, nb := range ls.Neighbors {
			j, ok := index[nb.Addr]
			if !ok {
				continue
			}
			if nb.Cost < cost[i][j] {
				cost[i][j] = nb.Cost
				cost[j][i] = nb.Cost
			}
		}
	}

	// Dijkstra from node 0.
	dist := make([]uint32, n)
	pred := make([]int, n)
	done := make([]bool, n)
	for i := 1; i < n; i++ {
		dist[i] = infinity
		pred[i] = -1
	}
	for {
		u, best := -1, infinity
		for i := 0; i < n; i++ {
			if !done[i] && dist[i] < best {
				u, best = i, dist[i]
			}
		}
		if u == -1 {
			break
		}
		done[u] = true
		for v := 0; v < n; v++ {
			if done[v] || cost[u][v] == infinity {
				continue
			}
			if d := dist[u] + cost[u][v]; d < dist[v] {
				dist[v] = d
				pred[v] = u
			}
		}
	}

	// For every reachable originator, the first hop is the ancestor whose
	// predecessor is self; the outgoing device is the one its hello
	// arrived on.
	entries := make([]Entry, 0)
	seen := make(map[Prefix]struct{})
	for k := 1; k < n; k++ {
		if dist[k] == infinity {
			continue
		}
		hop := k
		for pred[hop] != 0 {
			hop = pred[hop]
			if hop <= 0 {
				break
			}
		}
		if hop <= 0 {
			continue
		}
		adj, ok := t.adj[origins[hop-1]]
		if !ok {
			continue
		}
		ls := t.lsdb[origins[k-1]]
		for _, p := range ls.Prefixes {
			if !core.ContiguousMask(p.Mask) {
				continue
			}
			key := Prefix{Addr: p.Addr & p.Mask, Mask: p.Mask}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			entries = append(entries, Entry{Addr: key.Addr, Mask: key.Mask, Dev: adj.Dev})
		}
	}
	return entries
}
