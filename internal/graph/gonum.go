package graph

import (
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/iterator"
	"gonum.org/v1/gonum/graph/simple"
)

// undirected exposes a domain graph to gonum. Node ids are insertion indices and every
// iterator is ordered, so algorithms that walk the graph see the same order on each run.
type undirected struct {
	ids   []string
	index map[string]int64
	adj   [][]graph.Node
	edges map[[2]int64]struct{}
}

var _ graph.Undirected = (*undirected)(nil)

func newUndirected() *undirected {
	return &undirected{
		index: make(map[string]int64),
		edges: make(map[[2]int64]struct{}),
	}
}

func (u *undirected) addNode(id string) int64 {
	if n, ok := u.index[id]; ok {
		return n
	}
	n := int64(len(u.ids))
	u.ids = append(u.ids, id)
	u.index[id] = n
	u.adj = append(u.adj, nil)
	return n
}

func (u *undirected) addEdge(a, b string) {
	x, y := u.addNode(a), u.addNode(b)
	if x == y {
		return
	}
	key := edgeID(x, y)
	if _, ok := u.edges[key]; ok {
		return
	}
	u.edges[key] = struct{}{}
	u.adj[x] = append(u.adj[x], simple.Node(y))
	u.adj[y] = append(u.adj[y], simple.Node(x))
}

func edgeID(x, y int64) [2]int64 {
	if x > y {
		x, y = y, x
	}
	return [2]int64{x, y}
}

func (u *undirected) Node(id int64) graph.Node {
	if id < 0 || id >= int64(len(u.ids)) {
		return nil
	}
	return simple.Node(id)
}

func (u *undirected) Nodes() graph.Nodes {
	nodes := make([]graph.Node, len(u.ids))
	for i := range nodes {
		nodes[i] = simple.Node(int64(i))
	}
	return iterator.NewOrderedNodes(nodes)
}

func (u *undirected) From(id int64) graph.Nodes {
	if id < 0 || id >= int64(len(u.adj)) {
		return iterator.NewOrderedNodes(nil)
	}
	return iterator.NewOrderedNodes(u.adj[id])
}

func (u *undirected) HasEdgeBetween(xid, yid int64) bool {
	_, ok := u.edges[edgeID(xid, yid)]
	return ok
}

func (u *undirected) Edge(uid, vid int64) graph.Edge {
	if !u.HasEdgeBetween(uid, vid) {
		return nil
	}
	return simple.Edge{F: simple.Node(uid), T: simple.Node(vid)}
}

func (u *undirected) EdgeBetween(xid, yid int64) graph.Edge {
	return u.Edge(xid, yid)
}
