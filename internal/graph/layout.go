package graph

import (
	"math"
	"math/rand/v2"

	"github.com/transfa/analytics-service/internal/domain"
	"gonum.org/v1/gonum/graph/layout"
)

// LayoutOptions tunes the force-directed layout.
type LayoutOptions struct {
	Iterations int
	Seed       uint64
	Scale      float64
	// Theta is the Barnes-Hut approximation threshold. Larger is faster and coarser.
	Theta float64
}

// DefaultLayoutOptions returns a unit-scale layout around the origin.
func DefaultLayoutOptions() LayoutOptions {
	return LayoutOptions{Iterations: 100, Seed: 42, Scale: 1, Theta: 0.5}
}

type vec struct{ x, y float64 }

// Layout assigns X/Y positions to every node with an Eades spring embedder using
// Barnes-Hut repulsion. The result is deterministic for a given seed and node order, and
// is rescaled so that all coordinates lie in [-Scale, Scale] centred on the origin.
func Layout(g *domain.Graph, opts LayoutOptions) {
	n := len(g.Nodes)
	if n == 0 {
		return
	}
	if opts.Iterations <= 0 {
		opts.Iterations = 100
	}
	if opts.Scale <= 0 {
		opts.Scale = 1
	}
	if opts.Theta <= 0 {
		opts.Theta = 0.5
	}
	if n == 1 {
		g.Nodes[0].X, g.Nodes[0].Y = 0, 0
		return
	}

	u := newUndirected()
	for _, node := range g.Nodes {
		u.addNode(node.ID)
	}
	for _, e := range g.Edges {
		_, sok := u.index[e.Source]
		_, tok := u.index[e.Target]
		if sok && tok {
			u.addEdge(e.Source, e.Target)
		}
	}

	eades := layout.EadesR2{
		Repulsion: 1,
		Rate:      0.05,
		Updates:   opts.Iterations,
		Theta:     opts.Theta,
		Src:       rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15),
	}
	optimizer := layout.NewOptimizerR2(u, eades.Update)
	for optimizer.Update() {
	}

	pos := make([]vec, n)
	for i, node := range g.Nodes {
		c := optimizer.Coord2(u.index[node.ID])
		pos[i] = vec{c.X, c.Y}
	}

	rescale(pos, opts.Scale)
	for i := range g.Nodes {
		g.Nodes[i].X = pos[i].x
		g.Nodes[i].Y = pos[i].y
	}
}

func rescale(pos []vec, scale float64) {
	var cx, cy float64
	for _, p := range pos {
		cx += p.x
		cy += p.y
	}
	cx /= float64(len(pos))
	cy /= float64(len(pos))

	limit := 0.0
	for i := range pos {
		pos[i].x -= cx
		pos[i].y -= cy
		limit = math.Max(limit, math.Max(math.Abs(pos[i].x), math.Abs(pos[i].y)))
	}
	if limit == 0 {
		return
	}
	for i := range pos {
		pos[i].x = pos[i].x * scale / limit
		pos[i].y = pos[i].y * scale / limit
	}
}
