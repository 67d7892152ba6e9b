// Package graph builds the subscriber transaction network drawn in reports.
package graph

import (
	"sort"

	"github.com/transfa/analytics-service/internal/domain"
	"gonum.org/v1/gonum/graph/topo"
)

type edgeKey struct {
	source string
	target string
}

// Build aggregates classified transactions into one edge per (reset subscriber, credit party)
// pair. An edge takes the worst familiarity seen on any of its transactions.
func Build(classified []domain.ClassifiedTransaction) *domain.Graph {
	resetSubscribers := make(map[string]struct{})
	labels := make(map[string]string)
	for _, tx := range classified {
		resetSubscribers[tx.ResetMSISDN] = struct{}{}
		if tx.DebitParty != "" {
			labels[tx.ResetMSISDN] = tx.DebitParty
		}
	}

	edges := make(map[edgeKey]*domain.Edge)
	order := make([]edgeKey, 0)
	for _, tx := range classified {
		if _, ok := labels[tx.CreditParty]; !ok && tx.CreditPartyName != "" {
			labels[tx.CreditParty] = tx.CreditPartyName
		}

		key := edgeKey{source: tx.ResetMSISDN, target: tx.CreditParty}
		edge, ok := edges[key]
		if !ok {
			edge = &domain.Edge{
				Source:      tx.ResetMSISDN,
				Target:      tx.CreditParty,
				Familiarity: tx.Familiarity,
			}
			edges[key] = edge
			order = append(order, key)
		}
		if tx.Familiarity.Rank() > edge.Familiarity.Rank() {
			edge.Familiarity = tx.Familiarity
		}
		if tx.Period == domain.PeriodBefore {
			edge.BeforeCount++
		} else {
			edge.AfterCount++
		}
		edge.Amount += tx.Amount
		edge.TransactionIDs = append(edge.TransactionIDs, tx.ID)
	}

	ids := make(map[string]struct{})
	g := &domain.Graph{Edges: make([]domain.Edge, 0, len(order))}
	for _, key := range order {
		edge := edges[key]
		edge.SourceName = labels[edge.Source]
		edge.TargetName = labels[edge.Target]
		g.Edges = append(g.Edges, *edge)
		ids[edge.Source] = struct{}{}
		ids[edge.Target] = struct{}{}
	}

	g.Nodes = make([]domain.Node, 0, len(ids))
	for id := range ids {
		g.Nodes = append(g.Nodes, domain.Node{
			ID:    id,
			Label: labels[id],
			Kind:  KindOf(id, resetSubscribers),
		})
	}
	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i].ID < g.Nodes[j].ID })
	sort.SliceStable(g.Edges, func(i, j int) bool {
		if g.Edges[i].Source != g.Edges[j].Source {
			return g.Edges[i].Source < g.Edges[j].Source
		}
		return g.Edges[i].Target < g.Edges[j].Target
	})
	return g
}

// KindOf classifies a node. Shortcodes win over reset subscribers.
func KindOf(id string, resetSubscribers map[string]struct{}) domain.NodeKind {
	if domain.IsShortcode(id) {
		return domain.NodeBusiness
	}
	if _, ok := resetSubscribers[id]; ok {
		return domain.NodeResetSubscriber
	}
	return domain.NodeCounterparty
}

// Components returns the connected components of the undirected graph formed by edges
// that satisfy keep. Each component is sorted and components are ordered by their
// smallest member.
func Components(g *domain.Graph, keep func(domain.Edge) bool) [][]string {
	u := newUndirected()
	for _, e := range g.Edges {
		if keep != nil && !keep(e) {
			continue
		}
		u.addEdge(e.Source, e.Target)
	}

	found := topo.ConnectedComponents(u)
	components := make([][]string, 0, len(found))
	for _, nodes := range found {
		members := make([]string, 0, len(nodes))
		for _, n := range nodes {
			members = append(members, u.ids[n.ID()])
		}
		sort.Strings(members)
		components = append(components, members)
	}
	sort.Slice(components, func(i, j int) bool { return components[i][0] < components[j][0] })
	return components
}
