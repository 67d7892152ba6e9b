package analysis

import (
	"sort"

	"github.com/transfa/analytics-service/internal/domain"
	"github.com/transfa/analytics-service/internal/graph"
)

// MapNetwork finds counterparties that collect unfamiliar post-event money from several
// reset subscribers, and the rings of subscribers and counterparties they connect.
// Business shortcodes are never mule candidates.
func MapNetwork(classified []domain.ClassifiedTransaction, g *domain.Graph, opts Options) ([]domain.MuleCandidate, []domain.Ring) {
	opts = opts.normalized()

	type acc struct {
		candidate domain.MuleCandidate
		sources   map[string]struct{}
	}
	byCounterparty := make(map[string]*acc)
	for _, tx := range classified {
		if tx.Familiarity != domain.FamiliarityUnfamiliar || domain.IsShortcode(tx.CreditParty) {
			continue
		}
		a, ok := byCounterparty[tx.CreditParty]
		if !ok {
			a = &acc{
				candidate: domain.MuleCandidate{MSISDN: tx.CreditParty, Name: tx.CreditPartyName},
				sources:   make(map[string]struct{}),
			}
			byCounterparty[tx.CreditParty] = a
		}
		a.sources[tx.ResetMSISDN] = struct{}{}
		a.candidate.TotalAmount += tx.Amount
		a.candidate.TransactionCount++
	}

	mules := make([]domain.MuleCandidate, 0)
	for _, a := range byCounterparty {
		if len(a.sources) < opts.MuleMinSources {
			continue
		}
		c := a.candidate
		c.Sources = sortedKeys(a.sources)
		mules = append(mules, c)
	}
	sort.Slice(mules, func(i, j int) bool {
		if len(mules[i].Sources) != len(mules[j].Sources) {
			return len(mules[i].Sources) > len(mules[j].Sources)
		}
		if mules[i].TotalAmount != mules[j].TotalAmount {
			return mules[i].TotalAmount > mules[j].TotalAmount
		}
		return mules[i].MSISDN < mules[j].MSISDN
	})

	return mules, findRings(g)
}

func findRings(g *domain.Graph) []domain.Ring {
	if g == nil {
		return nil
	}

	kinds := make(map[string]domain.NodeKind, len(g.Nodes))
	for _, n := range g.Nodes {
		kinds[n.ID] = n.Kind
	}
	keep := func(e domain.Edge) bool {
		return e.Unfamiliar() && kinds[e.Target] != domain.NodeBusiness
	}

	amounts := make(map[string]int64)
	for _, e := range g.Edges {
		if keep(e) {
			amounts[e.Source] += e.Amount
		}
	}

	rings := make([]domain.Ring, 0)
	for _, members := range graph.Components(g, keep) {
		ring := domain.Ring{}
		for _, id := range members {
			if kinds[id] == domain.NodeResetSubscriber {
				ring.ResetMSISDNs = append(ring.ResetMSISDNs, id)
				ring.TotalAmount += amounts[id]
			} else {
				ring.Counterparties = append(ring.Counterparties, id)
			}
		}
		if len(ring.ResetMSISDNs) < 2 {
			continue
		}
		ring.ID = len(rings) + 1
		rings = append(rings, ring)
	}
	return rings
}
