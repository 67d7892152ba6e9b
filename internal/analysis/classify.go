/**
 * @description
 * Familiarity analysis for subscriber transactions around a SIM swap or PIN reset.
 * A subscriber's baseline is the set of counterparties they paid before the event;
 * post-event transactions to a baseline counterparty are familiar, the rest are not.
 */

package analysis

import (
	"sort"
	"time"

	"github.com/transfa/analytics-service/internal/domain"
)

// Options holds the thresholds used by classification, assessment and network mapping.
type Options struct {
	// LookbackWindow limits the baseline to transactions this close to the reset. Zero means unlimited.
	LookbackWindow time.Duration

	// ObservationWindow limits post-event transactions to this long after the reset. Zero means unlimited.
	ObservationWindow time.Duration

	// MinPostEventTransactions is the number of post-event transactions needed before a subscriber can be flagged.
	MinPostEventTransactions int

	// MuleMinSources is the number of distinct reset subscribers a counterparty must receive unfamiliar money from.
	MuleMinSources int

	Now func() time.Time
}

// DefaultOptions returns the thresholds used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		MinPostEventTransactions: 1,
		MuleMinSources:           2,
		Now:                      time.Now,
	}
}

func (o Options) normalized() Options {
	if o.MinPostEventTransactions <= 0 {
		o.MinPostEventTransactions = 1
	}
	if o.MuleMinSources <= 1 {
		o.MuleMinSources = 2
	}
	if o.LookbackWindow < 0 {
		o.LookbackWindow = 0
	}
	if o.ObservationWindow < 0 {
		o.ObservationWindow = 0
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Classify labels each transaction with its period and familiarity. Transactions outside
// the lookback or observation windows are dropped. The result is ordered by subscriber,
// then by transaction time.
func Classify(txs []domain.Transaction, opts Options) []domain.ClassifiedTransaction {
	opts = opts.normalized()

	ordered := make([]domain.Transaction, 0, len(txs))
	for _, tx := range txs {
		if inWindow(tx, opts) {
			ordered = append(ordered, tx)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].ResetMSISDN != ordered[j].ResetMSISDN {
			return ordered[i].ResetMSISDN < ordered[j].ResetMSISDN
		}
		return ordered[i].OccurredAt.Before(ordered[j].OccurredAt)
	})

	baselines := Baselines(ordered)

	out := make([]domain.ClassifiedTransaction, 0, len(ordered))
	for _, tx := range ordered {
		c := domain.ClassifiedTransaction{Transaction: tx, Period: domain.PeriodOf(tx)}
		switch {
		case c.Period == domain.PeriodBefore:
			c.Familiarity = domain.FamiliarityHistorical
		case baselines[tx.ResetMSISDN].Contains(tx.CreditParty):
			c.Familiarity = domain.FamiliarityFamiliar
		default:
			c.Familiarity = domain.FamiliarityUnfamiliar
		}
		out = append(out, c)
	}
	return out
}

// Baseline is the set of counterparties a subscriber paid before the reset.
type Baseline map[string]struct{}

// Contains reports whether counterparty is part of the baseline. A nil baseline contains nothing.
func (b Baseline) Contains(counterparty string) bool {
	_, ok := b[counterparty]
	return ok
}

// Baselines collects the pre-event counterparties of every reset subscriber.
func Baselines(txs []domain.Transaction) map[string]Baseline {
	out := make(map[string]Baseline)
	for _, tx := range txs {
		if domain.PeriodOf(tx) != domain.PeriodBefore {
			continue
		}
		b, ok := out[tx.ResetMSISDN]
		if !ok {
			b = make(Baseline)
			out[tx.ResetMSISDN] = b
		}
		b[tx.CreditParty] = struct{}{}
	}
	return out
}

func inWindow(tx domain.Transaction, opts Options) bool {
	if domain.PeriodOf(tx) == domain.PeriodBefore {
		return opts.LookbackWindow == 0 || tx.ResetAt.Sub(tx.OccurredAt) <= opts.LookbackWindow
	}
	return opts.ObservationWindow == 0 || tx.OccurredAt.Sub(tx.ResetAt) <= opts.ObservationWindow
}
