package analysis

import (
	"sort"

	"github.com/transfa/analytics-service/internal/domain"
)

// Assess produces one assessment per reset subscriber found in classified.
//
// A subscriber is flagged as likely fraud only when it has a pre-event baseline, at
// least MinPostEventTransactions post-event transactions, and none of them went to a
// baseline counterparty.
func Assess(classified []domain.ClassifiedTransaction, opts Options) []domain.Assessment {
	opts = opts.normalized()
	now := opts.Now().UTC()

	type acc struct {
		assessment domain.Assessment
		newParties map[string]struct{}
	}
	bySubscriber := make(map[string]*acc)
	order := make([]string, 0)

	for _, tx := range classified {
		a, ok := bySubscriber[tx.ResetMSISDN]
		if !ok {
			a = &acc{
				assessment: domain.Assessment{
					MSISDN:         tx.ResetMSISDN,
					SubscriberName: tx.DebitParty,
					EventKind:      tx.EventKind,
					ResetAt:        tx.ResetAt,
				},
				newParties: make(map[string]struct{}),
			}
			bySubscriber[tx.ResetMSISDN] = a
			order = append(order, tx.ResetMSISDN)
		}
		if tx.ResetAt.After(a.assessment.ResetAt) {
			a.assessment.ResetAt = tx.ResetAt
			a.assessment.EventKind = tx.EventKind
		}
		if a.assessment.SubscriberName == "" {
			a.assessment.SubscriberName = tx.DebitParty
		}

		switch tx.Familiarity {
		case domain.FamiliarityHistorical:
			a.assessment.BeforeCount++
		case domain.FamiliarityFamiliar:
			a.assessment.AfterCount++
			a.assessment.FamiliarCount++
		case domain.FamiliarityUnfamiliar:
			a.assessment.AfterCount++
			a.assessment.UnfamiliarCount++
			a.assessment.UnfamiliarAmount += tx.Amount
			a.newParties[tx.CreditParty] = struct{}{}
		}
	}

	out := make([]domain.Assessment, 0, len(order))
	for _, msisdn := range order {
		a := bySubscriber[msisdn]
		assessment := a.assessment
		if assessment.AfterCount > 0 {
			assessment.UnfamiliarRatio = float64(assessment.UnfamiliarCount) / float64(assessment.AfterCount)
		}
		assessment.NewCounterparties = sortedKeys(a.newParties)
		assessment.Verdict = verdictFor(assessment, opts)
		assessment.AssessedAt = now
		out = append(out, assessment)
	}

	SortAssessments(out)
	return out
}

func verdictFor(a domain.Assessment, opts Options) domain.Verdict {
	switch {
	case a.AfterCount == 0:
		return domain.VerdictNoPostEventActivity
	case a.BeforeCount == 0:
		return domain.VerdictNoBaseline
	case a.UnfamiliarCount == a.AfterCount && a.AfterCount >= opts.MinPostEventTransactions:
		return domain.VerdictLikelyFraud
	case a.UnfamiliarCount > 0:
		return domain.VerdictReview
	default:
		return domain.VerdictClear
	}
}

var verdictOrder = map[domain.Verdict]int{
	domain.VerdictLikelyFraud:         0,
	domain.VerdictReview:              1,
	domain.VerdictNoBaseline:          2,
	domain.VerdictClear:               3,
	domain.VerdictNoPostEventActivity: 4,
}

// SortAssessments orders flagged subscribers first, then by unfamiliar amount, then MSISDN.
func SortAssessments(list []domain.Assessment) {
	sort.SliceStable(list, func(i, j int) bool {
		vi, vj := verdictOrder[list[i].Verdict], verdictOrder[list[j].Verdict]
		if vi != vj {
			return vi < vj
		}
		if list[i].UnfamiliarAmount != list[j].UnfamiliarAmount {
			return list[i].UnfamiliarAmount > list[j].UnfamiliarAmount
		}
		return list[i].MSISDN < list[j].MSISDN
	})
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
