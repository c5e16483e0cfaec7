package services

import (
	"time"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

// exactDedup collapses records whose normalised keys are equal. The member
// with the highest confidence survives (the earliest wins ties) and its
// copy lists every absorbed id in its lineage. Output keeps the position of
// each group's first member.
func exactDedup(records []domain.Record, now time.Time) (out []domain.Record, removed int) {
	order := make([]string, 0, len(records))
	groups := make(map[string][]domain.Record, len(records))
	for _, r := range records {
		k := normalizeKey(r.Key)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], r)
	}

	out = make([]domain.Record, 0, len(order))
	for _, k := range order {
		members := groups[k]
		if len(members) == 1 {
			out = append(out, members[0])
			continue
		}
		best := 0
		for i := 1; i < len(members); i++ {
			if members[i].EffectiveConfidence() > members[best].EffectiveConfidence() {
				best = i
			}
		}
		var absorbed []string
		for i, m := range members {
			if i != best {
				absorbed = append(absorbed, m.CoveredIDs()...)
			}
		}
		out = append(out, members[best].WithLineage(domain.MergeMethodExactDedup, now, absorbed...))
		removed += len(members) - 1
	}
	return out, removed
}
