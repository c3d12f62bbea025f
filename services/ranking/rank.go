package ranking

import "sort"

// CompetitionRanks assigns minimum-style competition ranks over raw values,
// best (highest) value first. Entities sharing a value share the best rank,
// and the next distinct value's rank is one plus the count of strictly better
// entities, so {80, 80, 70} ranks as {1, 1, 3}. Entities with a nil value are
// excluded from the competition entirely and receive a nil rank.
func CompetitionRanks(values map[string]*float64) map[string]*int {
	ranks := make(map[string]*int, len(values))

	type scored struct {
		key string
		val float64
	}
	present := make([]scored, 0, len(values))
	for key, val := range values {
		if val == nil {
			ranks[key] = nil
			continue
		}
		present = append(present, scored{key: key, val: *val})
	}

	sort.Slice(present, func(i, j int) bool {
		if present[i].val != present[j].val {
			return present[i].val > present[j].val
		}
		return present[i].key < present[j].key
	})

	rank := 0
	for i, s := range present {
		if i == 0 || s.val < present[i-1].val {
			rank = i + 1
		}
		r := rank
		ranks[s.key] = &r
	}
	return ranks
}
