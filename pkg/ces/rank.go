package ces

import "sort"

// RankByEngagement orders items by (weighted_ces, ces) descending — the raw
// CES breaks ties between equally weighted items deterministically — and
// assigns 1-based contiguous ranks in place.
func RankByEngagement(items []Enriched) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].WeightedCES != items[j].WeightedCES {
			return items[i].WeightedCES > items[j].WeightedCES
		}
		return items[i].CES > items[j].CES
	})
	for i := range items {
		items[i].Rank = i + 1
	}
}
