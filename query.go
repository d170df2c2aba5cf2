package countdb

import (
	"cmp"
	"slices"
)

// SourceCount is a joint count seen from the target side.
type SourceCount struct {
	Source Key
	Count  float32
}

// TargetCount is a joint count seen from the source side.
type TargetCount struct {
	Target uint32
	Count  float32
}

// byCountDesc orders partners by count, highest first; equal counts go by
// ascending target index so that results are deterministic.
func byCountDesc(a, b TargetCount) int {
	if c := cmp.Compare(b.Count, a.Count); c != 0 {
		return c
	}
	return cmp.Compare(a.Target, b.Target)
}

// topK sorts entries with byCountDesc and keeps the first k. k <= 0 keeps
// everything.
func topK(entries []TargetCount, k int) []TargetCount {
	slices.SortFunc(entries, byCountDesc)
	if k > 0 && len(entries) > k {
		entries = entries[:k]
	}
	return entries
}

// sumCounts adds up counts in float64.
func sumCounts(entries []SourceCount) float32 {
	var sum float64
	for _, e := range entries {
		sum += float64(e.Count)
	}
	return float32(sum)
}
