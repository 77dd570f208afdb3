package school

import "slices"

// NextID picks the id for the next insert from the ids already in use.
//
// The scan walks the ids in ascending order and returns the first id+1 that
// is not taken. An empty set yields 1; if no id+1 is free the max+1 fallback
// applies. A gap below the smallest id is never considered: {2,3} yields 4.
func NextID(ids []int) int {
	if len(ids) == 0 {
		return 1
	}

	sorted := slices.Clone(ids)
	slices.Sort(sorted)

	taken := make(map[int]struct{}, len(sorted))
	for _, id := range sorted {
		taken[id] = struct{}{}
	}

	for _, id := range sorted {
		if _, ok := taken[id+1]; !ok {
			return id + 1
		}
	}

	return sorted[len(sorted)-1] + 1
}
