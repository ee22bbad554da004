package nostr

import "sort"

// IsEmpty reports whether f carries no criterion and no limit
func IsEmpty(f Filter) bool {
	return len(f.IDs) == 0 &&
		len(f.Kinds) == 0 &&
		len(f.Authors) == 0 &&
		len(f.Tags) == 0 &&
		f.Since == nil &&
		f.Until == nil &&
		f.Limit == 0 &&
		f.Search == ""
}

// ProbeFilter is the minimal bootstrap filter used to open connections
func ProbeFilter() Filter {
	return Filter{Kinds: []int{KindTextNote}, Limit: 1}
}

// Usable drops empty filters, returning nil when none remain
func Usable(filters Filters) Filters {
	var out Filters
	for _, f := range filters {
		if !IsEmpty(f) {
			out = append(out, f)
		}
	}
	return out
}

// SameIntent compares the primary filters of a and b by author set and limit.
// Since and until are ignored since callers recompute them relative to now.
func SameIntent(a, b Filters) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	pa, pb := a[0], b[0]
	return pa.Limit == pb.Limit && sameSet(pa.Authors, pb.Authors)
}

func sameSet(a, b []string) bool {
	sa := uniqueSorted(a)
	sb := uniqueSorted(b)
	if len(sa) != len(sb) {
		return false
	}
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
