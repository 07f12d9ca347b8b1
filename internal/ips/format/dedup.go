package format

import (
	"strings"
	"unicode"
)

// AddressSimilarityThreshold is the similarity percentage above which two
// address strings are treated as the same address.
const AddressSimilarityThreshold = 70.0

// Levenshtein returns the edit distance between a and b, counted in runes.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

// Similarity returns (maxLen - distance) / maxLen * 100, comparing
// case-insensitively. Two empty strings are identical.
func Similarity(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	maxLen := max(len([]rune(a)), len([]rune(b)))
	if maxLen == 0 {
		return 100
	}
	return float64(maxLen-Levenshtein(a, b)) / float64(maxLen) * 100
}

// DedupeAddresses collapses addresses whose similarity exceeds threshold.
// Grouping is transitive; each group keeps its longest member and groups
// appear in order of first occurrence. A threshold <= 0 uses
// AddressSimilarityThreshold.
func DedupeAddresses(addresses []string, threshold float64) []string {
	if threshold <= 0 {
		threshold = AddressSimilarityThreshold
	}
	items := nonEmpty(addresses)
	return collapse(items, func(i, j int) bool {
		return Similarity(items[i], items[j]) > threshold
	}, func(s string) int { return len([]rune(s)) })
}

// DedupePhones collapses phone numbers whose digits are equal or where one
// digit string ends the other, keeping the longer number as written.
func DedupePhones(phones []string) []string {
	items := nonEmpty(phones)
	digits := make([]string, len(items))
	for i, p := range items {
		digits[i] = digitsOnly(p)
	}
	index := make(map[string]int, len(items))
	for i, p := range items {
		index[p] = i
	}
	return collapse(items, func(i, j int) bool {
		a, b := digits[i], digits[j]
		if a == "" || b == "" {
			return items[i] == items[j]
		}
		return strings.HasSuffix(a, b) || strings.HasSuffix(b, a)
	}, func(s string) int { return len(digits[index[s]]) })
}

// collapse groups items with a union-find over the same relation and
// returns the longest member of each group by weight.
func collapse(items []string, same func(i, j int) bool, weight func(string) int) []string {
	parent := make([]int, len(items))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	for i := range items {
		for j := i + 1; j < len(items); j++ {
			if same(i, j) {
				ri, rj := find(i), find(j)
				if ri != rj {
					if ri < rj {
						parent[rj] = ri
					} else {
						parent[ri] = rj
					}
				}
			}
		}
	}
	best := make(map[int]int)
	order := make([]int, 0)
	for i := range items {
		root := find(i)
		cur, seen := best[root]
		if !seen {
			best[root] = i
			order = append(order, root)
			continue
		}
		if weight(items[i]) > weight(items[cur]) {
			best[root] = i
		}
	}
	out := make([]string, 0, len(order))
	for _, root := range order {
		out = append(out, items[best[root]])
	}
	return out
}

func nonEmpty(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
