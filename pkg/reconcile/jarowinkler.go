package reconcile

// winklerPrefixLimit and winklerScale are the usual Winkler boost constants.
const (
	winklerPrefixLimit = 4
	winklerScale       = 0.1
)

// FuzzyNameSimilarity is the matcher behind client_matcher: jaro_winkler.
// It goes beyond the default rule, which only knows equality and substring
// containment: names that are neither still count as a partial match when
// their Jaro-Winkler similarity reaches threshold, so typos such as
// "ACME Corp" vs "ACNE Corp" score client points. Equal and contained names
// are scored exactly as NameSimilarity scores them. Plants that keep the
// default substring matcher never reach this code.
func FuzzyNameSimilarity(threshold float64) Similarity {
	return func(a, b string) Match {
		na, nb := NormalizeName(a), NormalizeName(b)
		if m := containment(na, nb); m != MatchNone {
			return m
		}
		if na == "" || nb == "" {
			return MatchNone
		}
		if jaroWinkler([]rune(na), []rune(nb)) >= threshold {
			return MatchPartial
		}
		return MatchNone
	}
}

func jaroWinkler(s1, s2 []rune) float64 {
	j := jaro(s1, s2)
	if j == 0 {
		return 0
	}
	l := commonPrefix(s1, s2, winklerPrefixLimit)
	return j + float64(l)*winklerScale*(1-j)
}

// jaro pairs each rune of s1 with the first unused equal rune of s2 inside
// the match window, then compares the two paired sequences in order.
func jaro(s1, s2 []rune) float64 {
	if len(s1) == 0 || len(s2) == 0 {
		return 0
	}
	window := max(max(len(s1), len(s2))/2-1, 0)

	used := make([]bool, len(s2))
	var left []rune
	for i, r := range s1 {
		lo, hi := max(0, i-window), min(i+window+1, len(s2))
		for j := lo; j < hi; j++ {
			if !used[j] && s2[j] == r {
				used[j] = true
				left = append(left, r)
				break
			}
		}
	}
	m := len(left)
	if m == 0 {
		return 0
	}

	right := make([]rune, 0, m)
	for j, ok := range used {
		if ok {
			right = append(right, s2[j])
		}
	}
	outOfOrder := 0
	for i := range left {
		if left[i] != right[i] {
			outOfOrder++
		}
	}

	mf := float64(m)
	t := float64(outOfOrder / 2)
	return (mf/float64(len(s1)) + mf/float64(len(s2)) + (mf-t)/mf) / 3
}

func commonPrefix(s1, s2 []rune, limit int) int {
	n := min(limit, len(s1), len(s2))
	for i := 0; i < n; i++ {
		if s1[i] != s2[i] {
			return i
		}
	}
	return n
}
