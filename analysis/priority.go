package analysis

import "sort"

var (
	impactWeights = map[Level]int{LevelHigh: 3, LevelMedium: 2, LevelLow: 1}
	// lower effort ranks higher
	effortWeights = map[Level]int{LevelLow: 3, LevelMedium: 2, LevelHigh: 1}
)

func weight(weights map[Level]int, l Level) int {
	if w, ok := weights[l]; ok {
		return w
	}
	return 1
}

// PriorityScore is impact × inverted effort: 9 for high impact and low
// effort down to 1 for low impact and high effort.
func PriorityScore(c Criteria) int {
	return weight(impactWeights, c.ImpactScore) * weight(effortWeights, c.Effort)
}

func positives(c Criteria) int {
	n := 0
	for _, b := range []bool{c.Objective, c.Actionable, c.Production, c.Local} {
		if b {
			n++
		}
	}
	return n
}

// SortByPriority orders issues by priority score, then by the number of
// positive criteria. Unevaluated issues go last. The sort is stable.
func SortByPriority(issues []EvaluatedIssue) {
	sort.SliceStable(issues, func(i, j int) bool {
		a, b := issues[i].Evaluation, issues[j].Evaluation
		if a == nil || b == nil {
			return a != nil && b == nil
		}
		if pa, pb := PriorityScore(*a), PriorityScore(*b); pa != pb {
			return pa > pb
		}
		return positives(*a) > positives(*b)
	})
}
