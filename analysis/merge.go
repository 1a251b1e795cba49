package analysis

import (
	"fmt"

	"github.com/rs/zerolog"
)

// AssignIDs returns a copy of issues numbered issue-1, issue-2, ... in
// order. The evaluator echoes these back so the join does not depend on the
// model copying titles verbatim.
func AssignIDs(issues []Issue) []Issue {
	out := make([]Issue, len(issues))
	for i, issue := range issues {
		issue.ID = fmt.Sprintf("issue-%d", i+1)
		out[i] = issue
	}
	return out
}

// Merge joins every issue with its evaluation, first by ID and then by exact
// title. Each evaluation is used at most once. Issues left without an
// evaluation are kept with a nil Evaluation and logged. The result is sorted
// by priority.
func Merge(issues []Issue, evals []IssueEvaluation, log zerolog.Logger) EvaluatedAnalysis {
	used := make([]bool, len(evals))
	byID := map[string]int{}
	byTitle := map[string][]int{}
	for i, e := range evals {
		if e.ID != "" {
			if _, dup := byID[e.ID]; !dup {
				byID[e.ID] = i
			}
		}
		byTitle[e.Title] = append(byTitle[e.Title], i)
	}

	matched := make([]int, len(issues))
	for i, issue := range issues {
		matched[i] = -1
		if j, ok := byID[issue.ID]; ok && issue.ID != "" && !used[j] {
			used[j] = true
			matched[i] = j
		}
	}
	for i, issue := range issues {
		if matched[i] >= 0 {
			continue
		}
		for _, j := range byTitle[issue.Title] {
			if !used[j] {
				used[j] = true
				matched[i] = j
				break
			}
		}
	}

	out := EvaluatedAnalysis{Issues: make([]EvaluatedIssue, 0, len(issues))}
	var unmatched []string
	for i, issue := range issues {
		j := matched[i]
		if j < 0 {
			unmatched = append(unmatched, issue.Title)
			out.Issues = append(out.Issues, EvaluatedIssue{Issue: issue})
			continue
		}
		criteria := evals[j].Criteria
		out.Issues = append(out.Issues, EvaluatedIssue{Issue: issue, Evaluation: &criteria, DuplicatedBy: evals[j].DuplicatedBy})
	}
	if len(unmatched) > 0 {
		log.Warn().Strs("titles", unmatched).Msg("no evaluation returned for some issues; keeping them unevaluated")
	}
	for i, e := range evals {
		if !used[i] {
			log.Warn().Str("id", e.ID).Str("title", e.Title).Msg("evaluation does not match any reported issue")
		}
	}

	SortByPriority(out.Issues)
	return out
}
