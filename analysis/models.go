package analysis

import (
	"encoding/json"
	"fmt"
)

const (
	defaultImpact = "Not specified"
	defaultAction = "See description for details"
)

// FileReference points at a file or a line range within it.
type FileReference struct {
	Path      string `json:"path" desc:"Path to the file relative to repository root"`
	LineStart *int   `json:"line_start,omitempty" desc:"Optional starting line number (1-indexed). If specified, line_end should also be specified."`
	LineEnd   *int   `json:"line_end,omitempty" desc:"Optional ending line number (1-indexed, inclusive). If specified, line_start should also be specified."`
}

func (FileReference) SchemaName() string { return "file_reference" }

func (r FileReference) String() string {
	switch {
	case r.LineStart != nil && r.LineEnd != nil:
		return fmt.Sprintf("%s:%d-%d", r.Path, *r.LineStart, *r.LineEnd)
	case r.LineStart != nil:
		return fmt.Sprintf("%s:%d", r.Path, *r.LineStart)
	default:
		return r.Path
	}
}

// Issue is one technical debt finding.
type Issue struct {
	ID                string          `json:"id,omitempty" desc:"Leave empty. Identifiers are assigned by the analyzer."`
	Title             string          `json:"title" desc:"The title of the issue"`
	ShortDescription  string          `json:"short_description" desc:"A brief description of the technical debt issue (1-2 sentences)"`
	Impact            string          `json:"impact" default:"Not specified" desc:"Why fixing this matters, in 1-2 sentences"`
	RecommendedAction string          `json:"recommended_action" default:"See description for details" desc:"The specific action that resolves the issue. Keep it terse and name the key files, functions and line numbers, e.g. 'Remove unused foo parameter from bar() in baz.py:123'. Do not list every call site that needs updating."`
	Files             []FileReference `json:"files,omitempty" desc:"Files related to this issue, with line ranges when the issue is localised to particular code"`
}

func (Issue) SchemaName() string { return "tech_debt_issue" }

// UnmarshalJSON accepts "description" for short_description and fills the
// defaults of impact and recommended_action.
func (i *Issue) UnmarshalJSON(data []byte) error {
	type plain Issue
	var aux struct {
		plain
		Description string `json:"description"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*i = Issue(aux.plain)
	if i.ShortDescription == "" {
		i.ShortDescription = aux.Description
	}
	if i.Impact == "" {
		i.Impact = defaultImpact
	}
	if i.RecommendedAction == "" {
		i.RecommendedAction = defaultAction
	}
	return nil
}

// Analysis is the discovery agent's answer.
type Analysis struct {
	Issues []Issue `json:"issues" desc:"The technical debt issues found, most valuable first"`
}

func (Analysis) SchemaName() string { return "tech_debt_analysis" }

// Level grades impact and effort.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Criteria is the evaluation of one issue.
type Criteria struct {
	Objective   bool  `json:"objective" desc:"true if the issue is objective, false if it is a subjective concern"`
	Actionable  bool  `json:"actionable" desc:"true if the issue is actionable now, false if it needs to wait for a condition that isn't met yet"`
	Production  bool  `json:"production" desc:"true if the issue relates to production usage of the software, false if only development usage"`
	Local       bool  `json:"local" desc:"true if the fix is locally scoped within the repo, false if it touches widely spread files"`
	ImpactScore Level `json:"impact_score" enum:"low,medium,high" desc:"Severity of the impact (or lost opportunity) if this issue is not addressed"`
	Effort      Level `json:"effort" enum:"low,medium,high" desc:"Amount of engineering time required to implement"`
}

// IssueEvaluation is the evaluation agent's verdict on one input issue.
type IssueEvaluation struct {
	ID    string `json:"id" desc:"The id of the issue exactly as it was in the input"`
	Title string `json:"title" desc:"The title of the issue exactly as it was in the input"`
	Criteria
	DuplicatedBy []string `json:"duplicated_by,omitempty" desc:"URLs or numbers of existing issues or pull requests that already cover this issue"`
}

func (IssueEvaluation) SchemaName() string { return "issue_evaluation" }

// Evaluation is the evaluation agent's answer.
type Evaluation struct {
	Issues []IssueEvaluation `json:"issues"`
}

func (Evaluation) SchemaName() string { return "evaluation" }

// EvaluatedIssue is an issue joined with its evaluation. Evaluation is nil
// when the evaluator returned nothing for the issue.
type EvaluatedIssue struct {
	Issue
	Evaluation   *Criteria `json:"evaluation,omitempty"`
	DuplicatedBy []string  `json:"duplicated_by,omitempty"`
}

// UnmarshalJSON decodes both evaluated and plain issues. It is needed because
// Issue's decoder would otherwise be promoted and drop the evaluation.
func (e *EvaluatedIssue) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &e.Issue); err != nil {
		return err
	}
	var extra struct {
		Evaluation   *Criteria `json:"evaluation"`
		DuplicatedBy []string  `json:"duplicated_by"`
	}
	if err := json.Unmarshal(data, &extra); err != nil {
		return err
	}
	e.Evaluation = extra.Evaluation
	e.DuplicatedBy = extra.DuplicatedBy
	return nil
}

// EvaluatedAnalysis is the final, ordered result.
type EvaluatedAnalysis struct {
	Issues []EvaluatedIssue `json:"issues"`
}

// Evaluated reports whether any issue carries an evaluation.
func (a EvaluatedAnalysis) Evaluated() bool {
	for _, i := range a.Issues {
		if i.Evaluation != nil {
			return true
		}
	}
	return false
}

// IssueWithContext is an issue with the referenced code attached.
type IssueWithContext struct {
	Issue        Issue             `json:"issue"`
	FileContents map[string]string `json:"file_contents"`
}

// EvaluationInput is what the evaluation agent is asked to score.
type EvaluationInput struct {
	Issues []IssueWithContext `json:"issues"`
}
